package chat

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"connect/server/internal/mirror"
	"connect/server/internal/models"
	"connect/server/internal/notify"
	"connect/server/internal/repository"
	"connect/server/internal/slowmode"
	"connect/server/internal/websocket"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

type fakeMirror struct{ entries []mirror.Entry }

func (f *fakeMirror) Publish(e mirror.Entry) bool {
	f.entries = append(f.entries, e)
	return true
}

type env struct {
	svc    *Service
	store  *repository.Memory
	hub    *websocket.Hub
	clock  *clock
	mirror *fakeMirror
	bridge *notify.Bridge
}

func newEnv(t *testing.T, users ...string) *env {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemory()
	for _, u := range users {
		if _, err := store.CreateUser(ctx, u, "hash"); err != nil {
			t.Fatalf("CreateUser(%s) error = %v", u, err)
		}
	}
	hub := websocket.NewHub()
	clk := &clock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	gate := slowmode.NewWithClock(time.Hour, clk.now)
	bridge := notify.NewBridge(store, hub, nil)
	m := &fakeMirror{}
	return &env{
		svc:    NewService(store, hub, gate, bridge, m),
		store:  store,
		hub:    hub,
		clock:  clk,
		mirror: m,
		bridge: bridge,
	}
}

// connect registers a session and throws away the initial burst of events.
func (e *env) connect(t *testing.T, username, role string) *websocket.Client {
	t.Helper()
	c := websocket.NewClient(username, role, nil, e.hub, nil)
	e.svc.Connect(context.Background(), c)
	drain(c)
	return c
}

func (e *env) do(t *testing.T, c *websocket.Client, event websocket.EventType, payload interface{}) []event {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	e.svc.Handle(context.Background(), c, websocket.IncomingMessage{Type: event, Payload: raw})
	e.bridge.Wait()
	return drain(c)
}

type event struct {
	Type    websocket.EventType `json:"type"`
	Payload json.RawMessage     `json:"payload"`
}

func drain(c *websocket.Client) []event {
	var out []event
	for {
		select {
		case data, ok := <-c.Send:
			if !ok {
				return out
			}
			var ev event
			_ = json.Unmarshal(data, &ev)
			out = append(out, ev)
		default:
			return out
		}
	}
}

func find(events []event, t websocket.EventType) *event {
	for i := range events {
		if events[i].Type == t {
			return &events[i]
		}
	}
	return nil
}

func count(events []event, t websocket.EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func decodeInto(t *testing.T, ev *event, v interface{}) {
	t.Helper()
	if ev == nil {
		t.Fatal("event missing")
	}
	if err := json.Unmarshal(ev.Payload, v); err != nil {
		t.Fatalf("decode %s: %v", ev.Type, err)
	}
}

func notificationsOf(t *testing.T, store *repository.Memory, username, kind string) int {
	t.Helper()
	notes, err := store.RecentNotifications(context.Background(), username, 100)
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for _, x := range notes {
		if x.Type == kind {
			n++
		}
	}
	return n
}

func TestConnect_InitialData(t *testing.T) {
	e := newEnv(t, "alice", "bob")
	ctx := context.Background()
	_ = e.store.AddFriendship(ctx, "alice", "bob")
	bob := e.connect(t, "bob", models.RoleMember)

	alice := websocket.NewClient("alice", models.RoleMember, nil, e.hub, nil)
	e.svc.Connect(ctx, alice)
	events := drain(alice)

	for _, want := range []websocket.EventType{
		websocket.EventFriendsList,
		websocket.EventUserGroups,
		websocket.EventTotalUsers,
		websocket.EventNotificationHistory,
		websocket.EventChatPreviews,
	} {
		if find(events, want) == nil {
			t.Errorf("Connect() did not emit %s", want)
		}
	}

	var friends []models.Friend
	decodeInto(t, find(events, websocket.EventFriendsList), &friends)
	if len(friends) != 1 || !friends[0].IsOnline {
		t.Errorf("friends_list = %+v, want bob online", friends)
	}

	var presence websocket.PresencePayload
	decodeInto(t, find(drain(bob), websocket.EventUserOnline), &presence)
	if presence.Username != "alice" || !presence.IsOnline {
		t.Errorf("user_online = %+v", presence)
	}

	e.hub.Unregister(alice)
	e.svc.Disconnect(ctx, alice)
	if find(drain(bob), websocket.EventUserOffline) == nil {
		t.Error("Disconnect() did not tell bob")
	}
}

func TestSend_StoredBeforeBroadcast(t *testing.T) {
	e := newEnv(t, "alice", "bob")
	alice := e.connect(t, "alice", models.RoleMember)
	bob := e.connect(t, "bob", models.RoleMember)
	e.do(t, alice, websocket.EventJoinRoom, roomPayload{Room: "General"})
	e.do(t, bob, websocket.EventJoinRoom, roomPayload{Room: "General"})

	got := e.do(t, alice, websocket.EventSendMessage, map[string]string{
		"room": "General", "message": "hello @bob", "tempId": "tmp-1",
	})

	var ack AckPayload
	decodeInto(t, find(got, websocket.EventMessageAck), &ack)
	if ack.TempID != "tmp-1" || ack.ID == 0 {
		t.Errorf("message_ack = %+v", ack)
	}
	var own models.MessageView
	decodeInto(t, find(got, websocket.EventReceive), &own)
	if own.TempID != "tmp-1" {
		t.Errorf("sender copy tempId = %q, want tmp-1", own.TempID)
	}

	bobEvents := drain(bob)
	var view models.MessageView
	decodeInto(t, find(bobEvents, websocket.EventReceive), &view)
	if view.ID != ack.ID || view.Body != "hello @bob" || view.Author != "alice" || view.Room != "General" {
		t.Errorf("broadcast = %+v", view)
	}

	history, err := e.store.RecentMessages(context.Background(), "General", PageSize, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].ID != view.ID {
		t.Errorf("history = %+v, want the broadcast message", history)
	}

	if n := notificationsOf(t, e.store, "bob", models.NotificationMention); n != 1 {
		t.Errorf("mention notifications for bob = %d, want 1", n)
	}
	if find(bobEvents, websocket.EventNewNotification) == nil {
		t.Error("bob is online but got no new_notification")
	}
	if len(e.mirror.entries) != 1 || e.mirror.entries[0].Author != "alice" {
		t.Errorf("mirror entries = %+v", e.mirror.entries)
	}
}

func TestSend_Validation(t *testing.T) {
	e := newEnv(t, "alice")
	alice := e.connect(t, "alice", models.RoleMember)

	tests := []struct {
		name    string
		payload map[string]string
	}{
		{"empty body", map[string]string{"room": "General", "message": "  ", "tempId": "x"}},
		{"bad type", map[string]string{"room": "General", "message": "hi", "type": "sticker", "tempId": "x"}},
		{"bad room", map[string]string{"room": "a_b_c", "message": "hi", "tempId": "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.do(t, alice, websocket.EventSendMessage, tt.payload)
			var failed FailedPayload
			decodeInto(t, find(got, websocket.EventMessageFailed), &failed)
			if failed.TempID != "x" || failed.Error == "" {
				t.Errorf("message_failed = %+v", failed)
			}
			if find(got, websocket.EventError) == nil {
				t.Error("no error_message emitted")
			}
		})
	}
	if msgs, _ := e.store.RecentMessages(context.Background(), "General", PageSize, 0); len(msgs) != 0 {
		t.Errorf("stored %d messages, want 0", len(msgs))
	}
}

func TestSend_ReplySnapshot(t *testing.T) {
	e := newEnv(t, "alice", "bob")
	ctx := context.Background()
	orig := models.Message{Room: "General", Author: "bob", Body: "first", Type: models.MessageText}
	_ = e.store.InsertMessage(ctx, &orig)
	other := models.Message{Room: "elsewhere", Author: "bob", Body: "secret", Type: models.MessageText}
	_ = e.store.InsertMessage(ctx, &other)
	alice := e.connect(t, "alice", models.RoleMember)

	e.do(t, alice, websocket.EventSendMessage, map[string]interface{}{
		"room": "General", "message": "re", "replyTo": map[string]int64{"id": orig.ID},
	})
	e.do(t, alice, websocket.EventSendMessage, map[string]interface{}{
		"room": "General", "message": "cross", "replyTo": map[string]int64{"id": other.ID},
	})

	msgs, _ := e.store.RecentMessages(ctx, "General", PageSize, 0)
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}
	reply := msgs[1]
	if reply.ReplyToID == nil || *reply.ReplyToID != orig.ID || *reply.ReplyToAuthor != "bob" || *reply.ReplyToBody != "first" {
		t.Errorf("reply snapshot = %+v", reply)
	}
	if msgs[2].ReplyToID != nil {
		t.Error("reply to a message of another room was kept")
	}
}

func TestJoin_DirectMessageAccess(t *testing.T) {
	e := newEnv(t, "alice", "bob", "carol", "boss")
	tests := []struct {
		user    string
		role    string
		room    string
		allowed bool
	}{
		{"alice", models.RoleMember, "alice_bob", true},
		{"bob", models.RoleMember, "bob_alice", true},
		{"carol", models.RoleMember, "alice_bob", false},
		{"boss", models.RoleMod, "alice_bob", true},
	}
	for _, tt := range tests {
		t.Run(tt.user+" "+tt.room, func(t *testing.T) {
			c := e.connect(t, tt.user, tt.role)
			got := e.do(t, c, websocket.EventJoinRoom, roomPayload{Room: tt.room})
			history := find(got, websocket.EventChatHistory)
			if (history != nil) != tt.allowed {
				t.Fatalf("join(%s) as %s allowed = %v, want %v", tt.room, tt.user, history != nil, tt.allowed)
			}
			if !tt.allowed {
				if find(got, websocket.EventError) == nil {
					t.Error("denied join without error_message")
				}
				if e.hub.RoomOf(c) != "" {
					t.Error("denied join subscribed the client")
				}
				return
			}
			var h HistoryPayload
			decodeInto(t, history, &h)
			if h.Room != "alice_bob" {
				t.Errorf("history room = %q, want canonical alice_bob", h.Room)
			}
		})
	}
}

func TestJoin_GroupAccess(t *testing.T) {
	e := newEnv(t, "alice", "bob", "carol", "boss")
	ctx := context.Background()
	_ = e.store.CreateGroup(ctx, "open", "alice")
	_ = e.store.CreateGroup(ctx, "closed", "alice")
	_ = e.store.SaveGroupSettings(ctx, models.GroupSettings{Room: "closed", IsPrivate: true})

	bob := e.connect(t, "bob", models.RoleMember)
	got := e.do(t, bob, websocket.EventJoinRoom, roomPayload{Room: "open"})
	if find(got, websocket.EventChatHistory) == nil || find(got, websocket.EventGroupSettings) == nil {
		t.Errorf("join open group events = %v", got)
	}
	var role RolePayload
	decodeInto(t, find(got, websocket.EventRoomRole), &role)
	if role.Role != models.ChatRoleMember {
		t.Errorf("room_role = %q, want member", role.Role)
	}
	if m, _ := e.store.GetMembership(ctx, "open", "bob"); m == nil {
		t.Error("bob was not enrolled in the open group")
	}

	got = e.do(t, bob, websocket.EventJoinRoom, roomPayload{Room: "closed"})
	if find(got, websocket.EventChatHistory) != nil {
		t.Error("bob joined a private group")
	}

	boss := e.connect(t, "boss", models.RoleMod)
	got = e.do(t, boss, websocket.EventJoinRoom, roomPayload{Room: "closed"})
	if find(got, websocket.EventChatHistory) == nil {
		t.Error("mod could not join a private group")
	}
}

func TestJoin_UnknownGroup(t *testing.T) {
	e := newEnv(t, "alice", "bob")
	ctx := context.Background()
	alice := e.connect(t, "alice", models.RoleMember)
	bob := e.connect(t, "bob", models.RoleMember)

	for _, event := range []websocket.EventType{websocket.EventJoinRoom, websocket.EventJoinExistingGroup} {
		got := e.do(t, alice, event, roomPayload{Room: "ghost"})
		if find(got, websocket.EventChatHistory) != nil || find(got, websocket.EventGroupJoined) != nil {
			t.Errorf("%s on a missing group = %v", event, got)
		}
		if find(got, websocket.EventError) == nil {
			t.Errorf("%s on a missing group emitted no error_message", event)
		}
	}
	if exists, _ := e.store.GroupExists(ctx, "ghost"); exists {
		t.Fatal("joining a missing group created it")
	}

	got := e.do(t, bob, websocket.EventCreateGroup, map[string]string{"name": "ghost"})
	if find(got, websocket.EventGroupCreated) == nil {
		t.Fatalf("create_group after failed joins = %v", got)
	}
	if m, _ := e.store.GetMembership(ctx, "ghost", "bob"); m == nil || m.Role != models.ChatRoleOwner {
		t.Errorf("bob membership = %+v, want owner", m)
	}
}

func TestLoadMore(t *testing.T) {
	e := newEnv(t, "alice")
	ctx := context.Background()
	for i := 0; i < PageSize+5; i++ {
		_ = e.store.InsertMessage(ctx, &models.Message{Room: "General", Author: "alice", Body: "m", Type: models.MessageText})
	}
	alice := e.connect(t, "alice", models.RoleMember)

	got := e.do(t, alice, websocket.EventLoadMore, map[string]interface{}{"room": "General", "offset": PageSize})
	var page HistoryPayload
	decodeInto(t, find(got, websocket.EventMoreMessages), &page)
	if len(page.Messages) != 5 {
		t.Errorf("page size = %d, want 5", len(page.Messages))
	}

	got = e.do(t, alice, websocket.EventLoadMore, map[string]interface{}{"room": "General", "offset": PageSize + 5})
	if find(got, websocket.EventNoMore) == nil {
		t.Errorf("exhausted history emitted %v, want no_more_messages", got)
	}
}

func TestSlowMode(t *testing.T) {
	e := newEnv(t, "alice", "bob")
	ctx := context.Background()
	_ = e.store.CreateGroup(ctx, "slow", "alice")
	_, _ = e.store.AddMember(ctx, "slow", "bob", models.ChatRoleMember)
	alice := e.connect(t, "alice", models.RoleMember)
	bob := e.connect(t, "bob", models.RoleMember)

	e.do(t, alice, websocket.EventUpdateGroupSettings, map[string]interface{}{"room": "slow", "slow_mode": 10})
	send := func(c *websocket.Client) []event {
		return e.do(t, c, websocket.EventSendMessage, map[string]string{"room": "slow", "message": "hi", "tempId": "t"})
	}

	if got := send(bob); find(got, websocket.EventMessageAck) == nil {
		t.Fatalf("first send rejected: %v", got)
	}

	e.clock.t = e.clock.t.Add(4 * time.Second)
	got := send(bob)
	var slow websocket.SlowModePayload
	decodeInto(t, find(got, websocket.EventSlowMode), &slow)
	if slow.WaitSeconds != 6 || slow.Room != "slow" {
		t.Errorf("slow_mode = %+v, want 6 s left", slow)
	}
	if find(got, websocket.EventMessageFailed) == nil {
		t.Error("rejected send was not failed")
	}

	// the rejection must not have moved the window
	e.clock.t = e.clock.t.Add(6 * time.Second)
	if got := send(bob); find(got, websocket.EventMessageAck) == nil {
		t.Errorf("send at T+N rejected: %v", got)
	}
	e.clock.t = e.clock.t.Add(time.Second)
	if got := send(bob); find(got, websocket.EventSlowMode) == nil {
		t.Error("accepted send did not restart the window")
	}

	for i := 0; i < 3; i++ {
		if got := send(alice); find(got, websocket.EventMessageAck) == nil {
			t.Errorf("owner send %d rejected: %v", i, got)
		}
	}

	msgs, _ := e.store.RecentMessages(ctx, "slow", PageSize, 0)
	if len(msgs) != 5 {
		t.Errorf("stored messages = %d, want 5", len(msgs))
	}
}

type failingInserts struct {
	*repository.Memory
	fail bool
}

func (f *failingInserts) InsertMessage(ctx context.Context, m *models.Message) error {
	if f.fail {
		return errors.New("insert failed")
	}
	return f.Memory.InsertMessage(ctx, m)
}

func TestSlowMode_FailedInsertIsNotCharged(t *testing.T) {
	ctx := context.Background()
	mem := repository.NewMemory()
	for _, u := range []string{"alice", "bob"} {
		if _, err := mem.CreateUser(ctx, u, "hash"); err != nil {
			t.Fatal(err)
		}
	}
	_ = mem.CreateGroup(ctx, "slow", "alice")
	_, _ = mem.AddMember(ctx, "slow", "bob", models.ChatRoleMember)
	_ = mem.SaveGroupSettings(ctx, models.GroupSettings{Room: "slow", SlowMode: 30})

	store := &failingInserts{Memory: mem, fail: true}
	hub := websocket.NewHub()
	clk := &clock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	gate := slowmode.NewWithClock(time.Hour, clk.now)
	bridge := notify.NewBridge(store, hub, nil)
	e := &env{svc: NewService(store, hub, gate, bridge, nil), store: mem, hub: hub, clock: clk, bridge: bridge}
	bob := e.connect(t, "bob", models.RoleMember)

	send := func() []event {
		return e.do(t, bob, websocket.EventSendMessage, map[string]string{"room": "slow", "message": "hi", "tempId": "t1"})
	}
	got := send()
	if find(got, websocket.EventMessageFailed) == nil || find(got, websocket.EventSlowMode) != nil {
		t.Fatalf("send with failing store = %v, want message_failed without slow_mode", got)
	}

	store.fail = false
	clk.t = clk.t.Add(time.Second)
	if got := send(); find(got, websocket.EventMessageAck) == nil {
		t.Fatalf("retry after failed insert = %v, want message_ack", got)
	}
	if got := send(); find(got, websocket.EventSlowMode) == nil {
		t.Errorf("second accepted send = %v, want slow_mode", got)
	}
}

func TestUpdateGroupSettings(t *testing.T) {
	e := newEnv(t, "alice", "bob")
	ctx := context.Background()
	_ = e.store.CreateGroup(ctx, "g", "alice")
	_, _ = e.store.AddMember(ctx, "g", "bob", models.ChatRoleEditor)
	alice := e.connect(t, "alice", models.RoleMember)
	bob := e.connect(t, "bob", models.RoleMember)
	e.do(t, bob, websocket.EventJoinRoom, roomPayload{Room: "g"})

	tests := []struct {
		name string
		c    *websocket.Client
		body map[string]interface{}
		ok   bool
	}{
		{"editor denied", bob, map[string]interface{}{"room": "g", "slow_mode": 5}, false},
		{"too long", alice, map[string]interface{}{"room": "g", "slow_mode": MaxSlowMode + 1}, false},
		{"negative", alice, map[string]interface{}{"room": "g", "slow_mode": -1}, false},
		{"owner", alice, map[string]interface{}{"room": "g", "slow_mode": 30, "is_private": true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.do(t, tt.c, websocket.EventUpdateGroupSettings, tt.body)
			if (find(got, websocket.EventError) == nil) != tt.ok {
				t.Errorf("update_group_settings ok = %v, want %v (%v)", find(got, websocket.EventError) == nil, tt.ok, got)
			}
		})
	}

	gs, err := e.store.GetGroupSettings(ctx, "g")
	if err != nil || gs.SlowMode != 30 || !gs.IsPrivate {
		t.Errorf("settings = %+v, %v", gs, err)
	}
	if find(drain(bob), websocket.EventGroupSettings) == nil {
		t.Error("subscribers were not told about new settings")
	}
}

func TestLeave_SoleOwnerDeletesGroup(t *testing.T) {
	e := newEnv(t, "alice", "bob", "carol")
	ctx := context.Background()
	alice := e.connect(t, "alice", models.RoleMember)
	bob := e.connect(t, "bob", models.RoleMember)
	carol := e.connect(t, "carol", models.RoleMember)

	if got := e.do(t, alice, websocket.EventCreateGroup, map[string]string{"name": "team"}); find(got, websocket.EventGroupCreated) == nil {
		t.Fatalf("create_group events = %v", got)
	}
	e.do(t, bob, websocket.EventJoinRoom, roomPayload{Room: "team"})
	e.do(t, carol, websocket.EventJoinExistingGroup, roomPayload{Room: "team"})
	e.do(t, alice, websocket.EventUpdateGroupSettings, map[string]interface{}{"room": "team", "slow_mode": 60})
	e.do(t, bob, websocket.EventSendMessage, map[string]string{"room": "team", "message": "hey"})
	drain(carol)
	drain(bob)

	e.do(t, alice, websocket.EventLeaveGroup, roomPayload{Room: "team"})

	if find(drain(bob), websocket.EventGroupDeleted) == nil {
		t.Error("subscribed member did not get group_deleted")
	}
	if find(drain(carol), websocket.EventGroupDeleted) == nil {
		t.Error("unsubscribed member did not get group_deleted")
	}
	if e.hub.RoomOf(bob) != "" {
		t.Error("bob is still subscribed to the deleted room")
	}
	if exists, _ := e.store.GroupExists(ctx, "team"); exists {
		t.Error("group still exists")
	}
	if msgs, _ := e.store.RecentMessages(ctx, "team", PageSize, 0); len(msgs) != 0 {
		t.Errorf("messages left = %d", len(msgs))
	}
	if _, err := e.store.GetGroupSettings(ctx, "team"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("settings left, err = %v", err)
	}
}

func TestLeave_MemberOrCoOwner(t *testing.T) {
	e := newEnv(t, "alice", "bob")
	ctx := context.Background()
	_ = e.store.CreateGroup(ctx, "g", "alice")
	_, _ = e.store.AddMember(ctx, "g", "bob", models.ChatRoleOwner)
	alice := e.connect(t, "alice", models.RoleMember)

	got := e.do(t, alice, websocket.EventLeaveGroup, roomPayload{Room: "g"})
	if find(got, websocket.EventLeftGroup) == nil {
		t.Fatalf("leave events = %v", got)
	}
	if exists, _ := e.store.GroupExists(ctx, "g"); !exists {
		t.Error("group deleted although another owner remains")
	}

	got = e.do(t, alice, websocket.EventLeaveGroup, roomPayload{Room: "General"})
	if find(got, websocket.EventError) == nil {
		t.Error("leaving General was allowed")
	}
}

func TestAssignChatRole(t *testing.T) {
	e := newEnv(t, "alice", "bob", "carol")
	ctx := context.Background()
	_ = e.store.CreateGroup(ctx, "g", "alice")
	_, _ = e.store.AddMember(ctx, "g", "bob", models.ChatRoleMember)
	_, _ = e.store.AddMember(ctx, "g", "carol", models.ChatRoleMember)
	alice := e.connect(t, "alice", models.RoleMember)
	bob := e.connect(t, "bob", models.RoleMember)

	if got := e.do(t, bob, websocket.EventAssignChatRole, map[string]string{"room": "g", "username": "carol", "role": "editor"}); find(got, websocket.EventError) == nil {
		t.Error("member could assign roles")
	}

	e.do(t, alice, websocket.EventAssignChatRole, map[string]string{"room": "g", "username": "bob", "role": "editor"})
	if m, _ := e.store.GetMembership(ctx, "g", "bob"); m == nil || m.Role != models.ChatRoleEditor {
		t.Errorf("bob membership = %+v, want editor", m)
	}

	e.do(t, alice, websocket.EventAssignChatRole, map[string]string{"room": "g", "username": "carol", "role": "kick"})
	if m, _ := e.store.GetMembership(ctx, "g", "carol"); m != nil {
		t.Error("carol still a member after kick")
	}

	if got := e.do(t, alice, websocket.EventAssignChatRole, map[string]string{"room": "g", "username": "bob", "role": "admin"}); find(got, websocket.EventError) == nil {
		t.Error("unknown role accepted")
	}
}

func TestDeleteMessage(t *testing.T) {
	e := newEnv(t, "alice", "bob", "boss")
	ctx := context.Background()
	_ = e.store.CreateGroup(ctx, "g", "alice")
	_, _ = e.store.AddMember(ctx, "g", "bob", models.ChatRoleMember)

	insert := func(room, author string) int64 {
		m := models.Message{Room: room, Author: author, Body: "x", Type: models.MessageText}
		_ = e.store.InsertMessage(ctx, &m)
		return m.ID
	}
	alice := e.connect(t, "alice", models.RoleMember)
	bob := e.connect(t, "bob", models.RoleMember)
	boss := e.connect(t, "boss", models.RoleMod)

	tests := []struct {
		name string
		c    *websocket.Client
		id   int64
		ok   bool
	}{
		{"author", bob, insert("General", "bob"), true},
		{"stranger", bob, insert("General", "alice"), false},
		{"group owner", alice, insert("g", "bob"), true},
		{"owner of a dm is nobody", alice, insert("bob_boss", "bob"), false},
		{"mod", boss, insert("General", "alice"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.do(t, tt.c, websocket.EventDeleteMsg, idPayload{ID: tt.id})
			_, err := e.store.GetMessage(ctx, tt.id)
			deleted := errors.Is(err, repository.ErrNotFound)
			if deleted != tt.ok {
				t.Errorf("deleted = %v, want %v", deleted, tt.ok)
			}
			if tt.ok && find(got, websocket.EventDeleted) == nil {
				t.Error("no message_deleted event")
			}
		})
	}
}

func TestMentions(t *testing.T) {
	tests := []struct {
		body string
		want []string
	}{
		{"hello @bob", []string{"bob"}},
		{"@bob @bob @carol", []string{"bob", "carol"}},
		{"mail me at bob@example", []string{"example"}},
		{"nobody", nil},
	}
	for _, tt := range tests {
		got := Mentions(tt.body)
		if len(got) != len(tt.want) {
			t.Errorf("Mentions(%q) = %v, want %v", tt.body, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("Mentions(%q) = %v, want %v", tt.body, got, tt.want)
			}
		}
	}
}

func TestMention_OnlyLegitimateMembers(t *testing.T) {
	e := newEnv(t, "alice", "bob", "carol")
	ctx := context.Background()
	_ = e.store.CreateGroup(ctx, "g", "alice")
	alice := e.connect(t, "alice", models.RoleMember)

	e.do(t, alice, websocket.EventSendMessage, map[string]string{"room": "g", "message": "@bob @ghost @alice"})
	e.do(t, alice, websocket.EventSendMessage, map[string]string{"room": "alice_carol", "message": "@bob hi @carol"})
	e.do(t, alice, websocket.EventSendMessage, map[string]string{"room": "General", "message": "@bob @bob"})

	tests := []struct {
		user string
		want int
	}{
		{"bob", 1},
		{"carol", 1},
		{"alice", 0},
		{"ghost", 0},
	}
	for _, tt := range tests {
		if n := notificationsOf(t, e.store, tt.user, models.NotificationMention); n != tt.want {
			t.Errorf("mentions for %s = %d, want %d", tt.user, n, tt.want)
		}
	}
}

func TestDirect_PreviewsAndNotifications(t *testing.T) {
	e := newEnv(t, "alice", "bob")
	ctx := context.Background()
	alice := e.connect(t, "alice", models.RoleMember)
	_, _ = e.store.UpdateProfile(ctx, "bob", models.ProfileUpdate{DisplayName: "Bob", NotificationsEnabled: false})

	e.do(t, alice, websocket.EventSendMessage, map[string]string{"room": "bob_alice", "message": "psst @bob"})

	previews, _ := e.store.ListChatPreviews(ctx, "bob")
	if len(previews) != 1 || previews[0].Unread != 1 || previews[0].Room != "alice_bob" {
		t.Errorf("bob previews = %+v", previews)
	}
	mine, _ := e.store.ListChatPreviews(ctx, "alice")
	if len(mine) != 1 || mine[0].Unread != 0 {
		t.Errorf("alice previews = %+v", mine)
	}
	if notes, _ := e.store.RecentNotifications(ctx, "bob", 50); len(notes) != 0 {
		t.Errorf("notifications for opted-out bob = %+v", notes)
	}

	_, _ = e.store.UpdateProfile(ctx, "bob", models.ProfileUpdate{DisplayName: "Bob", NotificationsEnabled: true})
	e.do(t, alice, websocket.EventSendMessage, map[string]string{"room": "alice_bob", "message": "again"})
	if n := notificationsOf(t, e.store, "bob", models.NotificationDM); n != 1 {
		t.Errorf("dm notifications = %d, want 1", n)
	}

	// a peer reading the conversation is not notified
	bob := e.connect(t, "bob", models.RoleMember)
	e.do(t, bob, websocket.EventJoinRoom, roomPayload{Room: "alice_bob"})
	e.do(t, alice, websocket.EventSendMessage, map[string]string{"room": "alice_bob", "message": "third"})
	if n := notificationsOf(t, e.store, "bob", models.NotificationDM); n != 1 {
		t.Errorf("dm notifications after join = %d, want 1", n)
	}
	if len(e.mirror.entries) != 0 {
		t.Error("direct messages were mirrored")
	}
}

func TestDirect_Blocked(t *testing.T) {
	e := newEnv(t, "alice", "bob")
	ctx := context.Background()
	bob := e.connect(t, "bob", models.RoleMember)
	alice := e.connect(t, "alice", models.RoleMember)
	e.do(t, bob, websocket.EventBlockUser, userPayload{Username: "alice"})

	got := e.do(t, alice, websocket.EventSendMessage, map[string]string{"room": "alice_bob", "message": "hi", "tempId": "t1"})
	var failed FailedPayload
	decodeInto(t, find(got, websocket.EventMessageFailed), &failed)
	if failed.Error != "Blocked" {
		t.Errorf("message_failed = %+v, want Blocked", failed)
	}
	if msgs, _ := e.store.RecentMessages(ctx, "alice_bob", PageSize, 0); len(msgs) != 0 {
		t.Error("blocked message was stored")
	}

	// only the blocked side is stopped
	if got := e.do(t, bob, websocket.EventSendMessage, map[string]string{"room": "alice_bob", "message": "bye", "tempId": "t2"}); find(got, websocket.EventMessageAck) == nil {
		t.Errorf("blocker send = %v, want message_ack", got)
	}

	// blocks gate direct messages only
	if got := e.do(t, alice, websocket.EventSendMessage, map[string]string{"room": "General", "message": "hi"}); find(got, websocket.EventMessageAck) == nil {
		t.Error("block leaked into General")
	}
}

func TestTyping(t *testing.T) {
	e := newEnv(t, "alice", "bob", "carol")
	alice := e.connect(t, "alice", models.RoleMember)
	bob := e.connect(t, "bob", models.RoleMember)
	carol := e.connect(t, "carol", models.RoleMember)
	e.do(t, alice, websocket.EventJoinRoom, roomPayload{Room: "General"})
	e.do(t, bob, websocket.EventJoinRoom, roomPayload{Room: "General"})
	e.do(t, carol, websocket.EventJoinRoom, roomPayload{Room: "alice_carol"})

	if got := e.do(t, alice, websocket.EventTyping, roomPayload{Room: "General"}); len(got) != 0 {
		t.Errorf("typist got %v", got)
	}
	if count(drain(bob), websocket.EventDisplayTyping) != 1 {
		t.Error("bob did not see alice typing")
	}
	if count(drain(carol), websocket.EventDisplayTyping) != 0 {
		t.Error("carol saw typing from another room")
	}

	e.do(t, carol, websocket.EventTyping, roomPayload{Room: "General"})
	if count(drain(bob), websocket.EventDisplayTyping) != 0 {
		t.Error("typing was relayed for a room the typist is not in")
	}

	e.do(t, alice, websocket.EventJoinRoom, roomPayload{Room: "alice_carol"})
	e.do(t, carol, websocket.EventTyping, roomPayload{Room: "carol_alice"})
	var typing websocket.TypingPayload
	decodeInto(t, find(drain(alice), websocket.EventDisplayTyping), &typing)
	if typing.Room != "alice_carol" || typing.Username != "carol" {
		t.Errorf("display_typing for reversed DM key = %+v, want canonical alice_carol from carol", typing)
	}
	if got := e.do(t, carol, websocket.EventTyping, roomPayload{Room: "a_b_c"}); len(got) != 0 {
		t.Errorf("typing on a malformed room = %v", got)
	}
}

func TestFriendRequestFlow(t *testing.T) {
	e := newEnv(t, "alice", "bob")
	ctx := context.Background()
	alice := e.connect(t, "alice", models.RoleMember)
	bob := e.connect(t, "bob", models.RoleMember)

	e.do(t, alice, websocket.EventSendFriendRequest, userPayload{Username: "bob"})
	e.do(t, alice, websocket.EventSendFriendRequest, userPayload{Username: "bob"})
	if n := notificationsOf(t, e.store, "bob", models.NotificationFriendRequest); n != 1 {
		t.Fatalf("friend requests = %d, want 1", n)
	}

	var note models.Notification
	decodeInto(t, find(drain(bob), websocket.EventNewNotification), &note)

	got := e.do(t, bob, websocket.EventAcceptFriendRequest, map[string]int64{"notifId": note.ID})
	if find(got, websocket.EventFriendsList) == nil {
		t.Error("accepting did not refresh bob's friends")
	}
	if ok, _ := e.store.AreFriends(ctx, "alice", "bob"); !ok {
		t.Error("not friends after accept")
	}
	if n := notificationsOf(t, e.store, "alice", models.NotificationInfo); n != 1 {
		t.Errorf("acceptance notifications = %d, want 1", n)
	}

	e.do(t, bob, websocket.EventRemoveFriend, userPayload{Username: "alice"})
	if ok, _ := e.store.AreFriends(ctx, "alice", "bob"); ok {
		t.Error("still friends after remove")
	}

	_ = e.store.AddFriendship(ctx, "alice", "bob")
	got = e.do(t, bob, websocket.EventBlockUser, userPayload{Username: "alice"})
	if find(got, websocket.EventError) != nil {
		t.Fatalf("block_user = %v", got)
	}
	if ok, _ := e.store.AreFriends(ctx, "alice", "bob"); ok {
		t.Error("still friends after block")
	}
	if blocked, _ := e.store.IsBlocked(ctx, "bob", "alice"); !blocked {
		t.Error("alice is not blocked")
	}
}

func TestAcceptFriendRequest_FromDeletedUser(t *testing.T) {
	e := newEnv(t, "alice", "bob")
	ctx := context.Background()
	alice := e.connect(t, "alice", models.RoleMember)
	bob := e.connect(t, "bob", models.RoleMember)

	e.do(t, alice, websocket.EventSendFriendRequest, userPayload{Username: "bob"})
	var note models.Notification
	decodeInto(t, find(drain(bob), websocket.EventNewNotification), &note)
	if err := e.store.DeleteUser(ctx, "alice"); err != nil {
		t.Fatal(err)
	}

	got := e.do(t, bob, websocket.EventAcceptFriendRequest, map[string]int64{"notifId": note.ID})
	if find(got, websocket.EventError) == nil {
		t.Errorf("accepting a request from a deleted user = %v, want error_message", got)
	}
	if n := notificationsOf(t, e.store, "bob", models.NotificationFriendRequest); n != 0 {
		t.Errorf("stale friend requests = %d, want 0", n)
	}
}

func TestUpdateProfile(t *testing.T) {
	e := newEnv(t, "alice", "bob")
	ctx := context.Background()
	alice := e.connect(t, "alice", models.RoleMember)

	got := e.do(t, alice, websocket.EventUpdateProfile, map[string]interface{}{"display_name": "Alice A", "bio": "hi"})
	var p models.Profile
	decodeInto(t, find(got, websocket.EventMyProfile), &p)
	if p.DisplayName != "Alice A" || !p.NotificationsEnabled {
		t.Errorf("profile = %+v, want notifications left on", p)
	}

	for _, bad := range []string{"bob", "a_b", "ab"} {
		got := e.do(t, alice, websocket.EventUpdateProfile, map[string]string{"newUsername": bad})
		if find(got, websocket.EventError) == nil {
			t.Errorf("rename to %q accepted", bad)
		}
	}

	got = e.do(t, alice, websocket.EventUpdateProfile, map[string]string{"newUsername": "alicia"})
	if find(got, websocket.EventForceLogout) == nil {
		t.Errorf("rename events = %v, want force_logout", got)
	}
	if !alice.Closed() {
		t.Error("session survived rename")
	}
	if ok, _ := e.store.UserExists(ctx, "alicia"); !ok {
		t.Error("renamed user missing")
	}
}

func TestShutdown(t *testing.T) {
	e := newEnv(t, "alice")
	alice := e.connect(t, "alice", models.RoleMember)
	e.svc.Shutdown()
	e.svc.Shutdown()
	if !alice.Closed() {
		t.Error("Shutdown() left a session open")
	}
}
