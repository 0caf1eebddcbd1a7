package room

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantErr  bool
		wantKind Kind
		wantName string
	}{
		{"general", "General", false, KindGroup, "General"},
		{"group", "gophers", false, KindGroup, "gophers"},
		{"sorted dm", "alice_bob", false, KindDirect, "alice_bob"},
		{"unsorted dm", "bob_alice", false, KindDirect, "alice_bob"},
		{"empty", "", true, 0, ""},
		{"three parts", "a_b_c", true, 0, ""},
		{"self dm", "bob_bob", true, 0, ""},
		{"dangling separator", "bob_", true, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Parse(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if r.Kind() != tt.wantKind || r.Name() != tt.wantName {
				t.Errorf("Parse(%q) = (%v, %q), want (%v, %q)", tt.raw, r.Kind(), r.Name(), tt.wantKind, tt.wantName)
			}
		})
	}
}

func TestDirect_PeerAndIncludes(t *testing.T) {
	r := Direct("bob", "alice")
	if r.Name() != "alice_bob" {
		t.Fatalf("Direct() name = %q", r.Name())
	}
	if !r.Includes("alice") || !r.Includes("bob") || r.Includes("carol") {
		t.Error("Includes() mismatch")
	}
	if r.Peer("alice") != "bob" || r.Peer("bob") != "alice" || r.Peer("carol") != "" {
		t.Error("Peer() mismatch")
	}
	if Group("x").Peer("alice") != "" {
		t.Error("Peer() on group should be empty")
	}
}

func TestRenamed(t *testing.T) {
	r := Direct("alice", "mallory")
	got := r.Renamed("alice", "zed")
	if got.Name() != "mallory_zed" {
		t.Errorf("Renamed() = %q, want mallory_zed", got.Name())
	}
	if other := Direct("bob", "carol").Renamed("alice", "zed"); other.Name() != "bob_carol" {
		t.Errorf("Renamed() touched unrelated room: %q", other.Name())
	}
	if g := Group("General").Renamed("alice", "zed"); g.Name() != "General" {
		t.Errorf("Renamed() touched group: %q", g.Name())
	}
}

func TestValidGroupName(t *testing.T) {
	cases := map[string]bool{
		"gophers":                true,
		"":                       false,
		"  ":                     false,
		"a_b":                    false,
		string(make([]byte, 65)): false,
	}
	for in, want := range cases {
		if got := ValidGroupName(in); got != want {
			t.Errorf("ValidGroupName(%q) = %v, want %v", in, got, want)
		}
	}
}
