package main

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"
)

func TestWriteVAPIDKeys(t *testing.T) {
	var buf bytes.Buffer
	if err := writeVAPIDKeys(&buf); err != nil {
		t.Fatal(err)
	}

	// uncompressed P-256 point, and a scalar of at most 32 bytes
	want := map[string]int{"VAPID_PUBLIC_KEY": 65, "VAPID_PRIVATE_KEY": 32}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != len(want) {
		t.Fatalf("output = %q, want %d lines", buf.String(), len(want))
	}
	for _, line := range lines {
		name, value, ok := strings.Cut(line, "=")
		size, known := want[name]
		if !ok || !known {
			t.Errorf("unexpected line %q", line)
			continue
		}
		raw, err := base64.RawURLEncoding.DecodeString(value)
		if err != nil {
			t.Errorf("%s is not base64url: %v", name, err)
			continue
		}
		if len(raw) == 0 || len(raw) > size || (name == "VAPID_PUBLIC_KEY" && (len(raw) != size || raw[0] != 0x04)) {
			t.Errorf("%s decodes to %d bytes, want %d", name, len(raw), size)
		}
	}
}
