package matrix

import (
	"strings"
	"testing"

	"maunium.net/go/mautrix/id"
)

func TestSplitMessage(t *testing.T) {
	long := strings.Repeat("a", 90) + "\n" + strings.Repeat("b", 90)
	chunks := splitMessage(long, 100)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if !strings.HasSuffix(chunks[0], "\n") {
		t.Errorf("first chunk did not break at the newline: %q", chunks[0][len(chunks[0])-5:])
	}
	if rejoined := strings.Join(chunks, ""); rejoined != long {
		t.Error("chunks do not reassemble to the original message")
	}

	if got := splitMessage("short", 100); len(got) != 1 || got[0] != "short" {
		t.Errorf("short message split: %v", got)
	}
}

func TestIsAllowed(t *testing.T) {
	c := New(Config{AllowedUsers: []string{"@alice:example.com", "@*:trusted.org"}})

	cases := []struct {
		sender string
		want   bool
	}{
		{"@alice:example.com", true},
		{"@bob:example.com", false},
		{"@anyone:trusted.org", true},
		{"@anyone:evil.org", false},
	}
	for _, tc := range cases {
		if got := c.isAllowed(id.UserID(tc.sender)); got != tc.want {
			t.Errorf("isAllowed(%s) = %v, want %v", tc.sender, got, tc.want)
		}
	}

	open := New(Config{})
	if !open.isAllowed("@anyone:anywhere.net") {
		t.Error("empty allow list should permit everyone")
	}
}
