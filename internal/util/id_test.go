package util

import (
	"regexp"
	"testing"
)

func TestNewID_Format(t *testing.T) {
	id := NewID()
	re := regexp.MustCompile(`^[0-9a-f]{12}4[0-9a-f]{3}[89ab][0-9a-f]{15}$`)
	if !re.MatchString(id) {
		t.Fatalf("NewID %q not a dashless uuid v4", id)
	}
}

func TestNewID_Unique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}
