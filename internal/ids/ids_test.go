package ids

import (
	"testing"
	"time"
)

func TestNewIsSortableAndCarriesTime(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_123)

	prev := ""
	for i := 0; i < 100; i++ {
		id := New(at)
		if len(id) != 26 {
			t.Fatalf("unexpected id length %d", len(id))
		}
		if id <= prev {
			t.Fatalf("ids not increasing: %q then %q", prev, id)
		}
		prev = id
	}

	got, err := Time(prev)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !got.Equal(at) {
		t.Fatalf("time = %v, want %v", got, at)
	}

	if _, err := Time("not-a-ulid"); err == nil {
		t.Fatal("expected parse error")
	}
}
