package uuid_test

import (
	"testing"

	google_uuid "github.com/google/uuid"
	"github.com/jrife/strata/utils/uuid"
)

func TestMustUUID(t *testing.T) {
	seen := map[string]bool{}

	for i := 0; i < 1000; i++ {
		id := uuid.MustUUID()

		if _, err := google_uuid.Parse(id); err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}

		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}

		seen[id] = true
	}
}
