package outbox

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestStatusTerminal(t *testing.T) {
	terminal := map[Status]bool{
		StatusPending:   false,
		StatusInFlight:  false,
		StatusSucceeded: true,
		StatusFailed:    true,
		StatusConflict:  true,
	}
	for status, want := range terminal {
		if !status.Valid() {
			t.Fatalf("expected %s to be valid", status)
		}
		if got := status.Terminal(); got != want {
			t.Fatalf("%s: expected terminal %v, got %v", status, want, got)
		}
	}
	if Status("DONE").Valid() {
		t.Fatalf("expected unknown status to be invalid")
	}
}

func TestStatusText(t *testing.T) {
	var holder struct {
		Status Status `json:"status"`
	}
	if err := json.Unmarshal([]byte(`{"status":"IN_FLIGHT"}`), &holder); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if holder.Status != StatusInFlight {
		t.Fatalf("expected IN_FLIGHT, got %s", holder.Status)
	}

	if err := json.Unmarshal([]byte(`{"status":"LOST"}`), &holder); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if _, err := json.Marshal(struct{ S Status }{S: "LOST"}); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus on marshal, got %v", err)
	}
}
