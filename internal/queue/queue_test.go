package queue

import (
	"encoding/json"
	"testing"
)

func TestJob_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	job := Job{RunID: "run-123", Attempt: 2}
	data, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got Job
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != job {
		t.Errorf("got %+v, want %+v", got, job)
	}
}

func TestJob_WireFieldNames(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(Job{RunID: "run-abc", Attempt: 3})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if raw["run_id"] != "run-abc" {
		t.Errorf("run_id = %v, want run-abc", raw["run_id"])
	}
	if raw["attempt"] != float64(3) {
		t.Errorf("attempt = %v, want 3", raw["attempt"])
	}
}
