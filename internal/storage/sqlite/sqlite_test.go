package sqlite

import (
	"context"
	"testing"
	"time"

	gateway "github.com/routellm/gateway/internal/gateway"
	"github.com/routellm/gateway/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	// Use a unique file-based temp DB for each test to avoid shared :memory: races
	path := t.TempDir() + "/test.db"
	s, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestProviderKeyRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	rpm := 60
	k := &gateway.ProviderKey{
		ID: "key-1", Provider: "openai", DisplayName: "primary",
		APIKey: "sk-test", MaxRPM: &rpm, Priority: 1, Status: gateway.KeyActive,
		CreatedAt: time.Now().UTC().Truncate(time.Second), UpdatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := s.CreateKey(ctx, k); err != nil {
		t.Fatal("create:", err)
	}

	got, err := s.GetKey(ctx, "key-1")
	if err != nil {
		t.Fatal("get:", err)
	}
	if got.APIKey != "sk-test" || got.Provider != "openai" {
		t.Errorf("got = %+v", got)
	}
	if got.MaxRPM == nil || *got.MaxRPM != 60 {
		t.Errorf("max_rpm = %v, want 60", got.MaxRPM)
	}

	keys, err := s.ListKeysByProvider(ctx, "openai")
	if err != nil {
		t.Fatal("list by provider:", err)
	}
	if len(keys) != 1 {
		t.Fatalf("list by provider = %d, want 1", len(keys))
	}

	k.Status = gateway.KeyCoolingDown
	cooling := time.Now().UTC().Add(time.Minute)
	k.CoolingUntil = &cooling
	k.UpdatedAt = time.Now().UTC()
	if err := s.UpdateKey(ctx, k); err != nil {
		t.Fatal("update:", err)
	}
	got, _ = s.GetKey(ctx, "key-1")
	if got.Status != gateway.KeyCoolingDown || got.CoolingUntil == nil {
		t.Errorf("got = %+v, want cooling_down with CoolingUntil set", got)
	}

	if err := s.DeleteKey(ctx, "key-1"); err != nil {
		t.Fatal("delete:", err)
	}
	if _, err := s.GetKey(ctx, "key-1"); err != gateway.ErrKeyNotFound {
		t.Errorf("after delete err = %v, want ErrKeyNotFound", err)
	}
}

func TestListKeysFiltersByProviderAndStatus(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, k := range []*gateway.ProviderKey{
		{ID: "k1", Provider: "openai", APIKey: "a", Status: gateway.KeyActive, CreatedAt: now, UpdatedAt: now},
		{ID: "k2", Provider: "openai", APIKey: "b", Status: gateway.KeyDisabled, CreatedAt: now, UpdatedAt: now},
		{ID: "k3", Provider: "anthropic", APIKey: "c", Status: gateway.KeyActive, CreatedAt: now, UpdatedAt: now},
	} {
		if err := s.CreateKey(ctx, k); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.ListKeys(ctx, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("all = %d, want 3", len(all))
	}

	openaiOnly, err := s.ListKeys(ctx, "openai", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(openaiOnly) != 2 {
		t.Fatalf("openai = %d, want 2", len(openaiOnly))
	}

	activeOnly, err := s.ListKeys(ctx, "", string(gateway.KeyActive))
	if err != nil {
		t.Fatal(err)
	}
	if len(activeOnly) != 2 {
		t.Fatalf("active = %d, want 2", len(activeOnly))
	}
}

func TestNextCursorIncrementsPerProvider(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	for i, want := range []int{0, 1, 2} {
		got, err := s.NextCursor(ctx, "openai")
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("call %d: cursor = %d, want %d", i, got, want)
		}
	}

	got, err := s.NextCursor(ctx, "anthropic")
	if err != nil {
		t.Fatal(err)
	}
	if got != 0 {
		t.Errorf("anthropic first cursor = %d, want 0", got)
	}
}

func TestRunRoundTripAndIdempotency(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	run := &gateway.Run{
		ID: "run-1", Status: gateway.RunPending, Provider: "openai", Model: "gpt-4o",
		InputMessages:  []gateway.Message{{Role: gateway.RoleUser, Content: "hi"}},
		IdempotencyKey: "idem-1",
		CreatedAt:      now, UpdatedAt: now,
	}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatal("create:", err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatal("get:", err)
	}
	if len(got.InputMessages) != 1 || got.InputMessages[0].Content != "hi" {
		t.Errorf("input messages = %+v", got.InputMessages)
	}

	byIdem, err := s.GetRunByIdempotencyKey(ctx, "idem-1")
	if err != nil {
		t.Fatal("get by idempotency:", err)
	}
	if byIdem.ID != "run-1" {
		t.Errorf("id = %q, want run-1", byIdem.ID)
	}

	// A duplicate create with the same idempotency key must not error and
	// must not overwrite the existing row.
	dup := &gateway.Run{
		ID: "run-2", Status: gateway.RunPending, Provider: "openai",
		IdempotencyKey: "idem-1", CreatedAt: now, UpdatedAt: now,
	}
	if err := s.CreateRun(ctx, dup); err != nil {
		t.Fatal("duplicate create:", err)
	}
	if _, err := s.GetRun(ctx, "run-2"); err != gateway.ErrRunNotFound {
		t.Errorf("run-2 err = %v, want ErrRunNotFound (never inserted)", err)
	}

	got.Status = gateway.RunSucceeded
	got.OutputMessage = &gateway.Message{Role: gateway.RoleAssistant, Content: "hello"}
	got.RetryCount = 1
	got.UpdatedAt = now
	if err := s.UpdateRun(ctx, got); err != nil {
		t.Fatal("update:", err)
	}

	got, err = s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != gateway.RunSucceeded || got.OutputMessage == nil || got.OutputMessage.Content != "hello" {
		t.Errorf("got = %+v", got)
	}

	if _, err := s.GetRun(ctx, "nonexistent"); err != gateway.ErrRunNotFound {
		t.Errorf("err = %v, want ErrRunNotFound", err)
	}
}

func TestScheduledJobDispatch(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	if err := s.Schedule(ctx, &storage.ScheduledJob{ID: "job-1", RunID: "run-1", Attempt: 2, RunAt: now.Add(-time.Minute)}); err != nil {
		t.Fatal(err)
	}
	if err := s.Schedule(ctx, &storage.ScheduledJob{ID: "job-2", RunID: "run-2", Attempt: 1, RunAt: now.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}

	due, err := s.DueJobs(ctx, now, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].ID != "job-1" {
		t.Fatalf("due = %+v, want only job-1", due)
	}

	if err := s.MarkDispatched(ctx, "job-1"); err != nil {
		t.Fatal(err)
	}
	due, err = s.DueJobs(ctx, now, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 0 {
		t.Errorf("due after dispatch = %d, want 0", len(due))
	}
}

func TestTimeSeriesAppendQueryPrune(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, tokens := range []int{10, 20, 30} {
		if err := s.Append(ctx, "key-1", base.Add(time.Duration(i)*time.Minute), tokens); err != nil {
			t.Fatal(err)
		}
	}

	samples, err := s.Samples(ctx, "key-1", base)
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != 3 {
		t.Fatalf("samples = %d, want 3", len(samples))
	}

	samples, err = s.Samples(ctx, "key-1", base.Add(90*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != 1 || samples[0].Tokens != 30 {
		t.Fatalf("samples since 90s = %+v", samples)
	}

	n, err := s.SampleCount(ctx, "key-1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("count = %d, want 3", n)
	}

	keys, err := s.KeysWithData(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != "key-1" {
		t.Fatalf("keys with data = %v", keys)
	}

	if err := s.Prune(ctx, "key-1", base.Add(90*time.Second)); err != nil {
		t.Fatal(err)
	}
	n, _ = s.SampleCount(ctx, "key-1")
	if n != 1 {
		t.Errorf("count after prune = %d, want 1", n)
	}
}

func TestGetFileNotFound(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetFile(ctx, "nonexistent"); err != gateway.ErrKeyNotFound {
		t.Errorf("err = %v, want ErrKeyNotFound", err)
	}
}
