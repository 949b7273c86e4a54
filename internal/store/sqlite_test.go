package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stridehq/tether/internal/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "tether.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newMutation(id string, rt types.RecordType, createdAt time.Time) *types.QueuedMutation {
	return &types.QueuedMutation{
		ID:         id,
		RecordType: rt,
		Payload:    json.RawMessage(`{"reps":10}`),
		CreatedAt:  createdAt,
	}
}

func TestNewSQLiteStore_Idempotent(t *testing.T) {
	// Given: A store already initialized at a path
	dir := t.TempDir()
	path := filepath.Join(dir, "tether.db")
	first, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	first.Close()

	// When: The same path is opened again (concurrent-context init)
	second, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer second.Close()

	// Then: Migrations reapply cleanly and the queue is usable
	if _, err := second.CountAll(context.Background()); err != nil {
		t.Fatalf("count after reopen: %v", err)
	}
}

func TestSaveMutation_UpsertByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	m := newMutation("workout_01", types.RecordWorkout, now)
	if err := s.SaveMutation(ctx, m); err != nil {
		t.Fatalf("save: %v", err)
	}

	// When: The same id is saved again with a different payload
	m.Payload = json.RawMessage(`{"reps":12}`)
	if err := s.SaveMutation(ctx, m); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// Then: Exactly one record exists with the new payload
	count, err := s.CountAll(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 record, got %d", count)
	}

	unsynced, err := s.ListUnsynced(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if string(unsynced[0].Payload) != `{"reps":12}` {
		t.Errorf("expected upserted payload, got %s", unsynced[0].Payload)
	}
}

func TestListUnsynced_OrderedByCreatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	// Given: Records saved out of creation order
	for _, m := range []*types.QueuedMutation{
		newMutation("post_c", types.RecordPost, base.Add(200*time.Millisecond)),
		newMutation("post_a", types.RecordPost, base),
		newMutation("post_b", types.RecordPost, base.Add(100*time.Millisecond)),
	} {
		if err := s.SaveMutation(ctx, m); err != nil {
			t.Fatalf("save %s: %v", m.ID, err)
		}
	}

	// When: Listing unsynced records
	got, err := s.ListUnsynced(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	// Then: They come back in created_at ascending order
	want := []string{"post_a", "post_b", "post_c"}
	if len(got) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
}

func TestListUnsynced_SubsecondTimestampsStayOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	// Given: Records whose creation times differ only in fractional digits,
	// including a whole-second instant followed by a fractional one. A
	// variable-width timestamp encoding sorts these incorrectly as text.
	for _, m := range []*types.QueuedMutation{
		newMutation("post_b", types.RecordPost, base.Add(150*time.Millisecond)),
		newMutation("post_d", types.RecordPost, base.Add(1*time.Second+500*time.Millisecond)),
		newMutation("post_a", types.RecordPost, base.Add(100*time.Millisecond)),
		newMutation("post_c", types.RecordPost, base.Add(1*time.Second)),
	} {
		if err := s.SaveMutation(ctx, m); err != nil {
			t.Fatalf("save %s: %v", m.ID, err)
		}
	}

	// When: Listing unsynced records
	got, err := s.ListUnsynced(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	// Then: Order follows creation time, not string quirks
	want := []string{"post_a", "post_b", "post_c", "post_d"}
	if len(got) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
}

func TestListUnsynced_CorruptCreatedAtIsAnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Given: A row whose created_at does not parse
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mutation_queue (id, record_type, payload, created_at, synced)
		VALUES (?, ?, ?, ?, 0)
	`, "workout_bad", "workout", `{}`, "not-a-timestamp")
	if err != nil {
		t.Fatalf("insert corrupt row: %v", err)
	}

	// Then: Listing surfaces the corruption instead of returning a
	// record with a zero creation time
	if _, err := s.ListUnsynced(ctx); err == nil {
		t.Fatal("expected an error for an unparseable created_at")
	}
}

func TestMarkSynced_ExcludesFromDrain(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.SaveMutation(ctx, newMutation("like_1", types.RecordLike, now)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.MarkSynced(ctx, "like_1"); err != nil {
		t.Fatalf("mark synced: %v", err)
	}

	unsynced, err := s.ListUnsynced(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(unsynced) != 0 {
		t.Errorf("synced record must not be eligible for replay, got %d", len(unsynced))
	}

	count, err := s.CountUnsynced(ctx)
	if err != nil {
		t.Fatalf("count unsynced: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 unsynced, got %d", count)
	}
}

func TestMarkSynced_MissingIDIsNoOp(t *testing.T) {
	s := newTestStore(t)

	// Marking an id that was already pruned must not error
	if err := s.MarkSynced(context.Background(), "workout_gone"); err != nil {
		t.Fatalf("expected no-op for absent id, got %v", err)
	}
}

func TestPruneSynced_OnlyRemovesSynced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.SaveMutation(ctx, newMutation("workout_1", types.RecordWorkout, now)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveMutation(ctx, newMutation("workout_2", types.RecordWorkout, now.Add(time.Second))); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.MarkSynced(ctx, "workout_1"); err != nil {
		t.Fatalf("mark synced: %v", err)
	}

	pruned, err := s.PruneSynced(ctx)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 1 {
		t.Errorf("expected 1 pruned, got %d", pruned)
	}

	// The unsynced record survives
	unsynced, err := s.ListUnsynced(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(unsynced) != 1 || unsynced[0].ID != "workout_2" {
		t.Errorf("pruning must never remove unsynced records, got %v", unsynced)
	}
}

func TestDrainLock_ExcludesSecondOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AcquireDrainLock(ctx, "orchestrator", time.Minute); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// A different owner is excluded while the marker is unexpired
	if err := s.AcquireDrainLock(ctx, "worker", time.Minute); err != ErrDrainLockHeld {
		t.Fatalf("expected ErrDrainLockHeld, got %v", err)
	}

	// The same owner may refresh its own marker
	if err := s.AcquireDrainLock(ctx, "orchestrator", time.Minute); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	// After release the other owner can take it
	if err := s.ReleaseDrainLock(ctx, "orchestrator"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := s.AcquireDrainLock(ctx, "worker", time.Minute); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestDrainLock_ExpiredMarkerIsReclaimable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Given: A marker whose ttl already elapsed
	if err := s.AcquireDrainLock(ctx, "orchestrator", -time.Second); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// Then: Another owner reclaims it rather than deadlocking forever
	if err := s.AcquireDrainLock(ctx, "worker", time.Minute); err != nil {
		t.Fatalf("expected reclaim of expired marker, got %v", err)
	}
}

func TestMeta_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Absent key reads as empty, not an error
	v, err := s.GetMeta(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("get absent: %v", err)
	}
	if v != "" {
		t.Errorf("expected empty value, got %q", v)
	}

	if err := s.SetMeta(ctx, MetaInstallDismissedAt, "2026-08-30T10:00:00Z"); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, err = s.GetMeta(ctx, MetaInstallDismissedAt)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != "2026-08-30T10:00:00Z" {
		t.Errorf("expected stored value, got %q", v)
	}
}
