package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperengineering/tether/internal/types"
	"github.com/oklog/ulid/v2"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestAction(method, target string) types.QueuedAction {
	return types.QueuedAction{
		ID:         ulid.Make().String(),
		Method:     method,
		Target:     target,
		Body:       json.RawMessage(`{"k":"v"}`),
		EnqueuedAt: time.Now().UTC(),
	}
}

func TestStore_NewSQLiteStore(t *testing.T) {
	newTestStore(t)
}

func TestStore_AppendAndCount(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	count, err := db.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("expected count 0, got %d", count)
	}

	if err := db.Append(ctx, newTestAction("POST", "/tickets")); err != nil {
		t.Fatal(err)
	}

	count, err = db.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected count 1, got %d", count)
	}
}

func TestStore_OldestFirst_EnqueueOrder(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	// ULIDs generated in sequence sort in generation order.
	first := newTestAction("POST", "/tickets")
	second := newTestAction("PUT", "/tickets/1")
	third := newTestAction("DELETE", "/tickets/2")

	for _, a := range []types.QueuedAction{first, second, third} {
		if err := db.Append(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	actions, err := db.OldestFirst(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}

	if len(actions) != 3 {
		t.Fatalf("expected 3 actions, got %d", len(actions))
	}
	want := []string{first.ID, second.ID, third.ID}
	for i, a := range actions {
		if a.ID != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], a.ID)
		}
	}
}

func TestStore_OldestFirst_Limit(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := db.Append(ctx, newTestAction("POST", "/tickets")); err != nil {
			t.Fatal(err)
		}
	}

	actions, err := db.OldestFirst(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(actions) != 2 {
		t.Errorf("expected 2 actions, got %d", len(actions))
	}
}

func TestStore_Delete(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	action := newTestAction("POST", "/tickets")
	if err := db.Append(ctx, action); err != nil {
		t.Fatal(err)
	}

	if err := db.Delete(ctx, action.ID); err != nil {
		t.Fatal(err)
	}

	count, _ := db.Count(ctx)
	if count != 0 {
		t.Errorf("expected empty store after delete, got %d", count)
	}
}

func TestStore_Delete_NotFound(t *testing.T) {
	db := newTestStore(t)

	err := db.Delete(context.Background(), ulid.Make().String())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_Clear(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := db.Append(ctx, newTestAction("POST", "/tickets")); err != nil {
			t.Fatal(err)
		}
	}

	if err := db.Clear(ctx); err != nil {
		t.Fatal(err)
	}

	count, _ := db.Count(ctx)
	if count != 0 {
		t.Errorf("expected count 0 after clear, got %d", count)
	}
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tether.db")
	ctx := context.Background()

	db, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	action := newTestAction("POST", "/tickets")
	if err := db.Append(ctx, action); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopen: migrations must be idempotent and data must survive.
	db2, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db2.Close()

	actions, err := db2.OldestFirst(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(actions) != 1 {
		t.Fatalf("expected 1 action after reopen, got %d", len(actions))
	}
	if actions[0].ID != action.ID {
		t.Errorf("expected ID %s, got %s", action.ID, actions[0].ID)
	}
	if string(actions[0].Body) != `{"k":"v"}` {
		t.Errorf("body not preserved: %s", actions[0].Body)
	}
}

func TestStore_BodyRoundTrip(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	action := newTestAction("PUT", "/grades/42")
	action.Body = json.RawMessage(`{"score":97,"comment":"良い"}`)
	if err := db.Append(ctx, action); err != nil {
		t.Fatal(err)
	}

	actions, err := db.OldestFirst(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if string(actions[0].Body) != string(action.Body) {
		t.Errorf("expected body %s, got %s", action.Body, actions[0].Body)
	}
}

func TestStore_OldestFirst_BadTimestampIsError(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	_, err := db.db.ExecContext(ctx,
		"INSERT INTO queued_actions (id, method, target, body, enqueued_at) VALUES (?, ?, ?, ?, ?)",
		ulid.Make().String(), "POST", "/tickets", nil, "not-a-timestamp")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := db.OldestFirst(ctx, 10); err == nil {
		t.Fatal("expected error for corrupt enqueued_at, got nil")
	}
}
