package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	gamestate "github.com/CodeAndHammer/duelqueue/internal/gamestate"
	models "github.com/CodeAndHammer/duelqueue/internal/models"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "duelqueue.db"), models.Profile{Skill: 1000})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(" ", models.Profile{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestQueuingProfileDefaultsAndOverrides(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	p, err := store.FetchQueuingProfile(ctx, "alice")
	if err != nil {
		t.Fatalf("fetch default: %v", err)
	}
	if p.Skill != 1000 || p.League != "" {
		t.Fatalf("default profile = %+v", p)
	}

	if err := store.PutQueuingProfile(ctx, "alice", models.Profile{Skill: 1500, League: "gold"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	p, err = store.FetchQueuingProfile(ctx, "alice")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if p.Skill != 1500 || p.League != "gold" {
		t.Fatalf("profile = %+v", p)
	}
}

func TestCreateGameSessionIsIdempotent(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	for range 2 {
		if err := store.CreateGameSession(ctx, "s-1", []string{"alice", "bob"}, models.ModeCasual, ""); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	got, err := store.GameParticipants(ctx, "s-1")
	if err != nil {
		t.Fatalf("participants: %v", err)
	}
	if len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Fatalf("participants = %v", got)
	}
	if _, err := store.GameParticipants(ctx, "missing"); !errors.Is(err, gamestate.ErrNotFound) {
		t.Fatalf("missing session err = %v, want ErrNotFound", err)
	}
}

func TestCreateGameSessionValidation(t *testing.T) {
	store := openTempStore(t)
	if err := store.CreateGameSession(context.Background(), "", []string{"alice"}, models.ModeCasual, ""); err == nil {
		t.Fatal("expected error for empty session id")
	}
	if err := store.CreateGameSession(context.Background(), "s-2", nil, models.ModeCasual, ""); err == nil {
		t.Fatal("expected error for no participants")
	}
}

func TestGoldRewards(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	if err := store.SaveGoldReward(ctx, "alice", 0); err != nil {
		t.Fatalf("save zero: %v", err)
	}
	if err := store.SaveGoldReward(ctx, "alice", 3); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.SaveGoldReward(ctx, "alice", 2); err != nil {
		t.Fatalf("save: %v", err)
	}
	total, err := store.GoldBalance(ctx, "alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if total != 5 {
		t.Fatalf("balance = %d, want 5", total)
	}
}

func TestLogQueueActivity(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	if err := store.LogQueueActivity(ctx, "alice", "queue_join", map[string]any{"mode": "CASUAL"}); err != nil {
		t.Fatalf("log: %v", err)
	}
	if err := store.LogQueueActivity(ctx, "alice", "queue_leave", nil); err != nil {
		t.Fatalf("log: %v", err)
	}
	n, err := store.CountActivity(ctx, "alice", "queue_join")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("join rows = %d, want 1", n)
	}
}
