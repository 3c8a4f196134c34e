package queue

import (
	"errors"
	"testing"

	models "github.com/CodeAndHammer/duelqueue/internal/models"
)

func player(conn, identity string) *models.WaitingPlayer {
	return &models.WaitingPlayer{ConnectionID: conn, Identity: identity, Mode: models.ModeCasual}
}

func TestAddRejectsDuplicateConnectionAndIdentity(t *testing.T) {
	s := NewStore()
	if err := s.Add(player("c1", "alice")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Add(player("c1", "bob")); !errors.Is(err, ErrDuplicateEntry) {
		t.Fatalf("duplicate connection err = %v, want ErrDuplicateEntry", err)
	}
	if err := s.Add(player("c2", "alice")); !errors.Is(err, ErrDuplicateEntry) {
		t.Fatalf("duplicate identity err = %v, want ErrDuplicateEntry", err)
	}
	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1", s.Len())
	}
}

func TestAddRejectsInvalidEntry(t *testing.T) {
	s := NewStore()
	if err := s.Add(nil); !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("nil err = %v, want ErrInvalidEntry", err)
	}
	if err := s.Add(player("", "alice")); !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("empty connection err = %v, want ErrInvalidEntry", err)
	}
}

func TestRemoveAtIsStable(t *testing.T) {
	s := NewStore()
	for _, id := range []string{"a", "b", "c", "d"} {
		if err := s.Add(player("conn-"+id, id)); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}

	removed, err := s.RemoveAt(1)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if removed.Identity != "b" {
		t.Fatalf("removed = %q, want %q", removed.Identity, "b")
	}

	want := []string{"a", "c", "d"}
	snap := s.Snapshot()
	if len(snap) != len(want) {
		t.Fatalf("len = %d, want %d", len(snap), len(want))
	}
	for i, p := range snap {
		if p.Identity != want[i] {
			t.Errorf("position %d = %q, want %q", i, p.Identity, want[i])
		}
	}

	if _, err := s.RemoveAt(3); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("out of range err = %v, want ErrIndexOutOfRange", err)
	}
}

func TestFindByConnection(t *testing.T) {
	s := NewStore()
	_ = s.Add(player("c1", "alice"))
	_ = s.Add(player("c2", "bob"))

	if idx, ok := s.FindByConnection("c2"); !ok || idx != 1 {
		t.Fatalf("FindByConnection(c2) = %d, %v; want 1, true", idx, ok)
	}
	if _, ok := s.FindByConnection("gone"); ok {
		t.Fatal("FindByConnection(gone) found an entry")
	}
}

func TestHasIdentity(t *testing.T) {
	s := NewStore()
	_ = s.Add(player("c1", "alice"))

	if !s.HasIdentity("alice") {
		t.Error("HasIdentity(alice) = false, want true")
	}
	if s.HasIdentity("bob") {
		t.Error("HasIdentity(bob) = true, want false")
	}
}

func TestStats(t *testing.T) {
	s := NewStore()
	_ = s.Add(player("c1", "alice"))
	ranked := player("c2", "bob")
	ranked.Mode = models.ModeRanked
	ranked.Pending = true
	_ = s.Add(ranked)

	stats := s.Stats()
	if stats.Waiting != 2 || stats.Pending != 1 {
		t.Fatalf("stats = %+v, want 2 waiting, 1 pending", stats)
	}
	if stats.ByMode[models.ModeCasual] != 1 || stats.ByMode[models.ModeRanked] != 1 {
		t.Fatalf("by mode = %v", stats.ByMode)
	}
}
