// Package queue holds the ordered list of waiting players. It is not safe for
// concurrent use: the matchmaker loop is its only writer.
package queue

import (
	"errors"
	"fmt"
	"slices"

	"github.com/samber/lo"

	models "github.com/CodeAndHammer/duelqueue/internal/models"
)

var (
	ErrDuplicateEntry  = errors.New("duplicate queue entry")
	ErrIndexOutOfRange = errors.New("queue index out of range")
	ErrInvalidEntry    = errors.New("invalid queue entry")
)

type Store struct {
	players []*models.WaitingPlayer
}

func NewStore() *Store {
	return &Store{players: []*models.WaitingPlayer{}}
}

// Add appends p. A connection or identity that is already queued is rejected.
func (s *Store) Add(p *models.WaitingPlayer) error {
	if p == nil || p.ConnectionID == "" || p.Identity == "" {
		return ErrInvalidEntry
	}
	for _, existing := range s.players {
		if existing.ConnectionID == p.ConnectionID {
			return fmt.Errorf("%w: connection %s", ErrDuplicateEntry, p.ConnectionID)
		}
		if existing.Identity == p.Identity {
			return fmt.Errorf("%w: identity %s", ErrDuplicateEntry, p.Identity)
		}
	}
	s.players = append(s.players, p)
	return nil
}

// RemoveAt deletes the entry at i, keeping the order of the others.
func (s *Store) RemoveAt(i int) (*models.WaitingPlayer, error) {
	if i < 0 || i >= len(s.players) {
		return nil, fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, i, len(s.players))
	}
	p := s.players[i]
	s.players = slices.Delete(s.players, i, i+1)
	return p, nil
}

func (s *Store) FindByConnection(connectionID string) (int, bool) {
	_, idx, ok := lo.FindIndexOf(s.players, func(p *models.WaitingPlayer) bool {
		return p.ConnectionID == connectionID
	})
	return idx, ok
}

func (s *Store) HasIdentity(identity string) bool {
	return lo.ContainsBy(s.players, func(p *models.WaitingPlayer) bool {
		return p.Identity == identity
	})
}

func (s *Store) At(i int) *models.WaitingPlayer {
	if i < 0 || i >= len(s.players) {
		return nil
	}
	return s.players[i]
}

func (s *Store) Len() int {
	return len(s.players)
}

// Snapshot returns copies of the entries in queue order.
func (s *Store) Snapshot() []models.WaitingPlayer {
	return lo.Map(s.players, func(p *models.WaitingPlayer, _ int) models.WaitingPlayer {
		return *p
	})
}

func (s *Store) Stats() models.QueueStats {
	return models.QueueStats{
		Waiting: len(s.players),
		Pending: lo.CountBy(s.players, func(p *models.WaitingPlayer) bool { return p.Pending }),
		ByMode: lo.CountValuesBy(s.players, func(p *models.WaitingPlayer) models.Mode {
			return p.Mode
		}),
	}
}
