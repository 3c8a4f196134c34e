// Package session creates game sessions for matched players.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	constants "github.com/CodeAndHammer/duelqueue/internal/constants"
	gamestate "github.com/CodeAndHammer/duelqueue/internal/gamestate"
	models "github.com/CodeAndHammer/duelqueue/internal/models"
	retry "github.com/CodeAndHammer/duelqueue/internal/retry"
	util "github.com/CodeAndHammer/duelqueue/internal/util"
)

// Emitter delivers an event to one connection. Implementations must be safe for
// concurrent use.
type Emitter interface {
	Emit(connectionID, event string, payload any)
}

type Participant struct {
	ConnectionID string
	Identity     string
}

func ParticipantsOf(players []*models.WaitingPlayer) []Participant {
	return lo.Map(players, func(p *models.WaitingPlayer, _ int) Participant {
		return Participant{ConnectionID: p.ConnectionID, Identity: p.Identity}
	})
}

type Creator struct {
	backend  gamestate.Backend
	emitter  Emitter
	attempts int
	delay    time.Duration
	newID    func() string
}

func NewCreator(backend gamestate.Backend, emitter Emitter, attempts int, delay time.Duration) *Creator {
	return &Creator{
		backend:  backend,
		emitter:  emitter,
		attempts: attempts,
		delay:    delay,
		newID:    uuid.NewString,
	}
}

// Create registers a session for participants with the game-state service and,
// only once that succeeds, tells each connection the session id. The same id
// is reused across retries.
func (c *Creator) Create(ctx context.Context, participants []Participant, mode models.Mode, league string) (string, error) {
	if len(participants) == 0 || len(participants) > 2 {
		return "", fmt.Errorf("session needs one or two participants, got %d", len(participants))
	}
	if mode != models.ModeRanked {
		league = ""
	}
	sessionID := c.newID()
	identities := lo.Map(participants, func(p Participant, _ int) string { return p.Identity })

	err := retry.Do(ctx, func(ctx context.Context) error {
		return c.backend.CreateGameSession(ctx, sessionID, identities, mode, league)
	}, c.attempts, c.delay, "create game "+sessionID)
	if err != nil {
		return "", err
	}

	util.LogInfo("Created %s session %s for %v", mode, sessionID, identities)
	payload := models.GameCreatedPayload{SessionID: sessionID, Mode: mode, League: league}
	for _, p := range participants {
		c.emitter.Emit(p.ConnectionID, constants.EventGameCreated, payload)
	}
	return sessionID, nil
}
