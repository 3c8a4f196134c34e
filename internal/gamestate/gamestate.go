// Package gamestate is the boundary to the service that owns player profiles,
// game sessions and the gold wallet.
package gamestate

import (
	"context"
	"errors"

	models "github.com/CodeAndHammer/duelqueue/internal/models"
)

var ErrNotFound = errors.New("not found")

type Backend interface {
	FetchQueuingProfile(ctx context.Context, identity string) (models.Profile, error)
	// CreateGameSession must tolerate repeated calls with the same sessionID.
	CreateGameSession(ctx context.Context, sessionID string, identities []string, mode models.Mode, league string) error
	SaveGoldReward(ctx context.Context, identity string, amount int) error
	LogQueueActivity(ctx context.Context, identity, kind string, details map[string]any) error
}
