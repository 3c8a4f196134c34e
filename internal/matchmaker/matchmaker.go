// Package matchmaker runs the queue's event loop. The periodic tick, queue
// admissions, departures and the completions of external calls all execute on
// the loop goroutine, so the queue store is never touched concurrently.
package matchmaker

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	auth "github.com/CodeAndHammer/duelqueue/internal/auth"
	constants "github.com/CodeAndHammer/duelqueue/internal/constants"
	game "github.com/CodeAndHammer/duelqueue/internal/game"
	gamestate "github.com/CodeAndHammer/duelqueue/internal/gamestate"
	models "github.com/CodeAndHammer/duelqueue/internal/models"
	queue "github.com/CodeAndHammer/duelqueue/internal/queue"
	retry "github.com/CodeAndHammer/duelqueue/internal/retry"
	session "github.com/CodeAndHammer/duelqueue/internal/session"
	util "github.com/CodeAndHammer/duelqueue/internal/util"
)

// Connections addresses transport connections by id.
type Connections interface {
	session.Emitter
	Connected(connectionID string) bool
}

var (
	ErrNotRunning    = errors.New("matchmaker is not running")
	ErrMissingLeague = errors.New("ranked profile has no league")
)

type OperatorNotifier interface {
	Notify(ctx context.Context, message string)
}

type Deps struct {
	Verifier    auth.Verifier
	Backend     gamestate.Backend
	Connections Connections
	Notifier    OperatorNotifier
	// Rand returns uniform samples in [0, 1) for stale-queue redirection.
	Rand func() float64
}

type Matchmaker struct {
	cfg      models.MatchConfig
	verifier auth.Verifier
	backend  gamestate.Backend
	conns    Connections
	notifier OperatorNotifier

	store   *queue.Store
	engine  *game.Engine
	creator *session.Creator
	// solo holds identities whose single-player session is being created.
	solo map[string]struct{}

	cmds     chan func()
	done     chan struct{}
	doneOnce sync.Once
	inflight sync.WaitGroup
	bg       context.Context
}

func New(cfg models.MatchConfig, deps Deps) *Matchmaker {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}
	randFloat := deps.Rand
	if randFloat == nil {
		randFloat = rand.Float64
	}
	return &Matchmaker{
		cfg:      cfg,
		verifier: deps.Verifier,
		backend:  deps.Backend,
		conns:    deps.Connections,
		notifier: notifier,
		store:    queue.NewStore(),
		engine:   game.NewEngine(cfg, randFloat),
		creator:  session.NewCreator(deps.Backend, deps.Connections, cfg.RetryAttempts, cfg.RetryDelay),
		solo:     make(map[string]struct{}),
		cmds:     make(chan func(), 256),
		done:     make(chan struct{}),
		bg:       context.Background(),
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string) {}

// Run drives the tick until ctx is done. On exit every queued player is removed
// and their accrued gold is saved.
func (m *Matchmaker) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()
	defer m.doneOnce.Do(func() { close(m.done) })

	util.LogInfo("Matchmaker started, tick every %v", m.cfg.TickInterval)
	for {
		select {
		case <-ctx.Done():
			m.drainQueue()
			util.LogInfo("Matchmaker stopped")
			return
		case <-ticker.C:
			m.tick()
		case fn := <-m.cmds:
			fn()
		}
	}
}

// Wait blocks until in-flight external calls have returned.
func (m *Matchmaker) Wait() {
	m.inflight.Wait()
}

func (m *Matchmaker) post(fn func()) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.cmds <- fn:
		return true
	case <-m.done:
		return false
	}
}

// async runs call off the loop and posts its completion back onto it.
func (m *Matchmaker) async(call func(ctx context.Context) func()) {
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		if complete := call(m.bg); complete != nil {
			m.post(complete)
		}
	}()
}

func (m *Matchmaker) tick() {
	m.dispatch(game.Widen(m.store, m.cfg))
	for _, d := range m.engine.Match(m.store) {
		m.startSession(d)
	}
}

func (m *Matchmaker) dispatch(out []models.Outbound) {
	for _, o := range out {
		m.conns.Emit(o.ConnectionID, o.Event, o.Payload)
	}
}

func (m *Matchmaker) startSession(d game.Decision) {
	participants := session.ParticipantsOf(d.Players)
	m.async(func(ctx context.Context) func() {
		sessionID, err := m.creator.Create(ctx, participants, d.Mode, d.League)
		return func() { m.finishSession(d, sessionID, err) }
	})
}

func (m *Matchmaker) finishSession(d game.Decision, sessionID string, err error) {
	if err != nil {
		m.engine.Release(m.store, d)
		util.LogError("Session creation for %s of %v failed, players stay queued: %v", d.Kind, identities(d.Players), err)
		m.page(fmt.Sprintf("duelqueue: creating a %s session for %v failed: %v", d.Mode, identities(d.Players), err))
		return
	}

	removed := m.engine.Commit(m.store, d)
	if len(removed) < len(d.Players) {
		util.LogWarn("Session %s created after %d of %d players left the queue", sessionID, len(d.Players)-len(removed), len(d.Players))
	}
	kind := constants.ActivityMatch
	if d.Kind == game.DecisionRedirect {
		kind = constants.ActivityRedirect
	}
	for _, p := range removed {
		m.flushGold(p)
		m.logActivity(p.Identity, kind, map[string]any{
			"sessionId":      sessionID,
			"mode":           d.Mode,
			"elapsedSeconds": p.ElapsedSeconds,
		})
	}
}

// Join authenticates the connection and, for queued modes, looks up the
// profile and admits the player on the loop. PRACTICE and CASUAL_VS_AI start a
// single-player session immediately. Rejections are emitted to the connection
// and also returned.
func (m *Matchmaker) Join(ctx context.Context, connectionID, token, rawMode string) error {
	mode, err := models.ParseMode(rawMode)
	if err != nil {
		m.reject(connectionID, constants.ErrorCodeInvalidMode, err.Error())
		return err
	}

	identity, err := m.verifier.Validate(ctx, token)
	if err != nil {
		m.conns.Emit(connectionID, constants.EventAuthError, models.ErrorPayload{
			Code:           auth.Code(err),
			Message:        err.Error(),
			Reauthenticate: auth.RequiresReauth(err),
		})
		return err
	}

	if !mode.Queues() {
		if !m.post(func() { m.startSolo(connectionID, identity, mode) }) {
			return ErrNotRunning
		}
		return nil
	}

	profile, err := retry.WithRetry(ctx, func(ctx context.Context) (models.Profile, error) {
		return m.backend.FetchQueuingProfile(ctx, identity)
	}, m.cfg.RetryAttempts, m.cfg.RetryDelay, "fetch queuing profile "+identity)
	if err != nil {
		m.reject(connectionID, constants.ErrorCodeProfileUnavailable, "could not load queuing profile")
		return err
	}
	if mode == models.ModeRanked && profile.League == "" {
		m.reject(connectionID, constants.ErrorCodeMissingLeague, "ranked play needs a league")
		return fmt.Errorf("%w: %s", ErrMissingLeague, identity)
	}

	p := &models.WaitingPlayer{
		ConnectionID: connectionID,
		Identity:     identity,
		Skill:        profile.Skill,
		AcceptRange:  m.cfg.StartingRange,
		Mode:         mode,
		League:       profile.League,
		JoinedAt:     time.Now(),
	}
	if !m.post(func() { m.admit(p) }) {
		return ErrNotRunning
	}
	return nil
}

func (m *Matchmaker) admit(p *models.WaitingPlayer) {
	if !m.conns.Connected(p.ConnectionID) {
		util.LogInfo("[conn=%s] Disconnected before admission, not queuing %s", p.ConnectionID, p.Identity)
		return
	}
	if _, ok := m.solo[p.Identity]; ok {
		util.LogWarn("[conn=%s] Rejected join: %s is starting a single-player game", p.ConnectionID, p.Identity)
		m.reject(p.ConnectionID, constants.ErrorCodeDuplicateEntry, "already in a game")
		return
	}
	if err := m.store.Add(p); err != nil {
		if errors.Is(err, queue.ErrDuplicateEntry) {
			util.LogWarn("[conn=%s] Rejected join: %v", p.ConnectionID, err)
			m.reject(p.ConnectionID, constants.ErrorCodeDuplicateEntry, "already queued")
			return
		}
		util.LogError("[conn=%s] Queue add failed: %v", p.ConnectionID, err)
		m.reject(p.ConnectionID, constants.ErrorCodeInvalidMessage, err.Error())
		return
	}

	util.LogInfo("[conn=%s] %s joined %s queue (skill %d, league %q), %d waiting", p.ConnectionID, p.Identity, p.Mode, p.Skill, p.League, m.store.Len())
	m.conns.Emit(p.ConnectionID, constants.EventQueueJoined, models.QueueJoinedPayload{
		Mode:        p.Mode,
		Skill:       p.Skill,
		AcceptRange: p.AcceptRange,
		Position:    m.store.Len() - 1,
	})
	m.logActivity(p.Identity, constants.ActivityJoin, map[string]any{"mode": p.Mode, "skill": p.Skill, "league": p.League})
}

// startSolo runs on the loop. An identity that is queued, or already starting
// a single-player game, is rejected.
func (m *Matchmaker) startSolo(connectionID, identity string, mode models.Mode) {
	if !m.conns.Connected(connectionID) {
		util.LogInfo("[conn=%s] Disconnected before %s start for %s", connectionID, mode, identity)
		return
	}
	_, starting := m.solo[identity]
	if _, queued := m.store.FindByConnection(connectionID); queued || starting || m.store.HasIdentity(identity) {
		util.LogWarn("[conn=%s] Rejected %s join: %s is already queued or in a game", connectionID, mode, identity)
		m.reject(connectionID, constants.ErrorCodeDuplicateEntry, "already queued")
		return
	}

	m.solo[identity] = struct{}{}
	participants := []session.Participant{{ConnectionID: connectionID, Identity: identity}}
	m.async(func(ctx context.Context) func() {
		sessionID, err := m.creator.Create(ctx, participants, mode, "")
		return func() {
			delete(m.solo, identity)
			if err != nil {
				util.LogError("[conn=%s] %s session for %s failed: %v", connectionID, mode, identity, err)
				m.reject(connectionID, constants.ErrorCodeSessionFailed, "could not create game")
				return
			}
			m.logActivity(identity, constants.ActivityPractice, map[string]any{"sessionId": sessionID, "mode": mode})
		}
	})
}

// Leave removes the connection from the queue if present. It is safe to call
// for connections that were never queued or are already gone.
func (m *Matchmaker) Leave(connectionID string) {
	m.post(func() { m.remove(connectionID) })
}

func (m *Matchmaker) remove(connectionID string) {
	idx, ok := m.store.FindByConnection(connectionID)
	if !ok {
		return
	}
	p, err := m.store.RemoveAt(idx)
	if err != nil {
		util.LogError("[conn=%s] Remove failed: %v", connectionID, err)
		return
	}
	util.LogInfo("[conn=%s] %s left the queue after %ds, %d waiting", connectionID, p.Identity, p.ElapsedSeconds, m.store.Len())
	m.flushGold(p)
	m.logActivity(p.Identity, constants.ActivityLeave, map[string]any{"elapsedSeconds": p.ElapsedSeconds, "gold": p.AccruedGold})
	if m.conns.Connected(connectionID) {
		m.conns.Emit(connectionID, constants.EventQueueLeft, nil)
	}
}

// drainQueue empties the queue on shutdown, saving gold for everyone still waiting.
func (m *Matchmaker) drainQueue() {
	for m.store.Len() > 0 {
		p, err := m.store.RemoveAt(0)
		if err != nil {
			return
		}
		m.flushGold(p)
	}
}

// flushGold saves accrued gold. Callers invoke it exactly once, right after
// removing p from the store.
func (m *Matchmaker) flushGold(p *models.WaitingPlayer) {
	amount, identity := p.AccruedGold, p.Identity
	if amount == 0 {
		return
	}
	m.async(func(ctx context.Context) func() {
		err := retry.Do(ctx, func(ctx context.Context) error {
			return m.backend.SaveGoldReward(ctx, identity, amount)
		}, m.cfg.RetryAttempts, m.cfg.RetryDelay, "save gold reward "+identity)
		if err != nil {
			m.page(fmt.Sprintf("duelqueue: %d gold for %s was not saved: %v", amount, identity, err))
		}
		return nil
	})
}

func (m *Matchmaker) logActivity(identity, kind string, details map[string]any) {
	m.async(func(ctx context.Context) func() {
		err := retry.Do(ctx, func(ctx context.Context) error {
			return m.backend.LogQueueActivity(ctx, identity, kind, details)
		}, m.cfg.RetryAttempts, m.cfg.RetryDelay, "log "+kind+" "+identity)
		if err != nil {
			util.LogWarn("Dropped %s activity for %s: %v", kind, identity, err)
		}
		return nil
	})
}

func (m *Matchmaker) page(message string) {
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		m.notifier.Notify(m.bg, message)
	}()
}

func (m *Matchmaker) reject(connectionID, code, message string) {
	m.conns.Emit(connectionID, constants.EventQueueError, models.ErrorPayload{Code: code, Message: message})
}

// Stats returns a snapshot of the queue taken on the loop.
func (m *Matchmaker) Stats(ctx context.Context) (models.QueueStats, error) {
	reply := make(chan models.QueueStats, 1)
	if !m.post(func() { reply <- m.store.Stats() }) {
		return models.QueueStats{}, ErrNotRunning
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return models.QueueStats{}, ctx.Err()
	}
}

func identities(players []*models.WaitingPlayer) []string {
	out := make([]string, len(players))
	for i, p := range players {
		out[i] = p.Identity
	}
	return out
}
