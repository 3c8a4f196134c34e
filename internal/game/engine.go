package game

import (
	"slices"

	"github.com/samber/lo"

	models "github.com/CodeAndHammer/duelqueue/internal/models"
	queue "github.com/CodeAndHammer/duelqueue/internal/queue"
	util "github.com/CodeAndHammer/duelqueue/internal/util"
)

type DecisionKind int

const (
	DecisionMatch DecisionKind = iota
	DecisionRedirect
)

func (k DecisionKind) String() string {
	if k == DecisionRedirect {
		return "redirect"
	}
	return "match"
}

// Decision is a reserved outcome for one or two queued players. The players stay
// in the queue, flagged Pending, until Commit or Release.
type Decision struct {
	Kind    DecisionKind
	Players []*models.WaitingPlayer
	Mode    models.Mode
	League  string
}

type Engine struct {
	cfg  models.MatchConfig
	rand func() float64
}

// NewEngine builds a match engine. randFloat must return samples in [0, 1).
func NewEngine(cfg models.MatchConfig, randFloat func() float64) *Engine {
	return &Engine{cfg: cfg, rand: randFloat}
}

// Match scans the queue in order and reserves redirections and pairs. First
// compatible partner wins.
func (e *Engine) Match(s *queue.Store) []Decision {
	var decisions []Decision
	for i := 0; i < s.Len(); i++ {
		a := s.At(i)
		if a.Pending {
			continue
		}

		if e.shouldRedirect(a) {
			a.Pending = true
			decisions = append(decisions, Decision{
				Kind:    DecisionRedirect,
				Players: []*models.WaitingPlayer{a},
				Mode:    models.ModeCasualVsAI,
			})
			if e.cfg.RedirectEndsPass {
				return decisions
			}
			continue
		}

		for j := i + 1; j < s.Len(); j++ {
			b := s.At(j)
			if b.Pending || !Compatible(a, b) {
				continue
			}
			a.Pending = true
			b.Pending = true
			d := Decision{Kind: DecisionMatch, Players: []*models.WaitingPlayer{a, b}, Mode: a.Mode}
			if a.Mode == models.ModeRanked {
				d.League = a.League
			}
			decisions = append(decisions, d)
			break
		}
	}
	return decisions
}

func (e *Engine) shouldRedirect(p *models.WaitingPlayer) bool {
	if p.Mode != models.ModeCasual || p.ElapsedSeconds <= e.cfg.CasualRedirectThreshold {
		return false
	}
	prob := RedirectProbability(p.ElapsedSeconds, e.cfg.CasualRedirectThreshold, e.cfg.CasualMaxWait)
	return e.rand() < prob
}

// RedirectProbability ramps linearly from 0 at threshold to 1 at maxWait.
func RedirectProbability(elapsed, threshold, maxWait int) float64 {
	if elapsed <= threshold {
		return 0
	}
	if maxWait <= threshold {
		return 1
	}
	return min(1, float64(elapsed-threshold)/float64(maxWait-threshold))
}

// Compatible reports whether a and b may share a session.
func Compatible(a, b *models.WaitingPlayer) bool {
	if a == nil || b == nil || a == b {
		return false
	}
	if a.ConnectionID == b.ConnectionID || a.Identity == b.Identity {
		util.LogWarn("Refusing self-match for identity %s (connections %s, %s)", a.Identity, a.ConnectionID, b.ConnectionID)
		return false
	}
	if a.Mode == models.ModeRanked || b.Mode == models.ModeRanked {
		if a.Mode != b.Mode || a.League != b.League {
			return false
		}
	} else if a.Mode != b.Mode {
		return false
	}
	diff := a.Skill - b.Skill
	if diff < 0 {
		diff = -diff
	}
	return diff <= min(a.AcceptRange, b.AcceptRange)
}

// Commit removes the decision's players that are still queued, later index
// first, and returns them. Players that left in the meantime are skipped.
func (e *Engine) Commit(s *queue.Store, d Decision) []*models.WaitingPlayer {
	type located struct {
		idx    int
		player *models.WaitingPlayer
	}
	found := lo.FilterMap(d.Players, func(p *models.WaitingPlayer, _ int) (located, bool) {
		idx, ok := s.FindByConnection(p.ConnectionID)
		if !ok || s.At(idx) != p {
			return located{}, false
		}
		return located{idx: idx, player: p}, true
	})
	slices.SortFunc(found, func(x, y located) int { return y.idx - x.idx })

	removed := make([]*models.WaitingPlayer, 0, len(found))
	for _, f := range found {
		p, err := s.RemoveAt(f.idx)
		if err != nil {
			util.LogError("Commit %s: %v", d.Kind, err)
			continue
		}
		p.Pending = false
		removed = append(removed, p)
	}
	slices.Reverse(removed)
	return removed
}

// Release clears the reservation so a later tick can retry the players.
func (e *Engine) Release(s *queue.Store, d Decision) {
	for _, p := range d.Players {
		if idx, ok := s.FindByConnection(p.ConnectionID); ok && s.At(idx) == p {
			p.Pending = false
		}
	}
}
