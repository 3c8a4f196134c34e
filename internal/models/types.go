package models

import (
	"fmt"
	"strings"
	"time"
)

type Mode string

const (
	ModePractice   Mode = "PRACTICE"
	ModeCasual     Mode = "CASUAL"
	ModeRanked     Mode = "RANKED"
	ModeCasualVsAI Mode = "CASUAL_VS_AI"
)

// ParseMode accepts the wire spelling in any case.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToUpper(strings.TrimSpace(s))); m {
	case ModePractice, ModeCasual, ModeRanked, ModeCasualVsAI:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// Queues reports whether players in this mode wait in the queue. PRACTICE and
// CASUAL_VS_AI start a single-player session right away.
func (m Mode) Queues() bool {
	return m == ModeCasual || m == ModeRanked
}

type WaitingPlayer struct {
	ConnectionID   string    `json:"connectionId"`
	Identity       string    `json:"identity"`
	Skill          int       `json:"skill"`
	AcceptRange    int       `json:"acceptRange"`
	Mode           Mode      `json:"mode"`
	League         string    `json:"league,omitempty"`
	WaitSeconds    int       `json:"waitSeconds"`
	ElapsedSeconds int       `json:"elapsedSeconds"`
	AccruedGold    int       `json:"accruedGold"`
	Pending        bool      `json:"pending"`
	JoinedAt       time.Time `json:"joinedAt"`
}

type Profile struct {
	Skill  int    `json:"skill"`
	League string `json:"league,omitempty"`
}

// Outbound is a message for one connection, dispatched by the transport.
type Outbound struct {
	ConnectionID string
	Event        string
	Payload      any
}

type GoldRewardPayload struct {
	Amount int `json:"amount"`
	Total  int `json:"total"`
}

type GameCreatedPayload struct {
	SessionID string `json:"sessionId"`
	Mode      Mode   `json:"mode"`
	League    string `json:"league,omitempty"`
}

type QueueJoinedPayload struct {
	Mode        Mode `json:"mode"`
	Skill       int  `json:"skill"`
	AcceptRange int  `json:"acceptRange"`
	Position    int  `json:"position"`
}

type ErrorPayload struct {
	Code           string `json:"code"`
	Message        string `json:"message,omitempty"`
	Reauthenticate bool   `json:"reauthenticate,omitempty"`
}

type QueueStats struct {
	Waiting int          `json:"waiting"`
	Pending int          `json:"pending"`
	ByMode  map[Mode]int `json:"byMode"`
}

// MatchConfig holds the tunables of the widen-then-match cycle. Intervals are
// counted in ticks.
type MatchConfig struct {
	TickInterval            time.Duration
	StartingRange           int
	RangeStep               int
	RangeIncreaseInterval   int
	GoldRewardInterval      int
	GoldRewardAmount        int
	CasualRedirectThreshold int
	CasualMaxWait           int
	RedirectEndsPass        bool
	RetryAttempts           int
	RetryDelay              time.Duration
}

func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		TickInterval:            time.Second,
		StartingRange:           50,
		RangeStep:               25,
		RangeIncreaseInterval:   5,
		GoldRewardInterval:      10,
		GoldRewardAmount:        1,
		CasualRedirectThreshold: 30,
		CasualMaxWait:           60,
		RedirectEndsPass:        true,
		RetryAttempts:           3,
		RetryDelay:              500 * time.Millisecond,
	}
}
