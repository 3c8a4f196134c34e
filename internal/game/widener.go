package game

import (
	constants "github.com/CodeAndHammer/duelqueue/internal/constants"
	models "github.com/CodeAndHammer/duelqueue/internal/models"
	queue "github.com/CodeAndHammer/duelqueue/internal/queue"
)

// Widen advances every queued player by one tick: wait counters, gold accrual
// and accept range growth. It never removes entries. The returned messages
// announce gold rewards; the gold itself is persisted only when the player
// leaves the queue.
func Widen(s *queue.Store, cfg models.MatchConfig) []models.Outbound {
	var out []models.Outbound
	for i := 0; i < s.Len(); i++ {
		p := s.At(i)
		p.WaitSeconds++
		p.ElapsedSeconds++

		if p.Mode != models.ModePractice && cfg.GoldRewardInterval > 0 && p.ElapsedSeconds%cfg.GoldRewardInterval == 0 {
			p.AccruedGold += cfg.GoldRewardAmount
			out = append(out, models.Outbound{
				ConnectionID: p.ConnectionID,
				Event:        constants.EventGoldReward,
				Payload:      models.GoldRewardPayload{Amount: cfg.GoldRewardAmount, Total: p.AccruedGold},
			})
		}

		if cfg.RangeIncreaseInterval > 0 && p.WaitSeconds >= cfg.RangeIncreaseInterval {
			p.WaitSeconds = 0
			if cfg.RangeStep > 0 {
				p.AcceptRange += cfg.RangeStep
			}
		}
	}
	return out
}
