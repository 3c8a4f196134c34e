package main

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type rateLimiterEntry struct {
	Limiter    *rate.Limiter
	LastAccess time.Time
}

// App carries the process-wide HTTP state that is not owned by an internal package.
type App struct {
	IsProduction   bool
	StartTime      time.Time
	LimiterMap     map[string]*rateLimiterEntry
	LimiterMutex   sync.RWMutex
	RateLimitRPS   int
	RateLimitBurst int
	RateLimiterTTL time.Duration
}

func (app *App) activeLimiters() int {
	app.LimiterMutex.RLock()
	defer app.LimiterMutex.RUnlock()
	return len(app.LimiterMap)
}
