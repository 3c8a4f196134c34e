package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	constants "github.com/CodeAndHammer/duelqueue/internal/constants"
	models "github.com/CodeAndHammer/duelqueue/internal/models"
	transport "github.com/CodeAndHammer/duelqueue/internal/transport"
	util "github.com/CodeAndHammer/duelqueue/internal/util"
)

const statsTimeout = 2 * time.Second

type Matchmaker interface {
	transport.Queue
	Stats(ctx context.Context) (models.QueueStats, error)
}

type App struct {
	Matchmaker     Matchmaker
	Hub            *transport.Hub
	IsProduction   bool
	StartTime      time.Time
	ActiveLimiters func() int
}

func HealthzHandler(app *App, c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	ctx, cancel := context.WithTimeout(c.Request.Context(), statsTimeout)
	defer cancel()
	status, code := "ok", http.StatusOK
	stats, err := app.Matchmaker.Stats(ctx)
	if err != nil {
		util.LogWarn("[request_id=%v] Queue stats unavailable: %v", c.Request.Context().Value(constants.RequestIDKey), err)
		status, code = "degraded", http.StatusServiceUnavailable
	}

	limiters := 0
	if app.ActiveLimiters != nil {
		limiters = app.ActiveLimiters()
	}

	c.JSON(code, gin.H{
		"status":             status,
		"env":                map[bool]string{true: "production", false: "development"}[app.IsProduction],
		"players_waiting":    stats.Waiting,
		"players_pending":    stats.Pending,
		"active_connections": app.Hub.Count(),
		"active_limiters":    limiters,
		"memory_alloc_mb":    m.Alloc / 1024 / 1024,
		"memory_sys_mb":      m.Sys / 1024 / 1024,
		"memory_gc_count":    m.NumGC,
		"uptime":             util.FormatUptime(time.Since(app.StartTime)),
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
	})
}

func QueueStatsHandler(app *App, c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), statsTimeout)
	defer cancel()
	stats, err := app.Matchmaker.Stats(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue unavailable"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func WebSocketHandler(app *App, c *gin.Context) {
	app.Hub.Serve(c.Writer, c.Request, app.Matchmaker)
}
