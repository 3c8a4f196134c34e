package main

import (
	"context"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	ginGzip "github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"golang.org/x/time/rate"

	auth "github.com/CodeAndHammer/duelqueue/internal/auth"
	constants "github.com/CodeAndHammer/duelqueue/internal/constants"
	gamestate "github.com/CodeAndHammer/duelqueue/internal/gamestate"
	handlers "github.com/CodeAndHammer/duelqueue/internal/handlers"
	matchmaker "github.com/CodeAndHammer/duelqueue/internal/matchmaker"
	models "github.com/CodeAndHammer/duelqueue/internal/models"
	notify "github.com/CodeAndHammer/duelqueue/internal/notify"
	sqlite "github.com/CodeAndHammer/duelqueue/internal/storage/sqlite"
	transport "github.com/CodeAndHammer/duelqueue/internal/transport"
	util "github.com/CodeAndHammer/duelqueue/internal/util"
)

func main() {
	_ = godotenv.Load()

	isProduction := os.Getenv("GIN_MODE") == "release" || os.Getenv("ENV") == "production"
	util.LogInfo("Starting duelqueue in %s mode", map[bool]string{true: "production", false: "development"}[isProduction])

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	verifier := buildVerifier(ctx, isProduction)
	backend, closeBackend := buildBackend()
	defer closeBackend()

	cfg := loadMatchConfig()
	hub := transport.NewHub(transport.Config{
		MessageRate:  rate.Limit(util.GetEnvInt("WS_MESSAGE_RPS", 5)),
		MessageBurst: util.GetEnvInt("WS_MESSAGE_BURST", 10),
		CheckOrigin:  originChecker(util.GetEnvString("ALLOWED_ORIGINS", "")),
	})
	notifier := notify.New(util.GetEnvString("OPERATOR_WEBHOOK_URL", ""))
	if !notifier.Enabled() {
		util.LogInfo("Operator notifications disabled")
	}
	mm := matchmaker.New(cfg, matchmaker.Deps{
		Verifier:    verifier,
		Backend:     backend,
		Connections: hub,
		Notifier:    notifier,
		Rand:        seededRand(util.GetEnvInt("MATCH_RANDOM_SEED", 0)),
	})

	app := &App{
		IsProduction:   isProduction,
		StartTime:      time.Now(),
		LimiterMap:     make(map[string]*rateLimiterEntry),
		RateLimitRPS:   util.GetEnvInt("RATE_LIMIT_RPS", 5),
		RateLimitBurst: util.GetEnvInt("RATE_LIMIT_BURST", 10),
		RateLimiterTTL: util.GetEnvDuration("RATE_LIMITER_TTL", 1*time.Hour),
	}
	routes := &handlers.App{
		Matchmaker:     mm,
		Hub:            hub,
		IsProduction:   isProduction,
		StartTime:      app.StartTime,
		ActiveLimiters: app.activeLimiters,
	}

	matchmakerDone := make(chan struct{})
	go func() {
		mm.Run(ctx)
		close(matchmakerDone)
	}()
	app.startCleanupRoutines(ctx)

	app.startServer(ctx, app.setupRouter(routes))

	hub.Close()
	<-matchmakerDone
	mm.Wait()
	util.LogInfo("Server shutdown complete")
}

func (app *App) setupRouter(routes *handlers.App) *gin.Engine {
	if app.IsProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	router.Use(requestIDMiddleware())
	router.Use(securityHeadersMiddleware())
	router.Use(noStoreMiddleware())
	router.Use(ginGzip.Gzip(ginGzip.DefaultCompression,
		ginGzip.WithExcludedPaths([]string{constants.RouteWebSocket})))

	if err := router.SetTrustedProxies([]string{"127.0.0.1"}); err != nil {
		util.LogWarn("Failed to set trusted proxies: %v", err)
	}

	router.GET(constants.RouteHealthz, func(c *gin.Context) { handlers.HealthzHandler(routes, c) })
	router.GET(constants.RouteQueueStats, func(c *gin.Context) { handlers.QueueStatsHandler(routes, c) })
	router.GET(constants.RouteWebSocket, app.rateLimitMiddleware(), func(c *gin.Context) { handlers.WebSocketHandler(routes, c) })
	return router
}

func buildVerifier(ctx context.Context, isProduction bool) auth.Verifier {
	authCfg, err := auth.LoadConfigFromEnv(time.Now)
	if err != nil {
		util.LogFatal("Invalid auth configuration: %v", err)
	}
	if authCfg.Mode == auth.ModeDev {
		if isProduction {
			util.LogFatal("AUTH_MODE=dev is not allowed in production")
		}
		util.LogWarn("AUTH_MODE=dev: token signatures are NOT verified")
		return auth.DevVerifier{}
	}

	keys := auth.NewKeyCache(&auth.HTTPKeyFetcher{
		URL:       authCfg.KeysURL,
		Algorithm: authCfg.Algorithm,
	}, authCfg.MinRefresh, authCfg.DefaultMaxAge, authCfg.Now)
	warmCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := keys.Refresh(warmCtx); err != nil {
		util.LogWarn("Initial key fetch from %s failed, retrying on first join: %v", authCfg.KeysURL, err)
	}
	util.LogInfo("Verifying %s tokens for audience %q, issuer %q", authCfg.Algorithm, authCfg.Audience, authCfg.Issuer)
	return auth.NewValidator(authCfg, keys)
}

func buildBackend() (gamestate.Backend, func()) {
	if baseURL := util.GetEnvString("GAME_BACKEND_URL", ""); baseURL != "" {
		util.LogInfo("Using game-state service at %s", baseURL)
		return gamestate.NewClient(baseURL, util.GetEnvDuration("GAME_BACKEND_TIMEOUT", 5*time.Second)), func() {}
	}

	path := util.GetEnvString("SQLITE_PATH", "duelqueue.db")
	store, err := sqlite.Open(path, models.Profile{
		Skill:  util.GetEnvInt("DEFAULT_SKILL", 1000),
		League: util.GetEnvString("DEFAULT_LEAGUE", "bronze"),
	})
	if err != nil {
		util.LogFatal("Failed to open SQLite store %s: %v", path, err)
	}
	util.LogInfo("Using local SQLite store at %s", path)
	return store, func() {
		if err := store.Close(); err != nil {
			util.LogWarn("Closing SQLite store: %v", err)
		}
	}
}

func loadMatchConfig() models.MatchConfig {
	def := models.DefaultMatchConfig()
	return models.MatchConfig{
		TickInterval:            util.GetEnvDuration("TICK_INTERVAL", def.TickInterval),
		StartingRange:           util.GetEnvInt("STARTING_RANGE", def.StartingRange),
		RangeStep:               util.GetEnvInt("RANGE_STEP", def.RangeStep),
		RangeIncreaseInterval:   util.GetEnvInt("RANGE_INCREASE_INTERVAL", def.RangeIncreaseInterval),
		GoldRewardInterval:      util.GetEnvInt("GOLD_REWARD_INTERVAL", def.GoldRewardInterval),
		GoldRewardAmount:        util.GetEnvInt("GOLD_REWARD_AMOUNT", def.GoldRewardAmount),
		CasualRedirectThreshold: util.GetEnvInt("CASUAL_REDIRECT_THRESHOLD", def.CasualRedirectThreshold),
		CasualMaxWait:           util.GetEnvInt("CASUAL_MAX_WAIT", def.CasualMaxWait),
		RedirectEndsPass:        util.GetEnvBool("REDIRECT_ENDS_PASS", def.RedirectEndsPass),
		RetryAttempts:           util.GetEnvInt("RETRY_ATTEMPTS", def.RetryAttempts),
		RetryDelay:              util.GetEnvDuration("RETRY_DELAY", def.RetryDelay),
	}
}

// seededRand returns a reproducible source for a non-zero seed. The result is
// only called from the matchmaker loop.
func seededRand(seed int) func() float64 {
	if seed == 0 {
		return nil
	}
	r := rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
	return r.Float64
}

func originChecker(allowed string) func(r *http.Request) bool {
	origins := lo.Compact(lo.Map(strings.Split(allowed, ","), func(o string, _ int) string {
		return strings.TrimSpace(o)
	}))
	if len(origins) == 0 {
		return nil
	}
	return func(r *http.Request) bool {
		return slices.Contains(origins, r.Header.Get("Origin"))
	}
}

func (app *App) startServer(ctx context.Context, router *gin.Engine) {
	port := util.GetEnvString("PORT", "8080")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	go func() {
		<-ctx.Done()
		util.LogInfo("Shutdown signal received, shutting down server gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			util.LogWarn("HTTP server Shutdown: %v", err)
		}
		close(idleConnsClosed)
	}()

	util.LogInfo("Server starting on http://localhost:%s", port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		util.LogFatal("Server failed to start: %v", err)
	}
	<-idleConnsClosed
}

func (app *App) startCleanupRoutines(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				app.cleanupStaleRateLimiters()
			}
		}
	}()

	util.LogInfo("Started cleanup routine for rate limiters")
}

func (app *App) cleanupStaleRateLimiters() {
	app.LimiterMutex.Lock()
	defer app.LimiterMutex.Unlock()

	cutoffTime := time.Now().Add(-app.RateLimiterTTL)
	removedCount := 0

	for key, entry := range app.LimiterMap {
		if entry.LastAccess.Before(cutoffTime) {
			delete(app.LimiterMap, key)
			removedCount++
		}
	}

	if len(app.LimiterMap) > 50000 {
		util.LogInfo("Rate limiter map too large (%d entries), removing the oldest half", len(app.LimiterMap))
		keys := lo.Keys(app.LimiterMap)
		slices.SortFunc(keys, func(a, b string) int {
			return app.LimiterMap[a].LastAccess.Compare(app.LimiterMap[b].LastAccess)
		})
		for _, key := range keys[:len(keys)/2] {
			delete(app.LimiterMap, key)
			removedCount++
		}
	}

	if removedCount > 0 {
		util.LogInfo("Cleaned up %d stale rate limiters", removedCount)
	}
}
