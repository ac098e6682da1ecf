package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/lumahq/campusquest/server/api/rest"
	"github.com/lumahq/campusquest/server/api/sse"
	apows "github.com/lumahq/campusquest/server/api/ws"
	"github.com/lumahq/campusquest/server/cache"
	"github.com/lumahq/campusquest/server/config"
	dbadapter "github.com/lumahq/campusquest/server/db"
	"github.com/lumahq/campusquest/server/game/quest"
	"github.com/lumahq/campusquest/server/game/reward"
	mw "github.com/lumahq/campusquest/server/middleware"
	"github.com/lumahq/campusquest/server/model"
	"github.com/lumahq/campusquest/server/notify"
	"github.com/lumahq/campusquest/server/resource"
	"github.com/lumahq/campusquest/server/scheduler"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	if cfg.Security.AdminKey == "" {
		logger.Warn("security.admin_key is not set; admin endpoints are disabled")
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized")

	// ---- Cache / PubSub ----
	c, err := cache.NewCache(cfg.Cache)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	pubsub, err := cache.NewPubSub(cfg.Cache)
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}
	logger.Info("Cache initialized")

	// ---- Quest definitions ----
	res := resource.NewLoader(cfg.Quest.QuestsPath, cfg.Quest.CollectiblesPath, cfg.Quest.PassingScore)
	if err := res.Load(); err != nil {
		log.Fatalf("quest definitions: %v", err)
	}
	logger.Info("Quest definitions loaded",
		zap.Int("quests", len(res.Quests())),
		zap.Int("collectibles", len(res.Collectibles())))

	// ---- Engine ----
	notifier := notify.New()
	writer := quest.NewWriter(db, logger)
	defer writer.Stop()
	alloc := reward.New(res, time.Now().UnixNano())
	store := quest.NewStore(res, alloc, writer, c, pubsub, notifier, cfg.Quest, logger)

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	defer sched.Stop()

	sched.AddTicker("abandonment_check", cfg.Quest.AbandonPollInterval, func() {
		if n := store.CheckAbandonment(context.Background()); n > 0 {
			logger.Info("abandonment sweep", zap.Int("abandoned", n))
		}
	})

	boardH := apirest.NewLeaderboardHandler(db, c, logger)
	sched.AddTicker("leaderboard_refresh", cfg.Quest.LeaderboardRefresh, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := boardH.RefreshFromDB(ctx); err != nil {
			logger.Warn("leaderboard refresh failed", zap.Error(err))
		}
	})

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	// Health check
	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	// ---- REST API routes ----
	authH := apirest.NewAuthHandler(db, c, cfg.Security)
	questH := apirest.NewQuestHandler(store, logger)
	adminH := apirest.NewAdminHandler(db, res, store, sched, logger)
	sseH := sse.NewHandler(pubsub, c, cfg.Security, logger)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/login", authH.Login)
		authG.POST("/logout", mw.Auth(cfg.Security, c), authH.Logout)
		authG.POST("/refresh", mw.Auth(cfg.Security, c), authH.Refresh)

		authed := api.Group("")
		authed.Use(mw.Auth(cfg.Security, c))
		authed.GET("/quests", questH.List)
		authed.GET("/progress", questH.Progress)
		authed.POST("/quests/:id/start", questH.Start)
		authed.POST("/quests/:id/location", questH.CompleteLocation)
		authed.POST("/quests/:id/quiz/answer", questH.QuizAnswer)
		authed.POST("/quests/:id/quiz/submit", questH.QuizSubmit)
		authed.POST("/quests/:id/quiz/retry", questH.QuizRetry)
		authed.PUT("/quests/active", questH.SetActive)
		authed.POST("/quests/active/pause", questH.Pause)
		authed.POST("/quests/active/resume", questH.Resume)
		authed.POST("/position", questH.ReportPosition)
		authed.GET("/leaderboard", boardH.Top)

		adminG := api.Group("/admin")
		adminG.Use(mw.AdminAuth(cfg.Security))
		adminG.GET("/metrics", adminH.Metrics)
		adminG.POST("/definitions/reload", adminH.ReloadDefinitions)
		adminG.GET("/users/:id/progress", adminH.UserProgress)
		adminG.POST("/abandonment/sweep", adminH.SweepAbandonment)
		adminG.POST("/users/:id/ban", adminH.BanUser)
		adminG.POST("/leaderboard/refresh", boardH.Refresh)
		adminG.POST("/announce", sseH.HandleAnnounce)
	}

	// ---- WebSocket (position stream) ----
	wsH := apows.NewHandler(c, cfg.Security, store, logger)
	r.GET("/ws", wsH.ServeWS)

	// ---- SSE (quest notifications) ----
	r.GET("/sse", sseH.ServeSSE)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("Server listening", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
