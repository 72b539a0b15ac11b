package main

import (
	"log"
	"net/http"
	"time"

	handlers "EpiFind/internal/handler"
	"EpiFind/internal/listeners"
	"EpiFind/internal/models"
	"EpiFind/internal/sos"
	"EpiFind/internal/store"
	"EpiFind/pkg/config"
	"EpiFind/pkg/logger"
	"EpiFind/pkg/notification"
	"EpiFind/pkg/scheduler"
	"EpiFind/pkg/sse"
	"EpiFind/pkg/websocket"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	if err := config.Load(); err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg := config.GlobalConfig

	if err := logger.Init(cfg.Log); err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	st, err := store.New(store.Config{
		Backend:       cfg.Store.Backend,
		RedisAddr:     cfg.Store.RedisAddr,
		RedisPassword: cfg.Store.RedisPassword,
		RedisDB:       cfg.Store.RedisDB,
		KeyPrefix:     cfg.Store.KeyPrefix,
	})
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer st.Close()

	auditDB, err := models.InitAuditDB(cfg.AuditDBPath)
	if err != nil {
		logger.Fatal("open audit db", zap.Error(err))
	}

	hub := websocket.NewHub(websocket.DefaultConfig())
	defer hub.Shutdown()
	events := sse.NewHub(30 * time.Second)

	pusher := notification.NewPusher(cfg.Push, nil)
	engine := sos.NewEngine(cfg.SOS, st, pusher,
		sos.WithSink(hub),
		sos.WithLocalChannels(func(userID string) notification.LocalChannel {
			return websocket.NewUserChannel(hub, userID)
		}),
	)
	if err := engine.Start(); err != nil {
		logger.Fatal("start engine", zap.Error(err))
	}
	defer engine.Stop()

	listeners.InitSOSListeners(auditDB, events)

	sched := scheduler.New()
	defer sched.Stop()
	sched.Every("orphaned-notification-gc", time.Hour, scheduler.FuncJob(engine.SweepOrphanedNotifications))

	cr := scheduler.NewCron(nil)
	sweeper := sos.NewExpirySweeper(engine.Directory(), cfg.SOS.ExpiryWarnDays, hub)
	if _, err := cr.Add("0 9 * * *", scheduler.FuncJob(sweeper.Run)); err != nil {
		logger.Fatal("schedule expiry sweep", zap.Error(err))
	}
	cr.Start()
	defer cr.Stop()

	gin.SetMode(cfg.Mode)
	r := gin.New()
	r.Use(gin.Recovery())

	h := handlers.NewHandlers(engine, hub, events, auditDB)
	h.Register(r)

	logger.Info("server listening", zap.String("addr", cfg.Addr))
	if err := r.Run(cfg.Addr); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
}
