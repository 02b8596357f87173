package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/avdonin/webmarket/internal/audit"
	"github.com/avdonin/webmarket/internal/auth"
	"github.com/avdonin/webmarket/internal/config"
	"github.com/avdonin/webmarket/internal/handlers"
	"github.com/avdonin/webmarket/internal/logging"
	mw "github.com/avdonin/webmarket/internal/middleware"
	"github.com/avdonin/webmarket/internal/mykafka"
	"github.com/avdonin/webmarket/internal/order"
	"github.com/avdonin/webmarket/internal/repo"
	"github.com/avdonin/webmarket/internal/session"
	"github.com/avdonin/webmarket/internal/token"
	httpserver "github.com/avdonin/webmarket/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger := logging.New(cfg.LogLevel)
	ctx := logging.IntoContext(context.Background(), logger)

	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatalf("db init error: %v", err)
	}

	store := repo.New(db)
	tokens, err := token.NewService(cfg.JWTSecret, cfg.RefreshSecret, store)
	if err != nil {
		log.Fatal(err)
	}
	sessions := session.NewManager(store, tokens)
	authSvc := auth.NewService(store, sessions)
	orderSvc := order.NewService(store)

	var producer *mykafka.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer = mykafka.NewProducer(cfg.KafkaBrokers)
	}

	var trail *audit.Trail
	if cfg.ESURL != "" {
		esClient, err := audit.NewClient(cfg.ESURL, cfg.ESUser, cfg.ESPassword)
		if err != nil {
			log.Printf("audit trail disabled: %v", err)
		} else {
			trail = audit.NewTrail(esClient)
		}
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go sessions.RunSweeper(sweepCtx, time.Hour)

	e := echo.New()
	e.Pre(echomw.RemoveTrailingSlash())
	e.Use(echomw.Recover(), echomw.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			c.SetRequest(req.WithContext(logging.IntoContext(req.Context(), logger)))
			return next(c)
		}
	})

	deps := httpserver.Deps{
		AuthService:  authSvc,
		AuthHandler:  &handlers.AuthHandler{Auth: authSvc, Producer: producer, Audit: trail},
		OrderHandler: &handlers.OrderHandler{Orders: orderSvc, Producer: producer},
		Resolver:     mw.Config{PreferJWT: false, RequireDBCheck: true},
	}
	httpserver.Register(e, &deps)

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      e,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			log.Printf("db close error: %v", err)
		}
	}

	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Printf("kafka close error: %v", err)
		}
	}

	log.Println("shutdown complete")
}
