package server

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"playroom/internal/config"
	"playroom/internal/db"
	"playroom/internal/rooms"
)

// Routes builds the relay's router.
func (s *Server) Routes() http.Handler {
	router := httprouter.New()

	router.POST("/rooms", s.handleCreateRoom)
	router.GET("/rooms/:code", s.handleGetRoom)
	router.POST("/rooms/:code/join", s.handleJoinRoom)
	router.GET("/rooms/:code/ws", s.handleWS)
	router.GET("/rooms/:code/qr", s.handleQR)
	router.GET("/rooms/:code/matches", s.handleMatchHistory)
	router.GET("/activities", s.handleActivities)
	router.GET("/health", s.handleHealth)
	router.Handler(http.MethodGet, "/metrics", promhttp.Handler())

	return router
}

// Run starts the relay and blocks until ctx is cancelled or the listener
// fails.
func Run(ctx context.Context, cfg config.Config) error {
	var database *db.DB
	var recordOutcome func(rooms.Outcome)

	if cfg.DatabaseURL != "" {
		var err error
		database, err = db.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Printf("[DB] Failed to connect: %v (running without database)", err)
		} else {
			if err := database.Migrate(); err != nil {
				log.Printf("[DB] Migration failed: %v", err)
			}
			writer := db.NewOutcomeWriter(database)
			defer writer.Close()
			recordOutcome = writer.Record
			log.Println("[DB] Database connected and migrations applied")
		}
	} else {
		log.Println("[DB] database-url not set, running without database")
	}

	srv := NewServer(cfg, database, recordOutcome)
	defer srv.Close()

	httpSrv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: srv.Routes(),
	}

	go func() {
		<-ctx.Done()
		_ = httpSrv.Shutdown(context.Background())
	}()

	log.Printf("[Server] listening on %s", cfg.Addr())
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
