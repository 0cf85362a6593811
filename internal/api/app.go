package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"slices"

	"github.com/gorilla/handlers"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-roomcast/internal/config"
	"github.com/npezzotti/go-roomcast/internal/server"
	"github.com/npezzotti/go-roomcast/internal/types"
)

// RoomBroadcaster is the part of server.Broadcaster the HTTP layer needs.
type RoomBroadcaster interface {
	Connect(projectId string, c *server.Client) error
	Broadcast(ctx context.Context, projectId string, req types.BroadcastRequest) (int, error)
	RoomStats(ctx context.Context, projectId string) (types.RoomStats, error)
}

type RoomcastApp struct {
	log            *log.Logger
	srv            *http.Server
	bc             RoomBroadcaster
	upgrader       websocket.Upgrader
	allowedOrigins []string
	signingKey     []byte
}

func NewRoomcastApp(mux *http.ServeMux, logger *log.Logger, bc RoomBroadcaster, cfg *config.Config) *RoomcastApp {
	s := &RoomcastApp{
		log:            logger,
		bc:             bc,
		allowedOrigins: cfg.AllowedOrigins,
		signingKey:     cfg.IngressSigningKey,
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	cors := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)

	// broadcast is called server to server and gates methods itself, so it
	// sits outside the CORS handler which would answer OPTIONS on its own
	mux.Handle("/rooms/{projectId}/broadcast", s.ingressAuth(s.broadcast))
	mux.HandleFunc("GET /rooms/{projectId}/ws", s.serveWs)
	mux.Handle("GET /rooms/{projectId}", cors(http.HandlerFunc(s.roomStats)))
	mux.Handle("GET /healthz", cors(http.HandlerFunc(s.healthCheck)))

	var h http.Handler = handlers.CombinedLoggingHandler(logger.Writer(), mux)
	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *RoomcastApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *RoomcastApp) Start() error {
	s.log.Printf("starting server on %s\n", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *RoomcastApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}

func (s *RoomcastApp) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// non-browser clients send no origin
		return true
	}

	return slices.Contains(s.allowedOrigins, origin)
}
