// Package api exposes standings and reviewer publish actions over HTTP.
package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/keo-sports/stage-engine/internal/publish"
	"github.com/keo-sports/stage-engine/internal/standings"
)

// Standings is the read side served by the API.
type Standings interface {
	EventStages(ctx context.Context, eventID string) ([]standings.StageRow, error)
	StageResults(ctx context.Context, stageID string) (*standings.StageResultsView, error)
	GeneralClassification(ctx context.Context, eventID string) (*standings.GCView, error)
	KOMClassification(ctx context.Context, eventID string) (*standings.KOMView, error)
	StageSegmentBoard(ctx context.Context, stageID string) (*standings.BoardView, error)
}

// Publisher runs reviewer publish actions.
type Publisher interface {
	PublishStage(ctx context.Context, req publish.StageRequest) (*publish.StageOutcome, error)
	PublishSegments(ctx context.Context, req publish.SegmentRequest) (*publish.SegmentOutcome, error)
}

// Pinger reports store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services behind the routes.
type Deps struct {
	Standings Standings
	Publisher Publisher
	Health    Pinger
}

// Options configure auth and CORS.
type Options struct {
	JWTSecret   string
	CORSOrigins []string
}

// NewRouter builds the chi router with every route mounted.
func NewRouter(deps Deps, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins(opts.CORSOrigins),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := &handlers{deps: deps}

	r.Get("/health", h.health)

	r.Route("/events/{eventID}", func(r chi.Router) {
		r.Get("/stages", h.eventStages)
		r.Get("/gc", h.generalClassification)
		r.Get("/kom", h.komClassification)
	})

	r.Route("/stages/{stageID}", func(r chi.Router) {
		r.Get("/results", h.stageResults)
		r.Get("/segments", h.segmentBoard)

		r.Group(func(r chi.Router) {
			r.Use(RequireReviewer(opts.JWTSecret))
			r.Post("/publish", h.publishStage)
			r.Post("/segments/publish", h.publishSegments)
		})
	})

	return r
}

// Server wraps an http.Server around the router.
type Server struct {
	srv *http.Server
}

// NewServer creates a Server listening on port.
func NewServer(port int, handler http.Handler) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              net.JoinHostPort("", strconv.Itoa(port)),
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
}

// Run serves until Shutdown is called.
func (s *Server) Run() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return eris.Wrapf(err, "api: listen on %s", s.srv.Addr)
	}
	zap.L().Info("starting server", zap.String("addr", s.srv.Addr))

	if err := s.srv.Serve(ln); err != nil && !eris.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "api: serve")
	}
	return nil
}

// Shutdown drains in-flight requests for up to ten seconds.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return eris.Wrap(s.srv.Shutdown(ctx), "api: shutdown")
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			zap.L().Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

func origins(configured []string) []string {
	if len(configured) == 0 {
		return []string{"*"}
	}
	return configured
}
