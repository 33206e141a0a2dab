// Package api is the HTTP surface of the streaming daemon: the call model,
// streaming control, and the consumer adapter endpoint.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/RenatoCabral2022/callstream/internal/adapter"
	"github.com/RenatoCabral2022/callstream/internal/audio"
	"github.com/RenatoCabral2022/callstream/internal/calls"
	"github.com/RenatoCabral2022/callstream/internal/streaming"
)

const (
	maxBodyBytes  = 1 << 16
	maxAudioBytes = 1 << 20
)

// Deps are the collaborators served by the API.
type Deps struct {
	Logger     *zap.Logger
	Controller *streaming.Controller
	Calls      *calls.Manager
	Owners     *calls.Owners
	Audio      *audio.Interceptor
	Adapter    *adapter.Router
	// StartTimeout bounds how long a start request waits for its pipeline.
	StartTimeout time.Duration
}

// Options configure the HTTP handler.
type Options struct {
	CORSOrigins []string
	APIToken    string
}

type Server struct {
	logger       *zap.Logger
	ctl          *streaming.Controller
	calls        *calls.Manager
	owners       *calls.Owners
	audio        *audio.Interceptor
	adapter      *adapter.Router
	startTimeout time.Duration
}

func NewServer(d Deps) *Server {
	return &Server{
		logger:       d.Logger,
		ctl:          d.Controller,
		calls:        d.Calls,
		owners:       d.Owners,
		audio:        d.Audio,
		adapter:      d.Adapter,
		startTimeout: d.StartTimeout,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(RequestID)
	r.Use(Logging(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(Auth(opts.APIToken))
		r.Route("/calls", func(r chi.Router) {
			r.Get("/", s.listCalls)
			r.Post("/", s.createCall)
			r.Route("/{callId}", func(r chi.Router) {
				r.Get("/", s.getCall)
				r.Delete("/", s.deleteCall)
				r.Post("/state", s.setCallState)
				r.Post("/streaming", s.startStreaming)
				r.Delete("/streaming", s.stopStreaming)
				r.Post("/audio", s.feedAudio)
				r.Get("/audio", s.snapshotAudio)
			})
		})
		r.Route("/streaming", func(r chi.Router) {
			r.Get("/", s.streamingStatus)
			r.Post("/adapter", s.adapterRequest)
		})
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
