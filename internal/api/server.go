// Package api serves experiments, run records and their live streams over HTTP.
package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"vrpbench/internal/config"
	"vrpbench/internal/experiment"
	"vrpbench/internal/metrics"
	"vrpbench/internal/model"
	"vrpbench/internal/store"
	"vrpbench/internal/webhooks"
)

// errShuttingDown rejects submissions once Shutdown has begun.
var errShuttingDown = errors.New("server is shutting down")

type Server struct {
	Store   store.Store
	Broker  EventBroker
	Harness *experiment.Harness
	// Limiter throttles experiment submissions.
	Limiter *rate.Limiter
	Config  config.Config
	// Base is the plan a request narrows.
	Base      experiment.Plan
	Logger    *log.Logger
	Heartbeat time.Duration
	// Notifier posts experiment.finished to webhooks; nil disables it.
	Notifier *webhooks.Notifier

	ctx  context.Context
	stop context.CancelFunc

	mu      sync.Mutex
	running map[string]context.CancelFunc // experimentId -> cancel
	wg      sync.WaitGroup
}

// NewServer wires the store, broker and harness from cfg. Without
// DATABASE_URL or SQLITE_PATH it uses the in-memory store.
func NewServer(cfg config.Config, logger *log.Logger) (*Server, error) {
	base, err := cfg.Plan()
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	st, err := store.Open(context.Background(), cfg.Server.DatabaseURL, cfg.Server.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	var broker EventBroker = NewBroker()
	if cfg.Server.RedisURL != "" {
		if rb, err := NewRedisBroker(cfg.Server.RedisURL); err == nil {
			broker = rb
		} else if logger != nil {
			logger.Printf("[API] redis broker unavailable, using in-memory: %v", err)
		}
	}
	s := New(cfg, base, st, broker, experiment.New(logger), logger)
	s.Notifier = cfg.Notifier(logger)
	return s, nil
}

// New assembles a server from parts.
func New(cfg config.Config, base experiment.Plan, st store.Store, broker EventBroker, h *experiment.Harness, logger *log.Logger) *Server {
	metrics.RegisterDefault()
	limit := rate.Limit(cfg.Server.RateRPS)
	if cfg.Server.RateRPS == 0 {
		limit = rate.Inf
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Server{
		Store:     st,
		Broker:    broker,
		Harness:   h,
		Limiter:   rate.NewLimiter(limit, max(1, cfg.Server.RateBurst)),
		Config:    cfg,
		Base:      base,
		Logger:    logger,
		Heartbeat: 15 * time.Second,
		ctx:       ctx,
		stop:      stop,
		running:   map[string]context.CancelFunc{},
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}

// Routes returns the HTTP handler with logging and metrics middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Experiments
	mux.HandleFunc("/v1/experiments", s.ExperimentsHandler)
	mux.HandleFunc("/v1/experiments/", s.ExperimentByIDHandler) // includes /stream

	// Runs
	mux.HandleFunc("/v1/runs", s.RunsHandler)
	mux.HandleFunc("/v1/runs/", s.RunByIDHandler)

	// Instances
	mux.HandleFunc("/v1/instances", s.InstancesHandler)

	// Live stream over WebSocket
	mux.HandleFunc("/v1/ws", s.WSHandler)

	// Docs
	mux.HandleFunc("/openapi.yaml", s.OpenAPIHandler)
	mux.HandleFunc("/openapi.json", s.OpenAPIJSONHandler)
	mux.HandleFunc("/docs", s.DocsHandler)

	// Health
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)

	// Admin
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/vars", s.DebugJSON)

	return s.logMiddleware(metricsMiddleware(mux))
}

// Shutdown cancels running experiments and waits for them to record their
// final state, or for ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	// under mu so no experiment is added to wg after Wait starts
	s.mu.Lock()
	s.stop()
	s.mu.Unlock()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return s.Broker.Close()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startExperiment records the experiment and runs plan in the background.
func (s *Server) startExperiment(ctx context.Context, plan experiment.Plan) (model.Experiment, error) {
	if s.ctx.Err() != nil {
		return model.Experiment{}, errShuttingDown
	}
	sink, err := experiment.StartExperiment(ctx, s.Store, "", plan)
	if err != nil {
		return model.Experiment{}, err
	}
	exp := sink.Experiment()
	sink.OnRecord = func(rec model.RunRecord) {
		s.Broker.Publish(rec.ExperimentID, newEvent(EventRunCompleted, rec))
	}
	runCtx, cancel := context.WithCancel(s.ctx)
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		cancel()
		if _, err := sink.Finish(ctx, errShuttingDown); err != nil {
			s.logf("[API] experiment %s: finish: %v", exp.ID, err)
		}
		return model.Experiment{}, errShuttingDown
	}
	s.running[exp.ID] = cancel
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		defer cancel()
		started := time.Now()
		tally, runErr := s.Harness.Run(runCtx, plan, sink, experiment.MetricsSink)
		final, err := sink.Finish(runCtx, runErr)
		if err != nil {
			s.logf("[API] experiment %s: finish: %v", exp.ID, err)
		}
		s.mu.Lock()
		delete(s.running, exp.ID)
		s.mu.Unlock()
		s.Broker.Publish(exp.ID, newEvent(EventExperimentFinished, final))
		s.logf("[API] experiment %s %s: %d runs solved=%d none=%d failed=%d in %s",
			exp.ID, final.Status, tally.Total, tally.Solved, tally.NoSolution, tally.Failed, time.Since(started))
		if s.Notifier != nil {
			// deliveries outlive a cancelled sweep but not a stuck receiver
			nctx, ncancel := context.WithTimeout(context.Background(), 2*time.Minute)
			if err := s.Notifier.Notify(nctx, EventExperimentFinished, final); err != nil {
				s.logf("[API] experiment %s: webhook: %v", exp.ID, err)
			}
			ncancel()
		}
	}()
	return exp, nil
}

// cancelExperiment reports whether id was running.
func (s *Server) cancelExperiment(id string) bool {
	s.mu.Lock()
	cancel, ok := s.running[id]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logf("[API] %s %s %s %v", r.RemoteAddr, r.Method, r.URL.Path, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("%T does not support hijacking", r.ResponseWriter)
	}
	// a hijacked connection reports as a switch of protocols
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		// the mux pattern keeps label cardinality bounded
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(rec.status)
		metrics.HTTPRequests.WithLabelValues(r.Method, path, status).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
	})
}
