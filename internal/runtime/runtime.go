package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-intake/internal/bus"
	"github.com/loqalabs/loqa-intake/internal/config"
	"github.com/loqalabs/loqa-intake/internal/eventstore"
	"github.com/loqalabs/loqa-intake/internal/interview"
	"github.com/loqalabs/loqa-intake/internal/llm"
	"github.com/loqalabs/loqa-intake/internal/natsserver"
	"github.com/loqalabs/loqa-intake/internal/profile"
	"github.com/loqalabs/loqa-intake/internal/report"
	"github.com/loqalabs/loqa-intake/internal/session"
	"github.com/loqalabs/loqa-intake/internal/stt"
	"github.com/loqalabs/loqa-intake/internal/tts"
)

// component is a bus-attached service owned by the runtime.
type component interface {
	Close()
	Healthy() bool
}

type Runtime struct {
	cfg     config.Config
	version string
	logger  *slog.Logger
	ready   atomic.Bool
	wg      sync.WaitGroup

	httpServer   *http.Server
	tracerClose  func(context.Context) error
	natsServer   *natsserver.EmbeddedServer
	bus          *bus.Client
	store        *eventstore.Store
	orchestrator *session.Orchestrator
	components   []component
}

func New(cfg config.Config, version string, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:     cfg,
		version: version,
		logger:  logger,
	}
}

// Start brings up every component, serves HTTP and blocks until ctx is done.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer r.shutdown()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(ctx, r.cfg, r.version, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if err := r.startPipeline(ctx); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	api := &sessionAPI{
		orch:     r.orchestrator,
		timeline: r.store,
		logger:   r.logger.With(slog.String("component", "http-api")),
	}
	api.register(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
			serveErr <- err
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr), slog.String("version", r.version))

	select {
	case <-ctx.Done():
		return nil
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	}
}

// startPipeline wires bus, storage and the interview pipeline. Components
// started here are released by shutdown even when a later step fails.
func (r *Runtime) startPipeline(ctx context.Context) error {
	busCfg := r.cfg.Bus
	srv, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	r.natsServer = srv
	if srv != nil {
		busCfg.Servers = []string{srv.ClientURL()}
	}

	r.bus, err = bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect bus: %w", err)
	}

	r.store, err = eventstore.Open(ctx, r.cfg.EventStore, r.logger.With(slog.String("component", "event-store")))
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}

	// The same model backs the interviewer turns and report synthesis. With
	// the llm disabled every report uses the fallback sections.
	var generator llm.Generator
	if r.cfg.LLM.Enabled {
		generator, err = llm.NewGenerator(ctx, r.cfg.LLM)
		if err != nil {
			return fmt.Errorf("failed to create llm backend: %w", err)
		}
		svc := llm.NewService(ctx, r.cfg.LLM, r.bus, generator, r.logger)
		if err := svc.Start(); err != nil {
			return fmt.Errorf("failed to start llm service: %w", err)
		}
		r.components = append(r.components, svc)
	}

	if r.cfg.STT.Enabled {
		recognizer, err := stt.NewRecognizer(r.cfg.STT)
		if err != nil {
			return fmt.Errorf("failed to create stt backend: %w", err)
		}
		svc := stt.NewService(ctx, r.cfg.STT, r.bus, recognizer, r.logger)
		if err := svc.Start(); err != nil {
			return fmt.Errorf("failed to start stt service: %w", err)
		}
		r.components = append(r.components, svc)
	}

	if r.cfg.TTS.Enabled {
		synth, err := tts.NewSynthesizer(r.cfg.TTS)
		if err != nil {
			return fmt.Errorf("failed to create tts backend: %w", err)
		}
		svc := tts.NewService(ctx, r.cfg.TTS, r.bus, synth, r.logger)
		if err := svc.Start(); err != nil {
			return fmt.Errorf("failed to start tts service: %w", err)
		}
		r.components = append(r.components, svc)
	}

	r.orchestrator = session.NewOrchestrator(ctx, r.cfg.Session, session.Deps{
		Profiles:    profile.NewFetcher(profile.NewHTTPSource(r.cfg.Profile.Endpoint, nil), r.cfg.Profile, r.logger),
		Interviewer: interview.NewConductor(r.cfg.Session, r.cfg.TTS.Voice, r.bus, r.logger),
		Synthesizer: report.NewSynthesizer(generator, r.cfg.Report, r.logger),
		Deliverer:   report.NewDeliverer(r.cfg.Report, nil, r.logger),
		Recorder:    r.store,
		Publisher:   r.bus,
	}, r.logger)

	sessions := session.NewService(r.orchestrator, r.bus.Conn(), r.logger)
	if err := sessions.Start(); err != nil {
		return fmt.Errorf("failed to start session service: %w", err)
	}
	r.components = append(r.components, sessions)
	return nil
}

// shutdown stops intake first so no new work arrives, then lets running
// report deliveries finish before tearing down the bus and storage.
func (r *Runtime) shutdown() {
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if r.httpServer != nil {
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	for i := len(r.components) - 1; i >= 0; i-- {
		r.components[i].Close()
	}
	if r.orchestrator != nil {
		r.orchestrator.Close()
	}
	if err := r.store.Close(); err != nil {
		r.logger.Error("event store close error", slog.String("error", err.Error()))
	}
	if r.bus != nil {
		r.bus.Close()
	}
	r.natsServer.Shutdown()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) healthy() bool {
	if r.bus == nil || !r.bus.Healthy() {
		return false
	}
	for _, c := range r.components {
		if !c.Healthy() {
			return false
		}
	}
	return true
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
