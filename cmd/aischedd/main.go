// Command aischedd runs the per-device background execution scheduler as a
// standalone daemon: an HTTP front door accepts DAG submissions, each DAG
// is handed to the scheduler, and the submitting request blocks until its
// DAG completes (or the request context expires).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/swarmguard/aisched/internal/config"
	"github.com/swarmguard/aisched/internal/dagrun"
	"github.com/swarmguard/aisched/internal/diag"
	"github.com/swarmguard/aisched/internal/eventbus"
	"github.com/swarmguard/aisched/internal/history"
	"github.com/swarmguard/aisched/internal/obslog"
	"github.com/swarmguard/aisched/internal/obstel"
	"github.com/swarmguard/aisched/internal/resilience"
	"github.com/swarmguard/aisched/internal/scheduler"
)

const serviceName = "aischedd"

func main() {
	configFile := flag.String("config", "", "path to a config file (optional; env vars and defaults still apply)")
	flag.Parse()

	logger := obslog.Init(serviceName)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("config load failed", "error", err)
		return
	}

	otlpEndpoint := cfg.OTLPEndpoint
	if otlpEndpoint == "" {
		otlpEndpoint = obstel.EndpointFromEnv()
	}
	shutdownOtel := obstel.Init(ctx, serviceName, otlpEndpoint)
	defer func() { _ = shutdownOtel(context.Background()) }()

	hooks, err := obstel.NewHooks(obstel.Meter(), obstel.Tracer())
	if err != nil {
		logger.Error("obstel hooks init failed", "error", err)
		return
	}

	historyStore, err := history.Open(cfg.HistoryDBPath)
	if err != nil {
		logger.Error("history store open failed", "error", err)
		return
	}
	defer historyStore.Close()

	events := eventbus.Connect(cfg.NATSURL, logger)
	defer events.Close()

	guards := resilience.NewDeviceGuards()
	defer guards.Close()

	engine, err := dagrun.NewEngine(simulatedKernelRunner{}, obstel.Meter(), obstel.Tracer())
	if err != nil {
		logger.Error("dagrun engine init failed", "error", err)
		return
	}

	workerHooks := hooks.WorkerHooks()
	baseUnblock := dagrun.ChannelUnblocker{}
	server := &aischeddServer{
		logger:  logger,
		events:  events,
		history: historyStore,
		guards:  guards,
	}

	sched := scheduler.New(scheduler.Config{
		ThreadsPerQueue: cfg.ThreadsPerQueue,
		DisableBatching: cfg.DisableBatching,
	}, engine, &guardedExecutor{inner: engine, guards: guards}, recordingUnblocker{inner: baseUnblock, server: server}, workerHooks)
	server.scheduler = sched
	defer sched.Shutdown()

	stats, err := diag.NewStatsReporter(sched, logger, cfg.StatsInterval)
	if err != nil {
		logger.Error("stats reporter init failed", "error", err)
		return
	}
	stats.Start()
	defer stats.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", server.handleHealth)
	mux.HandleFunc("/v1/dags", server.handleSubmitDag)

	httpAddr := cfg.HTTPAddr
	srv := &http.Server{Addr: httpAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	logger.Info("aischedd started", "http_addr", httpAddr, "threads_per_queue", cfg.ThreadsPerQueue)
	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info("shutdown complete")
}

// guardedExecutor wraps an Executor's RUN calls in a per-device circuit
// breaker, kept strictly outside the scheduler package: a tripped breaker
// turns a RUN into an immediate error without ever calling the real
// kernel, which the worker then reflects exactly like any other run error.
type guardedExecutor struct {
	inner  scheduler.Executor
	guards *resilience.DeviceGuards
}

func (g *guardedExecutor) DagRunSessionStep(ctx context.Context, rinfo *scheduler.RunInfo, device string) error {
	return resilience.Guarded(g.guards, ctx, device, func(ctx context.Context) error {
		return g.inner.DagRunSessionStep(ctx, rinfo, device)
	})
}

func (g *guardedExecutor) BatchedDagRunSessionStep(ctx context.Context, rinfos []*scheduler.RunInfo, device string) error {
	return resilience.Guarded(g.guards, ctx, device, func(ctx context.Context) error {
		return g.inner.BatchedDagRunSessionStep(ctx, rinfos, device)
	})
}

// recordingUnblocker delegates to the real ClientUnblocker and then appends
// a history.Record and publishes a best-effort lifecycle event, so neither
// concern has to live inside dagrun or scheduler.
type recordingUnblocker struct {
	inner  scheduler.ClientUnblocker
	server *aischeddServer
}

func (r recordingUnblocker) UnblockClient(ctx context.Context, client scheduler.Client, rinfo *scheduler.RunInfo) {
	r.inner.UnblockClient(ctx, client, rinfo)

	errored := rinfo.Error()
	if err := r.server.history.Append(history.Record{
		RunID:      rinfo.ID,
		Errored:    errored,
		FinishedAt: nowOrZero(),
	}); err != nil {
		r.server.logger.Warn("history append failed", "run_id", rinfo.ID, "error", err)
	}
	r.server.events.PublishUnblocked(ctx, "", rinfo.ID, errored)
}

func nowOrZero() time.Time { return time.Now() }

// simulatedKernelRunner stands in for the real tensor/model backend, the
// same way the orchestrator's own task executor simulates execution cost
// rather than performing real work — the actual kernel implementation is an
// external collaborator, not this daemon's concern.
type simulatedKernelRunner struct{}

func (simulatedKernelRunner) RunOp(ctx context.Context, op dagrun.OpSpec) error {
	select {
	case <-time.After(5 * time.Millisecond):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (simulatedKernelRunner) RunBatch(ctx context.Context, ops []dagrun.OpSpec) error {
	select {
	case <-time.After(5 * time.Millisecond):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type aischeddServer struct {
	logger    *slog.Logger
	scheduler *scheduler.Scheduler
	events    *eventbus.Publisher
	history   *history.Store
	guards    *resilience.DeviceGuards
}

func (s *aischeddServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// submitDagRequest is the wire shape for a DAG submission: a flat op list,
// deliberately matching dagrun.OpSpec so no translation layer is needed.
type submitDagRequest struct {
	ID  string          `json:"id"`
	Ops []dagrun.OpSpec `json:"ops"`
}

type submitDagResponse struct {
	RunID   string `json:"run_id"`
	Errored bool   `json:"errored"`
}

func (s *aischeddServer) handleSubmitDag(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req submitDagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.ID == "" || len(req.Ops) == 0 {
		http.Error(w, "id and ops are required", http.StatusBadRequest)
		return
	}

	resultCh := make(chan dagrun.Result, 1)
	rinfo, dag, err := dagrun.NewRun(dagrun.DagSpec{ID: req.ID, Ops: req.Ops}, resultCh)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid dag: %v", err), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	for _, device := range dag.Devices() {
		if err := s.guards.Allow(ctx, device); err != nil {
			http.Error(w, fmt.Sprintf("rate limited: %v", err), http.StatusTooManyRequests)
			return
		}
		if err := s.scheduler.Enqueue(device, rinfo); err != nil {
			http.Error(w, fmt.Sprintf("enqueue failed: %v", err), http.StatusInternalServerError)
			return
		}
	}

	select {
	case result := <-resultCh:
		_ = json.NewEncoder(w).Encode(submitDagResponse{RunID: result.ID, Errored: result.Errored})
	case <-ctx.Done():
		http.Error(w, "timed out waiting for dag completion", http.StatusGatewayTimeout)
	}
}
