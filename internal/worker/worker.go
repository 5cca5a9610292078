// Package worker consumes attendance tasks from the message queue and runs
// them one at a time, end to end.
package worker

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof" // Register pprof handlers
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/rush86999/atom-meeting-worker/internal/agent"
	"github.com/rush86999/atom-meeting-worker/internal/config"
	"github.com/rush86999/atom-meeting-worker/internal/logging"
	"github.com/rush86999/atom-meeting-worker/internal/metrics"
	"github.com/rush86999/atom-meeting-worker/internal/nlp"
	"github.com/rush86999/atom-meeting-worker/internal/notes"
	"github.com/rush86999/atom-meeting-worker/internal/status"
	"github.com/rush86999/atom-meeting-worker/internal/task"
	"github.com/rush86999/atom-meeting-worker/internal/transcribe"
	"github.com/rush86999/atom-meeting-worker/internal/vector"
)

// Worker owns the queue connection, the status backend and the task runner.
type Worker struct {
	cfg *config.Config

	conn    *amqp.Connection
	channel *amqp.Channel
	pool    *pgxpool.Pool
	store   *status.PostgresStore
	runner  *task.Runner

	ctx       context.Context
	cancel    context.CancelFunc
	consumeWG sync.WaitGroup
	wg        sync.WaitGroup

	tasksDone atomic.Int64
	busy      atomic.Bool
}

// heartbeatInterval is how often the worker logs its load line.
const heartbeatInterval = time.Minute

// NewWorker connects to the broker and the status backend and prepares the
// task runner. No task is consumed until Start.
func NewWorker(cfg *config.Config) (*Worker, error) {
	ctx, cancel := context.WithCancel(context.Background())

	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		cancel()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	// One task end-to-end at a time; the broker holds the rest.
	if err := channel.Qos(1, 0, false); err != nil {
		conn.Close()
		cancel()
		return nil, fmt.Errorf("set prefetch: %w", err)
	}
	if _, err := channel.QueueDeclare(cfg.TaskQueue, true, false, false, false, nil); err != nil {
		conn.Close()
		cancel()
		return nil, fmt.Errorf("declare queue %s: %w", cfg.TaskQueue, err)
	}

	pool, err := newPool(ctx, cfg.DatabaseURL)
	if err != nil {
		conn.Close()
		cancel()
		return nil, fmt.Errorf("connect to status backend: %w", err)
	}

	store := status.NewPostgresStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		conn.Close()
		cancel()
		return nil, err
	}

	vectorStore := vector.NewPgStore(pool)
	if err := vectorStore.EnsureSchema(ctx); err != nil {
		// Embeddings are a secondary deliverable; a database without the
		// vector extension only loses semantic retrieval.
		logging.Warning(logging.CategoryWorker, "embedding store unavailable: %v", err)
		vectorStore = nil
	}

	w := &Worker{
		cfg:     cfg,
		conn:    conn,
		channel: channel,
		pool:    pool,
		store:   store,
		ctx:     ctx,
		cancel:  cancel,
	}
	w.runner = &task.Runner{
		Store:          store,
		NewAgent:       func(m *task.Message) (agent.Session, error) { return agent.New(m.Platform, cfg) },
		NewClients:     w.buildClients(vectorStore),
		NewTranscriber: w.buildTranscriber,
	}

	logging.Info(logging.CategoryWorker, "worker initialized workerID=%s queue=%s", cfg.WorkerID, cfg.TaskQueue)
	return w, nil
}

// Start consumes the task queue until a shutdown signal arrives, then drains
// the in-flight task and shuts down.
func (w *Worker) Start() error {
	deliveries, err := w.channel.Consume(w.cfg.TaskQueue, w.cfg.WorkerID, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", w.cfg.TaskQueue, err)
	}

	if w.cfg.MetricsAddr != "" {
		w.wg.Add(1)
		go w.serveMetrics()
	}
	if w.cfg.PProfAddr != "" {
		w.wg.Add(1)
		go w.servePProf()
	}

	w.consumeWG.Add(1)
	go w.consumeLoop(deliveries)

	w.wg.Add(1)
	go w.heartbeat()

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	select {
	case <-sigChan:
		logging.Info(logging.CategoryWorker, "received OS shutdown signal, starting drain")
	case <-w.ctx.Done():
		logging.Info(logging.CategoryWorker, "context cancelled, starting drain")
	}

	// Stop new deliveries; the consume loop finishes the task in flight.
	if err := w.channel.Cancel(w.cfg.WorkerID, false); err != nil {
		logging.Warning(logging.CategoryWorker, "consumer cancel failed: %v", err)
	}

	// Let the task in flight run to its own timeout before forcing the issue.
	done := make(chan struct{})
	go func() {
		w.consumeWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Info(logging.CategoryWorker, "drain complete")
	case <-time.After(w.cfg.TaskTimeout + time.Minute):
		logging.Warning(logging.CategoryWorker, "drain timeout exceeded, forcing shutdown")
	}

	w.cancel()
	w.wg.Wait()
	w.close()
	logging.Info(logging.CategoryWorker, "worker shutdown complete")
	return nil
}

func (w *Worker) consumeLoop(deliveries <-chan amqp.Delivery) {
	defer w.consumeWG.Done()

	for delivery := range deliveries {
		w.handleDelivery(delivery)
	}
	logging.Info(logging.CategoryWorker, "delivery channel closed")
	// A closed channel with no drain in progress means the broker went
	// away; shut the worker down rather than idle forever.
	w.cancel()
}

func (w *Worker) handleDelivery(delivery amqp.Delivery) {
	m, err := task.Parse(delivery.Body)
	if err != nil {
		// Undecodable payloads can never succeed; drop, don't requeue.
		logging.Error(logging.CategoryWorker, "dropping malformed task message: %v", err)
		if err := delivery.Nack(false, false); err != nil {
			logging.Warning(logging.CategoryWorker, "nack failed: %v", err)
		}
		return
	}

	start := time.Now()
	w.busy.Store(true)
	taskCtx, cancel := context.WithTimeout(w.ctx, w.cfg.TaskTimeout)
	terminal := w.runner.Run(taskCtx, m)
	cancel()
	w.busy.Store(false)
	w.tasksDone.Add(1)

	metrics.TasksProcessed.WithLabelValues(string(terminal)).Inc()
	metrics.TaskDuration.Observe(time.Since(start).Seconds())
	logging.Info(logging.CategoryWorker, "task finished taskID=%s status=%s duration=%v",
		m.TaskID, terminal, time.Since(start))

	// The outcome is recorded in the status table either way; the queue's
	// job is done. Requeueing a failed task would re-run a meeting that is
	// already over.
	if err := delivery.Ack(false); err != nil {
		logging.Warning(logging.CategoryWorker, "ack failed taskID=%s: %v", m.TaskID, err)
	}
}

// buildClients constructs the per-task collaborators from the message's
// apiKeys. Nothing here is cached across tasks.
func (w *Worker) buildClients(vectorStore *vector.PgStore) func(m *task.Message) (*task.Clients, error) {
	return func(m *task.Message) (*task.Clients, error) {
		nlpClient := nlp.NewClient(m.APIKeys.OpenAI, w.cfg.SummaryModel, w.cfg.EmbeddingModel)
		clients := &task.Clients{
			Notes:      notes.NewClient(m.APIKeys.Notion, m.NotionDBID),
			Summarizer: nlpClient,
		}
		if vectorStore != nil {
			clients.Embedder = nlpClient
			clients.Vector = vectorStore
		}
		return clients, nil
	}
}

func (w *Worker) buildTranscriber(m *task.Message) task.Transcriber {
	return transcribe.NewBridge(transcribe.Config{
		URL:            w.cfg.DeepgramURL,
		APIKey:         m.APIKeys.Deepgram,
		SampleRate:     w.cfg.SampleRate,
		Channels:       w.cfg.Channels,
		MaxDuration:    w.cfg.MaxSessionDuration,
		SilenceTimeout: w.cfg.SilenceTimeout,
	})
}

// heartbeat logs a periodic load line so a quiet worker is distinguishable
// from a dead one.
func (w *Worker) heartbeat() {
	defer w.wg.Done()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			logging.Info(logging.CategoryWorker, "heartbeat workerID=%s busy=%v tasksDone=%d",
				w.cfg.WorkerID, w.busy.Load(), w.tasksDone.Load())
		}
	}
}

func (w *Worker) serveMetrics() {
	defer w.wg.Done()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{Addr: w.cfg.MetricsAddr, Handler: mux}

	go func() {
		<-w.ctx.Done()
		server.Shutdown(context.Background())
	}()

	logging.Info(logging.CategoryWorker, "starting metrics server addr=%s", w.cfg.MetricsAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logging.Error(logging.CategoryWorker, "metrics server error: %v", err)
	}
}

func (w *Worker) servePProf() {
	defer w.wg.Done()

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", func(rw http.ResponseWriter, r *http.Request) {
		http.DefaultServeMux.ServeHTTP(rw, r)
	})
	server := &http.Server{Addr: w.cfg.PProfAddr, Handler: mux}

	go func() {
		<-w.ctx.Done()
		server.Shutdown(context.Background())
	}()

	logging.Info(logging.CategoryWorker, "starting pprof server addr=%s", w.cfg.PProfAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logging.Error(logging.CategoryWorker, "pprof server error: %v", err)
	}
}

func (w *Worker) close() {
	if w.channel != nil {
		if err := w.channel.Close(); err != nil {
			logging.Warning(logging.CategoryWorker, "channel close: %v", err)
		}
	}
	if w.conn != nil {
		if err := w.conn.Close(); err != nil {
			logging.Warning(logging.CategoryWorker, "broker connection close: %v", err)
		}
	}
	if w.pool != nil {
		w.pool.Close()
	}
}

// newPool opens the Postgres pool and registers the pgvector type on every
// connection. Registration failure is tolerated; it only means the database
// has no vector extension.
func newPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if err := pgxvector.RegisterTypes(ctx, conn); err != nil {
			logging.Debug(logging.CategoryWorker, "pgvector types not registered: %v", err)
		}
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
