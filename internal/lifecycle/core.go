package lifecycle

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fieldsync/sync-core/internal/bulkwriter"
	"github.com/fieldsync/sync-core/internal/durable"
	"github.com/fieldsync/sync-core/internal/engine"
	"github.com/fieldsync/sync-core/internal/fastpush"
	"github.com/fieldsync/sync-core/internal/metrics"
	"github.com/fieldsync/sync-core/internal/mutationqueue"
	"github.com/fieldsync/sync-core/internal/registry"
	"github.com/fieldsync/sync-core/internal/transport"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Core owns every component's lifetime: the durable store, transport,
// mutation queue, registry, engine, fast-push scheduler, and metrics sink
// (§9 "explicit values ... threaded into consumers, with a single root
// owning their lifetimes").
type Core struct {
	cfg Config

	Store     *durable.Store
	Client    *transport.Client
	Monitor   *transport.Monitor
	Registry  *registry.Registry
	Queue     *mutationqueue.Queue
	Writer    *bulkwriter.Writer
	Engine    *engine.Engine
	Scheduler *fastpush.Scheduler
	Metrics   *metrics.Sink

	diagServer *http.Server
	cancel     context.CancelFunc
}

// New constructs a Core per cfg but does not start any background work;
// call Start for that.
func New(cfg Config) (*Core, error) {
	configureLogging(cfg.Dev)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if transport.NearExpiry(cfg.AuthToken, 60*time.Second) {
		log.Warn().Msg("lifecycle: auth token expires within 60s; requests may start failing with 401")
	}

	store, err := durable.Open(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: open store: %w", err)
	}

	client := transport.NewClient(cfg.BaseURL, cfg.AuthToken)

	monitor, err := transport.NewMonitor(cfg.BaseURL, cfg.ConnectivityPollInterval)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("lifecycle: connectivity monitor: %w", err)
	}

	reg := registry.New()
	sink := metrics.New(cfg.MetricsCapacity)
	writer := bulkwriter.New(store)

	ctx, cancel := context.WithCancel(context.Background())

	scheduler := fastpush.New(ctx, fastpush.Config{
		Debounce:         cfg.FastPushDebounce,
		MaxBuffer:        cfg.FastPushMaxBuffer,
		ScheduleFullSync: cfg.ScheduleFullSync,
		FullSyncThrottle: cfg.FullSyncThrottle,
		PreferWifi:       cfg.FullSyncPreferWifi,
	}, fastpush.Hooks{})

	queue := mutationqueue.New(store, mutationqueue.Hooks{
		Online:          monitor.Online,
		FastPushEnabled: func() bool { return cfg.FastPushOnly },
		NotifyFastPush:  scheduler.NotifyMutationAdded,
	})

	eng := engine.New(engine.Config{
		BaseURL:              cfg.BaseURL,
		AuthToken:            cfg.AuthToken,
		TechnicianID:         cfg.TechnicianID,
		ParallelEntities:     cfg.ParallelEntities,
		MaxParallelEntities:  cfg.MaxParallelEntities,
		ParallelSafeEntities: cfg.ParallelSafeEntities,
		SequentialEntities:   cfg.SequentialEntities,
	}, reg, queue, writer, store, client)

	eng.OnConflict = func(entity, entityID string) {
		sink.Record(metrics.Record{Kind: "conflict", Entity: entity, EntityID: entityID, At: time.Now().UnixMilli()})
	}

	eng.OnBulkResult = func(entity string, res bulkwriter.Result) {
		for i := 0; i < res.ChunksBisected; i++ {
			sink.IncChunksBisected()
		}
		for _, f := range res.Failures {
			sink.Record(metrics.Record{Kind: "bulk_invalid_record", Entity: entity, Message: f.Err.Error(), At: time.Now().UnixMilli()})
		}
	}

	scheduler.SetHooks(fastpush.Hooks{
		Online: monitor.Online,
		PushOnly: func(ctx context.Context) error {
			results := eng.PushOnly(ctx)
			for _, r := range results {
				if !r.Success {
					return fmt.Errorf("push-only cycle failed for %s", r.Entity)
				}
			}
			return nil
		},
		FullSync: func(ctx context.Context) {
			eng.SyncWithRetry(ctx)
		},
		OnThrottled: sink.IncThrottledFullSyncs,
	})

	monitor.Subscribe(func(online bool) {
		if online {
			eng.SetOnline()
			go eng.SyncWithRetry(ctx)
		} else {
			eng.SetOffline()
		}
	})

	// §4.4.3 step 5: a completed full sync notifies the fast-push scheduler
	// so its throttle window and pending full-sync timer stay in sync with
	// syncs driven outside the scheduler itself (e.g. the initial sync, or
	// a reconnect auto-sync).
	eng.Subscribe(func(ev engine.Event) {
		if ev.Type == engine.EventSyncComplete {
			scheduler.NotifyFullSyncCompleted()
		}
	})

	wireMetrics(sink, eng, queue)

	return &Core{
		cfg:       cfg,
		Store:     store,
		Client:    client,
		Monitor:   monitor,
		Registry:  reg,
		Queue:     queue,
		Writer:    writer,
		Engine:    eng,
		Scheduler: scheduler,
		Metrics:   sink,
		cancel:    cancel,
	}, nil
}

// RegisterDescriptor registers an entity descriptor and ensures its local
// table exists.
func (c *Core) RegisterDescriptor(d registry.Descriptor) error {
	if err := c.Store.EnsureEntityTable(d.TableName, d.Columns, d.PrimaryKeys); err != nil {
		return err
	}
	c.Registry.Register(d)
	return nil
}

// Start triggers the initial sync, starts the connectivity monitor, and —
// if configured — the diagnostics server.
func (c *Core) Start(ctx context.Context) error {
	c.Monitor.Start()

	if c.cfg.DiagnosticsAddr != "" {
		c.diagServer = newDiagnosticsServer(c.cfg.DiagnosticsAddr, c)
		go func() {
			if err := c.diagServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("diagnostics server stopped")
			}
		}()
	}

	go c.Engine.SyncWithRetry(ctx)
	return nil
}

// Close releases every owned resource.
func (c *Core) Close() error {
	c.cancel()
	c.Scheduler.CancelAll()
	c.Monitor.Close()
	if c.diagServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.diagServer.Shutdown(shutdownCtx)
	}
	return c.Store.Close()
}

func configureLogging(dev bool) {
	if dev {
		out := colorable.NewColorableStdout()
		isTerminal := isatty.IsTerminal(os.Stdout.Fd())
		writer := zerolog.ConsoleWriter{Out: out, NoColor: !isTerminal, TimeFormat: time.RFC3339}
		log.Logger = zerolog.New(writer).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func wireMetrics(sink *metrics.Sink, eng *engine.Engine, queue *mutationqueue.Queue) {
	eng.Subscribe(func(ev engine.Event) {
		switch ev.Type {
		case engine.EventSyncComplete:
			sink.IncCycles()
			for range ev.Results {
				sink.IncEntitiesSynced()
			}
		case engine.EventMutationPushed:
			sink.IncPushesApplied()
		case engine.EventMutationFailed:
			if ev.Terminal {
				sink.IncPushesRejected()
			} else {
				sink.IncPushesFailed()
			}
		}
		sink.Record(metrics.Record{
			CorrelationID: ev.CorrelationID,
			Kind:          string(ev.Type),
			Entity:        ev.Entity,
			EntityID:      ev.EntityID,
			Message:       ev.Message,
			At:            time.Now().UnixMilli(),
		})
	})

	queue.Subscribe(func(ev mutationqueue.Event) {
		sink.Record(metrics.Record{
			Kind:     string(ev.Type),
			Entity:   ev.Entity,
			EntityID: ev.EntityID,
			At:       time.Now().UnixMilli(),
		})
	})
}
