package bus

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/runeforged/runebus/forward"
	"github.com/runeforged/runebus/internal/bus/config"
	"github.com/runeforged/runebus/internal/bus/errs"
	"github.com/runeforged/runebus/internal/bus/event"
	"github.com/runeforged/runebus/internal/bus/hooks"
	"github.com/runeforged/runebus/internal/bus/logging"
	"github.com/runeforged/runebus/internal/bus/ratelimit"
	"github.com/runeforged/runebus/internal/bus/registry"
	"github.com/runeforged/runebus/internal/bus/schema"
	"github.com/runeforged/runebus/internal/bus/signal"
	"github.com/runeforged/runebus/internal/bus/store"
)

// Validator checks an event before it enters the pipeline. The schema
// package provides the default implementation and a Nop.
type Validator interface {
	Validate(name string, payload, metadata map[string]any) error
}

// Dependencies allows callers to swap bus collaborators. Zero value gives
// the config-driven defaults.
type Dependencies struct {
	// Store overrides the config-selected event journal.
	Store store.Store

	// Forwarder overrides the config-selected downstream transport.
	Forwarder forward.Forwarder

	// Limiter overrides the config-driven admission limiter.
	Limiter ratelimit.Limiter

	// Validator overrides the default schema validator.
	Validator Validator

	// Middlewares are registered after the defaults, in order.
	Middlewares []MiddlewareRegistration

	// DisableDefaultMiddlewares skips registering DefaultMiddlewares.
	DisableDefaultMiddlewares bool

	// Registerer receives the Prometheus collectors when metrics are
	// enabled. Nil falls back to the default registerer.
	Registerer prometheus.Registerer

	// ErrorClassifier overrides how per-event stats bucket errors.
	ErrorClassifier ErrorClassifier
}

// Bus is an in-process publish/subscribe event bus. It owns its listener
// registry, signal router, hook slices and collaborators; multiple
// independent buses per process are supported.
type Bus struct {
	conf   *config.Config
	logger logging.ServiceLogger

	registry *registry.Registry
	router   *signal.Router

	validator Validator
	limiter   ratelimit.Limiter
	store     store.Store
	forwarder forward.Forwarder

	middlewaresMu sync.RWMutex
	middlewares   []middlewareEntry

	hooksMu     sync.RWMutex
	beforeHooks []BeforeHook
	afterHooks  []AfterHook
	errorHooks  []ErrorHook

	hookReg *hooks.Registry

	async    *asyncPool
	deferred *deferredQueue
	sched    *scheduler

	metrics         *Metrics
	deferredMetrics *DeferredMetrics

	statsMu    sync.RWMutex
	stats      map[string]*DispatchStats
	resources  *resourceTracker
	classifier ErrorClassifier

	debug *http.Server

	closed atomic.Bool
}

// New creates a Bus and panics when construction fails. Use TryNew when
// the error should be handled instead.
func New(conf *config.Config, log logging.ServiceLogger, appContext context.Context, deps Dependencies) *Bus {
	b, err := TryNew(conf, log, appContext, deps)
	if err != nil {
		panic(err)
	}
	return b
}

// TryNew creates a Bus from the given config, logger and dependency
// overrides. A nil config means config.Default(), a nil logger the slog
// default. appContext is used while constructing the forwarding backend.
func TryNew(conf *config.Config, log logging.ServiceLogger, appContext context.Context, deps Dependencies) (*Bus, error) {
	if conf == nil {
		conf = config.Default()
	}
	if log == nil {
		log = logging.NewDefaultServiceLogger()
	}
	if appContext == nil {
		appContext = context.Background()
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	b := &Bus{
		conf:       conf,
		logger:     log,
		registry:   registry.New(),
		router:     signal.NewRouter(),
		hookReg:    hooks.NewRegistry(),
		deferred:   newDeferredQueue(conf.DeferredQueueSize),
		sched:      newScheduler(),
		stats:      make(map[string]*DispatchStats),
		resources:  newResourceTracker(),
		classifier: deps.ErrorClassifier,
	}

	b.validator = deps.Validator
	if b.validator == nil {
		b.validator = schema.NewValidator()
	}

	b.limiter = deps.Limiter
	if b.limiter == nil {
		if conf.RateLimitPerSecond > 0 {
			b.limiter = ratelimit.NewPerName(conf.RateLimitPerSecond, conf.RateLimitBurst)
		} else {
			b.limiter = ratelimit.Nop{}
		}
	}

	if conf.MetricsEnabled {
		b.metrics = NewMetrics(deps.Registerer)
		if err := b.metrics.Register(); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		b.deferredMetrics = NewDeferredMetrics(deps.Registerer)
		if err := b.deferredMetrics.Register(); err != nil {
			return nil, fmt.Errorf("register deferred metrics: %w", err)
		}
	}

	b.store = deps.Store
	if b.store == nil {
		st, err := openStore(conf)
		if err != nil {
			return nil, err
		}
		b.store = st
	}

	b.forwarder = deps.Forwarder
	if b.forwarder == nil && conf.Forwarder != "" {
		fwd, err := forward.Build(appContext, conf, logging.NewWatermillAdapter(log))
		if err != nil {
			b.closeCollaborators()
			return nil, fmt.Errorf("build forwarder: %w", err)
		}
		b.forwarder = fwd
	}

	if !deps.DisableDefaultMiddlewares {
		for _, reg := range DefaultMiddlewares() {
			if err := b.RegisterMiddleware(reg); err != nil {
				b.closeCollaborators()
				return nil, err
			}
		}
	}
	for _, reg := range deps.Middlewares {
		if err := b.RegisterMiddleware(reg); err != nil {
			b.closeCollaborators()
			return nil, err
		}
	}

	b.async = newAsyncPool(conf.AsyncWorkers, conf.AsyncQueueSize, log, b.metrics)

	if conf.DebugEnabled {
		b.startDebugServer()
	}

	log.Debug("Bus constructed", logging.LogFields{
		"default_mode": conf.DefaultMode,
		"store":        conf.Store,
		"forwarder":    conf.Forwarder,
	})

	return b, nil
}

// openStore builds the config-selected journal. "none" and empty return a
// nil store, which disables persistence entirely.
func openStore(conf *config.Config) (store.Store, error) {
	switch strings.ToLower(conf.Store) {
	case "", "none":
		return nil, nil
	case "memory":
		return store.NewMemory(conf.MemoryCapacity), nil
	case "sqlite":
		var opts []store.SQLiteOption
		if conf.IntegrityKey != "" {
			signer, err := store.NewSigner([]byte(conf.IntegrityKey))
			if err != nil {
				return nil, fmt.Errorf("integrity signer: %w", err)
			}
			opts = append(opts, store.WithSigner(signer))
		}
		st, err := store.OpenSQLite(conf.SQLiteFile, opts...)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", conf.Store)
	}
}

func (b *Bus) closeCollaborators() error {
	var errList []error
	if b.forwarder != nil {
		if err := b.forwarder.Close(); err != nil {
			errList = append(errList, fmt.Errorf("forwarder: %w", err))
		}
	}
	if b.store != nil {
		if err := b.store.Close(); err != nil {
			errList = append(errList, fmt.Errorf("store: %w", err))
		}
	}
	return errors.Join(errList...)
}

// Close shuts the bus down: pending scheduled dispatches are cancelled,
// queued async units are delivered, then the debug server, forwarder and
// store are closed. Close is idempotent; dispatching on a closed bus
// returns ErrBusClosed.
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	b.sched.close()
	b.async.close()

	var errList []error
	if b.debug != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := b.debug.Shutdown(ctx); err != nil {
			errList = append(errList, fmt.Errorf("debug server: %w", err))
		}
		cancel()
	}
	if err := b.closeCollaborators(); err != nil {
		errList = append(errList, err)
	}

	b.logger.Debug("Bus closed", nil)
	return errors.Join(errList...)
}

func (b *Bus) isClosed() bool {
	return b.closed.Load()
}

// Replay re-dispatches stored records matching the filter as fresh events.
// Each replayed event gets a new correlation id; the original id is kept
// under the "replay_of" metadata key. It returns the number of records
// dispatched; a failing record does not stop the rest.
func (b *Bus) Replay(ctx context.Context, filter store.Filter, mode string) (int, error) {
	if b.isClosed() {
		return 0, errs.ErrBusClosed
	}
	if b.store == nil {
		return 0, errs.ErrQueryUnsupported
	}
	querier, ok := b.store.(store.Querier)
	if !ok {
		return 0, errs.ErrQueryUnsupported
	}

	records, err := querier.Query(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("query store: %w", err)
	}

	var errList []error
	replayed := 0
	for _, rec := range records {
		md := maps.Clone(rec.Metadata)
		if md == nil {
			md = map[string]any{}
		}
		delete(md, event.MetaCorrelationID)
		delete(md, event.MetaTimestamp)
		md["replay_of"] = rec.CorrelationID

		evt := event.New(rec.Name,
			event.WithPayload(maps.Clone(rec.Payload)),
			event.WithMetadata(md),
		)
		if err := b.DispatchEvent(ctx, evt, mode); err != nil {
			errList = append(errList, fmt.Errorf("replay %s: %w", rec.ID, err))
			continue
		}
		replayed++
	}

	return replayed, errors.Join(errList...)
}

// Router exposes the sender/signal router for Connect and Send.
func (b *Bus) Router() *signal.Router { return b.router }

// HookRegistry exposes the named hook registry the pipeline invokes at
// the before_dispatch, after_dispatch and on_error points.
func (b *Bus) HookRegistry() *hooks.Registry { return b.hookReg }

// Config returns the bus configuration.
func (b *Bus) Config() *config.Config { return b.conf }

// Logger returns the bus logger.
func (b *Bus) Logger() logging.ServiceLogger { return b.logger }

// Store returns the event journal, or nil when persistence is disabled.
func (b *Bus) Store() store.Store { return b.store }

// Validator returns the active schema validator.
func (b *Bus) Validator() Validator { return b.validator }

// AsyncQueueDepth returns the number of queued async delivery units.
func (b *Bus) AsyncQueueDepth() int { return b.async.depth() }

var (
	defaultOnce sync.Once
	defaultBus  *Bus
)

// Default returns a process-wide bus with default configuration, built
// lazily on first use. It is an ordinary Bus; libraries that need
// isolation should construct their own.
func Default() *Bus {
	defaultOnce.Do(func() {
		defaultBus = New(config.Default(), logging.NewDefaultServiceLogger(), context.Background(), Dependencies{})
	})
	return defaultBus
}
