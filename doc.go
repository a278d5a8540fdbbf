// Package runebus is an in-process publish/subscribe event bus. Listeners
// register under exact event names or trailing-asterisk prefix patterns and
// run in ascending priority order; every dispatch flows through a pipeline of
// validation, rate limiting, middleware, hooks, listener delivery, signal
// routing, journaling, and optional forwarding to downstream brokers.
//
// A minimal setup fills a Config (or passes nil for defaults), creates a Bus
// with New or TryNew, registers listeners, and dispatches:
//
//	b := runebus.New(nil, nil, context.Background(), runebus.Dependencies{})
//	defer b.Close()
//	b.RegisterListener("order.*", func(ctx context.Context, evt *runebus.Event) error {
//		return process(evt.Payload)
//	})
//	b.Dispatch(ctx, "order.created", map[string]any{"id": 42}, "")
//
// # Dispatch Modes
//
// Every dispatch runs in one of three modes: sync delivers inline and returns
// the first pipeline error, async hands the event to a worker pool, and
// deferred parks it in a bounded queue until Drain is called. Schedule delays
// a dispatch by a duration; Replay re-dispatches journaled events. The empty
// mode string falls back to Config.DefaultMode.
//
// # Signals
//
// Beyond name-pattern listeners, the bus routes sender-scoped signals.
// Connect and ConnectMethod attach receivers filtered with On and From;
// method receivers are held through weak references, so a receiver whose
// owner has been collected is skipped and pruned instead of keeping the
// owner alive.
//
// # Journal and Forwarders
//
// Dispatched events are recorded in an event journal (in-memory ring or
// SQLite with an optional HMAC integrity chain) and can be forwarded to one
// of 8 downstream backends: channel, kafka, rabbitmq, nats, jetstream, http,
// io, and aws. Backends register themselves; import the ones you need:
//
//	import _ "github.com/runeforged/runebus/forward/kafka"
//
// # Middleware and Hooks
//
// Middleware transforms events before delivery; the default chain logs every
// dispatch, and AnnotateMiddleware and RedactMiddleware cover common shaping
// needs. LoggingHooks, MetricsHooks, and AlertingHooks bracket dispatch with
// before, after, and error callbacks, while Bus.HookRegistry addresses
// individual named hooks at the before_dispatch, after_dispatch, and
// on_error points for enabling, disabling, and removal at runtime.
//
// # Extensions
//
// ExtensionLoader hosts pluggable extensions that declare requirements on
// each other and are activated requirement-first, sharing services through a
// ServiceLocator and long-running components through a Lifecycle. The loader
// announces activation on the bus itself as extension.activated and
// extension.deactivated events.
//
// # Observability
//
// Stats exposes per-event dispatch counts, latency percentiles, throughput,
// and an error breakdown by category. With MetricsEnabled the bus registers
// Prometheus collectors, and DebugEnabled serves listeners, stats, deferred
// state, and metrics over HTTP on DebugPort.
package runebus
