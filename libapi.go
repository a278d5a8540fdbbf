package runebus

import (
	"context"

	buspkg "github.com/runeforged/runebus/internal/bus"
	configpkg "github.com/runeforged/runebus/internal/bus/config"
	errspkg "github.com/runeforged/runebus/internal/bus/errs"
	eventpkg "github.com/runeforged/runebus/internal/bus/event"
	hookspkg "github.com/runeforged/runebus/internal/bus/hooks"
	idspkg "github.com/runeforged/runebus/internal/bus/ids"
	jsoncodec "github.com/runeforged/runebus/internal/bus/jsoncodec"
	loggingpkg "github.com/runeforged/runebus/internal/bus/logging"
	modspkg "github.com/runeforged/runebus/internal/bus/mods"
	ratelimitpkg "github.com/runeforged/runebus/internal/bus/ratelimit"
	registrypkg "github.com/runeforged/runebus/internal/bus/registry"
	schemapkg "github.com/runeforged/runebus/internal/bus/schema"
	signalpkg "github.com/runeforged/runebus/internal/bus/signal"
	storepkg "github.com/runeforged/runebus/internal/bus/store"
	forwardpkg "github.com/runeforged/runebus/forward"
)

type (
	Config       = configpkg.Config
	Bus          = buspkg.Bus
	Dependencies = buspkg.Dependencies
	Validator    = buspkg.Validator

	Event       = eventpkg.Event
	EventOption = eventpkg.Option
	Dispatch    = eventpkg.Dispatch

	Listener       = registrypkg.Listener
	Predicate      = registrypkg.Predicate
	ListenerOption = registrypkg.Option
	ListenerInfo   = buspkg.ListenerInfo

	// Signal routing
	Delivery          = signalpkg.Delivery
	Outcome           = signalpkg.Outcome
	Receiver          = signalpkg.Receiver
	MethodFunc[T any] = signalpkg.MethodFunc[T]
	ConnectOption     = signalpkg.ConnectOption
	Ref               = signalpkg.Ref
	Router            = signalpkg.Router

	Middleware             = buspkg.Middleware
	MiddlewareBuilder      = buspkg.MiddlewareBuilder
	MiddlewareRegistration = buspkg.MiddlewareRegistration

	// Dispatch lifecycle hooks
	BeforeHook = buspkg.BeforeHook
	AfterHook  = buspkg.AfterHook
	ErrorHook  = buspkg.ErrorHook
	Hooks      = buspkg.Hooks

	// Named hook registry
	NamedHook    = hookspkg.Hook
	HookInfo     = hookspkg.Info
	HookOption   = hookspkg.Option
	HookRegistry = hookspkg.Registry

	// Event journal
	Record       = storepkg.Record
	Filter       = storepkg.Filter
	Store        = storepkg.Store
	Querier      = storepkg.Querier
	NopStore     = storepkg.Nop
	MemoryStore  = storepkg.Memory
	SQLiteStore  = storepkg.SQLite
	SQLiteOption = storepkg.SQLiteOption
	Signer       = storepkg.Signer

	// Admission
	Limiter        = ratelimitpkg.Limiter
	NopLimiter     = ratelimitpkg.Nop
	PerNameLimiter = ratelimitpkg.PerName

	// Payload validation
	SchemaValidator = schemapkg.Validator
	RuleFunc        = schemapkg.RuleFunc
	NopValidator    = schemapkg.Nop

	// Per-event statistics
	DispatchStats     = buspkg.DispatchStats
	LatencyMetrics    = buspkg.LatencyMetrics
	ThroughputMetrics = buspkg.ThroughputMetrics
	ErrorBreakdown    = buspkg.ErrorBreakdown
	ErrorCategory     = buspkg.ErrorCategory
	ErrorClassifier   = buspkg.ErrorClassifier
	ResourceUsage     = buspkg.ResourceUsage

	// Prometheus metrics
	Metrics                 = buspkg.Metrics
	DeferredMetrics         = buspkg.DeferredMetrics
	DeferredNameMetrics     = buspkg.DeferredNameMetrics
	DeferredMetricsSnapshot = buspkg.DeferredMetricsSnapshot

	// Extensions
	Extension       = modspkg.Extension
	ExtensionBase   = modspkg.Base
	ExtensionHost   = modspkg.Host
	ExtensionLoader = modspkg.Loader
	Manifest        = modspkg.Manifest
	ServiceLocator  = modspkg.Locator
	Lifecycle       = modspkg.Lifecycle
	Component       = modspkg.Component

	// Forwarding backends (modular package structure)
	Forwarder            = forwardpkg.Forwarder
	ForwarderBuilder     = forwardpkg.Builder
	ForwarderConfig      = forwardpkg.Config
	ForwarderRegistry    = forwardpkg.Registry
	Capabilities         = forwardpkg.Capabilities
	CapabilitiesProvider = forwardpkg.CapabilitiesProvider
	PublisherForwarder   = forwardpkg.PublisherForwarder

	// Error types carried by dispatch results
	ValidationError = errspkg.ValidationError
	AdmissionError  = errspkg.AdmissionError
	HookError       = errspkg.HookError
	MiddlewareError = errspkg.MiddlewareError
	ListenerError   = errspkg.ListenerError

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger
	NopLogger     = loggingpkg.NopLogger
)

var (
	New            = buspkg.New
	TryNew         = buspkg.TryNew
	Default        = buspkg.Default
	DefaultConfig  = configpkg.Default
	ValidateConfig = configpkg.ValidateConfig
	ConfigFromEnv  = configpkg.FromEnv
	ConfigFromFile = configpkg.FromFile
	ConfigFromYAML = configpkg.FromYAML
	ConfigFromJSON = configpkg.FromJSON

	NewEvent          = eventpkg.New
	WithPayload       = eventpkg.WithPayload
	WithMetadata      = eventpkg.WithMetadata
	WithCorrelationID = eventpkg.WithCorrelationID
	WithContext       = eventpkg.WithContext
	CorrelationIDFrom = eventpkg.CorrelationIDFrom
	DispatchFrom      = eventpkg.DispatchFrom
	EventValue        = eventpkg.Value
	SetEventValue     = eventpkg.SetValue

	WithPriority  = registrypkg.WithPriority
	WithPredicate = registrypkg.WithPredicate
	PayloadEquals = registrypkg.PayloadEquals

	// Signal connection options
	On        = signalpkg.On
	From      = signalpkg.From
	Anonymous = signalpkg.Anonymous

	DefaultMiddlewares  = buspkg.DefaultMiddlewares
	AnnotateMiddleware  = buspkg.AnnotateMiddleware
	LogEventsMiddleware = buspkg.LogEventsMiddleware
	RedactMiddleware    = buspkg.RedactMiddleware

	LoggingHooks  = buspkg.LoggingHooks
	MetricsHooks  = buspkg.MetricsHooks
	AlertingHooks = buspkg.AlertingHooks

	NewHookRegistry  = hookspkg.NewRegistry
	WithHookPriority = hookspkg.WithPriority
	HookDisabled     = hookspkg.Disabled

	NewMemoryStore  = storepkg.NewMemory
	OpenSQLite      = storepkg.OpenSQLite
	WithSigner      = storepkg.WithSigner
	NewSigner       = storepkg.NewSigner
	RecordFromEvent = storepkg.FromEvent

	NewPerNameLimiter = ratelimitpkg.NewPerName

	NewSchemaValidator  = schemapkg.NewValidator
	ValidName           = schemapkg.ValidName
	RequirePayloadKeys  = schemapkg.RequirePayloadKeys
	RequireMetadataKeys = schemapkg.RequireMetadataKeys

	NewMetrics         = buspkg.NewMetrics
	NewDeferredMetrics = buspkg.NewDeferredMetrics

	// Extension loading
	NewExtensionLoader = modspkg.NewLoader
	NewExtensionBase   = modspkg.NewBase
	ManifestOf         = modspkg.ManifestOf
	NewServiceLocator  = modspkg.NewLocator
	NewLifecycle       = modspkg.NewLifecycle

	// Forwarder registry. Import individual backends via:
	// _ "github.com/runeforged/runebus/forward/kafka"
	DefaultForwarderRegistry          = forwardpkg.DefaultRegistry
	RegisterForwarder                 = forwardpkg.Register
	RegisterForwarderWithCapabilities = forwardpkg.RegisterWithCapabilities
	BuildForwarder                    = forwardpkg.Build
	MustBuildForwarder                = forwardpkg.MustBuild
	GetCapabilities                   = forwardpkg.GetCapabilities
	NewPublisherForwarder             = forwardpkg.NewPublisherForwarder
	MarshalRecord                     = forwardpkg.MarshalRecord
	UnmarshalRecord                   = forwardpkg.UnmarshalRecord

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	NewSlogServiceLogger    = loggingpkg.NewSlogServiceLogger
	NewDefaultServiceLogger = loggingpkg.NewDefaultServiceLogger
	NewWatermillAdapter     = loggingpkg.NewWatermillAdapter

	CreateULID       = idspkg.CreateULID
	NewCorrelationID = idspkg.CreateCorrelationID

	ErrBusRequired       = errspkg.ErrBusRequired
	ErrBusClosed         = errspkg.ErrBusClosed
	ErrPatternRequired   = errspkg.ErrPatternRequired
	ErrListenerRequired  = errspkg.ErrListenerRequired
	ErrReceiverRequired  = errspkg.ErrReceiverRequired
	ErrOwnerRequired     = errspkg.ErrOwnerRequired
	ErrQueueFull         = errspkg.ErrQueueFull
	ErrSchedulerClosed   = errspkg.ErrSchedulerClosed
	ErrStoreClosed       = errspkg.ErrStoreClosed
	ErrQueryUnsupported  = errspkg.ErrQueryUnsupported
	ErrForwarderRequired = errspkg.ErrForwarderRequired

	ErrPayloadTypeRequired  = errspkg.ErrPayloadTypeRequired
	ErrPayloadPointerNeeded = errspkg.ErrPayloadPointerNeeded

	ErrHookRequired     = errspkg.ErrHookRequired
	ErrHookNameRequired = errspkg.ErrHookNameRequired
	ErrHookExists       = errspkg.ErrHookExists

	ErrExtensionRequired     = errspkg.ErrExtensionRequired
	ErrExtensionNameRequired = errspkg.ErrExtensionNameRequired
	ErrExtensionExists       = errspkg.ErrExtensionExists
	ErrServiceNameRequired   = errspkg.ErrServiceNameRequired
	ErrServiceExists         = errspkg.ErrServiceExists
	ErrServiceNotFound       = errspkg.ErrServiceNotFound
)

// Dispatch modes accepted by Dispatch, Schedule and Replay. The empty string
// falls back to Config.DefaultMode.
const (
	ModeSync     = buspkg.ModeSync
	ModeAsync    = buspkg.ModeAsync
	ModeDeferred = buspkg.ModeDeferred
)

// Metadata keys stamped on every event at construction.
const (
	MetaTimestamp     = eventpkg.MetaTimestamp
	MetaCorrelationID = eventpkg.MetaCorrelationID
)

// Named hook points used with Bus.HookRegistry.
const (
	PointBeforeDispatch = buspkg.PointBeforeDispatch
	PointAfterDispatch  = buspkg.PointAfterDispatch
	PointOnError        = buspkg.PointOnError
)

// DefaultPriority is the listener and named-hook priority used when no
// priority option is given. Lower priorities run earlier.
const DefaultPriority = registrypkg.DefaultPriority

// AnySignal connects a receiver to every signal name.
const AnySignal = signalpkg.AnySignal

// Events the extension loader dispatches as extensions come and go.
const (
	ExtensionActivated   = modspkg.EventActivated
	ExtensionDeactivated = modspkg.EventDeactivated
)

// Error category constants for ErrorClassifier.
const (
	ErrorCategoryNone       = buspkg.ErrorCategoryNone
	ErrorCategoryValidation = buspkg.ErrorCategoryValidation
	ErrorCategoryAdmission  = buspkg.ErrorCategoryAdmission
	ErrorCategoryMiddleware = buspkg.ErrorCategoryMiddleware
	ErrorCategoryListener   = buspkg.ErrorCategoryListener
	ErrorCategoryOther      = buspkg.ErrorCategoryOther
)

// The bus satisfies the host surface extensions are registered against.
var _ ExtensionHost = (*Bus)(nil)

func Typed[T any](fn func(ctx context.Context, payload T, evt *Event) error) (Listener, error) {
	return buspkg.Typed(fn)
}

func MustTyped[T any](fn func(ctx context.Context, payload T, evt *Event) error) Listener {
	return buspkg.MustTyped(fn)
}

func ConnectMethod[T any](b *Bus, owner *T, method MethodFunc[T], opts ...ConnectOption) (*Ref, error) {
	return buspkg.ConnectMethod(b, owner, method, opts...)
}

func FromOwner[S any](sender *S) ConnectOption {
	return signalpkg.FromOwner(sender)
}

func SenderOf[S any](sender *S) any {
	return signalpkg.SenderOf(sender)
}

func PayloadType[T any](key string) RuleFunc {
	return schemapkg.PayloadType[T](key)
}

func ResolveService[T any](l *ServiceLocator, name string) (T, error) {
	return modspkg.Resolve[T](l, name)
}
