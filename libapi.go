package servicebus

import (
	enginepkg "github.com/AndrewSinukov/service-bus/internal/engine"
	codecpkg "github.com/AndrewSinukov/service-bus/internal/engine/codec"
	configpkg "github.com/AndrewSinukov/service-bus/internal/engine/config"
	envelopepkg "github.com/AndrewSinukov/service-bus/internal/engine/envelope"
	idspkg "github.com/AndrewSinukov/service-bus/internal/engine/ids"
	loggingpkg "github.com/AndrewSinukov/service-bus/internal/engine/logging"
	msgpkg "github.com/AndrewSinukov/service-bus/internal/engine/message"
	sagapkg "github.com/AndrewSinukov/service-bus/internal/engine/saga"
	storagepkg "github.com/AndrewSinukov/service-bus/internal/engine/storage"
	transportpkg "github.com/AndrewSinukov/service-bus/internal/engine/transport"
)

type (
	Config              = configpkg.Config
	Environment         = configpkg.Environment
	Service             = enginepkg.Service
	ServiceDependencies = enginepkg.ServiceDependencies

	// Message model
	Message         = msgpkg.Message
	MessageKind     = msgpkg.Kind
	MessageRegistry = msgpkg.Registry
	MessageFactory  = msgpkg.Factory

	// Transport envelopes
	IncomingPackage = envelopepkg.Incoming
	OutgoingPackage = envelopepkg.Outgoing
	PackageAcker    = envelopepkg.Acker

	// Codec
	MessageDecoder = codecpkg.Decoder
	MessageEncoder = codecpkg.Encoder
	JSONCodec      = codecpkg.JSONCodec

	// Routing and execution
	HandlerCatalog      = enginepkg.Catalog
	HandlerDescriptor   = enginepkg.HandlerDescriptor
	HandlerOptions      = enginepkg.HandlerOptions
	HandlerFunc         = enginepkg.HandlerFunc
	Router              = enginepkg.Router
	RouterDeps          = enginepkg.RouterDeps
	Executor            = enginepkg.Executor
	EntryPointProcessor = enginepkg.EntryPointProcessor
	ProcessorMetrics    = enginepkg.ProcessorMetrics
	KernelContext       = enginepkg.KernelContext
	DeliveryOption      = enginepkg.DeliveryOption
	DeliveryOptions     = enginepkg.DeliveryOptions
	Endpoint            = enginepkg.Endpoint
	EndpointRouter      = enginepkg.EndpointRouter
	PublisherEndpoint   = enginepkg.PublisherEndpoint
	ResolverMap         = enginepkg.ResolverMap
	ObjectValidator     = enginepkg.ObjectValidator
	Violation           = enginepkg.Violation

	// Saga machinery
	Saga                   = sagapkg.Saga
	SagaBase               = sagapkg.Base
	SagaID                 = sagapkg.ID
	SagaStatus             = sagapkg.Status
	SagaProvider           = sagapkg.Provider
	SagaProviderConfig     = sagapkg.ProviderConfig
	SagaMetadata           = sagapkg.Metadata
	SagaMetadataCollection = sagapkg.MetadataCollection
	SagaStore              = sagapkg.Store
	StoredSaga             = sagapkg.StoredSaga
	Snapshot               = sagapkg.Snapshot
	SnapshotStore          = sagapkg.SnapshotStore
	EventStream            = sagapkg.EventStream
	StoredEvent            = sagapkg.StoredEvent
	Aggregate              = sagapkg.Aggregate
	AggregateReplayer      = sagapkg.Replayer
	SagaMessageDeliverer   = sagapkg.MessageDeliverer

	// Logging
	Logger    = loggingpkg.Logger
	LogFields = loggingpkg.Fields

	// Transport
	Transport         = transportpkg.Transport
	TransportConfig   = transportpkg.Config
	TransportBuilder  = transportpkg.Builder
	TransportRegistry = transportpkg.Registry

	// Errors
	DecodeFailedError          = codecpkg.DecodeFailedError
	ValidationFailedError      = enginepkg.ValidationFailedError
	ArgumentResolutionError    = enginepkg.ArgumentResolutionError
	EndpointNotConfiguredError = enginepkg.EndpointNotConfiguredError
	ConfigurationCheckError    = configpkg.CheckFailedError
	DuplicateSagaIDError       = sagapkg.DuplicateIDError
	StartSagaFailedError       = sagapkg.StartFailedError
	LoadSagaFailedError        = sagapkg.LoadFailedError
	SaveSagaFailedError        = sagapkg.SaveFailedError
	ExpiredSagaError           = sagapkg.ExpiredError
	SagaMetadataNotFoundError  = sagapkg.MetadataNotFoundError
	SagaAlreadyClosedError     = sagapkg.AlreadyClosedError
	StorageConnectionError     = storagepkg.ConnectionError
	StorageInteractionError    = storagepkg.InteractionError
	UniqueConstraintError      = storagepkg.UniqueConstraintError
	StorageOperationError      = storagepkg.OperationError
)

// Message kinds.
const (
	KindCommand = msgpkg.KindCommand
	KindEvent   = msgpkg.KindEvent
	KindQuery   = msgpkg.KindQuery
)

// Saga statuses.
const (
	SagaInProgress = sagapkg.StatusInProgress
	SagaCompleted  = sagapkg.StatusCompleted
	SagaFailed     = sagapkg.StatusFailed
	SagaExpired    = sagapkg.StatusExpired
)

// Environments.
const (
	EnvironmentProd = configpkg.EnvironmentProd
	EnvironmentDev  = configpkg.EnvironmentDev
	EnvironmentTest = configpkg.EnvironmentTest
)

// Envelope header keys.
const (
	HeaderMessageType = envelopepkg.HeaderMessageType
	HeaderTraceID     = envelopepkg.HeaderTraceID
	HeaderDelay       = envelopepkg.HeaderDelay
)

var (
	NewService = enginepkg.NewService

	ConfigFromEnv = configpkg.FromEnv

	NewMessageRegistry = msgpkg.NewRegistry
	WithParents        = msgpkg.WithParents

	NewIncomingPackage   = envelopepkg.NewIncoming
	PackageFromWatermill = envelopepkg.FromWatermill

	NewJSONCodec = codecpkg.NewJSONCodec
	Marshal      = codecpkg.Marshal
	Unmarshal    = codecpkg.Unmarshal
	Encode       = codecpkg.Encode
	Decode       = codecpkg.Decode

	NewHandlerCatalog      = enginepkg.NewCatalog
	NewHandler             = enginepkg.NewHandler
	NewRouter              = enginepkg.NewRouter
	NewEndpointRouter      = enginepkg.NewEndpointRouter
	NewPublisherEndpoint   = enginepkg.NewPublisherEndpoint
	NewEntryPointProcessor = enginepkg.NewEntryPointProcessor
	NewKernelContext       = enginepkg.NewKernelContext
	NewProcessorMetrics    = enginepkg.NewProcessorMetrics
	WithProcessorMetrics   = enginepkg.WithProcessorMetrics
	WithTraceID            = enginepkg.WithTraceID
	WithHeader             = enginepkg.WithHeader
	WithDelay              = enginepkg.WithDelay

	NewSagaProvider           = sagapkg.NewProvider
	NewSagaID                 = sagapkg.NewID
	NewSagaIDWithValue        = sagapkg.NewIDWithValue
	NewSagaMetadataCollection = sagapkg.NewMetadataCollection
	SagaIDFromMessage         = sagapkg.IDFromMessage
	EnsureSagaOpen            = sagapkg.EnsureOpen
	NewInMemorySagaStore      = sagapkg.NewInMemoryStore
	NewSQLSagaStore           = sagapkg.NewSQLStore
	OpenSagaSQLite            = sagapkg.OpenSQLite
	NewInMemorySnapshotStore  = sagapkg.NewInMemorySnapshotStore
	NewRedisSnapshotStore     = sagapkg.NewRedisSnapshotStore
	WithSnapshotTTL           = sagapkg.WithSnapshotTTL
	WithSnapshotKeyPrefix     = sagapkg.WithSnapshotKeyPrefix
	NewAggregateReplayer      = sagapkg.NewReplayer
	NewInMemoryEventStream    = sagapkg.NewInMemoryEventStream

	NewSlogLogger       = loggingpkg.NewSlogLogger
	NopLogger           = loggingpkg.Nop
	NewWatermillAdapter = loggingpkg.NewWatermillAdapter

	RegisterTransport        = transportpkg.Register
	BuildTransport           = transportpkg.Build
	DefaultTransportRegistry = transportpkg.DefaultRegistry
	NewTransportRegistry     = transportpkg.NewRegistry

	IsTransientStorageError = storagepkg.IsTransient
	ErrStorageRowNotFound   = storagepkg.ErrNotFound

	CreateULID = idspkg.CreateULID
)
