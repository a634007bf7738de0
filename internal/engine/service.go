package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AndrewSinukov/service-bus/internal/engine/codec"
	configpkg "github.com/AndrewSinukov/service-bus/internal/engine/config"
	"github.com/AndrewSinukov/service-bus/internal/engine/envelope"
	idspkg "github.com/AndrewSinukov/service-bus/internal/engine/ids"
	"github.com/AndrewSinukov/service-bus/internal/engine/logging"
	msgs "github.com/AndrewSinukov/service-bus/internal/engine/message"
	transportpkg "github.com/AndrewSinukov/service-bus/internal/engine/transport"
)

const defaultConcurrency = 16

// ServiceDependencies holds the optional collaborators a Service can use.
// Leave fields nil to skip the related feature.
type ServiceDependencies struct {
	Validator         ObjectValidator
	Resolvers         ResolverMap
	TransportRegistry *transportpkg.Registry
	MetricsRegisterer prometheus.Registerer
}

// Service wires a transport, the codec, the routers, and the entry point
// processor into a running consumer for one entry point queue.
type Service struct {
	conf      *configpkg.Config
	logger    logging.Logger
	registry  *msgs.Registry
	transport transportpkg.Transport
	endpoints *EndpointRouter
	encoder   codec.Encoder
	processor *EntryPointProcessor

	runOnce sync.Once
}

// NewService builds the runtime for the supplied configuration. The message
// registry and handler catalog must be fully populated; both are frozen
// here.
func NewService(ctx context.Context, conf *configpkg.Config, logger logging.Logger, registry *msgs.Registry, catalog *Catalog, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, fmt.Errorf("servicebus: config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("servicebus: logger is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("servicebus: message registry is required")
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if err := registry.Freeze(); err != nil {
		return nil, err
	}
	if catalog == nil {
		catalog = NewCatalog()
	}
	catalog.Freeze()

	logger.Info("creating service bus entry point", logging.Fields{
		"entry_point": conf.EntryPointName,
		"environment": conf.Environment,
		"transport":   conf.Transport,
	})

	registryToUse := deps.TransportRegistry
	if registryToUse == nil {
		registryToUse = transportpkg.DefaultRegistry
	}
	transport, err := registryToUse.Build(ctx, conf, logging.NewWatermillAdapter(logger))
	if err != nil {
		return nil, fmt.Errorf("servicebus: failed to build transport: %w", err)
	}

	router, err := NewRouter(catalog, registry, RouterDeps{
		Validator: deps.Validator,
		Resolvers: deps.Resolvers,
	})
	if err != nil {
		return nil, err
	}

	jsonCodec := codec.NewJSONCodec(registry)
	endpoints := NewEndpointRouter()

	var processorOpts []ProcessorOption
	if deps.MetricsRegisterer != nil {
		processorOpts = append(processorOpts, WithProcessorMetrics(
			NewProcessorMetrics(deps.MetricsRegisterer, conf.EntryPointName),
		))
	}

	s := &Service{
		conf:      conf,
		logger:    logger,
		registry:  registry,
		transport: transport,
		endpoints: endpoints,
		encoder:   jsonCodec,
		processor: NewEntryPointProcessor(jsonCodec, jsonCodec, registry, router, endpoints, logger, processorOpts...),
	}
	return s, nil
}

// Endpoints exposes the outgoing route table for bootstrap wiring. Freeze
// happens on Run.
func (s *Service) Endpoints() *EndpointRouter { return s.endpoints }

// RouteToDestination binds an outgoing message type to a destination on the
// service's own transport publisher.
func (s *Service) RouteToDestination(messageType, destination string) error {
	return s.endpoints.Add(messageType, NewPublisherEndpoint(destination, destination, s.transport.Publisher))
}

// Processor returns the entry point processor, mainly for embedding the
// pipeline into custom consume loops.
func (s *Service) Processor() *EntryPointProcessor { return s.processor }

// Delivery sends a message from outside any handler, for example an initial
// command from a bootstrap routine, under the same kind-aware routing as the
// kernel context: commands and queries require exactly one endpoint, events
// fan out. A fresh trace id is generated when none is supplied.
func (s *Service) Delivery(ctx context.Context, m msgs.Message, opts ...DeliveryOption) error {
	return dispatchDelivery(ctx, s.registry, s.encoder, s.endpoints, s.logger, idspkg.CreateULID(), m, opts)
}

// Run consumes the entry point queue until the context is cancelled.
// Packages are processed concurrently up to the configured bound; each gets
// its own pipeline run.
func (s *Service) Run(ctx context.Context) error {
	var runErr error
	s.runOnce.Do(func() {
		runErr = s.run(ctx)
	})
	return runErr
}

func (s *Service) run(ctx context.Context) error {
	s.endpoints.Freeze()

	packages, err := s.transport.Subscriber.Subscribe(ctx, s.conf.EntryPointName)
	if err != nil {
		return fmt.Errorf("servicebus: failed to subscribe to %q: %w", s.conf.EntryPointName, err)
	}

	concurrency := s.conf.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	slots := make(chan struct{}, concurrency)

	var wg sync.WaitGroup
	for msg := range packages {
		slots <- struct{}{}
		wg.Add(1)

		pkg := envelope.FromWatermill(msg)
		go func() {
			defer func() {
				<-slots
				wg.Done()
			}()
			if err := s.processor.Handle(ctx, pkg); err != nil {
				s.logger.Error("package acknowledgement failed", err, logging.Fields{
					"package_id": pkg.ID(),
					"trace_id":   pkg.TraceID(),
				})
			}
		}()
	}

	wg.Wait()
	return nil
}
