// Package server assembles the onvifd daemon from its configuration.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/juju/errors"
	"github.com/rs/zerolog"

	"github.com/SridarDhandapani/onvifd/internal/alarm"
	"github.com/SridarDhandapani/onvifd/internal/config"
	"github.com/SridarDhandapani/onvifd/internal/deviceio"
	"github.com/SridarDhandapani/onvifd/internal/discovery"
	"github.com/SridarDhandapani/onvifd/internal/events"
	"github.com/SridarDhandapani/onvifd/internal/gate"
	"github.com/SridarDhandapani/onvifd/internal/logger"
	"github.com/SridarDhandapani/onvifd/internal/services"
	"github.com/SridarDhandapani/onvifd/internal/soap"
	"github.com/SridarDhandapani/onvifd/internal/wsse"
)

const (
	shutdownTimeout = 5 * time.Second
	replayCapacity  = 10000
)

// Server owns every runtime component of the daemon.
type Server struct {
	cfg *config.Config
	log zerolog.Logger

	engine   *gin.Engine
	http     *http.Server
	registry *events.Registry
	router   *events.Router
	monitor  *alarm.Monitor
	relays   *deviceio.Relays
	replay   *gate.ReplayGuard

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires the components described by cfg.
func New(cfg *config.Config, log zerolog.Logger) (*Server, error) {
	s := &Server{cfg: cfg, log: log}

	s.registry = events.NewRegistry(events.Options{
		DefaultTTL:   cfg.SubscriptionTTL,
		QueueLimit:   cfg.MaxQueueLength,
		PendingLimit: cfg.MaxQueueLength,
	}, logger.WithComponent(log, "registry"))

	notifier := events.NewHTTPNotifier(&http.Client{Timeout: cfg.PushTimeout})
	s.router = events.NewRouter(s.registry, notifier, cfg.PushTimeout, logger.WithComponent(log, "router"))

	s.monitor = alarm.NewMonitor(cfg.AlarmChannels(), s.router.DigitalInputChanged, logger.WithComponent(log, "alarm"))

	s.relays = deviceio.NewRelays(cfg.RelayOutputs)
	s.relays.OnChange(s.router.RelayChanged)

	var opts []gate.Option

	if cfg.RejectReplayedNonces {
		guard, err := gate.NewReplayGuard(replayCapacity, gate.DefaultReplayWindow)
		if err != nil {
			return nil, err
		}

		s.replay = guard
		opts = append(opts, gate.WithReplayGuard(guard))
	}

	g := gate.New(wsse.Credential{Username: cfg.Username, Password: cfg.Password}, logger.WithComponent(log, "gate"), opts...)

	s.engine = s.routes(g)
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServicePort),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

func (s *Server) routes(g soap.Gate) *gin.Engine {
	if s.log.GetLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger.WithComponent(s.log, "http")))

	soapLog := logger.WithComponent(s.log, "soap")
	info := s.cfg.DeviceInformation

	device := soap.NewService("device", services.DeviceActions, g, soapLog)
	services.NewDevice(services.DeviceInfo{
		Manufacturer:    info.Manufacturer,
		Model:           info.Model,
		FirmwareVersion: info.FirmwareVersion,
		SerialNumber:    info.SerialNumber,
		HardwareID:      info.HardwareID,
	}, len(s.monitor.Channels()), s.cfg.RelayOutputs).Register(device)

	ev := soap.NewService("events", services.EventsActions, g, soapLog)
	services.NewEvents(s.registry).Register(ev)

	dio := soap.NewService("deviceio", services.DeviceIOActions, g, soapLog)
	services.NewDeviceIO(s.monitor, s.relays).Register(dio)

	for _, svc := range []struct {
		path    string
		service *soap.Service
	}{
		{services.DevicePath, device},
		{services.EventsPath, ev},
		{services.DeviceIOPath, dio},
	} {
		engine.POST(svc.path, svc.service.Serve)
		s.log.Debug().Str("path", svc.path).Strs("operations", svc.service.Operations()).Msg("SOAP service registered")
	}

	services.NewDebug(s.router, s.registry, s.monitor, s.relays).Register(engine)

	return engine
}

// Handler exposes the HTTP routes, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Relays returns the relay output bank.
func (s *Server) Relays() *deviceio.Relays {
	return s.relays
}

// Monitor returns the alarm input monitor.
func (s *Server) Monitor() *alarm.Monitor {
	return s.monitor
}

// Start launches the background workers: alarm channels, the expiry sweep
// and, when enabled, the WS-Discovery responder.
func (s *Server) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	s.monitor.Start(ctx)

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		s.registry.Run(ctx, events.DefaultSweepEvery)
	}()

	if !s.cfg.Discovery {
		return nil
	}

	info := s.cfg.DeviceInformation

	responder, err := discovery.Listen(discovery.Config{
		Scopes: discovery.Scopes(info.Model, info.HardwareID, ""),
		Port:   s.cfg.ServicePort,
		Path:   services.DevicePath,
	}, logger.WithComponent(s.log, "discovery"))
	if err != nil {
		// Discovery is optional; the device stays reachable by address.
		s.log.Warn().Err(err).Msg("WS-Discovery disabled")
		return nil
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		if err := responder.Run(ctx); err != nil {
			s.log.Error().Err(err).Msg("WS-Discovery responder stopped")
		}
	}()

	return nil
}

// Run starts the workers and serves HTTP until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)

	go func() {
		s.log.Info().Str("addr", s.http.Addr).Msg("ONVIF services listening")

		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- errors.Annotate(err, "serving HTTP")
		}

		close(errCh)
	}()

	var serveErr error

	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.Stop(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}

	return serveErr
}

// Stop shuts the HTTP server down and stops every worker.
func (s *Server) Stop(ctx context.Context) error {
	err := s.http.Shutdown(ctx)

	if s.cancel != nil {
		s.cancel()
	}

	s.monitor.Stop()
	s.router.Close()
	s.wg.Wait()

	if s.replay != nil {
		s.replay.Close()
	}

	s.log.Info().Msg("Server stopped")

	return errors.Trace(err)
}

// requestLogger logs every HTTP request through zerolog.
func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client", c.ClientIP()).
			Msg("HTTP request")
	}
}
