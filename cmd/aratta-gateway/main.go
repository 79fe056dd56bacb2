// Command aratta-gateway runs the gateway's HTTP server: it loads
// configuration, wires the provider registry, circuit breakers, health
// monitors, self-healing pipeline, and reload manager together, and
// serves the Gateway API until the process receives a termination
// signal.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/MAXAPIPULL00/aratta-gateway/internal/breaker"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/config"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/emit"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/gatewayapi"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/heal"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/health"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/metrics"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/provider"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/registry"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/reload"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/router"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/schema"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (defaults to $ARATTA_HOME/config.yaml)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatalf("aratta-gateway: %v", err)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	reg := registry.New(cfg.AllProviders())

	breakerCfg := breaker.Config{
		FailureThreshold: cfg.CircuitFailureThreshold,
		RecoveryTimeout:  time.Duration(cfg.CircuitRecoverySeconds) * time.Second,
		Disabled:         !cfg.CircuitBreakerEnabled,
	}
	breakers := breaker.NewRegistry(breakerCfg)

	promRegistry := prometheus.NewRegistry()
	gatewayMetrics := metrics.NewGatewayMetrics(promRegistry)

	reloadMgr := reload.New(reload.Config{
		Dir:                filepath.Join(config.Home(), "fixes"),
		AutoApplyThreshold: cfg.AutoApplyThreshold,
		Verify:             verifyProvider(reg),
		SQLitePath:         filepath.Join(config.Home(), "fixes", "audit.db"),
	})

	emitter, flushEmitter := buildEmitter(cfg.Observability)

	// The router, heal worker, and health registry form a cycle (failures
	// recorded by the router trigger heals, heals chat back through the
	// router), broken by declaring the router first and letting the heal
	// closure capture it.
	var r *router.Router
	resolveTable := cfg.ResolverTable()
	healTarget := resolveTable.Resolve(cfg.HealModel)

	healWorker := heal.New(heal.Config{
		Chat: func(ctx context.Context, providerName, model string, req schema.ChatRequest) (schema.ChatResponse, error) {
			req.Model = model
			var resp schema.ChatResponse
			err := r.Call(ctx, providerName, func(a provider.Adapter) error {
				var callErr error
				resp, callErr = a.Chat(ctx, req)
				return callErr
			})
			return resp, err
		},
		LocalProvider: healTarget.Provider,
		LocalModel:    healTarget.Model,
		Reload:        reloadMgr,
	})

	healthCfg := health.Config{
		ErrorThreshold: cfg.ErrorThreshold,
		Window:         time.Duration(cfg.ErrorWindowSeconds) * time.Second,
		Cooldown:       time.Duration(cfg.HealCooldownSeconds) * time.Second,
	}
	var healthReg *health.Registry
	healthReg = health.NewRegistry(healthCfg, func(providerName string, trigger health.Event, recent []health.Event) {
		if !cfg.SelfHealingEnabled {
			healthReg.Get(providerName).HandleHealComplete(false)
			return
		}
		gatewayMetrics.RecordHealAttempt(providerName)
		monitor := healthReg.Get(providerName)
		// Run off the request path: the triggering chat call should not
		// block on a three-phase model pipeline.
		go func() {
			if healWorker.Run(context.Background(), providerName, trigger, recent, monitor) {
				gatewayMetrics.RecordHealSuccess(providerName)
			}
		}()
	})
	r = router.New(resolveTable, reg, breakers, healthReg)
	r.SetEmitter(emitter)
	r.SetFallbackEnabled(cfg.EnableFallback)

	server := gatewayapi.New(r, reg, breakers, healthReg, reloadMgr, gatewayMetrics)
	server.SetAliases(cfg.ModelAliases)

	mux := http.NewServeMux()
	mux.Handle("/", server)
	mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpServer := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("aratta-gateway listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Print("aratta-gateway: shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	flushEmitter(ctx)
	if err := reloadMgr.Close(); err != nil {
		log.Printf("aratta-gateway: closing reload audit db: %v", err)
	}
	return reg.Close()
}

// buildEmitter selects the observability backend named by cfg.Observability
// ("otel", "buffered", "null", or "log"/anything else), returning the
// Emitter to wire into the router and a flush function to call at shutdown.
func buildEmitter(backend string) (emit.Emitter, func(context.Context) error) {
	switch backend {
	case "otel":
		tp := sdktrace.NewTracerProvider()
		otel.SetTracerProvider(tp)
		e := emit.NewOtelEmitter(tp.Tracer("aratta-gateway"))
		return e, func(ctx context.Context) error {
			if err := e.Flush(ctx); err != nil {
				return err
			}
			return tp.Shutdown(ctx)
		}
	case "buffered":
		e := emit.NewBufferedEmitter()
		return e, e.Flush
	case "null":
		e := emit.NewNullEmitter()
		return e, e.Flush
	case "log":
		fallthrough
	default:
		e := emit.NewLogEmitter(os.Stdout, false)
		return e, e.Flush
	}
}

// verifyProvider builds a reload.VerifyFunc that checks a provider's
// health endpoint after a fix is applied, rolling the fix back if the
// upstream is still unhealthy.
func verifyProvider(reg *registry.Registry) reload.VerifyFunc {
	return func(ctx context.Context, providerName string) error {
		adapter, err := reg.Get(providerName)
		if err != nil {
			return err
		}
		status := adapter.HealthCheck(ctx)
		if status.Status != "healthy" {
			return fmt.Errorf("provider %q still unhealthy after fix: %s", providerName, status.Error)
		}
		return nil
	}
}
