package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"RingSim/internal/chain"
	"RingSim/internal/config"
	"RingSim/internal/core"
	"RingSim/internal/ingestion"
	"RingSim/internal/observability"
	"RingSim/internal/service"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to TOML config file")
		inputPath  = flag.String("input", "", "pre-flight request JSON for one-shot mode")
		serve      = flag.Bool("serve", false, "run the NATS pre-flight daemon")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	log := observability.NewLogger("main")

	engine := core.NewEngine(chain.KeccakHasher{}, chain.EcdsaVerifier{}, cfg.FeeHolderAddress())

	if *serve {
		if err := runDaemon(cfg, engine); err != nil && err != context.Canceled {
			log.Fatal().Err(err).Msg("daemon exited")
		}
		return
	}

	if *inputPath == "" {
		fmt.Fprintln(os.Stderr, "usage: ringsim -input request.json | ringsim -serve")
		os.Exit(2)
	}
	if err := runOnce(engine, *inputPath); err != nil {
		log.Error().Err(err).Msg("simulation failed")
		os.Exit(1)
	}
}

// runOnce simulates a single request file and prints the report.
func runOnce(engine *core.Engine, inputPath string) error {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	req, err := ingestion.ParseRequest(data)
	if err != nil {
		return err
	}

	report, err := engine.Simulate(context.Background(), req.Input, req.Snapshot)
	if err != nil {
		return err
	}

	payload, err := ingestion.EncodeReport(report)
	if err != nil {
		return err
	}
	fmt.Println(string(payload))
	return nil
}

// runDaemon serves the NATS pre-flight subject plus metrics and health
// endpoints until SIGINT/SIGTERM.
func runDaemon(cfg *config.Config, engine *core.Engine) error {
	log := observability.NewLogger("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := nats.Connect(cfg.NATS.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return fmt.Errorf("connect NATS %s: %w", cfg.NATS.URL, err)
	}
	defer conn.Drain()

	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker()
	preflight := service.NewPreflightService(conn, cfg.NATS.Subject, engine, metrics)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.LivenessHandler)
	mux.HandleFunc("/readyz", health.ReadinessHandler)
	httpServer := &http.Server{Addr: cfg.HTTP.Addr, Handler: mux}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		health.SetReady(true)
		defer health.SetReady(false)
		return preflight.Run(ctx)
	})

	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("metrics listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	log.Info().Str("nats", cfg.NATS.URL).Str("subject", cfg.NATS.Subject).Msg("ringsim daemon up")
	return g.Wait()
}
