package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/privacyshield-ai/privacyshield/internal/audit"
	"github.com/privacyshield-ai/privacyshield/internal/classifier"
	"github.com/privacyshield-ai/privacyshield/internal/config"
	"github.com/privacyshield-ai/privacyshield/internal/nermodel"
	"github.com/privacyshield-ai/privacyshield/internal/pattern"
	"github.com/privacyshield-ai/privacyshield/internal/reachability"
	"github.com/privacyshield-ai/privacyshield/internal/scan"
	"github.com/privacyshield-ai/privacyshield/internal/server"
	"github.com/privacyshield-ai/privacyshield/internal/telemetry"
)

const version = "0.1.0"

func main() {
	addrFlag := flag.String("addr", "", "HTTP listen address (overrides config)")
	configPath := flag.String("config", "privacyshield.yaml", "Path to PrivacyShield config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	addr := cfg.Server.Addr
	if *addrFlag != "" {
		addr = *addrFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:  cfg.Telemetry.Enabled,
		Endpoint: cfg.Telemetry.Endpoint,
		Protocol: cfg.Telemetry.Protocol,
		Service:  cfg.Telemetry.Service,
		Version:  version,
	})
	if err != nil {
		log.Fatalf("failed to set up telemetry: %v", err)
	}
	defer tel.Shutdown(context.Background())

	emitter, err := buildAuditEmitter(cfg.Audit)
	if err != nil {
		log.Fatalf("failed to set up audit sinks: %v", err)
	}
	defer emitter.Close(context.Background())

	cls, err := buildClassifier(cfg.Classifier)
	if err != nil {
		log.Fatalf("failed to set up classifier: %v", err)
	}

	monitor := reachability.NewMonitor(cls,
		reachability.WithProbeInterval(cfg.Classifier.ProbeInterval()),
		reachability.WithProbeTimeout(cfg.Classifier.ProbeTimeout()),
	)
	if cls != nil {
		monitor.BeginLoading()
		go monitor.Run(ctx)
	}

	matcher := pattern.NewMatcher(patternConfig(cfg))

	orchestrator := scan.NewOrchestrator(scan.Config{
		Matcher:             matcher,
		Classifier:          cls,
		Monitor:             monitor,
		Rules:               cfg.ToTable(),
		ConfidenceThreshold: cfg.Engine.ConfidenceThreshold,
		Telemetry:           tel,
		Audit:               emitter,
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           server.New(orchestrator, monitor, version),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Starting PrivacyShield %s on %s...", version, addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

func patternConfig(cfg *config.Config) pattern.Config {
	pc := pattern.DefaultConfig()
	pc.Email, pc.Phone, pc.CreditCard, pc.IBAN, pc.SSN, pc.APIToken = cfg.PatternToggles()
	pc.RetainValues = cfg.Engine.RetainValues
	return pc
}

func buildClassifier(cfg config.ClassifierConfig) (classifier.Classifier, error) {
	switch cfg.Mode {
	case "off":
		return nil, nil
	case "onnx":
		return nermodel.Load(cfg.BundleDir, cfg.SeqLen)
	default:
		return classifier.NewHTTP(cfg.Endpoint, classifier.HTTPOptions{}), nil
	}
}

func buildAuditEmitter(cfg config.AuditConfig) (*audit.Emitter, error) {
	var sinks []audit.Sink
	for _, sc := range cfg.Sinks {
		switch sc.Type {
		case "file_jsonl":
			sink, err := audit.NewFileSink(sc.Path)
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, sink)
		case "webhook":
			sink, err := audit.NewWebhookSink(sc.URL, sc.Headers, time.Duration(sc.TimeoutMs)*time.Millisecond)
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, sink)
		}
	}
	return audit.NewEmitter(audit.EmitterConfig{
		QueueSize: cfg.QueueSize,
		Workers:   cfg.Workers,
	}, sinks), nil
}
