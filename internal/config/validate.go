package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the loaded config for required fields and safe values.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if strings.TrimSpace(cfg.Server.Addr) == "" {
		return errors.New("server.addr must be set")
	}

	if cfg.Engine.ConfidenceThreshold < 0 || cfg.Engine.ConfidenceThreshold > 1 {
		return fmt.Errorf("engine.confidence_threshold must be in [0,1], got %v", cfg.Engine.ConfidenceThreshold)
	}

	seen := make(map[string]struct{}, len(cfg.Rules))
	for i, r := range cfg.Rules {
		if strings.TrimSpace(r.ID) == "" {
			return fmt.Errorf("rule %d is missing an id", i)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("rule %q is defined twice", r.ID)
		}
		seen[r.ID] = struct{}{}
		if r.Severity != "" {
			switch strings.ToLower(strings.TrimSpace(r.Severity)) {
			case "low", "medium", "high", "critical":
			default:
				return fmt.Errorf("rule %q has unknown severity %q", r.ID, r.Severity)
			}
		}
		if r.ConfidenceThreshold < 0 || r.ConfidenceThreshold > 1 {
			return fmt.Errorf("rule %q confidence_threshold must be in [0,1]", r.ID)
		}
	}

	if err := validateClassifierConfig(cfg.Classifier); err != nil {
		return err
	}

	if err := validateAuditConfig(cfg.Audit); err != nil {
		return err
	}

	if err := validateTelemetryConfig(cfg.Telemetry); err != nil {
		return err
	}

	return nil
}

func validateClassifierConfig(c ClassifierConfig) error {
	switch strings.ToLower(strings.TrimSpace(c.Mode)) {
	case "off":
		return nil
	case "http":
		if strings.TrimSpace(c.Endpoint) == "" {
			return errors.New("classifier.endpoint must be set in http mode")
		}
		u, err := url.Parse(c.Endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.New("classifier.endpoint is not a valid URL")
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return errors.New("classifier.endpoint must be http or https")
		}
		return nil
	case "onnx":
		if strings.TrimSpace(c.BundleDir) == "" {
			return errors.New("classifier.bundle_dir must be set in onnx mode")
		}
		return nil
	default:
		return fmt.Errorf("classifier.mode must be http, onnx, or off, got %q", c.Mode)
	}
}

func validateAuditConfig(a AuditConfig) error {
	for i, s := range a.Sinks {
		switch strings.ToLower(strings.TrimSpace(s.Type)) {
		case "file_jsonl":
			if strings.TrimSpace(s.Path) == "" {
				return fmt.Errorf("audit sink %d (file_jsonl) missing path", i)
			}
		case "webhook":
			if strings.TrimSpace(s.URL) == "" {
				return fmt.Errorf("audit sink %d (webhook) missing url", i)
			}
			u, err := url.Parse(s.URL)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return fmt.Errorf("audit sink %d (webhook) has invalid url", i)
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return fmt.Errorf("audit sink %d (webhook) url must be http or https", i)
			}
		default:
			return fmt.Errorf("audit sink %d has unknown type %q", i, s.Type)
		}
	}
	return nil
}

func validateTelemetryConfig(t TelemetryConfig) error {
	if !t.Enabled {
		return nil
	}
	if strings.TrimSpace(t.Endpoint) == "" {
		return errors.New("telemetry enabled but endpoint is empty")
	}
	if t.Protocol != "" {
		switch strings.ToLower(strings.TrimSpace(t.Protocol)) {
		case "grpc", "http":
		default:
			return fmt.Errorf("telemetry.protocol must be grpc or http, got %q", t.Protocol)
		}
	}
	return nil
}
