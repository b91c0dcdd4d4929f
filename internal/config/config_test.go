package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Port != 8080 {
		t.Errorf("want default port 8080, got %d", cfg.Port)
	}
	if cfg.RateLimiterLimit != 100 {
		t.Errorf("want default limit 100, got %d", cfg.RateLimiterLimit)
	}
	if cfg.RateLimiterWindow() != time.Minute {
		t.Errorf("want default window 1m, got %s", cfg.RateLimiterWindow())
	}
	if cfg.RateLimiterSubWindow() != 6*time.Second {
		t.Errorf("want default sub-window 6s, got %s", cfg.RateLimiterSubWindow())
	}
	if cfg.RefundOnDeliveryError {
		t.Error("delivery failures must not refund by default")
	}
	if cfg.TaskCost != 1 {
		t.Errorf("want default task cost 1, got %d", cfg.TaskCost)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("RATE_LIMITER_LIMIT", "7")
	t.Setenv("REFUND_ON_DELIVERY_ERROR", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.RateLimiterLimit != 7 {
		t.Errorf("want limit 7 from env, got %d", cfg.RateLimiterLimit)
	}
	if !cfg.RefundOnDeliveryError {
		t.Error("refund policy must come from the environment")
	}
}
