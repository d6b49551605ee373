package config

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"marketmaker/internal/models"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() with empty env: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if !cfg.Pricing.OutlierThreshold.Equal(decimal.RequireFromString("0.05")) {
		t.Errorf("unexpected outlier threshold %s", cfg.Pricing.OutlierThreshold)
	}
	if cfg.Pricing.StaleThreshold != 10*time.Second {
		t.Errorf("unexpected stale threshold %v", cfg.Pricing.StaleThreshold)
	}
	if cfg.Kafka.Enabled() {
		t.Error("kafka must be disabled without brokers")
	}
	if cfg.Journal.CleanupInterval != time.Hour || cfg.Journal.KeepEvents != 100000 {
		t.Errorf("unexpected journal defaults %+v", cfg.Journal)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("MARKET_MAKER_ID", "mm-eu-1")
	t.Setenv("FEED_URLS", "ws://relay-1/feed, ws://relay-2/feed,,")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("DEFAULT_OUTLIER_THRESHOLD", "0.1")
	t.Setenv("DEFAULT_STALE_THRESHOLD", "3s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load(): %v", err)
	}

	if cfg.MarketMaker.ID != "mm-eu-1" {
		t.Errorf("unexpected market maker id %q", cfg.MarketMaker.ID)
	}
	if len(cfg.Feed.URLs) != 2 || cfg.Feed.URLs[1] != "ws://relay-2/feed" {
		t.Errorf("unexpected feed urls %v", cfg.Feed.URLs)
	}
	if !cfg.Kafka.Enabled() || len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("unexpected kafka brokers %v", cfg.Kafka.Brokers)
	}
	if !cfg.Pricing.OutlierThreshold.Equal(decimal.RequireFromString("0.1")) {
		t.Errorf("unexpected outlier threshold %s", cfg.Pricing.OutlierThreshold)
	}
	if cfg.Pricing.StaleThreshold != 3*time.Second {
		t.Errorf("unexpected stale threshold %v", cfg.Pricing.StaleThreshold)
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-number")
	t.Setenv("DEFAULT_OUTLIER_THRESHOLD", "abc")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load(): %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("invalid port must fall back to default, got %d", cfg.Server.Port)
	}
	if !cfg.Pricing.OutlierThreshold.Equal(decimal.RequireFromString("0.05")) {
		t.Errorf("invalid threshold must fall back to default, got %s", cfg.Pricing.OutlierThreshold)
	}
}

func TestLoad_RangeErrors(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"port out of range", "SERVER_PORT", "70000", "SERVER_PORT"},
		{"negative threshold", "DEFAULT_OUTLIER_THRESHOLD", "-0.1", "DEFAULT_OUTLIER_THRESHOLD"},
		{"avg above one", "DEFAULT_REPEATED_MAX_AVG", "1.5", "DEFAULT_REPEATED_MAX_AVG"},
		{"zero volume multiplier", "DEFAULT_VOLUME_MULTIPLIER", "0", "DEFAULT_VOLUME_MULTIPLIER"},
		{"too many shards", "FEED_SHARDS", "1000", "FEED_SHARDS"},
		{"zero journal keep", "JOURNAL_KEEP_EVENTS", "0", "JOURNAL_KEEP_EVENTS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			if err == nil {
				t.Fatalf("expected error for %s=%s", tt.key, tt.value)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should mention %s", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_Security(t *testing.T) {
	t.Run("production requires hash", func(t *testing.T) {
		t.Setenv("ENV", "production")
		if _, err := Load(); err == nil {
			t.Fatal("expected error without SETTINGS_API_KEY_HASH in production")
		}
	})

	t.Run("invalid hash rejected", func(t *testing.T) {
		t.Setenv("SETTINGS_API_KEY_HASH", "plain-text-key")
		if _, err := Load(); err == nil {
			t.Fatal("expected error for non-bcrypt hash")
		}
	})

	t.Run("valid hash accepted", func(t *testing.T) {
		hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
		if err != nil {
			t.Fatal(err)
		}
		t.Setenv("ENV", "production")
		t.Setenv("SETTINGS_API_KEY_HASH", string(hash))
		if _, err := Load(); err != nil {
			t.Fatalf("Load(): %v", err)
		}
	})
}

func TestPricingConfig_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	ap := cfg.Pricing.AssetPairDefaults("BTCUSD")
	if ap.AssetPairID != "BTCUSD" {
		t.Errorf("unexpected asset pair %q", ap.AssetPairID)
	}
	for _, kind := range models.AllSteps {
		if !ap.IsStepEnabled(kind) {
			t.Errorf("step %s must be enabled by default", kind)
		}
	}

	ex := cfg.Pricing.ExchangeDefaults("BTCUSD", "bitstamp")
	if ex.OrderbookOutdatingThreshold != cfg.Pricing.StaleThreshold {
		t.Errorf("unexpected exchange stale threshold %v", ex.OrderbookOutdatingThreshold)
	}
}

func TestDatabaseConfig_DSNWithoutPassword(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "mm", Password: "s3cret", Name: "marketmaker", SSLMode: "disable"}
	if strings.Contains(d.DSNWithoutPassword(), "s3cret") {
		t.Error("DSNWithoutPassword must not contain the password")
	}
	if !strings.Contains(d.DSN(), "password=s3cret") {
		t.Error("DSN must contain the password")
	}
}
