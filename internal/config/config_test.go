package config_test

import (
	"testing"

	"github.com/whisperengine/whisperengine/internal/config"
)

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("verbose").IsValid() {
		t.Error("unknown level should be invalid")
	}
}

func TestPostgresConfig_DSN(t *testing.T) {
	t.Parallel()
	p := config.PostgresConfig{
		Host: "db", Port: 5432, User: "we", Password: "secret", Database: "whisperengine",
	}
	want := "postgres://we:secret@db:5432/whisperengine?sslmode=disable"
	if got := p.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}

	p.SSLMode = "require"
	if got := p.DSN(); got != "postgres://we:secret@db:5432/whisperengine?sslmode=require" {
		t.Errorf("DSN() with ssl_mode = %q", got)
	}
}

func TestQdrantConfig_Addr(t *testing.T) {
	t.Parallel()
	q := config.QdrantConfig{Host: "vectors", Port: 6334}
	if q.Addr() != "vectors:6334" {
		t.Errorf("Addr() = %q", q.Addr())
	}
}

func TestEndpointConfig_Configured(t *testing.T) {
	t.Parallel()
	if (config.EndpointConfig{}).Configured() {
		t.Error("empty endpoint must not report configured")
	}
	if !(config.EndpointConfig{BaseURL: "http://localhost:1234/v1"}).Configured() {
		t.Error("endpoint with URL must report configured")
	}
}
