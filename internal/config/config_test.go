package config

import (
	"strings"
	"testing"
	"time"

	"multileg/pkg/crypto"
)

func setValidEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ENCRYPTION_KEY", strings.Repeat("k", 32))
	t.Setenv("OPERATOR_TOKEN_HASH", "$2a$12$fakehashfakehashfakehash")
}

func TestLoad_Defaults(t *testing.T) {
	setValidEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Scheduler.TickInterval != 200*time.Millisecond {
		t.Errorf("TickInterval = %v, want 200ms", cfg.Scheduler.TickInterval)
	}
	if cfg.Execution.OrderVolume != 0.01 {
		t.Errorf("OrderVolume = %v, want 0.01", cfg.Execution.OrderVolume)
	}
	if cfg.Execution.TargetCycles != 0 {
		t.Errorf("TargetCycles = %d, want 0 (unbounded)", cfg.Execution.TargetCycles)
	}
	if cfg.Persistence.Dir != "./data/tasks" {
		t.Errorf("Persistence.Dir = %q", cfg.Persistence.Dir)
	}
	if cfg.Database.Enabled {
		t.Error("journal must be disabled by default")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	setValidEnv(t)
	t.Setenv("SCHEDULER_TICK", "50ms")
	t.Setenv("ORDER_VOLUME", "0.25")
	t.Setenv("REBALANCE_TOLERANCE", "0.002")
	t.Setenv("TARGET_CYCLES", "10")
	t.Setenv("DB_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Scheduler.TickInterval != 50*time.Millisecond {
		t.Errorf("TickInterval = %v, want 50ms", cfg.Scheduler.TickInterval)
	}
	if cfg.Execution.OrderVolume != 0.25 {
		t.Errorf("OrderVolume = %v, want 0.25", cfg.Execution.OrderVolume)
	}
	if cfg.Execution.RebalanceTolerance != 0.002 {
		t.Errorf("RebalanceTolerance = %v, want 0.002", cfg.Execution.RebalanceTolerance)
	}
	if cfg.Execution.TargetCycles != 10 {
		t.Errorf("TargetCycles = %d, want 10", cfg.Execution.TargetCycles)
	}
	if !cfg.Database.Enabled {
		t.Error("DB_ENABLED=true not applied")
	}
}

func TestLoad_MalformedEnvFallsBackToDefault(t *testing.T) {
	setValidEnv(t)
	t.Setenv("SCHEDULER_TICK", "not-a-duration")
	t.Setenv("SERVER_PORT", "not-a-number")
	t.Setenv("ORDER_VOLUME", "abc")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Scheduler.TickInterval != 200*time.Millisecond {
		t.Errorf("malformed duration must fall back, got %v", cfg.Scheduler.TickInterval)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("malformed int must fall back, got %d", cfg.Server.Port)
	}
	if cfg.Execution.OrderVolume != 0.01 {
		t.Errorf("malformed float must fall back, got %v", cfg.Execution.OrderVolume)
	}
}

func TestLoad_SecurityValidation(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		token string
	}{
		{"missing encryption key", "", "hash"},
		{"short encryption key", "too-short", "hash"},
		{"missing operator token", strings.Repeat("k", 32), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ENCRYPTION_KEY", tt.key)
			t.Setenv("OPERATOR_TOKEN_HASH", tt.token)

			if _, err := Load(); err == nil {
				t.Error("expected security validation error")
			}
		})
	}
}

func TestLoad_RangeValidation(t *testing.T) {
	tests := []struct {
		name  string
		env   string
		value string
	}{
		{"zero tick", "SCHEDULER_TICK", "0s"},
		{"negative tolerance", "REBALANCE_TOLERANCE", "-0.1"},
		{"negative lot step", "LOT_STEP", "-0.001"},
		{"excessive retries", "MAX_RETRIES", "99"},
		{"port out of range", "SERVER_PORT", "70000"},
		{"zero order timeout", "ORDER_TIMEOUT", "0s"},
		{"zero retention", "PERSIST_RETENTION", "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setValidEnv(t)
			t.Setenv(tt.env, tt.value)

			if _, err := Load(); err == nil {
				t.Errorf("expected range validation error for %s=%s", tt.env, tt.value)
			}
		})
	}
}

func TestLoad_VenueCredentials(t *testing.T) {
	key := strings.Repeat("k", 32)

	t.Run("decrypts configured roles", func(t *testing.T) {
		setValidEnv(t)
		ciphertext, err := crypto.EncryptCredential("myKey:mySecret", []byte(key))
		if err != nil {
			t.Fatalf("encrypt fixture: %v", err)
		}
		t.Setenv("VENUE_CREDENTIAL_SOURCE", ciphertext)

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load: %v", err)
		}

		cred, ok := cfg.Security.VenueCredentials["source"]
		if !ok {
			t.Fatal("source credential not loaded")
		}
		if cred.APIKey != "myKey" || cred.APISecret != "mySecret" {
			t.Errorf("unexpected credential: %+v", cred)
		}
		if _, ok := cfg.Security.VenueCredentials["dest"]; ok {
			t.Error("dest credential must be absent")
		}
	})

	t.Run("rejects undecryptable ciphertext", func(t *testing.T) {
		setValidEnv(t)
		t.Setenv("VENUE_CREDENTIAL_DEST", "bm90LWEtY2lwaGVydGV4dA==")

		if _, err := Load(); err == nil {
			t.Error("expected error for undecryptable credential")
		}
	})

	t.Run("rejects malformed plaintext", func(t *testing.T) {
		setValidEnv(t)
		ciphertext, err := crypto.EncryptCredential("no-separator", []byte(key))
		if err != nil {
			t.Fatalf("encrypt fixture: %v", err)
		}
		t.Setenv("VENUE_CREDENTIAL_HEDGE", ciphertext)

		if _, err := Load(); err == nil {
			t.Error("expected error for malformed credential")
		}
	})
}

func TestDSN(t *testing.T) {
	db := DatabaseConfig{
		Host: "db.local", Port: 5433, Name: "multileg",
		User: "svc", Password: "secret", SSLMode: "require",
	}

	dsn := db.DSN()
	if !strings.Contains(dsn, "password=secret") {
		t.Error("DSN must contain the password")
	}

	safe := db.DSNWithoutPassword()
	if strings.Contains(safe, "secret") {
		t.Error("DSNWithoutPassword leaked the password")
	}
	if !strings.Contains(safe, "host=db.local") {
		t.Errorf("unexpected DSN: %s", safe)
	}
}
