package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaultsFromEnv(t *testing.T) {
	t.Setenv(envConfigPath, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("PULSEOPS_JWT_SECRET", testSecret)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.AccessTTL != time.Hour {
		t.Fatalf("unexpected access ttl: %v", cfg.Auth.AccessTTL)
	}
	if cfg.Auth.RefreshTTL != 7*24*time.Hour {
		t.Fatalf("unexpected refresh ttl: %v", cfg.Auth.RefreshTTL)
	}
	if cfg.OTP.Length != 6 || cfg.OTP.MaxAttempts != 3 || cfg.OTP.TTL != 5*time.Minute {
		t.Fatalf("unexpected otp defaults: %+v", cfg.OTP)
	}
	if cfg.Security.EncryptionKey != testSecret {
		t.Fatalf("encryption key should fall back to jwt secret")
	}
	if cfg.Auth.Issuer != "pulseops-api" {
		t.Fatalf("unexpected issuer: %s", cfg.Auth.Issuer)
	}
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pulseops.yaml")
	yaml := "auth:\n  jwt_secret: " + testSecret + "\n  access_ttl: 30m\notp:\n  length: 8\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(envConfigPath, path)
	t.Setenv("PULSEOPS_OTP_MAX_ATTEMPTS", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.AccessTTL != 30*time.Minute {
		t.Fatalf("unexpected access ttl: %v", cfg.Auth.AccessTTL)
	}
	if cfg.OTP.Length != 8 {
		t.Fatalf("unexpected otp length: %d", cfg.OTP.Length)
	}
	if cfg.OTP.MaxAttempts != 5 {
		t.Fatalf("env override not applied: %d", cfg.OTP.MaxAttempts)
	}
}

func TestValidateRejectsShortSecret(t *testing.T) {
	t.Setenv(envConfigPath, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("PULSEOPS_JWT_SECRET", "short")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected error for short secret")
	}
	if !strings.Contains(err.Error(), "jwt secret") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := &Config{}
	cfg.Auth.Algorithm = "RS256"
	cfg.Log.Level = "verbose"
	err := Validate(cfg)
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	for _, want := range []string{"jwt secret", "RS256", "otp length", "verbose"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}
