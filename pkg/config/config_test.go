package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validYAML() string {
	return "auth_code: \"ABC123\"\nservice_name: \"pose-host\"\n"
}

func TestLoadValidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(validYAML()), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AuthCode != "ABC123" {
		t.Errorf("auth code = %q, want ABC123", cfg.AuthCode)
	}
	if cfg.ServiceName != "pose-host" {
		t.Errorf("service name = %q, want pose-host", cfg.ServiceName)
	}
	// Defaults from DefaultConfig must survive the merge.
	if cfg.TCPPort != 50000 {
		t.Errorf("tcp port = %d, want default 50000", cfg.TCPPort)
	}
	if cfg.Exporter != nil {
		t.Errorf("exporter should be nil (opt-in) by default")
	}
	if cfg.API != nil {
		t.Errorf("api should be nil (opt-in) by default")
	}
}

func TestLoadExplicitMissingFileReturnsError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Fatalf("expected error for explicit missing path, got cfg=%+v", cfg)
	}
}

func TestDefaultConfigFailsValidationWithoutAuthCode(t *testing.T) {
	// DefaultConfig is the zero-scripting, zero-exporter, zero-API core
	// (§9), but it still requires an explicit auth_code/service_name —
	// those are never safe to default.
	cfg := DefaultConfig()
	if err := Validate(cfg); err == nil {
		t.Fatal("default config has empty auth_code/service_name, should fail validation")
	}
}

func TestValidateMinVersionExceedsMax(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AuthCode = "ABC123"
	cfg.ServiceName = "pose-host"
	cfg.MinVersion = 2
	cfg.MaxVersion = 1

	if err := Validate(cfg); err == nil {
		t.Fatal("expected error when min_version exceeds max_version")
	}
}

func TestValidateRejectsShortAuthCode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AuthCode = "AB"
	cfg.ServiceName = "pose-host"

	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for auth_code shorter than 6 bytes")
	}
}

func TestValidateRejectsOversizedServiceName(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AuthCode = "ABC123"
	cfg.ServiceName = "this-service-name-is-definitely-too-long"

	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for service_name over 20 bytes")
	}
}

func TestAuthCodeBytesCopiesSixByteCode(t *testing.T) {
	cfg := &Config{AuthCode: "ABC123"}
	got := cfg.AuthCodeBytes()
	want := [6]byte{'A', 'B', 'C', '1', '2', '3'}
	if got != want {
		t.Errorf("AuthCodeBytes() = %v, want %v", got, want)
	}
}

func TestSaveAndReloadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.AuthCode = "ABC123"
	cfg.ServiceName = "pose-host"
	cfg.Exporter = &ExporterConfig{Broker: "tcp://localhost:1883"}

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load after Save: %v", err)
	}
	if reloaded.AuthCode != cfg.AuthCode {
		t.Errorf("auth code did not round-trip: got %q", reloaded.AuthCode)
	}
	if reloaded.Exporter == nil || reloaded.Exporter.Broker != cfg.Exporter.Broker {
		t.Errorf("exporter config did not round-trip: %+v", reloaded.Exporter)
	}
}
