package config

import (
	"os"
	"testing"
)

func clearEnv() {
	os.Unsetenv("VELOTRAIN_AUTHKEY")
	os.Unsetenv("NATS_URL")
	os.Unsetenv("UDP_ADDR")
	os.Unsetenv("REDIS_ADDR")
	os.Unsetenv("ARCHIVE_DSN")
	os.Unsetenv("RAWLOG_DIR")
}

func TestLoad_WithDefaults(t *testing.T) {
	clearEnv()
	os.Setenv("VELOTRAIN_AUTHKEY", "s3cret")
	defer clearEnv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.NATSURL != "nats://nats:4222" {
		t.Errorf("NATSURL = %q, want default", cfg.NATSURL)
	}
	if cfg.UDPAddr != ":2008" {
		t.Errorf("UDPAddr = %q, want default", cfg.UDPAddr)
	}
	if cfg.AuthKey != "s3cret" {
		t.Errorf("AuthKey = %q, want s3cret", cfg.AuthKey)
	}
}

func TestLoad_WithOverrides(t *testing.T) {
	clearEnv()
	os.Setenv("VELOTRAIN_AUTHKEY", "k")
	os.Setenv("NATS_URL", "nats://example:4222")
	os.Setenv("UDP_ADDR", ":9000")
	defer clearEnv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.NATSURL != "nats://example:4222" {
		t.Errorf("NATSURL = %q, want override", cfg.NATSURL)
	}
	if cfg.UDPAddr != ":9000" {
		t.Errorf("UDPAddr = %q, want override", cfg.UDPAddr)
	}
}

func TestLoad_MissingAuthKeyFails(t *testing.T) {
	clearEnv()
	defer clearEnv()

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() should fail without VELOTRAIN_AUTHKEY")
	}
	if cfg != nil {
		t.Fatal("Load() should return nil config on error")
	}
}
