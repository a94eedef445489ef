package config_test

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/haldirsson/socks5d/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.ProxyAddr != "0.0.0.0" {
		t.Errorf("ProxyAddr = %q, want %q", cfg.ProxyAddr, "0.0.0.0")
	}
	if cfg.ProxyPort != 1080 {
		t.Errorf("ProxyPort = %d, want %d", cfg.ProxyPort, 1080)
	}
	if cfg.MonitorPort != 8080 {
		t.Errorf("MonitorPort = %d, want %d", cfg.MonitorPort, 8080)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}

	cfg.RootToken = [16]byte{1}
	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() with a root token failed validation: %v", err)
	}
}

func TestValidateRejectsZeroPorts(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.RootToken = [16]byte{1}
	cfg.ProxyPort = 0
	if err := config.Validate(cfg); !errors.Is(err, config.ErrEmptyProxyPort) {
		t.Errorf("Validate() = %v, want ErrEmptyProxyPort", err)
	}

	cfg = config.DefaultConfig()
	cfg.RootToken = [16]byte{1}
	cfg.MonitorPort = 0
	if err := config.Validate(cfg); !errors.Is(err, config.ErrEmptyMonitorPort) {
		t.Errorf("Validate() = %v, want ErrEmptyMonitorPort", err)
	}
}

func TestValidateRequiresRootToken(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	if err := config.Validate(cfg); !errors.Is(err, config.ErrMissingRootToken) {
		t.Errorf("Validate() = %v, want ErrMissingRootToken", err)
	}
}

func TestValidateRejectsTooManyUsers(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.RootToken = [16]byte{1}
	for i := 0; i < config.MaxCLIUsers+1; i++ {
		cfg.Users = append(cfg.Users, config.UserCredential{Username: "u", Password: "p"})
	}
	if err := config.Validate(cfg); !errors.Is(err, config.ErrTooManyUsers) {
		t.Errorf("Validate() = %v, want ErrTooManyUsers", err)
	}
}

func TestParseUserFlag(t *testing.T) {
	t.Parallel()

	u, err := config.ParseUserFlag("alice:s3cret")
	if err != nil {
		t.Fatalf("ParseUserFlag: %v", err)
	}
	if u.Username != "alice" || u.Password != "s3cret" {
		t.Errorf("ParseUserFlag() = %+v, want alice/s3cret", u)
	}

	// A password half may itself contain a colon.
	u, err = config.ParseUserFlag("bob:pa:ss")
	if err != nil {
		t.Fatalf("ParseUserFlag: %v", err)
	}
	if u.Password != "pa:ss" {
		t.Errorf("ParseUserFlag() password = %q, want %q", u.Password, "pa:ss")
	}

	if _, err := config.ParseUserFlag("noseparator"); !errors.Is(err, config.ErrMalformedUser) {
		t.Errorf("ParseUserFlag(%q) error = %v, want ErrMalformedUser", "noseparator", err)
	}
	if _, err := config.ParseUserFlag(":onlypass"); !errors.Is(err, config.ErrMalformedUser) {
		t.Errorf("ParseUserFlag(%q) error = %v, want ErrMalformedUser", ":onlypass", err)
	}
}

func TestParseRootToken(t *testing.T) {
	t.Parallel()

	token, err := config.ParseRootToken("00112233445566778899aabbccddeeff"[:32])
	if err != nil {
		t.Fatalf("ParseRootToken: %v", err)
	}
	want := [16]byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	if token != want {
		t.Errorf("ParseRootToken() = %x, want %x", token, want)
	}

	if _, err := config.ParseRootToken("tooshort"); !errors.Is(err, config.ErrMalformedRootToken) {
		t.Errorf("ParseRootToken(tooshort) error = %v, want ErrMalformedRootToken", err)
	}
	if _, err := config.ParseRootToken("zz112233445566778899aabbccddeeff"[:32]); !errors.Is(err, config.ErrMalformedRootToken) {
		t.Errorf("ParseRootToken(non-hex) error = %v, want ErrMalformedRootToken", err)
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"huh":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := config.ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
