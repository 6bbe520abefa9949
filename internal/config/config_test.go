package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestNormalizeRelayURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"ws://127.0.0.1:8080/ws", "ws://127.0.0.1:8080/ws"},
		{"relay.example.com", "wss://relay.example.com/ws"},
		{"https://relay.example.com", "wss://relay.example.com/ws"},
		{"http://localhost:9000/", "ws://localhost:9000/ws"},
		{"  wss://relay.example.com/signal  ", "wss://relay.example.com/signal"},
	}
	for _, tt := range tests {
		got, err := NormalizeRelayURL(tt.in)
		if err != nil {
			t.Errorf("NormalizeRelayURL(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeRelayURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"", "ftp://relay.example.com", "ws://"} {
		if _, err := NormalizeRelayURL(bad); err == nil {
			t.Errorf("NormalizeRelayURL(%q) succeeded", bad)
		}
	}
}

func TestValidate(t *testing.T) {
	valid := Config{Mode: ModeJoin, RelayURL: "localhost:8080", Code: "1234", Password: "pw"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if valid.RelayURL != "wss://localhost:8080/ws" {
		t.Errorf("RelayURL not normalized: %s", valid.RelayURL)
	}

	invalid := []Config{
		{Mode: "host"},
		{Mode: ModeInitiate, RelayURL: "ws://r/ws", Password: "pw"},
		{Mode: ModeInitiate, RelayURL: "ws://r/ws", Code: "1234"},
		{Mode: ModeJoin, RelayURL: "ftp://r", Code: "1234", Password: "pw"},
		{Mode: ModeRelay},
	}
	for _, cfg := range invalid {
		if err := cfg.Validate(); err == nil {
			t.Errorf("Validate(%+v) succeeded", cfg)
		}
	}

	relay := Config{Mode: ModeRelay, ListenAddr: ":0"}
	if err := relay.Validate(); err != nil {
		t.Errorf("relay Validate: %v", err)
	}
}

func TestFlagsAndEnvironment(t *testing.T) {
	t.Setenv("PAIRLINK_CODE", "from-env")
	t.Setenv("PAIRLINK_ICE", "stun:a:3478, stun:b:3478")
	t.Setenv("PAIRLINK_TIMEOUT", "30s")

	var cfg Config
	fs := pflag.NewFlagSet("pairlink", pflag.ContinueOnError)
	cfg.RegisterFlags(fs)
	if err := fs.Parse([]string{"--mode", "initiate", "-p", "pw", "--eager"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Mode != ModeInitiate || cfg.Code != "from-env" || cfg.Password != "pw" || !cfg.EagerOffer {
		t.Errorf("cfg = %+v", cfg)
	}
	if len(cfg.ICEServers) != 2 || cfg.ICEServers[1] != "stun:b:3478" {
		t.Errorf("ICEServers = %v", cfg.ICEServers)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %s", cfg.Timeout)
	}
	if cfg.RelayURL != defaultRelayURL || cfg.ListenAddr != defaultListenAddr {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}
