// Package config holds the CLI configuration types.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// Mode represents the command the user chose.
type Mode string

const (
	ModeRelay    Mode = "relay"    // run the signaling relay
	ModeInitiate Mode = "initiate" // pair as initiator
	ModeJoin     Mode = "join"     // pair and let the relay pick the role
)

const (
	envPrefix         = "PAIRLINK_"
	defaultRelayURL   = "ws://127.0.0.1:8080/ws"
	defaultListenAddr = ":8080"
	defaultTimeout    = 2 * time.Minute
)

// Config stores all parameters gathered from flags, environment or the
// interactive prompts.
type Config struct {
	Mode       Mode
	RelayURL   string        // Initiate/Join: relay WebSocket URL
	Code       string        // Initiate/Join: pairing code
	Password   string        // Initiate/Join: pairing password
	ICEServers []string      // Initiate/Join: STUN/TURN URLs
	EagerOffer bool          // Initiate: create the offer before probing
	Timeout    time.Duration // Initiate/Join: establishment bound
	ListenAddr string        // Relay: listen address
	Debug      bool
	Trace      bool
}

// RegisterFlags binds cfg to fs. Defaults come from PAIRLINK_* environment
// variables when set.
func (cfg *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVarP((*string)(&cfg.Mode), "mode", "m", env("MODE", ""), "mode: relay, initiate or join (interactive when empty)")
	fs.StringVar(&cfg.RelayURL, "relay", env("RELAY", defaultRelayURL), "relay WebSocket URL")
	fs.StringVarP(&cfg.Code, "code", "c", env("CODE", ""), "pairing code")
	fs.StringVarP(&cfg.Password, "password", "p", env("PASSWORD", ""), "pairing password")
	fs.StringSliceVar(&cfg.ICEServers, "ice", envList("ICE"), "STUN/TURN server URLs (default public STUN)")
	fs.BoolVar(&cfg.EagerOffer, "eager", envBool("EAGER"), "create the offer before probing the relay (initiate only)")
	fs.DurationVar(&cfg.Timeout, "timeout", envDuration("TIMEOUT", defaultTimeout), "give up pairing after this long")
	fs.StringVar(&cfg.ListenAddr, "listen", env("LISTEN", defaultListenAddr), "relay listen address (relay only)")
	fs.BoolVar(&cfg.Debug, "debug", envBool("DEBUG"), "enable debug logging")
	fs.BoolVar(&cfg.Trace, "trace", envBool("TRACE"), "enable trace logging, including pion internals")
}

// Validate checks the fields required by the chosen mode and normalizes the
// relay URL.
func (cfg *Config) Validate() error {
	switch cfg.Mode {
	case ModeRelay:
		if cfg.ListenAddr == "" {
			return errors.New("missing --listen for relay mode")
		}
		return nil

	case ModeInitiate, ModeJoin:
		if strings.TrimSpace(cfg.Code) == "" {
			return errors.New("missing --code")
		}
		if cfg.Password == "" {
			return errors.New("missing --password")
		}
		if cfg.Timeout < 0 {
			return fmt.Errorf("invalid --timeout %s", cfg.Timeout)
		}
		u, err := NormalizeRelayURL(cfg.RelayURL)
		if err != nil {
			return err
		}
		cfg.RelayURL = u
		return nil

	default:
		return fmt.Errorf("invalid --mode %q: must be relay, initiate or join", cfg.Mode)
	}
}

// NormalizeRelayURL validates a relay URL, mapping http(s) to ws(s) and
// defaulting the scheme to wss and the path to /ws.
func NormalizeRelayURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid relay URL: %s", raw)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid relay URL scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}

// ---------------------------------------------------------------------------
// Environment defaults
// ---------------------------------------------------------------------------

func env(key, fallback string) string {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	switch strings.ToLower(env(key, "")) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func envList(key string) []string {
	v := env(key, "")
	if v == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(env(key, "")); err == nil {
		return d
	}
	return fallback
}
