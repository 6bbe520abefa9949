// Pairlink CLI entry point.
//
// Two peers that share a code and password meet at a signaling relay,
// negotiate a direct WebRTC DataChannel and then talk without the relay.
// Lines typed on stdin are sent to the peer; lines received are printed.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (--mode, --relay, --code, --password, ...). Every flag also reads a
// PAIRLINK_* environment variable as its default.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/pflag"

	"github.com/1ureka/pairlink/internal/config"
	"github.com/1ureka/pairlink/internal/message"
	"github.com/1ureka/pairlink/internal/relay"
	"github.com/1ureka/pairlink/internal/signaling"
	"github.com/1ureka/pairlink/internal/transport"
	"github.com/1ureka/pairlink/internal/util"
)

var version = "dev"

const statsInterval = time.Second

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var cfg config.Config
	cfg.RegisterFlags(pflag.CommandLine)
	pflag.Parse()

	switch {
	case cfg.Trace:
		util.EnableTrace()
	case cfg.Debug:
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Pairlink v%s", version))
	pterm.Println()

	if cfg.Mode == "" {
		// No --mode flag: interactive mode.
		askConfig(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	switch cfg.Mode {
	case config.ModeRelay:
		runRelay(ctx, cfg)
	default:
		runPeer(ctx, cfg)
	}
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

// runRelay serves the signaling relay until Ctrl+C.
func runRelay(ctx context.Context, cfg config.Config) {
	srv := relay.NewServer(relay.Options{})
	if err := srv.ListenAndServe(ctx, cfg.ListenAddr); err != nil {
		util.LogError("relay stopped: %v", err)
		os.Exit(1)
	}
	util.LogInfo("relay stopped")
}

// runPeer pairs through the relay and then bridges stdin/stdout to the link.
func runPeer(ctx context.Context, cfg config.Config) {
	iceServers := cfg.ICEServers
	if len(iceServers) == 0 {
		iceServers = transport.DefaultSTUNServers
	}

	spinner, _ := pterm.DefaultSpinner.Start("Waiting for peer on relay...")
	link, err := signaling.Establish(ctx, signaling.Config{
		RelayURL:   cfg.RelayURL,
		Secret:     message.Secret{Code: cfg.Code, Pass: cfg.Password},
		Initiate:   cfg.Mode == config.ModeInitiate,
		EagerOffer: cfg.EagerOffer,
		Timeout:    cfg.Timeout,
		Transport:  transport.Config{ICEServers: iceServers},
	}, func(data []byte) {
		pterm.Println(pterm.Cyan("peer> ") + string(data))
	})
	if err != nil {
		spinner.Fail(fmt.Sprintf("failed to establish link: %v", err))
		os.Exit(1)
	}
	spinner.Success("Direct link established, relay released")
	defer link.Close()

	util.StartStatsReporter(ctx, link.Stats(), statsInterval)
	util.LogSuccess("link %s ready, type a line and press Enter to send", link.ID())

	go readStdin(ctx, link)

	select {
	case <-link.Done():
		if err := link.Err(); err != nil {
			util.LogError("link closed: %v", err)
			os.Exit(1)
		}
		util.LogInfo("peer closed the link")
	case <-ctx.Done():
		util.LogInfo("successfully closed link")
	}
}

// readStdin sends every stdin line to the peer until EOF or link close.
func readStdin(ctx context.Context, link *signaling.Link) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := link.Send([]byte(line)); err != nil {
			util.LogWarning("send failed: %v", err)
			return
		}
	}
	if ctx.Err() == nil {
		util.LogDebug("stdin closed")
	}
}

// ---------------------------------------------------------------------------
// Interactive prompts
// ---------------------------------------------------------------------------

// askConfig falls back to interactive prompts when no --mode flag is given.
func askConfig(cfg *config.Config) {
	mode, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{
			"Initiate: Create a pairing and offer",
			"Join:     Join a pairing by code",
			"Relay:    Run the signaling relay",
		}).
		WithDefaultText("Select a mode").
		Show()

	pterm.Println()

	switch {
	case strings.HasPrefix(mode, "Relay"):
		cfg.Mode = config.ModeRelay
		return
	case strings.HasPrefix(mode, "Initiate"):
		cfg.Mode = config.ModeInitiate
	default:
		cfg.Mode = config.ModeJoin
	}

	cfg.RelayURL = askRelayURL(cfg.RelayURL)
	cfg.Code = askText("Pairing code", false)
	cfg.Password = askText("Pairing password", true)
}

// askRelayURL prompts for a relay URL until a valid one is entered.
func askRelayURL(fallback string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Relay URL").
			WithDefaultValue(fallback).
			Show()

		relayURL, err := config.NormalizeRelayURL(raw)
		if err == nil {
			pterm.Println()
			return relayURL
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}

// askText prompts until a non-empty value is entered.
func askText(prompt string, secret bool) string {
	for {
		input := pterm.DefaultInteractiveTextInput.WithDefaultText(prompt)
		if secret {
			input = input.WithMask("*")
		}
		raw, _ := input.Show()

		if v := strings.TrimSpace(raw); v != "" {
			pterm.Println()
			return v
		}

		util.LogWarning("value must not be empty")
		pterm.Println()
	}
}
