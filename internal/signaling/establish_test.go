package signaling

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/1ureka/pairlink/internal/message"
	"github.com/1ureka/pairlink/internal/relay"
	"github.com/1ureka/pairlink/internal/transport"
)

// TestEstablishEndToEnd pairs two real PeerConnections through the relay
// over loopback candidates and exchanges a message each way. The first peer
// always takes the room; the cases vary which mode probes second.
func TestEstablishEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("end-to-end WebRTC test")
	}

	tests := []struct {
		name          string
		first, second Config
	}{
		{
			name:   "initiator waits",
			first:  Config{Initiate: true},
			second: Config{},
		},
		{
			name:   "eager initiator probes second",
			first:  Config{},
			second: Config{Initiate: true, EagerOffer: true},
		},
		{
			name:   "both initiate",
			first:  Config{Initiate: true, EagerOffer: true},
			second: Config{Initiate: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := relay.NewServer(relay.Options{})
			ts := httptest.NewServer(srv)
			defer ts.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			complete := func(cfg Config) Config {
				cfg.RelayURL = "ws" + strings.TrimPrefix(ts.URL, "http")
				cfg.Secret = message.Secret{Code: "e2e", Pass: tt.name}
				cfg.Timeout = 20 * time.Second
				cfg.Transport = transport.Config{IncludeLoopback: true}
				return cfg
			}

			type result struct {
				link *Link
				err  error
			}
			firstRecv := make(chan []byte, 1)
			secondRecv := make(chan []byte, 1)
			firstCh := make(chan result, 1)
			secondCh := make(chan result, 1)

			go func() {
				l, err := Establish(ctx, complete(tt.first), func(b []byte) { firstRecv <- b })
				firstCh <- result{l, err}
			}()
			waitForRoom(t, srv)
			go func() {
				l, err := Establish(ctx, complete(tt.second), func(b []byte) { secondRecv <- b })
				secondCh <- result{l, err}
			}()

			first, second := <-firstCh, <-secondCh
			if first.err != nil || second.err != nil {
				t.Fatalf("Establish: first=%v second=%v", first.err, second.err)
			}
			defer first.link.Close()
			defer second.link.Close()

			exchange(t, first.link, secondRecv, "ping")
			exchange(t, second.link, firstRecv, "pong")
		})
	}
}

// waitForRoom blocks until the first peer's probe has opened a room.
func waitForRoom(t *testing.T, srv *relay.Server) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for srv.Waiting() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first peer never reached the relay")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func exchange(t *testing.T, from *Link, to <-chan []byte, msg string) {
	t.Helper()
	if err := from.Send([]byte(msg)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case b := <-to:
		if string(b) != msg {
			t.Errorf("received %q, want %q", b, msg)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("%q not received", msg)
	}
}

// TestEstablishRelayUnreachable fails fast when no relay is listening.
func TestEstablishRelayUnreachable(t *testing.T) {
	ts := httptest.NewServer(relay.NewServer(relay.Options{}))
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	ts.Close()

	_, err := Establish(context.Background(), Config{
		RelayURL: url,
		Secret:   message.Secret{Code: "1", Pass: "2"},
		Timeout:  2 * time.Second,
	}, nil)
	if err == nil {
		t.Fatal("Establish succeeded without a relay")
	}
}

// TestEstablishTimeout gives up when no peer ever joins.
func TestEstablishTimeout(t *testing.T) {
	ts := httptest.NewServer(relay.NewServer(relay.Options{}))
	defer ts.Close()

	_, err := Establish(context.Background(), Config{
		RelayURL: "ws" + strings.TrimPrefix(ts.URL, "http"),
		Secret:   message.Secret{Code: "alone", Pass: "x"},
		Initiate: true,
		Timeout:  300 * time.Millisecond,
	}, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Establish = %v, want deadline exceeded", err)
	}
}
