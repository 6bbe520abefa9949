package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Per-link counters
// ──────────────────────────────────────────────────────────────────────────────

// Stats counts direct-channel traffic for one link. It is safe for concurrent
// use; the transport's sender and receive callback update it.
type Stats struct {
	MsgsSent  atomic.Int64 // messages written to the DataChannel
	MsgsRecv  atomic.Int64 // messages read from the DataChannel
	BytesSent atomic.Int64
	BytesRecv atomic.Int64
}

// NewStats returns zeroed counters.
func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) AddSent(n int) {
	s.MsgsSent.Add(1)
	s.BytesSent.Add(int64(n))
}

func (s *Stats) AddRecv(n int) {
	s.MsgsRecv.Add(1)
	s.BytesRecv.Add(int64(n))
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs throughput for s every
// interval while there is traffic. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, s *Stats, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		secs := interval.Seconds()
		var prevSent, prevRecv, prevMsgsSent, prevMsgsRecv int64
		for {
			select {
			case <-ticker.C:
				sent := s.BytesSent.Load()
				recv := s.BytesRecv.Load()
				msgsSent := s.MsgsSent.Load()
				msgsRecv := s.MsgsRecv.Load()

				outS := float64(sent-prevSent) / secs
				inS := float64(recv-prevRecv) / secs
				outM := msgsSent - prevMsgsSent
				inM := msgsRecv - prevMsgsRecv

				if inM > 0 || outM > 0 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, inM, outM))
				}

				prevSent = sent
				prevRecv = recv
				prevMsgsSent = msgsSent
				prevMsgsRecv = msgsRecv

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(inS, outS float64, inM, outM int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Msgs: %3d↓ %3d↑",
		formatBytes(inS),
		formatBytes(outS),
		inM,
		outM,
	)
}
