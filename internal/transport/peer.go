package transport

import (
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/pairlink/internal/util"
)

// DefaultSTUNServers are used for ICE candidate gathering when no servers are
// configured. No TURN: the direct channel is expected to be peer-to-peer.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// channelLabel names the single application DataChannel.
const channelLabel = "pairlink"

// newPeerConnection creates a PeerConnection whose pion internals log through
// pterm. Loopback candidates are only gathered when requested (tests).
func newPeerConnection(cfg Config) (*webrtc.PeerConnection, error) {
	se := webrtc.SettingEngine{}
	se.LoggerFactory = util.PionLoggerFactory{}
	if cfg.IncludeLoopback {
		se.SetIncludeLoopbackCandidate(true)
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))

	var servers []webrtc.ICEServer
	if len(cfg.ICEServers) > 0 {
		servers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}

	return api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
}

// newDataChannel creates a pre-negotiated, ordered DataChannel on the given
// PeerConnection. Using negotiated mode (ID 0) allows both sides to create
// the channel independently without relying on OnDataChannel, so the
// initiator and receiver code paths stay symmetric.
func newDataChannel(pc *webrtc.PeerConnection) (*webrtc.DataChannel, error) {
	negotiated := true
	id := uint16(0)

	return pc.CreateDataChannel(channelLabel, &webrtc.DataChannelInit{
		Negotiated: &negotiated,
		ID:         &id,
	})
}
