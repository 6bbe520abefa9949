// Package message defines the JSON envelopes exchanged with the signaling relay.
package message

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Type identifies the kind of relay envelope.
type Type string

const (
	TypeProbe     Type = "probe"     // client → relay: join code+password
	TypeMatch     Type = "match"     // relay → client: paired, with initiator flag
	TypeNewRoom   Type = "newroom"   // relay → client: no peer yet, waiting room created
	TypeOffer     Type = "offer"     // peer ↔ peer
	TypeAnswer    Type = "answer"    // peer ↔ peer
	TypeCandidate Type = "candidate" // peer ↔ peer
)

// ErrMalformed is returned by Decode for undecodable or incomplete envelopes.
var ErrMalformed = errors.New("malformed envelope")

// Secret is the (code, password) pair the relay matches on.
type Secret struct {
	Code string `json:"code"`
	Pass string `json:"pass"`
}

// IsZero reports whether neither field is set.
func (s Secret) IsZero() bool {
	return s.Code == "" && s.Pass == ""
}

// Envelope is the unit exchanged through the relay. Only the fields relevant
// to Type are populated.
type Envelope struct {
	Type      Type                       `json:"type"`
	Data      *Secret                    `json:"data,omitempty"`      // probe
	Initiator *bool                      `json:"initiator,omitempty"` // match
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`       // offer, answer, eager probe
	Code      string                     `json:"code,omitempty"`      // offer, answer
	Pass      string                     `json:"pass,omitempty"`      // offer, answer
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"` // candidate
}

// Secret returns the code/password echoed on offer and answer envelopes.
func (e Envelope) Secret() Secret {
	return Secret{Code: e.Code, Pass: e.Pass}
}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// Probe announces intent to join code+password. sdp is non-nil only when the
// local offer was created before probing.
func Probe(secret Secret, sdp *webrtc.SessionDescription) Envelope {
	return Envelope{Type: TypeProbe, Data: &secret, SDP: sdp}
}

func Match(initiator bool) Envelope {
	return Envelope{Type: TypeMatch, Initiator: &initiator}
}

func NewRoom() Envelope {
	return Envelope{Type: TypeNewRoom}
}

func Offer(sdp webrtc.SessionDescription, secret Secret) Envelope {
	return Envelope{Type: TypeOffer, SDP: &sdp, Code: secret.Code, Pass: secret.Pass}
}

func Answer(sdp webrtc.SessionDescription, secret Secret) Envelope {
	return Envelope{Type: TypeAnswer, SDP: &sdp, Code: secret.Code, Pass: secret.Pass}
}

func Candidate(c webrtc.ICECandidateInit) Envelope {
	return Envelope{Type: TypeCandidate, Candidate: &c}
}

// ---------------------------------------------------------------------------
// Codec
// ---------------------------------------------------------------------------

// Known reports whether t is one of the six envelope types.
func Known(t Type) bool {
	switch t {
	case TypeProbe, TypeMatch, TypeNewRoom, TypeOffer, TypeAnswer, TypeCandidate:
		return true
	}
	return false
}

// Encode serializes an envelope to JSON.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Decode parses and validates a relay envelope. Envelopes of unknown type are
// returned without error so that callers can log and drop them.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Validate checks that the fields required by the envelope type are present.
func (e Envelope) Validate() error {
	switch e.Type {
	case "":
		return fmt.Errorf("%w: missing type", ErrMalformed)
	case TypeProbe:
		if e.Data == nil {
			return fmt.Errorf("%w: probe without data", ErrMalformed)
		}
	case TypeMatch:
		if e.Initiator == nil {
			return fmt.Errorf("%w: match without initiator flag", ErrMalformed)
		}
	case TypeOffer:
		return validateSDP(e, webrtc.SDPTypeOffer)
	case TypeAnswer:
		return validateSDP(e, webrtc.SDPTypeAnswer)
	case TypeCandidate:
		if e.Candidate == nil || e.Candidate.Candidate == "" {
			return fmt.Errorf("%w: candidate without descriptor", ErrMalformed)
		}
	}
	return nil
}

func validateSDP(e Envelope, want webrtc.SDPType) error {
	if e.SDP == nil || e.SDP.SDP == "" {
		return fmt.Errorf("%w: %s without sdp", ErrMalformed, e.Type)
	}
	if e.SDP.Type != want {
		return fmt.Errorf("%w: %s carries %s descriptor", ErrMalformed, e.Type, e.SDP.Type)
	}
	return nil
}
