package negotiation

import (
	"github.com/pion/webrtc/v4"
)

// ApplyFunc hands a remote candidate to the capability. A returned error means
// the candidate was rejected; it never aborts the negotiation.
type ApplyFunc func(webrtc.ICECandidateInit) error

// Rejection records a candidate the capability refused.
type Rejection struct {
	Candidate webrtc.ICECandidateInit
	Err       error
}

// Staging buffers remote candidates that arrive before the remote descriptor
// is accepted. It is flushed exactly once; afterwards candidates bypass the
// buffer for the rest of the negotiation.
type Staging struct {
	pending []webrtc.ICECandidateInit
	flushed bool
}

// NewStaging creates an empty, unflushed staging buffer.
func NewStaging() *Staging {
	return &Staging{}
}

// Stage appends a candidate in arrival order. It reports false, and buffers
// nothing, once the staging has been flushed.
func (s *Staging) Stage(c webrtc.ICECandidateInit) bool {
	if s.flushed {
		return false
	}
	s.pending = append(s.pending, c)
	return true
}

// Add stages c while the buffer is active, or applies it immediately once it
// has been flushed. It returns the apply error, if any.
func (s *Staging) Add(c webrtc.ICECandidateInit, apply ApplyFunc) error {
	if s.Stage(c) {
		return nil
	}
	return apply(c)
}

// Flush applies every staged candidate in arrival order and permanently
// deactivates the buffer. Individual failures are collected and returned;
// they do not stop the remaining candidates. Only the first call does work.
func (s *Staging) Flush(apply ApplyFunc) []Rejection {
	if s.flushed {
		return nil
	}
	s.flushed = true

	var rejected []Rejection
	for _, c := range s.pending {
		if err := apply(c); err != nil {
			rejected = append(rejected, Rejection{Candidate: c, Err: err})
		}
	}
	s.pending = nil
	return rejected
}

// Flushed reports whether the remote descriptor has been accepted.
func (s *Staging) Flushed() bool { return s.flushed }

// Len returns the number of candidates waiting for the remote descriptor.
func (s *Staging) Len() int { return len(s.pending) }
