package signal

import (
	"encoding/json"
	"fmt"
	"strings"

	"connectsphere/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// signalPayload covers the shapes browsers exchange during negotiation.
// Anything else (renegotiate hints, transceiver requests) is relayed as is.
type signalPayload struct {
	Type      string          `json:"type"`
	SDP       string          `json:"sdp"`
	Candidate json.RawMessage `json:"candidate"`
}

// validateSignalPayload rejects offers and answers whose SDP does not parse
// and candidates that are not ICE candidate lines. The payload itself is
// never rewritten.
func validateSignalPayload(raw json.RawMessage) error {
	var p signalPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		// arrays and scalars are opaque to us
		return nil
	}

	if p.SDP != "" || isDescriptionType(p.Type) {
		if !isDescriptionType(p.Type) {
			return fmt.Errorf("%w: unknown description type %q", domain.ErrValidation, p.Type)
		}
		desc := webrtc.SessionDescription{Type: webrtc.NewSDPType(p.Type), SDP: p.SDP}
		if desc.Type == webrtc.SDPTypeRollback {
			return nil
		}
		if !strings.HasPrefix(strings.TrimSpace(p.SDP), "v=0") {
			return fmt.Errorf("%w: sdp must start with a v=0 line", domain.ErrValidation)
		}
		parsed, err := desc.Unmarshal()
		if err != nil {
			return fmt.Errorf("%w: invalid sdp: %v", domain.ErrValidation, err)
		}
		if parsed.Origin.Username == "" && parsed.SessionName == "" {
			return fmt.Errorf("%w: sdp has no origin or session name", domain.ErrValidation)
		}
		if len(parsed.MediaDescriptions) == 0 {
			return fmt.Errorf("%w: sdp has no media sections", domain.ErrValidation)
		}
		return nil
	}

	if len(p.Candidate) == 0 {
		return nil
	}

	var init webrtc.ICECandidateInit
	switch p.Candidate[0] {
	case '"':
		// flat shape: {"candidate":"candidate:...","sdpMid":"0"}
		if err := json.Unmarshal(raw, &init); err != nil {
			return fmt.Errorf("%w: invalid candidate: %v", domain.ErrValidation, err)
		}
	case '{':
		if err := json.Unmarshal(p.Candidate, &init); err != nil {
			return fmt.Errorf("%w: invalid candidate: %v", domain.ErrValidation, err)
		}
	default:
		return fmt.Errorf("%w: invalid candidate", domain.ErrValidation)
	}
	return validateCandidate(init)
}

func isDescriptionType(t string) bool {
	switch t {
	case "offer", "answer", "pranswer", "rollback":
		return true
	}
	return false
}

// validateCandidate accepts the empty end-of-candidates marker.
func validateCandidate(init webrtc.ICECandidateInit) error {
	c := strings.TrimPrefix(init.Candidate, "a=")
	if c == "" {
		return nil
	}
	if !strings.HasPrefix(c, "candidate:") {
		return fmt.Errorf("%w: candidate line must start with candidate:", domain.ErrValidation)
	}
	if len(strings.Fields(c)) < 8 {
		return fmt.Errorf("%w: truncated candidate line", domain.ErrValidation)
	}
	return nil
}
