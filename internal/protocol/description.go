// Package protocol defines the text format used to exchange session
// descriptions between operators and the inspection of their SDP payloads.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

var (
	ErrEmptyDescription     = errors.New("description is empty")
	ErrMalformedDescription = errors.New("description is not valid JSON")
	ErrUnknownType          = errors.New("description type must be 'offer' or 'answer'")
	ErrMissingSDP           = errors.New("description has no sdp")
)

// wireDescription is the JSON shape carried through the exchange medium.
// It matches what browsers produce for JSON.stringify(pc.localDescription).
type wireDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// EncodeDescription serializes desc to its transferable JSON text.
func EncodeDescription(desc webrtc.SessionDescription) (string, error) {
	if desc.Type != webrtc.SDPTypeOffer && desc.Type != webrtc.SDPTypeAnswer {
		return "", fmt.Errorf("%w: got %q", ErrUnknownType, desc.Type.String())
	}
	data, err := json.Marshal(wireDescription{Type: desc.Type.String(), SDP: desc.SDP})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeDescription parses operator-supplied text into a SessionDescription.
// Anything that is not a complete offer or answer is rejected.
func DecodeDescription(text string) (webrtc.SessionDescription, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return webrtc.SessionDescription{}, ErrEmptyDescription
	}

	var wire wireDescription
	if err := json.Unmarshal([]byte(text), &wire); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %v", ErrMalformedDescription, err)
	}

	var typ webrtc.SDPType
	switch wire.Type {
	case "offer":
		typ = webrtc.SDPTypeOffer
	case "answer":
		typ = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("%w: got %q", ErrUnknownType, wire.Type)
	}

	if strings.TrimSpace(wire.SDP) == "" {
		return webrtc.SessionDescription{}, ErrMissingSDP
	}

	return webrtc.SessionDescription{Type: typ, SDP: wire.SDP}, nil
}

// Preview returns at most n leading characters of an SDP blob for logging.
func Preview(sdp string, n int) string {
	if len(sdp) <= n {
		return sdp
	}
	return sdp[:n] + "…"
}
