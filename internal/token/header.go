package token

import (
	"encoding/json"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Header is the unverified JOSE header. It only selects a key; nothing in it
// is trusted.
type Header struct {
	KeyID     string `json:"kid"`
	Algorithm string `json:"alg"`
	Type      string `json:"typ,omitempty"`
}

var segmentParser = jwt.NewParser()

// split checks the compact serialization shape.
func split(raw string) ([3]string, bool) {
	var parts [3]string
	segs := strings.Split(raw, ".")
	if len(segs) != 3 {
		return parts, false
	}
	for i, s := range segs {
		if s == "" {
			return parts, false
		}
		parts[i] = s
	}
	return parts, true
}

// DecodeHeader reads the header of raw without verifying anything.
func DecodeHeader(raw string) (Header, error) {
	parts, ok := split(raw)
	if !ok {
		return Header{}, fail(ReasonMalformedToken, "token must have three non-empty segments")
	}
	return decodeHeaderSegment(parts[0])
}

func decodeHeaderSegment(seg string) (Header, error) {
	b, err := segmentParser.DecodeSegment(seg)
	if err != nil {
		return Header{}, fail(ReasonMalformedToken, "header encoding: %w", err)
	}
	var h Header
	if err := json.Unmarshal(b, &h); err != nil {
		return Header{}, fail(ReasonMalformedToken, "header json: %w", err)
	}
	if h.KeyID == "" {
		return Header{}, fail(ReasonMalformedToken, "header has no kid")
	}
	return h, nil
}
