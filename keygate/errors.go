package keygate

import (
	"errors"

	"github.com/keksclan/goKeygate/internal/keystore"
	"github.com/keksclan/goKeygate/internal/token"
)

// Reason names why a token was rejected.
type Reason = token.Reason

const (
	ReasonNone              = token.ReasonNone
	ReasonMalformedToken    = token.ReasonMalformedToken
	ReasonUnknownKeyID      = token.ReasonUnknownKeyID
	ReasonKeyFetchFailed    = token.ReasonKeyFetchFailed
	ReasonSignatureMismatch = token.ReasonSignatureMismatch
	ReasonWrongAudience     = token.ReasonWrongAudience
	ReasonWrongIssuer       = token.ReasonWrongIssuer
	ReasonExpired           = token.ReasonExpired
)

// Errors returned by Verify match exactly one of these via errors.Is.
var (
	ErrMalformedToken    = token.ErrMalformedToken
	ErrUnknownKeyID      = token.ErrUnknownKeyID
	ErrKeyFetchFailed    = token.ErrKeyFetchFailed
	ErrSignatureMismatch = token.ErrSignatureMismatch
	ErrWrongAudience     = token.ErrWrongAudience
	ErrWrongIssuer       = token.ErrWrongIssuer
	ErrExpired           = token.ErrExpired
)

// ErrNoKeys is returned by Warm when keys could not be fetched and none are
// cached.
var ErrNoKeys = errors.New("no public keys available")

// ReasonOf maps err to its rejection reason. Errors that carry no reason
// map to ReasonNone.
func ReasonOf(err error) Reason {
	if err == nil {
		return ReasonNone
	}
	if errors.Is(err, keystore.ErrKeyFetchFailed) {
		return ReasonKeyFetchFailed
	}
	return token.ReasonOf(err)
}
