package token

import (
	"errors"
	"fmt"
)

// Reason names why a token was rejected.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonMalformedToken    Reason = "malformed_token"
	ReasonUnknownKeyID      Reason = "unknown_key_id"
	ReasonKeyFetchFailed    Reason = "key_fetch_failed"
	ReasonSignatureMismatch Reason = "signature_mismatch"
	ReasonWrongAudience     Reason = "wrong_audience"
	ReasonWrongIssuer       Reason = "wrong_issuer"
	ReasonExpired           Reason = "expired"
)

var (
	ErrMalformedToken    = errors.New("malformed token")
	ErrUnknownKeyID      = errors.New("unknown key id")
	ErrKeyFetchFailed    = errors.New("public keys unavailable")
	ErrSignatureMismatch = errors.New("signature mismatch")
	ErrWrongAudience     = errors.New("wrong audience")
	ErrWrongIssuer       = errors.New("wrong issuer")
	ErrExpired           = errors.New("token expired")
)

var sentinels = map[Reason]error{
	ReasonMalformedToken:    ErrMalformedToken,
	ReasonUnknownKeyID:      ErrUnknownKeyID,
	ReasonKeyFetchFailed:    ErrKeyFetchFailed,
	ReasonSignatureMismatch: ErrSignatureMismatch,
	ReasonWrongAudience:     ErrWrongAudience,
	ReasonWrongIssuer:       ErrWrongIssuer,
	ReasonExpired:           ErrExpired,
}

// Sentinel returns the error value matching r, or nil.
func Sentinel(r Reason) error {
	return sentinels[r]
}

// Error is a verification failure. It matches the sentinel of its Reason via
// errors.Is and unwraps to the underlying cause.
type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Reason]
	return ok && s == target
}

func fail(r Reason, format string, args ...any) *Error {
	return &Error{Reason: r, Err: fmt.Errorf(format, args...)}
}

// ReasonOf extracts the reason from err, or ReasonNone.
func ReasonOf(err error) Reason {
	var te *Error
	if errors.As(err, &te) {
		return te.Reason
	}
	for r, s := range sentinels {
		if errors.Is(err, s) {
			return r
		}
	}
	return ReasonNone
}
