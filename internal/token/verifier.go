// Package token verifies RS256 identity tokens against a rotating key set.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/keksclan/goKeygate/internal/keystore"
)

// KeySource supplies the current key set.
type KeySource interface {
	Keys(ctx context.Context) (keystore.KeySet, error)
}

// Refresher is implemented by key sources that can refresh on demand. The
// verifier uses it for unknown key ids when Config.RefreshOnUnknownKID is set.
type Refresher interface {
	RefreshIfOlder(ctx context.Context, minAge time.Duration) (keystore.KeySet, error)
}

// MetricsCollector receives validation outcome counters.
// All methods must be safe for concurrent use.
// Implementations must never log or store tokens or claims.
type MetricsCollector interface {
	ValidationOK()
	ValidationFailed(reason Reason)
}

type Config struct {
	Issuer   string
	Audience string
	// Leeway is added to exp before comparing with the current time.
	Leeway time.Duration
	// RefreshOnUnknownKID, when positive, lets a kid miss force one key
	// refresh if the cached set is at least this old.
	RefreshOnUnknownKID time.Duration
	Metrics             MetricsCollector
	Now                 func() time.Time
}

type Claims struct {
	Subject   string
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	IssuedAt  time.Time
	RawMap    map[string]any
}

// Verifier verifies tokens. It is safe for concurrent use.
type Verifier struct {
	cfg  Config
	keys KeySource
	now  func() time.Time
}

func New(cfg Config, keys KeySource) (*Verifier, error) {
	if keys == nil {
		return nil, errors.New("token: key source is required")
	}
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, errors.New("token: issuer and audience are required")
	}
	v := &Verifier{cfg: cfg, keys: keys, now: cfg.Now}
	if v.now == nil {
		v.now = time.Now
	}
	return v, nil
}

// Verify runs the checks in order and stops at the first failure. Every
// returned error is an *Error.
func (v *Verifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	c, err := v.verify(ctx, raw)
	if err != nil {
		v.emitFailure(err.Reason)
		return nil, err
	}
	v.emitOK()
	return c, nil
}

func (v *Verifier) verify(ctx context.Context, raw string) (*Claims, *Error) {
	parts, ok := split(raw)
	if !ok {
		return nil, fail(ReasonMalformedToken, "token must have three non-empty segments")
	}

	// Decode-only: the header just picks the key.
	hdr, err := decodeHeaderSegment(parts[0])
	if err != nil {
		var te *Error
		errors.As(err, &te)
		return nil, te
	}

	set, err := v.keys.Keys(ctx)
	if err != nil {
		return nil, &Error{Reason: ReasonKeyFetchFailed, Err: err}
	}

	key, ok := set.Lookup(hdr.KeyID)
	if !ok {
		key, ok = v.retryUnknownKID(ctx, hdr.KeyID)
		if !ok {
			return nil, fail(ReasonUnknownKeyID, "kid %q not in key set", hdr.KeyID)
		}
	}

	if hdr.Algorithm != jwt.SigningMethodRS256.Alg() {
		return nil, fail(ReasonSignatureMismatch, "unexpected alg %q", hdr.Algorithm)
	}
	sig, err := segmentParser.DecodeSegment(parts[2])
	if err != nil {
		return nil, fail(ReasonSignatureMismatch, "signature encoding: %w", err)
	}
	if err := jwt.SigningMethodRS256.Verify(parts[0]+"."+parts[1], sig, key.Public); err != nil {
		return nil, &Error{Reason: ReasonSignatureMismatch, Err: err}
	}

	payload, err := segmentParser.DecodeSegment(parts[1])
	if err != nil {
		return nil, fail(ReasonMalformedToken, "payload encoding: %w", err)
	}
	var mc jwt.MapClaims
	if err := json.Unmarshal(payload, &mc); err != nil {
		return nil, fail(ReasonMalformedToken, "payload json: %w", err)
	}

	res := &Claims{RawMap: mc}

	iss, err := mc.GetIssuer()
	if err != nil || iss != v.cfg.Issuer {
		return nil, fail(ReasonWrongIssuer, "issuer %q", iss)
	}
	res.Issuer = iss

	aud, err := mc.GetAudience()
	if err != nil || !slices.Contains(aud, v.cfg.Audience) {
		return nil, fail(ReasonWrongAudience, "audience %v", []string(aud))
	}
	res.Audience = aud

	exp, err := mc.GetExpirationTime()
	if err != nil {
		return nil, fail(ReasonMalformedToken, "exp: %w", err)
	}
	if exp == nil {
		return nil, fail(ReasonMalformedToken, "exp claim missing")
	}
	now := v.now()
	if exp.Add(v.cfg.Leeway).Before(now) {
		return nil, fail(ReasonExpired, "expired at %s", exp.UTC().Format(time.RFC3339))
	}
	res.ExpiresAt = exp.Time

	if sub, err := mc.GetSubject(); err == nil {
		res.Subject = sub
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		res.IssuedAt = iat.Time
	}
	return res, nil
}

func (v *Verifier) retryUnknownKID(ctx context.Context, kid string) (keystore.Key, bool) {
	if v.cfg.RefreshOnUnknownKID <= 0 {
		return keystore.Key{}, false
	}
	r, ok := v.keys.(Refresher)
	if !ok {
		return keystore.Key{}, false
	}
	set, err := r.RefreshIfOlder(ctx, v.cfg.RefreshOnUnknownKID)
	if err != nil {
		return keystore.Key{}, false
	}
	return set.Lookup(kid)
}

func (v *Verifier) emitOK() {
	if v.cfg.Metrics != nil {
		v.cfg.Metrics.ValidationOK()
	}
}

func (v *Verifier) emitFailure(r Reason) {
	if v.cfg.Metrics != nil {
		v.cfg.Metrics.ValidationFailed(r)
	}
}
