package token

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/keksclan/goKeygate/internal/keystore"
	"github.com/keksclan/goKeygate/keygatetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticKeys struct {
	mu       sync.Mutex
	set      keystore.KeySet
	err      error
	calls    int
	refresh  keystore.KeySet
	refreshN int
}

func (s *staticKeys) Keys(context.Context) (keystore.KeySet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.set, s.err
}

func (s *staticKeys) RefreshIfOlder(context.Context, time.Duration) (keystore.KeySet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshN++
	if s.refresh != nil {
		s.set = s.refresh
	}
	return s.set, nil
}

type recordingMetrics struct {
	ok     int
	failed []Reason
}

func (m *recordingMetrics) ValidationOK()                  { m.ok++ }
func (m *recordingMetrics) ValidationFailed(reason Reason) { m.failed = append(m.failed, reason) }

func keysFor(iss *keygatetest.Issuer) keystore.KeySet {
	return keystore.KeySet{iss.KeyID(): {ID: iss.KeyID(), Public: iss.PublicKey()}}
}

func newVerifier(t *testing.T, iss *keygatetest.Issuer, ks KeySource, mut ...func(*Config)) *Verifier {
	t.Helper()
	cfg := Config{Issuer: iss.IssuerURL(), Audience: iss.Audience()}
	for _, m := range mut {
		m(&cfg)
	}
	v, err := New(cfg, ks)
	require.NoError(t, err)
	return v
}

func TestVerifyValidToken(t *testing.T) {
	iss := keygatetest.NewIssuer("demo")
	defer iss.Close()
	m := &recordingMetrics{}
	v := newVerifier(t, iss, &staticKeys{set: keysFor(iss)}, func(c *Config) { c.Metrics = m })

	c, err := v.Verify(t.Context(), iss.Token("alice"))
	require.NoError(t, err)
	assert.Equal(t, "alice", c.Subject)
	assert.Equal(t, iss.IssuerURL(), c.Issuer)
	assert.Equal(t, []string{"demo"}, c.Audience)
	assert.True(t, c.ExpiresAt.After(time.Now()))
	assert.False(t, c.IssuedAt.IsZero())
	assert.Equal(t, "alice", c.RawMap["user_id"])
	assert.Equal(t, 1, m.ok)
}

func TestVerifyWrongIssuer(t *testing.T) {
	iss := keygatetest.NewIssuer("demo")
	defer iss.Close()
	v := newVerifier(t, iss, &staticKeys{set: keysFor(iss)}, func(c *Config) {
		c.Issuer = "https://securetoken.google.com/other"
	})

	_, err := v.Verify(t.Context(), iss.Token("alice"))
	assert.ErrorIs(t, err, ErrWrongIssuer)
	assert.Equal(t, ReasonWrongIssuer, ReasonOf(err))
}

func TestVerifyAudience(t *testing.T) {
	iss := keygatetest.NewIssuer("demo")
	defer iss.Close()
	v := newVerifier(t, iss, &staticKeys{set: keysFor(iss)})

	_, err := v.Verify(t.Context(), iss.TokenWithClaims("alice", map[string]any{"aud": "other"}))
	assert.ErrorIs(t, err, ErrWrongAudience)

	_, err = v.Verify(t.Context(), iss.TokenWithClaims("alice", map[string]any{"aud": nil}))
	assert.ErrorIs(t, err, ErrWrongAudience)

	c, err := v.Verify(t.Context(), iss.TokenWithClaims("alice", map[string]any{"aud": []string{"x", "demo"}}))
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "demo"}, c.Audience)
}

func TestVerifyExpiry(t *testing.T) {
	iss := keygatetest.NewIssuer("demo")
	defer iss.Close()
	v := newVerifier(t, iss, &staticKeys{set: keysFor(iss)})

	_, err := v.Verify(t.Context(), iss.ExpiredToken("alice"))
	assert.ErrorIs(t, err, ErrExpired)

	_, err = v.Verify(t.Context(), iss.TokenWithClaims("alice", map[string]any{"exp": nil}))
	assert.ErrorIs(t, err, ErrMalformedToken)

	_, err = v.Verify(t.Context(), iss.TokenWithClaims("alice", map[string]any{"exp": "tomorrow"}))
	assert.ErrorIs(t, err, ErrMalformedToken)
}

func TestVerifyExpiryBoundary(t *testing.T) {
	iss := keygatetest.NewIssuer("demo")
	defer iss.Close()
	now := time.Unix(time.Now().Unix(), 0)
	v := newVerifier(t, iss, &staticKeys{set: keysFor(iss)}, func(c *Config) {
		c.Now = func() time.Time { return now }
	})

	_, err := v.Verify(t.Context(), iss.TokenWithClaims("alice", map[string]any{"exp": now.Unix()}))
	assert.NoError(t, err, "exp equal to now is still valid")

	_, err = v.Verify(t.Context(), iss.TokenWithClaims("alice", map[string]any{"exp": now.Unix() - 1}))
	assert.ErrorIs(t, err, ErrExpired)
}

func TestVerifyLeeway(t *testing.T) {
	iss := keygatetest.NewIssuer("demo")
	defer iss.Close()
	tok := iss.TokenWithClaims("alice", map[string]any{"exp": time.Now().Add(-10 * time.Second).Unix()})

	strict := newVerifier(t, iss, &staticKeys{set: keysFor(iss)})
	_, err := strict.Verify(t.Context(), tok)
	assert.ErrorIs(t, err, ErrExpired)

	lenient := newVerifier(t, iss, &staticKeys{set: keysFor(iss)}, func(c *Config) { c.Leeway = time.Minute })
	_, err = lenient.Verify(t.Context(), tok)
	assert.NoError(t, err)
}

func TestVerifyMalformedSkipsKeyLookup(t *testing.T) {
	iss := keygatetest.NewIssuer("demo")
	defer iss.Close()
	ks := &staticKeys{set: keysFor(iss)}
	v := newVerifier(t, iss, ks)

	noKid := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256"}`))
	for _, raw := range []string{
		"",
		"abc.def",
		"a.b.c.d",
		"a..c",
		"!!!.def.ghi",
		base64.RawURLEncoding.EncodeToString([]byte("not json")) + ".e30.c2ln",
		noKid + ".e30.c2ln",
	} {
		_, err := v.Verify(t.Context(), raw)
		assert.ErrorIs(t, err, ErrMalformedToken, "token %q", raw)
	}
	assert.Zero(t, ks.calls)
}

func TestVerifyUnknownKeyID(t *testing.T) {
	iss := keygatetest.NewIssuer("demo")
	defer iss.Close()
	v := newVerifier(t, iss, &staticKeys{set: keystore.KeySet{"other": {ID: "other", Public: iss.PublicKey()}}})

	_, err := v.Verify(t.Context(), iss.Token("alice"))
	assert.ErrorIs(t, err, ErrUnknownKeyID)
}

func TestVerifyRefreshOnUnknownKeyID(t *testing.T) {
	iss := keygatetest.NewIssuer("demo")
	defer iss.Close()
	ks := &staticKeys{set: keystore.KeySet{}, refresh: keysFor(iss)}

	off := newVerifier(t, iss, ks)
	_, err := off.Verify(t.Context(), iss.Token("alice"))
	assert.ErrorIs(t, err, ErrUnknownKeyID)
	assert.Zero(t, ks.refreshN)

	on := newVerifier(t, iss, ks, func(c *Config) { c.RefreshOnUnknownKID = time.Minute })
	_, err = on.Verify(t.Context(), iss.Token("alice"))
	require.NoError(t, err)
	assert.Equal(t, 1, ks.refreshN)
}

func TestVerifyKeyFetchFailed(t *testing.T) {
	iss := keygatetest.NewIssuer("demo")
	defer iss.Close()
	cause := errors.New("dial tcp: refused")
	v := newVerifier(t, iss, &staticKeys{err: cause})

	_, err := v.Verify(t.Context(), iss.Token("alice"))
	assert.ErrorIs(t, err, ErrKeyFetchFailed)
	assert.ErrorIs(t, err, cause)
}

func TestVerifySignatureMismatch(t *testing.T) {
	iss := keygatetest.NewIssuer("demo")
	defer iss.Close()
	m := &recordingMetrics{}
	v := newVerifier(t, iss, &staticKeys{set: keysFor(iss)}, func(c *Config) { c.Metrics = m })

	forger, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	forged := keygatetest.SignWithKey(forger, iss.KeyID(), iss.Claims("mallory"))
	_, err = v.Verify(t.Context(), forged)
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	parts := strings.Split(iss.Token("alice"), ".")
	other := strings.Split(iss.Token("mallory"), ".")
	_, err = v.Verify(t.Context(), parts[0]+"."+other[1]+"."+parts[2])
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	_, err = v.Verify(t.Context(), parts[0]+"."+parts[1]+".***")
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	hs := jwt.NewWithClaims(jwt.SigningMethodHS256, iss.Claims("mallory"))
	hs.Header["kid"] = iss.KeyID()
	hsTok, err := hs.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = v.Verify(t.Context(), hsTok)
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	assert.Equal(t, []Reason{
		ReasonSignatureMismatch, ReasonSignatureMismatch,
		ReasonSignatureMismatch, ReasonSignatureMismatch,
	}, m.failed)
}

func TestDecodeHeader(t *testing.T) {
	iss := keygatetest.NewIssuer("demo")
	defer iss.Close()

	h, err := DecodeHeader(iss.Token("alice"))
	require.NoError(t, err)
	assert.Equal(t, iss.KeyID(), h.KeyID)
	assert.Equal(t, "RS256", h.Algorithm)

	_, err = DecodeHeader("abc.def")
	assert.ErrorIs(t, err, ErrMalformedToken)
}

func TestNewRequiresIssuerAndAudience(t *testing.T) {
	_, err := New(Config{Audience: "a"}, &staticKeys{})
	assert.Error(t, err)
	_, err = New(Config{Issuer: "i", Audience: "a"}, nil)
	assert.Error(t, err)
}

func TestReasonOf(t *testing.T) {
	assert.Equal(t, ReasonExpired, ReasonOf(&Error{Reason: ReasonExpired}))
	assert.Equal(t, ReasonUnknownKeyID, ReasonOf(ErrUnknownKeyID))
	assert.Equal(t, ReasonNone, ReasonOf(errors.New("x")))
	assert.Equal(t, ErrExpired, Sentinel(ReasonExpired))
}
