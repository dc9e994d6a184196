package keystore

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

var (
	ErrKeyFetchFailed     = errors.New("key fetch failed")
	ErrInvalidKeySet      = errors.New("invalid key set")
	ErrNoUsableKeys       = errors.New("key set contains no usable keys")
	ErrUnsupportedKeyType = errors.New("unsupported key type")
)

// Format names the document layout served by the key endpoint.
type Format string

const (
	// FormatPEM is a JSON object mapping kid to a PEM block (certificate,
	// PKIX public key or PKCS1 public key). Firebase serves this at its
	// x509 metadata endpoint.
	FormatPEM Format = "pem"
	// FormatJWKS is an RFC 7517 JSON Web Key Set.
	FormatJWKS Format = "jwks"
)

// Key is one public signing key. PEM is kept verbatim for PEM endpoints and
// re-encoded as PKIX for JWKS endpoints.
type Key struct {
	ID     string
	PEM    string
	Public *rsa.PublicKey
}

// KeySet maps kid to Key. A published KeySet is never modified.
type KeySet map[string]Key

// Lookup returns the key for kid.
func (s KeySet) Lookup(kid string) (Key, bool) {
	k, ok := s[kid]
	return k, ok
}

// PEMs returns the kid -> PEM view of the set.
func (s KeySet) PEMs() map[string]string {
	m := make(map[string]string, len(s))
	for kid, k := range s {
		m[kid] = k.PEM
	}
	return m
}

// Entry is the cached unit: a complete key set and when it was fetched.
type Entry struct {
	Keys      KeySet
	FetchedAt time.Time
}

// Age reports how old the entry is at now.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.FetchedAt)
}

// decodeKeySet reads a key document in the given format. Keys that cannot be
// used for RS256 are skipped and logged; an empty result is an error.
func decodeKeySet(r io.Reader, format Format, log *slog.Logger) (KeySet, error) {
	var (
		set KeySet
		err error
	)
	switch format {
	case FormatJWKS:
		set, err = decodeJWKS(r, log)
	case FormatPEM, "":
		var raw map[string]string
		if err := json.NewDecoder(r).Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKeySet, err)
		}
		set = parsePEMMap(raw, log)
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrInvalidKeySet, format)
	}
	if err != nil {
		return nil, err
	}
	if len(set) == 0 {
		return nil, ErrNoUsableKeys
	}
	return set, nil
}

func parsePEMMap(raw map[string]string, log *slog.Logger) KeySet {
	set := make(KeySet, len(raw))
	for kid, block := range raw {
		if kid == "" {
			continue
		}
		pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(block))
		if err != nil {
			log.Warn("skipping unusable public key", slog.String("kid", kid), slog.Any("error", err))
			continue
		}
		set[kid] = Key{ID: kid, PEM: block, Public: pub}
	}
	return set
}

func decodeJWKS(r io.Reader, log *slog.Logger) (KeySet, error) {
	jset, err := jwk.ParseReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeySet, err)
	}
	set := make(KeySet, jset.Len())
	for i := 0; i < jset.Len(); i++ {
		key, ok := jset.Key(i)
		if !ok {
			continue
		}
		kid := key.KeyID()
		if kid == "" {
			log.Warn("skipping jwk without kid")
			continue
		}
		k, err := keyFromJWK(kid, key)
		if err != nil {
			log.Warn("skipping unusable jwk", slog.String("kid", kid), slog.Any("error", err))
			continue
		}
		set[kid] = k
	}
	return set, nil
}

func keyFromJWK(kid string, key jwk.Key) (Key, error) {
	var raw any
	if err := key.Raw(&raw); err != nil {
		return Key{}, fmt.Errorf("failed to get raw key: %w", err)
	}
	pub, ok := raw.(*rsa.PublicKey)
	if !ok {
		return Key{}, fmt.Errorf("%w: %T", ErrUnsupportedKeyType, raw)
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return Key{}, fmt.Errorf("marshal public key: %w", err)
	}
	block := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return Key{ID: kid, PEM: string(block), Public: pub}, nil
}
