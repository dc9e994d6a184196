// Package keygatetest provides a stand-in identity provider for tests of code
// that uses keygate. It serves a Firebase style x509 key document and a JWKS
// document, and mints RS256 tokens those documents validate.
//
// Example usage:
//
//	iss := keygatetest.NewIssuer("demo-project")
//	defer iss.Close()
//
//	cfg := keygate.ForFirebaseProject("demo-project")
//	cfg.Keys.URL = iss.PEMURL()
//
//	tok := iss.Token("user-123")
package keygatetest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

const (
	pemPath  = "/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"
	jwksPath = "/.well-known/jwks.json"
)

type signingKey struct {
	kid  string
	priv *rsa.PrivateKey
	cert string
}

// Issuer is a mock token issuer backed by an httptest server.
type Issuer struct {
	server  *httptest.Server
	project string

	mu      sync.Mutex
	keys    []signingKey
	status  int
	fetches atomic.Int64
}

// NewIssuer creates an issuer for a Firebase project id. The issuer claim of
// minted tokens is https://securetoken.google.com/<projectID> and the audience
// is projectID.
func NewIssuer(projectID string) *Issuer {
	iss := &Issuer{project: projectID, status: http.StatusOK}
	iss.keys = []signingKey{newSigningKey("test-key-1")}

	mux := http.NewServeMux()
	mux.HandleFunc(pemPath, iss.handlePEM)
	mux.HandleFunc(jwksPath, iss.handleJWKS)
	iss.server = httptest.NewServer(mux)
	return iss
}

func newSigningKey(kid string) signingKey {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic("failed to generate RSA key: " + err.Error())
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: "securetoken.system.gserviceaccount.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		panic("failed to create certificate: " + err.Error())
	}
	cert := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	return signingKey{kid: kid, priv: priv, cert: string(cert)}
}

// Close shuts down the test server.
func (i *Issuer) Close() {
	if i.server != nil {
		i.server.Close()
	}
}

// PEMURL is the kid -> PEM certificate endpoint.
func (i *Issuer) PEMURL() string { return i.server.URL + pemPath }

// JWKSURL is the JWK Set endpoint serving the same keys.
func (i *Issuer) JWKSURL() string { return i.server.URL + jwksPath }

func (i *Issuer) IssuerURL() string { return "https://securetoken.google.com/" + i.project }

func (i *Issuer) Audience() string { return i.project }

// KeyID returns the kid of the current signing key.
func (i *Issuer) KeyID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.keys[len(i.keys)-1].kid
}

// PublicKey returns the current signing key's public half.
func (i *Issuer) PublicKey() *rsa.PublicKey {
	i.mu.Lock()
	defer i.mu.Unlock()
	return &i.keys[len(i.keys)-1].priv.PublicKey
}

// Fetches counts requests served by either key endpoint.
func (i *Issuer) Fetches() int64 { return i.fetches.Load() }

// FailWith makes both key endpoints answer with status. Pass http.StatusOK to
// restore normal service.
func (i *Issuer) FailWith(status int) {
	i.mu.Lock()
	i.status = status
	i.mu.Unlock()
}

// Rotate adds a new signing key under kid. Previously published keys stay in
// the documents, as providers keep old keys during rotation.
func (i *Issuer) Rotate(kid string) {
	k := newSigningKey(kid)
	i.mu.Lock()
	i.keys = append(i.keys, k)
	i.mu.Unlock()
}

// Claims returns the standard claims of a valid token for uid.
func (i *Issuer) Claims(uid string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"sub":       uid,
		"user_id":   uid,
		"iss":       i.IssuerURL(),
		"aud":       i.project,
		"iat":       now.Unix(),
		"auth_time": now.Unix(),
		"exp":       now.Add(time.Hour).Unix(),
	}
}

// Token mints a valid token for uid.
func (i *Issuer) Token(uid string) string {
	return i.TokenWithClaims(uid, nil)
}

// TokenWithClaims mints a token for uid with extra merged over the standard
// claims. A nil value in extra removes that claim.
func (i *Issuer) TokenWithClaims(uid string, extra map[string]any) string {
	claims := i.Claims(uid)
	for k, v := range extra {
		if v == nil {
			delete(claims, k)
			continue
		}
		claims[k] = v
	}
	return i.Sign(claims)
}

// ExpiredToken mints a token whose exp is an hour in the past.
func (i *Issuer) ExpiredToken(uid string) string {
	return i.TokenWithClaims(uid, map[string]any{"exp": time.Now().Add(-time.Hour).Unix()})
}

// Sign signs claims with the current key and sets its kid.
func (i *Issuer) Sign(claims jwt.MapClaims) string {
	i.mu.Lock()
	k := i.keys[len(i.keys)-1]
	i.mu.Unlock()
	return signWith(k.priv, k.kid, claims)
}

// SignWithKey signs claims with an arbitrary key, for forged-token tests.
func SignWithKey(priv *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	return signWith(priv, kid, claims)
}

func signWith(priv *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	t.Header["kid"] = kid
	s, err := t.SignedString(priv)
	if err != nil {
		panic("failed to sign token: " + err.Error())
	}
	return s
}

func (i *Issuer) snapshot() ([]signingKey, int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]signingKey(nil), i.keys...), i.status
}

func (i *Issuer) handlePEM(w http.ResponseWriter, _ *http.Request) {
	i.fetches.Add(1)
	keys, status := i.snapshot()
	if status != http.StatusOK {
		http.Error(w, http.StatusText(status), status)
		return
	}
	doc := make(map[string]string, len(keys))
	for _, k := range keys {
		doc[k.kid] = k.cert
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=19800")
	_ = json.NewEncoder(w).Encode(doc)
}

func (i *Issuer) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	i.fetches.Add(1)
	keys, status := i.snapshot()
	if status != http.StatusOK {
		http.Error(w, http.StatusText(status), status)
		return
	}
	set := jwk.NewSet()
	for _, k := range keys {
		key, err := jwk.FromRaw(&k.priv.PublicKey)
		if err != nil {
			http.Error(w, fmt.Sprintf("jwk: %v", err), http.StatusInternalServerError)
			return
		}
		_ = key.Set(jwk.KeyIDKey, k.kid)
		_ = key.Set(jwk.AlgorithmKey, "RS256")
		_ = key.Set(jwk.KeyUsageKey, "sig")
		_ = set.AddKey(key)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(set)
}
