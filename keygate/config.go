package keygate

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/keksclan/goKeygate/internal/keystore"
)

const (
	// FirebaseKeysURL serves Google Secure Token signing certificates as a
	// kid -> PEM JSON object.
	FirebaseKeysURL = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"
	// FirebaseIssuerPrefix is followed by the project id in the iss claim.
	FirebaseIssuerPrefix = "https://securetoken.google.com/"
)

// KeyFormat is the layout of the key endpoint's response.
type KeyFormat string

const (
	KeyFormatPEM  KeyFormat = "pem"
	KeyFormatJWKS KeyFormat = "jwks"
)

// KeysAuthKind selects how key requests authenticate.
type KeysAuthKind string

const (
	KeysAuthNone   KeysAuthKind = "none"
	KeysAuthBasic  KeysAuthKind = "basic"
	KeysAuthBearer KeysAuthKind = "bearer"
	KeysAuthHeader KeysAuthKind = "header"
)

type Config struct {
	// Issuer must equal the token's iss claim exactly.
	Issuer string
	// Audience must appear in the token's aud claim.
	Audience string
	Keys     KeysConfig
	// ClockSkew is tolerated past exp. Zero means none.
	ClockSkew time.Duration
	Bypass    BypassConfig
}

type KeysConfig struct {
	URL          string
	Format       KeyFormat
	CacheTTL     time.Duration
	FetchTimeout time.Duration
	Auth         KeysAuth
	ExtraHeaders map[string]string
	// RefreshOnUnknownKID lets a kid miss force a refresh at most once per
	// interval. Zero disables it.
	RefreshOnUnknownKID time.Duration
	// FailureBackoff is how long stale keys are served without another
	// fetch after a failed refresh.
	FailureBackoff time.Duration
	// PeerTimeout bounds each call to the shared peer tier.
	PeerTimeout time.Duration
}

type KeysAuth struct {
	Kind        KeysAuthKind
	Username    string
	Password    string
	BearerToken string
	HeaderName  string
	HeaderValue string
}

// BypassConfig lists request paths that skip verification.
type BypassConfig struct {
	// ReauthPath is exempt and is where denied requests are sent.
	ReauthPath string
	// RedirectParam carries the original request URI to ReauthPath.
	RedirectParam string
	// NoStaticAssets turns off the exemption for paths whose last segment
	// has a file extension.
	NoStaticAssets bool
	// AnyDot exempts every path containing a dot.
	AnyDot   bool
	Paths    []string
	Prefixes []string
}

// ForFirebaseProject returns a config for ID tokens of a Firebase project.
func ForFirebaseProject(projectID string) Config {
	return Config{
		Issuer:   FirebaseIssuerPrefix + projectID,
		Audience: projectID,
		Keys:     KeysConfig{URL: FirebaseKeysURL, Format: KeyFormatPEM},
	}
}

// WithDefaults returns c with unset fields filled in as New would.
func (c Config) WithDefaults() Config {
	c.setDefaults()
	return c
}

func (c *Config) setDefaults() {
	if c.Keys.URL == "" {
		c.Keys.URL = FirebaseKeysURL
	}
	if c.Keys.Format == "" {
		c.Keys.Format = KeyFormatPEM
	}
	if c.Keys.CacheTTL == 0 {
		c.Keys.CacheTTL = keystore.DefaultTTL
	}
	if c.Keys.FetchTimeout == 0 {
		c.Keys.FetchTimeout = keystore.DefaultFetchTimeout
	}
	if c.Keys.FailureBackoff == 0 {
		c.Keys.FailureBackoff = keystore.DefaultFailureBackoff
	}
	if c.Keys.PeerTimeout == 0 {
		c.Keys.PeerTimeout = keystore.DefaultPeerTimeout
	}
	if c.Bypass.ReauthPath == "" {
		c.Bypass.ReauthPath = "/resignin"
	}
	if c.Bypass.RedirectParam == "" {
		c.Bypass.RedirectParam = "redirect"
	}
}

func (c Config) Validate() error {
	if c.Issuer == "" {
		return errors.New("issuer is required")
	}
	if c.Audience == "" {
		return errors.New("audience is required")
	}
	if !strings.HasPrefix(c.Keys.URL, "https://") && !strings.HasPrefix(c.Keys.URL, "http://") {
		return fmt.Errorf("keys.url must be an http(s) URL, got %q", c.Keys.URL)
	}
	switch c.Keys.Format {
	case KeyFormatPEM, KeyFormatJWKS:
	default:
		return fmt.Errorf("unsupported keys.format %q", c.Keys.Format)
	}
	switch c.Keys.Auth.Kind {
	case "", KeysAuthNone, KeysAuthBasic, KeysAuthBearer:
	case KeysAuthHeader:
		if c.Keys.Auth.HeaderName == "" {
			return errors.New("keys.auth.header_name is required for header auth")
		}
	default:
		return fmt.Errorf("unsupported keys.auth.kind %q", c.Keys.Auth.Kind)
	}
	if c.Keys.CacheTTL < 0 || c.Keys.FetchTimeout < 0 || c.Keys.RefreshOnUnknownKID < 0 ||
		c.Keys.FailureBackoff < 0 || c.Keys.PeerTimeout < 0 {
		return errors.New("keys durations must not be negative")
	}
	if c.ClockSkew < 0 {
		return errors.New("clock_skew must not be negative")
	}
	if !strings.HasPrefix(c.Bypass.ReauthPath, "/") || strings.Trim(c.Bypass.ReauthPath, "/") == "" {
		return fmt.Errorf("bypass.reauth_path must be an absolute path below '/', got %q", c.Bypass.ReauthPath)
	}
	for _, p := range c.Bypass.Paths {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("bypass.paths entries must be absolute paths, got %q", p)
		}
	}
	for _, p := range c.Bypass.Prefixes {
		if !strings.HasPrefix(p, "/") || strings.Trim(p, "/") == "" {
			return fmt.Errorf("bypass.prefixes entries must be absolute paths below '/', got %q", p)
		}
	}
	return nil
}

func (c Config) storeConfig() keystore.Config {
	return keystore.Config{
		URL:            c.Keys.URL,
		Format:         keystore.Format(c.Keys.Format),
		TTL:            c.Keys.CacheTTL,
		FetchTimeout:   c.Keys.FetchTimeout,
		FailureBackoff: c.Keys.FailureBackoff,
		PeerTimeout:    c.Keys.PeerTimeout,
		Auth: keystore.AuthConfig{
			Kind:        keystore.AuthKind(c.Keys.Auth.Kind),
			Username:    c.Keys.Auth.Username,
			Password:    c.Keys.Auth.Password,
			BearerToken: c.Keys.Auth.BearerToken,
			HeaderName:  c.Keys.Auth.HeaderName,
			HeaderValue: c.Keys.Auth.HeaderValue,
		},
		ExtraHeaders: c.Keys.ExtraHeaders,
	}
}
