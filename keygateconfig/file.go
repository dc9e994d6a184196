package keygateconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/keksclan/goKeygate/keygate"
	"gopkg.in/yaml.v3"
)

// fileConfig mirrors keygate.Config for JSON and YAML documents.
type fileConfig struct {
	ProjectID    string     `json:"project_id" yaml:"project_id"`
	Issuer       string     `json:"issuer" yaml:"issuer"`
	Audience     string     `json:"audience" yaml:"audience"`
	Keys         fileKeys   `json:"keys" yaml:"keys"`
	ClockSkewSec int        `json:"clock_skew_sec" yaml:"clock_skew_sec"`
	Bypass       fileBypass `json:"bypass" yaml:"bypass"`
}

type fileKeys struct {
	URL                    string            `json:"url" yaml:"url"`
	Format                 string            `json:"format" yaml:"format"`
	CacheTTLSec            int               `json:"cache_ttl_sec" yaml:"cache_ttl_sec"`
	FetchTimeoutMs         int               `json:"fetch_timeout_ms" yaml:"fetch_timeout_ms"`
	RefreshOnUnknownKIDSec int               `json:"refresh_on_unknown_kid_sec" yaml:"refresh_on_unknown_kid_sec"`
	FailureBackoffSec      int               `json:"failure_backoff_sec" yaml:"failure_backoff_sec"`
	Auth                   fileKeysAuth      `json:"auth" yaml:"auth"`
	ExtraHeaders           map[string]string `json:"extra_headers" yaml:"extra_headers"`
}

type fileKeysAuth struct {
	Kind        string `json:"kind" yaml:"kind"`
	Username    string `json:"username" yaml:"username"`
	Password    string `json:"password" yaml:"password"`
	BearerToken string `json:"bearer_token" yaml:"bearer_token"`
	HeaderName  string `json:"header_name" yaml:"header_name"`
	HeaderValue string `json:"header_value" yaml:"header_value"`
}

type fileBypass struct {
	ReauthPath     string   `json:"reauth_path" yaml:"reauth_path"`
	RedirectParam  string   `json:"redirect_param" yaml:"redirect_param"`
	NoStaticAssets bool     `json:"no_static_assets" yaml:"no_static_assets"`
	AnyDot         bool     `json:"any_dot" yaml:"any_dot"`
	Paths          []string `json:"paths" yaml:"paths"`
	Prefixes       []string `json:"prefixes" yaml:"prefixes"`
}

func (fc fileConfig) toConfig() keygate.Config {
	var cfg keygate.Config
	if fc.ProjectID != "" {
		cfg = keygate.ForFirebaseProject(fc.ProjectID)
	}
	if fc.Issuer != "" {
		cfg.Issuer = fc.Issuer
	}
	if fc.Audience != "" {
		cfg.Audience = fc.Audience
	}
	if fc.Keys.URL != "" {
		cfg.Keys.URL = fc.Keys.URL
	}
	if fc.Keys.Format != "" {
		cfg.Keys.Format = keygate.KeyFormat(fc.Keys.Format)
	}
	cfg.Keys.CacheTTL = time.Duration(fc.Keys.CacheTTLSec) * time.Second
	cfg.Keys.FetchTimeout = time.Duration(fc.Keys.FetchTimeoutMs) * time.Millisecond
	cfg.Keys.RefreshOnUnknownKID = time.Duration(fc.Keys.RefreshOnUnknownKIDSec) * time.Second
	cfg.Keys.FailureBackoff = time.Duration(fc.Keys.FailureBackoffSec) * time.Second
	cfg.Keys.Auth = keygate.KeysAuth{
		Kind:        keygate.KeysAuthKind(fc.Keys.Auth.Kind),
		Username:    fc.Keys.Auth.Username,
		Password:    fc.Keys.Auth.Password,
		BearerToken: fc.Keys.Auth.BearerToken,
		HeaderName:  fc.Keys.Auth.HeaderName,
		HeaderValue: fc.Keys.Auth.HeaderValue,
	}
	cfg.Keys.ExtraHeaders = fc.Keys.ExtraHeaders
	cfg.ClockSkew = time.Duration(fc.ClockSkewSec) * time.Second
	cfg.Bypass = keygate.BypassConfig{
		ReauthPath:     fc.Bypass.ReauthPath,
		RedirectParam:  fc.Bypass.RedirectParam,
		NoStaticAssets: fc.Bypass.NoStaticAssets,
		AnyDot:         fc.Bypass.AnyDot,
		Paths:          fc.Bypass.Paths,
		Prefixes:       fc.Bypass.Prefixes,
	}
	return cfg
}

// jsonLoader loads config from a JSON file.
type jsonLoader struct {
	path string
}

// FromJSONFile creates a Loader that reads config from a JSON file.
func FromJSONFile(path string) Loader {
	return &jsonLoader{path: path}
}

func (l *jsonLoader) loadRaw(_ context.Context) (keygate.Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return keygate.Config{}, fmt.Errorf("read json config: %w", err)
	}
	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return keygate.Config{}, fmt.Errorf("parse json config: %w", err)
	}
	return fc.toConfig(), nil
}

func (l *jsonLoader) Load(ctx context.Context) (*keygate.Config, error) {
	cfg, err := l.loadRaw(ctx)
	if err != nil {
		return nil, err
	}
	return finalize(cfg)
}

// yamlLoader loads config from a YAML file.
type yamlLoader struct {
	path string
}

// FromYAMLFile creates a Loader that reads config from a YAML file. Keys use
// the same names as the JSON form.
func FromYAMLFile(path string) Loader {
	return &yamlLoader{path: path}
}

func (l *yamlLoader) loadRaw(_ context.Context) (keygate.Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return keygate.Config{}, fmt.Errorf("read yaml config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return keygate.Config{}, fmt.Errorf("parse yaml config: %w", err)
	}
	return fc.toConfig(), nil
}

func (l *yamlLoader) Load(ctx context.Context) (*keygate.Config, error) {
	cfg, err := l.loadRaw(ctx)
	if err != nil {
		return nil, err
	}
	return finalize(cfg)
}

// serviceAccount is the subset of a Google service account key file that
// identifies the project.
type serviceAccount struct {
	Type      string `json:"type"`
	ProjectID string `json:"project_id"`
}

type serviceAccountLoader struct {
	path string
}

// FromServiceAccountFile creates a Loader that derives a Firebase config from
// the project_id of a service account key file. No credentials are used.
func FromServiceAccountFile(path string) Loader {
	return &serviceAccountLoader{path: path}
}

func (l *serviceAccountLoader) loadRaw(_ context.Context) (keygate.Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return keygate.Config{}, fmt.Errorf("read service account file: %w", err)
	}
	var sa serviceAccount
	if err := json.Unmarshal(data, &sa); err != nil {
		return keygate.Config{}, fmt.Errorf("parse service account file: %w", err)
	}
	if sa.Type != "" && sa.Type != "service_account" {
		return keygate.Config{}, fmt.Errorf("service account file %s has type %q", l.path, sa.Type)
	}
	if sa.ProjectID == "" {
		return keygate.Config{}, fmt.Errorf("service account file %s has no project_id", l.path)
	}
	return keygate.ForFirebaseProject(sa.ProjectID), nil
}

func (l *serviceAccountLoader) Load(ctx context.Context) (*keygate.Config, error) {
	cfg, err := l.loadRaw(ctx)
	if err != nil {
		return nil, err
	}
	return finalize(cfg)
}
