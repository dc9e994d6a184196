package keystore

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// maxKeySetResponseSize limits the size of key endpoint responses.
const maxKeySetResponseSize = 1 << 20 // 1 MB

// AuthKind selects the authentication method for key requests.
type AuthKind string

const (
	AuthKindNone   AuthKind = "none"
	AuthKindBasic  AuthKind = "basic"
	AuthKindBearer AuthKind = "bearer"
	AuthKindHeader AuthKind = "header"
)

// AuthConfig holds authentication settings for key fetching.
type AuthConfig struct {
	Kind        AuthKind
	Username    string
	Password    string
	BearerToken string
	HeaderName  string
	HeaderValue string
}

func (s *Store) fetchSet(ctx context.Context) (KeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	s.applyAuth(req)

	for k, v := range s.cfg.ExtraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := s.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	set, err := decodeKeySet(io.LimitReader(resp.Body, maxKeySetResponseSize), s.cfg.Format, s.log)
	if err != nil {
		return nil, fmt.Errorf("parse key set: %w", err)
	}
	return set, nil
}

func (s *Store) applyAuth(req *http.Request) {
	switch s.cfg.Auth.Kind {
	case AuthKindBasic:
		req.SetBasicAuth(s.cfg.Auth.Username, s.cfg.Auth.Password)
	case AuthKindBearer:
		req.Header.Set("Authorization", "Bearer "+s.cfg.Auth.BearerToken)
	case AuthKindHeader:
		if s.cfg.Auth.HeaderName != "" {
			req.Header.Set(s.cfg.Auth.HeaderName, s.cfg.Auth.HeaderValue)
		}
	}
}
