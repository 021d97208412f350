package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	tokenCacheKey = "medprice:auth:token"
	tokenTTL      = 12 * time.Hour
)

// Credentials identify the upstream account used for the bearer token.
type Credentials struct {
	Phone    string
	Password string
}

// TokenManager owns the shared bearer credential. The token is cached in
// redis and refreshed at most once at a time process-wide; concurrent
// callers share the in-flight login instead of issuing redundant ones.
type TokenManager struct {
	client   *http.Client
	rdb      *redis.Client
	logger   *zap.Logger
	loginURL string
	creds    Credentials
	group    singleflight.Group
}

// NewTokenManager builds a manager that logs in against loginURL.
func NewTokenManager(rdb *redis.Client, loginURL string, creds Credentials, logger *zap.Logger) *TokenManager {
	return &TokenManager{
		client:   &http.Client{Timeout: 15 * time.Second},
		rdb:      rdb,
		logger:   logger,
		loginURL: loginURL,
		creds:    creds,
	}
}

// Token returns a cached token, logging in if none is cached.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	if tok, err := m.rdb.Get(ctx, tokenCacheKey).Result(); err == nil && tok != "" {
		return tok, nil
	}
	return m.Refresh(ctx)
}

// Refresh performs a login and caches the resulting token. Calls are
// single-flighted: at most one login is in flight at any time.
func (m *TokenManager) Refresh(ctx context.Context) (string, error) {
	v, err, _ := m.group.Do("refresh", func() (interface{}, error) {
		tok, err := m.login(ctx)
		if err != nil {
			return "", err
		}
		if err := m.rdb.Set(ctx, tokenCacheKey, tok, tokenTTL).Err(); err != nil {
			m.logger.Warn("failed to cache auth token", zap.Error(err))
		}
		return tok, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token after an upstream auth-expired response.
func (m *TokenManager) Invalidate(ctx context.Context) {
	if err := m.rdb.Del(ctx, tokenCacheKey).Err(); err != nil {
		m.logger.Warn("failed to drop cached auth token", zap.Error(err))
	}
}

type loginResponse struct {
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
	Data    struct {
		Token string `json:"token"`
	} `json:"data"`
}

func (m *TokenManager) login(ctx context.Context) (string, error) {
	if m.creds.Phone == "" || m.creds.Password == "" {
		return "", fmt.Errorf("token: no credentials configured")
	}
	body, _ := json.Marshal(map[string]interface{}{
		"phone":     m.creds.Phone,
		"password":  m.creds.Password,
		"loginType": 1,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.loginURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", &TransientError{Op: "login", Err: err}
	}
	defer resp.Body.Close()

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return "", fmt.Errorf("token: decoding login response: %w", err)
	}
	if !codeOK(lr.Code) {
		return "", fmt.Errorf("token: login rejected: %s", lr.Message)
	}
	if lr.Data.Token == "" {
		return "", fmt.Errorf("token: login succeeded but no token returned")
	}
	m.logger.Info("obtained new upstream auth token")
	return lr.Data.Token, nil
}

// codeOK interprets the upstream status envelope. Codes arrive either as a
// string or a number depending on the endpoint; "40001" is a soft success.
func codeOK(raw json.RawMessage) bool {
	switch string(bytes.Trim(raw, `"`)) {
	case "0", "40001":
		return true
	}
	return false
}

// codeAuthExpired reports the upstream auth-expired status, which must be
// distinguished from an empty result set.
func codeAuthExpired(raw json.RawMessage) bool {
	return string(bytes.Trim(raw, `"`)) == "40020"
}
