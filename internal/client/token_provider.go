package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// expirySkew — запас до истечения access-токена, при котором он
// обновляется заранее, не дожидаясь 401.
const expirySkew = 30 * time.Second

// TokenProvider выдает действующий access-токен для запросов к бэкенду.
type TokenProvider interface {
	// AccessToken возвращает текущий токен, при необходимости обновляя его.
	AccessToken(ctx context.Context) (string, error)
	// Refresh принудительно обменивает refresh-токен на новую пару.
	Refresh(ctx context.Context) (string, error)
}

// Compile-time check.
var _ TokenProvider = (*refreshingTokenProvider)(nil)

type refreshingTokenProvider struct {
	authURL    string
	httpClient *http.Client
	logger     *zap.Logger

	mu           sync.Mutex
	accessToken  string
	refreshToken string
}

// NewTokenProvider создает провайдер с обновлением через {authURL}/auth/refresh.
func NewTokenProvider(authURL string, timeout time.Duration, accessToken, refreshToken string, logger *zap.Logger) (TokenProvider, error) {
	if _, err := url.ParseRequestURI(authURL); err != nil {
		return nil, fmt.Errorf("invalid auth service URL: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &refreshingTokenProvider{
		authURL:      authURL,
		httpClient:   &http.Client{Timeout: timeout},
		logger:       logger.Named("TokenProvider"),
		accessToken:  accessToken,
		refreshToken: refreshToken,
	}, nil
}

// AccessToken возвращает кешированный токен, если до его истечения больше expirySkew,
// иначе обновляет пару. Подпись не проверяется — клиенту хватает клейма exp,
// авторитетная проверка остается за сервером.
func (p *refreshingTokenProvider) AccessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	token := p.accessToken
	p.mu.Unlock()

	if token != "" && !tokenExpiresWithin(token, expirySkew) {
		return token, nil
	}

	p.logger.Debug("Access token missing or near expiry, refreshing")
	return p.Refresh(ctx)
}

// Refresh обменивает refresh-токен на новую пару токенов.
func (p *refreshingTokenProvider) Refresh(ctx context.Context) (string, error) {
	p.mu.Lock()
	refreshToken := p.refreshToken
	p.mu.Unlock()

	if refreshToken == "" {
		return "", fmt.Errorf("no refresh token available")
	}

	reqBody, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return "", fmt.Errorf("internal error marshaling refresh request: %w", err)
	}

	refreshURL := p.authURL + "/auth/refresh"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, refreshURL, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("internal error creating refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Error("Token refresh request failed", zap.Error(err))
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read refresh response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		p.logger.Warn("Token refresh returned non-OK status", zap.Int("status", resp.StatusCode))
		return "", fmt.Errorf("received unexpected status %d from auth service", resp.StatusCode)
	}

	var tokens struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(respBody, &tokens); err != nil {
		return "", fmt.Errorf("invalid refresh response format: %w", err)
	}
	if tokens.AccessToken == "" {
		return "", fmt.Errorf("auth service returned empty access token")
	}

	p.mu.Lock()
	p.accessToken = tokens.AccessToken
	if tokens.RefreshToken != "" {
		p.refreshToken = tokens.RefreshToken
	}
	p.mu.Unlock()

	p.logger.Debug("Access token refreshed")
	return tokens.AccessToken, nil
}

// tokenExpiresWithin проверяет клейм exp без верификации подписи.
// Нечитаемый токен считается истекшим: пусть сервер скажет свое 401.
func tokenExpiresWithin(token string, skew time.Duration) bool {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return true
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		// Токен без exp живет до явного 401.
		return false
	}
	return time.Until(exp.Time) < skew
}

// StaticTokenProvider возвращает один и тот же токен, без обновления.
// Используется в тестах и для межсервисных вызовов с долгоживущим токеном.
type StaticTokenProvider string

func (s StaticTokenProvider) AccessToken(ctx context.Context) (string, error) { return string(s), nil }
func (s StaticTokenProvider) Refresh(ctx context.Context) (string, error)     { return string(s), nil }
