// client.go — получение service token для downstream через Client Credentials flow.
// Токен кэшируется и обновляется за 30s до истечения. Учётные данные клиента
// читаются из хранилища параметров на каждом обновлении токена, так что
// ротация секрета подхватывается без перезапуска.
// Клиент создаётся явно, Init вызывается при старте сервиса. Если Init
// не удался, первый успешный Token завершает инициализацию.
package iam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// refreshMargin — за сколько до истечения токен считается устаревшим.
const refreshMargin = 30 * time.Second

// CredentialSource — источник client id / secret (кэшированные параметры).
type CredentialSource interface {
	String(ctx context.Context, name string) (string, error)
}

// Config — параметры IAM клиента.
type Config struct {
	// TokenURL — token endpoint
	TokenURL string
	// Scopes — запрашиваемые scopes
	Scopes []string
	// ClientIDParam, ClientSecretParam — имена параметров с учётными данными
	ClientIDParam     string
	ClientSecretParam string
	// FallbackTTL — время жизни токена, если IdP не вернул expires_in
	FallbackTTL time.Duration
}

// TokenResponse — ответ token endpoint.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// Client — источник bearer-токенов для downstream.
type Client struct {
	cfg        Config
	params     CredentialSource
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	mu          sync.Mutex
	initialized bool
	accessToken string
	tokenExpiry time.Time
}

// New создаёт IAM клиент.
func New(cfg Config, params CredentialSource, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		cfg:        cfg,
		params:     params,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "iam_client")),
		now:        time.Now,
	}
}

// Init проверяет доступность учётных данных и получает первый токен.
func (c *Client) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.refreshLocked(ctx); err != nil {
		return fmt.Errorf("инициализация IAM клиента: %w", err)
	}
	c.markInitializedLocked()
	return nil
}

// markInitializedLocked фиксирует первую успешную выдачу токена.
func (c *Client) markInitializedLocked() {
	if c.initialized {
		return
	}
	c.initialized = true
	c.logger.Info("IAM клиент инициализирован",
		slog.String("token_url", c.cfg.TokenURL),
		slog.Time("expires_at", c.tokenExpiry),
	)
}

// Token возвращает актуальный access token, обновляя при необходимости.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && c.now().Add(refreshMargin).Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	if err := c.refreshLocked(ctx); err != nil {
		return "", err
	}
	c.markInitializedLocked()
	return c.accessToken, nil
}

// refreshLocked запрашивает новый токен. Вызывается под c.mu.
func (c *Client) refreshLocked(ctx context.Context) error {
	clientID, err := c.params.String(ctx, c.cfg.ClientIDParam)
	if err != nil {
		return fmt.Errorf("чтение client id: %w", err)
	}
	clientSecret, err := c.params.String(ctx, c.cfg.ClientSecretParam)
	if err != nil {
		return fmt.Errorf("чтение client secret: %w", err)
	}

	token, err := c.requestToken(ctx, clientID, clientSecret)
	if err != nil {
		return err
	}

	ttl := time.Duration(token.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = c.cfg.FallbackTTL
	}
	c.accessToken = token.AccessToken
	c.tokenExpiry = c.now().Add(ttl)

	c.logger.Debug("IAM токен обновлён",
		slog.Time("expires_at", c.tokenExpiry),
	)
	return nil
}

// requestToken выполняет Client Credentials flow.
func (c *Client) requestToken(ctx context.Context, clientID, clientSecret string) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {clientID},
		"client_secret": {clientSecret},
	}
	if len(c.cfg.Scopes) > 0 {
		data.Set("scope", strings.Join(c.cfg.Scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("создание запроса токена: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос токена IAM: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("IAM вернул статус %d при запросе токена: %s", resp.StatusCode, string(body))
	}

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("декодирование токена IAM: %w", err)
	}
	if token.AccessToken == "" {
		return nil, errors.New("IAM вернул пустой access_token")
	}

	return &token, nil
}
