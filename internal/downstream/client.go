// Пакет downstream — HTTP-клиент шины downstream-системы обработки факсов.
// Авторизация — Bearer-токен от IAM (client_credentials).
package downstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// TokenSource — источник Bearer-токена для вызовов шины.
// Реализуется iam.Client.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StatusError — downstream ответил статусом, отличным от 2xx.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("downstream вернул статус %d: %s", e.StatusCode, e.Body)
}

// maxErrorBody — сколько байт тела ошибки попадает в StatusError.
const maxErrorBody = 1024

// Client — HTTP-клиент шины downstream.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenSource
	logger     *slog.Logger
}

// New создаёт клиент шины.
// baseURL — базовый URL downstream (без завершающего /).
// httpClient == nil — создаётся клиент с таймаутом timeout.
func New(baseURL string, timeout time.Duration, tokens TokenSource, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		logger:     logger.With(slog.String("component", "downstream_client")),
	}
}

// BaseURL возвращает базовый URL downstream (для проверки зависимостей).
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Send отправляет конверт на шину и ждёт подтверждения.
// POST {baseURL}/queue/subsystembuscall
func (c *Client) Send(ctx context.Context, env *Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("сериализация конверта: %w", err)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("получение токена для downstream: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+BusPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("создание запроса к downstream: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return fmt.Errorf("запрос к downstream %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	// Тело подтверждения не используется, но дочитывается для переиспользования соединения
	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.Debug("Конверт принят downstream",
		slog.String("fax_id", env.Params.Fax.FaxUniqueID),
		slog.Int("status", resp.StatusCode),
	)
	return nil
}
