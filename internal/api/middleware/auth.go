// auth.go — JWT middleware для колбэков downstream-системы.
// /faxstatuses и /presignedurls вызываются сервисным аккаунтом downstream
// с токеном Client Credentials. Подпись проверяется по JWKS IdP.
// Поставщики на /inboundfaxes аутентифицируются секретом, не JWT.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/danussh/Faxing/internal/api/errors"
)

// contextKey — тип для ключей контекста.
type contextKey string

// ContextKeyClaims — claims вызывающего в контексте запроса.
const ContextKeyClaims contextKey = "jwt_claims"

// AuthClaims — claims сервисного аккаунта.
type AuthClaims struct {
	Subject  string
	ClientID string
	Scopes   []string
}

// HasScope проверяет наличие scope.
func (c *AuthClaims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// tokenClaims — raw claims токена.
type tokenClaims struct {
	jwt.RegisteredClaims
	Scope    string `json:"scope,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Azp      string `json:"azp,omitempty"`
}

// JWTAuth — middleware JWT-аутентификации через JWKS.
type JWTAuth struct {
	jwks           keyfunc.Keyfunc
	issuer         string
	requiredScopes []string
	leeway         time.Duration
	logger         *slog.Logger
}

// NewJWTAuth создаёт JWT middleware с JWKS, обновляемым в фоне.
// issuer может быть пустым — тогда issuer не проверяется.
// requiredScopes — scopes, хотя бы один из которых должен быть в токене
// (пустой список — проверка выключена).
func NewJWTAuth(
	jwksURL string,
	issuer string,
	requiredScopes []string,
	clientTimeout time.Duration,
	refreshInterval time.Duration,
	leeway time.Duration,
	logger *slog.Logger,
) (*JWTAuth, error) {
	// NoErrorReturnFirstHTTPReq — стартуем даже если IdP ещё недоступен
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: clientTimeout},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           refreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return NewJWTAuthWithKeyfunc(k, issuer, requiredScopes, leeway, logger), nil
}

// NewJWTAuthWithKeyfunc создаёт JWT middleware с готовым keyfunc (для тестов).
func NewJWTAuthWithKeyfunc(k keyfunc.Keyfunc, issuer string, requiredScopes []string, leeway time.Duration, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		jwks:           k,
		issuer:         issuer,
		requiredScopes: requiredScopes,
		leeway:         leeway,
		logger:         logger.With(slog.String("component", "jwt_auth")),
	}
}

// Middleware возвращает HTTP middleware: извлекает Bearer token, проверяет
// подпись (RS256), срок действия, issuer и scopes, кладёт claims в контекст.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "missing Authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
				apierrors.Unauthorized(w, "expected Authorization: Bearer <token>")
				return
			}

			raw := &tokenClaims{}
			opts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.leeway),
			}
			if j.issuer != "" {
				opts = append(opts, jwt.WithIssuer(j.issuer))
			}

			token, err := jwt.ParseWithClaims(parts[1], raw, j.jwks.KeyfuncCtx(r.Context()), opts...)
			if err != nil || !token.Valid {
				j.logger.Debug("JWT валидация не пройдена",
					slog.Any("error", err),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "invalid or expired token")
				return
			}

			claims := buildClaims(raw)
			if claims.Subject == "" {
				apierrors.Unauthorized(w, "token has no subject")
				return
			}
			if len(j.requiredScopes) > 0 && !slices.ContainsFunc(j.requiredScopes, claims.HasScope) {
				j.logger.Warn("Недостаточно прав у вызывающего",
					slog.String("subject", claims.Subject),
					slog.String("client_id", claims.ClientID),
				)
				apierrors.WriteError(w, http.StatusForbidden, "Forbidden",
					"required scope: "+strings.Join(j.requiredScopes, " or "))
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func buildClaims(raw *tokenClaims) *AuthClaims {
	clientID := raw.ClientID
	if clientID == "" {
		clientID = raw.Azp
	}
	return &AuthClaims{
		Subject:  raw.Subject,
		ClientID: clientID,
		Scopes:   strings.Fields(raw.Scope),
	}
}

// ClaimsFromContext извлекает AuthClaims из контекста запроса.
// Возвращает nil, если запрос не прошёл через JWTAuth.
func ClaimsFromContext(ctx context.Context) *AuthClaims {
	claims, _ := ctx.Value(ContextKeyClaims).(*AuthClaims)
	return claims
}

// CallerFromContext возвращает идентификатор вызывающего для журналов аудита.
func CallerFromContext(ctx context.Context) string {
	claims := ClaimsFromContext(ctx)
	switch {
	case claims == nil:
		return ""
	case claims.ClientID != "":
		return claims.ClientID
	default:
		return claims.Subject
	}
}
