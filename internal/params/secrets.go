package params

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsAPI — подмножество клиента AWS Secrets Manager.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// dbSecret — формат секрета RDS ({"username": ..., "password": ...}).
type dbSecret struct {
	Password string `json:"password"`
}

// DBPassword читает пароль PostgreSQL из AWS Secrets Manager.
// Секрет — JSON с полем password или строка с самим паролем.
func DBPassword(ctx context.Context, client SecretsAPI, secretID string) (string, error) {
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return "", fmt.Errorf("ошибка чтения секрета %s: %w", secretID, err)
	}
	if out.SecretString == nil || *out.SecretString == "" {
		return "", fmt.Errorf("секрет %s пуст", secretID)
	}

	raw := *out.SecretString
	if !strings.HasPrefix(strings.TrimSpace(raw), "{") {
		return raw, nil
	}

	var s dbSecret
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return "", fmt.Errorf("некорректный JSON секрета %s: %w", secretID, err)
	}
	if s.Password == "" {
		return "", fmt.Errorf("секрет %s не содержит password", secretID)
	}
	return s.Password, nil
}
