// Пакет api содержит OpenAPI-описание HTTP API сервиса.
package api

import _ "embed"

// OpenAPIDocument — описание API, используется для валидации запросов.
//
//go:embed openapi.yaml
var OpenAPIDocument []byte
