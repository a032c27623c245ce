// Пакет errors — ответы с ошибками в формате API приёма факсов.
// Единый формат: {"message": "...", "description": "..."}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors

import (
	"encoding/json"
	"net/http"
)

// Заголовки ошибок (поле message).
const (
	MessageBadRequest   = "Bad Request"
	MessageUnauthorized = "Unauthorized"
	MessageNotFound     = "Not Found"
	MessageInternal     = "Something went wrong"
)

// errorBody — тело ответа ошибки.
type errorBody struct {
	Message     string `json:"message"`
	Description string `json:"description"`
}

// WriteError записывает ответ ошибки.
// message — краткий заголовок, description — подробности (может быть пустым).
func WriteError(w http.ResponseWriter, statusCode int, message, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Message:     message,
		Description: description,
	})
}

// --- Конструкторы для типичных ошибок ---

// BadRequest — 400 некорректные входные данные.
func BadRequest(w http.ResponseWriter, description string) {
	WriteError(w, http.StatusBadRequest, MessageBadRequest, description)
}

// Unauthorized — 401 неверный секрет или токен.
func Unauthorized(w http.ResponseWriter, description string) {
	WriteError(w, http.StatusUnauthorized, MessageUnauthorized, description)
}

// NotFound — 404 объект не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, message, "")
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message, description string) {
	WriteError(w, http.StatusInternalServerError, message, description)
}
