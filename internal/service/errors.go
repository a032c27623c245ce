// errors.go — ошибки бизнес-логики сервисного слоя.
// Тексты ошибок, попадающие в ответ поставщику, на английском (контракт API).
package service

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnauthorized — секрет поставщика не совпал.
	ErrUnauthorized = errors.New("unauthorized access, please call support team")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("validation failed")
	// ErrVendorNotRegistered — поставщик неизвестен или удалён.
	ErrVendorNotRegistered = errors.New("vendor is not registered")
	// ErrInvalidInput — значение отклонено базой данных (например, время получения).
	ErrInvalidInput = errors.New("invalid input syntax")
	// ErrInvalidStatus — статус обработки не SUCCESS и не FAILED.
	ErrInvalidStatus = errors.New("status should be SUCCESS or FAILED")
	// ErrFaxNotFound — факс не найден ни по одному ключу.
	ErrFaxNotFound = errors.New("could not find a fax")
)

// ValidationKind — вид нарушения правила валидации.
type ValidationKind int

const (
	// KindMissing — обязательное поле отсутствует или пустое.
	KindMissing ValidationKind = iota
	// KindMalformed — поле не соответствует формату.
	KindMalformed
)

func (k ValidationKind) String() string {
	if k == KindMissing {
		return "missing"
	}
	return "in incorrect format"
}

// ValidationError — нарушение одного правила валидации.
// Fields перечисляет все поля, нарушившие правило, в порядке правила.
type ValidationError struct {
	Kind   ValidationKind
	Fields []string
}

// Error формирует сообщение вида "field faxPages is in incorrect format"
// или "fields a,b are missing".
func (e *ValidationError) Error() string {
	if len(e.Fields) == 1 {
		return fmt.Sprintf("field %s is %s", e.Fields[0], e.Kind)
	}
	return fmt.Sprintf("fields %s are %s", strings.Join(e.Fields, ","), e.Kind)
}

// Unwrap позволяет проверять errors.Is(err, ErrValidation).
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
