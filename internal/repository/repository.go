// Пакет repository — слой доступа к данным PostgreSQL.
// Все запросы — чистый SQL через pgx, без ORM.
// Ошибки PostgreSQL классифицируются здесь по SQLSTATE, вызывающий код
// работает только с типизированными ошибками пакета.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — запись уже существует")
	// ErrVendorNotRegistered — поставщик не найден или удалён.
	ErrVendorNotRegistered = errors.New("поставщик не зарегистрирован")
	// ErrInvalidInput — PostgreSQL отклонил значение (класс 22, data exception).
	ErrInvalidInput = errors.New("некорректное значение")
)

// SQLSTATE коды, которые различает слой репозиториев.
const (
	codeUniqueViolation  = "23505"
	codeNotNullViolation = "23502"
	classDataException   = "22"
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// classifyError переводит ошибку pgx в ошибку пакета.
// op — описание операции для сообщения.
// Неизвестные ошибки оборачиваются как есть.
func classifyError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == codeUniqueViolation:
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
		case pgErr.Code == codeNotNullViolation && pgErr.ColumnName == "vendor_id":
			return ErrVendorNotRegistered
		case strings.HasPrefix(pgErr.Code, classDataException):
			return fmt.Errorf("%w: %s", ErrInvalidInput, pgErr.Message)
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeUniqueViolation
	}
	return false
}
