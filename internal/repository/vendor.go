package repository

import (
	"context"
	"fmt"

	"github.com/danussh/Faxing/internal/domain/model"
)

// VendorRepository — справочник поставщиков (таблица vendors).
type VendorRepository interface {
	// Create регистрирует поставщика. ErrConflict — активный поставщик
	// с таким именем (без учёта регистра) уже есть.
	Create(ctx context.Context, name string) (*model.Vendor, error)
	// List возвращает активных поставщиков.
	List(ctx context.Context) ([]*model.Vendor, error)
	// Delete помечает поставщика удалённым. ErrNotFound — активного поставщика нет.
	Delete(ctx context.Context, name string) error
}

// vendorRepo — реализация VendorRepository.
type vendorRepo struct {
	db DBTX
}

// NewVendorRepository создаёт репозиторий поставщиков.
func NewVendorRepository(db DBTX) VendorRepository {
	return &vendorRepo{db: db}
}

func (r *vendorRepo) Create(ctx context.Context, name string) (*model.Vendor, error) {
	query := `INSERT INTO vendors (name) VALUES ($1) RETURNING id, name, deleted_at`

	v := &model.Vendor{}
	if err := r.db.QueryRow(ctx, query, name).Scan(&v.ID, &v.Name, &v.DeletedAt); err != nil {
		return nil, classifyError("ошибка создания поставщика", err)
	}
	return v, nil
}

func (r *vendorRepo) List(ctx context.Context) ([]*model.Vendor, error) {
	query := `SELECT id, name, deleted_at FROM vendors WHERE deleted_at IS NULL ORDER BY name`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, classifyError("ошибка получения списка поставщиков", err)
	}
	defer rows.Close()

	var result []*model.Vendor
	for rows.Next() {
		v := &model.Vendor{}
		if err := rows.Scan(&v.ID, &v.Name, &v.DeletedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования поставщика: %w", err)
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации поставщиков: %w", err)
	}
	return result, nil
}

func (r *vendorRepo) Delete(ctx context.Context, name string) error {
	query := `UPDATE vendors SET deleted_at = now() WHERE lower(name) = lower($1) AND deleted_at IS NULL`

	tag, err := r.db.Exec(ctx, query, name)
	if err != nil {
		return classifyError("ошибка удаления поставщика", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
