package repository

import (
	"context"
	"fmt"
)

// ModeloRepository — справочник моделей по префиксу кода изделия.
type ModeloRepository interface {
	// Lookup ищет модель по префиксу: сначала в справочнике modelos_dms,
	// затем в последнем дефекте с таким префиксом. Не найдено — "".
	Lookup(ctx context.Context, prefix string) (string, error)
	// Upsert сохраняет модель для префикса.
	Upsert(ctx context.Context, prefix, modelo, updatedBy string) error
}

type modeloRepo struct {
	db DBTX
}

// NewModeloRepository создаёт репозиторий справочника моделей.
func NewModeloRepository(db DBTX) ModeloRepository {
	return &modeloRepo{db: db}
}

func (r *modeloRepo) Lookup(ctx context.Context, prefix string) (string, error) {
	query := `
		SELECT COALESCE(
			(SELECT modelo FROM modelos_dms WHERE prefijo = $1),
			(SELECT modelo FROM defect_data
				WHERE codigo LIKE $2 AND modelo <> ''
				ORDER BY fecha DESC
				LIMIT 1),
			'')`

	var modelo string
	if err := r.db.QueryRow(ctx, query, prefix, prefixPattern(prefix)).Scan(&modelo); err != nil {
		return "", fmt.Errorf("ошибка поиска модели: %w", err)
	}
	return modelo, nil
}

func (r *modeloRepo) Upsert(ctx context.Context, prefix, modelo, updatedBy string) error {
	query := `
		INSERT INTO modelos_dms (prefijo, modelo, updated_by, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (prefijo) DO UPDATE SET
			modelo = EXCLUDED.modelo,
			updated_by = EXCLUDED.updated_by,
			updated_at = NOW()`

	if _, err := r.db.Exec(ctx, query, prefix, modelo, updatedBy); err != nil {
		return fmt.Errorf("ошибка сохранения модели: %w", err)
	}
	return nil
}
