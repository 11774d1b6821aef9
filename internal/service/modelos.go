// modelos.go — определение модели изделия по первым символам кода.
package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/bigkaa/dms/internal/domain/model"
	"github.com/bigkaa/dms/internal/domain/rbac"
	"github.com/bigkaa/dms/internal/repository"
)

// ModeloService — справочник моделей с кэшем.
type ModeloService struct {
	repo   repository.ModeloRepository
	cache  *ModeloCache
	rbac   *rbac.Matrix
	logger *slog.Logger
}

// NewModeloService создаёт сервис справочника моделей.
func NewModeloService(repo repository.ModeloRepository, cache *ModeloCache, matrix *rbac.Matrix, logger *slog.Logger) *ModeloService {
	return &ModeloService{
		repo:   repo,
		cache:  cache,
		rbac:   matrix,
		logger: logger.With(slog.String("component", "modelos")),
	}
}

// Resolve возвращает модель для кода изделия.
// Код короче префикса или неизвестный префикс — пустая строка.
func (s *ModeloService) Resolve(ctx context.Context, codigo string) (string, error) {
	prefix := model.ModeloPrefix(strings.TrimSpace(codigo))
	if prefix == "" {
		return "", nil
	}
	if modelo, ok := s.cache.Get(prefix); ok {
		return modelo, nil
	}

	modelo, err := s.repo.Lookup(ctx, prefix)
	if err != nil {
		return "", err
	}
	// Пустой ответ не кэшируется: модель может появиться со следующим дефектом
	if modelo != "" {
		s.cache.Set(prefix, modelo)
	}
	return modelo, nil
}

// Save сохраняет модель для префикса кода и сбрасывает кэш префикса.
func (s *ModeloService) Save(ctx context.Context, actor Actor, codigo, modelo string) (string, error) {
	if !s.rbac.Allows(actor.Rol, rbac.CapRegisterDefect) {
		return "", forbiddenError("el rol %s no puede modificar modelos", actor.Rol)
	}
	modelo = strings.TrimSpace(modelo)
	prefix := model.ModeloPrefix(strings.TrimSpace(codigo))
	if prefix == "" {
		return "", validationError("el código debe tener al menos %d caracteres", model.ModeloPrefixLen)
	}
	if modelo == "" {
		return "", validationError("modelo es requerido")
	}

	if err := s.repo.Upsert(ctx, prefix, modelo, actor.Username); err != nil {
		return "", err
	}
	s.cache.Delete(prefix)

	s.logger.Info("Модель сохранена",
		slog.String("prefijo", prefix),
		slog.String("modelo", modelo),
		slog.String("user", actor.Username),
	)
	return prefix, nil
}
