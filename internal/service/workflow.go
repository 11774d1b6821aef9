// workflow.go — оркестратор жизненного цикла дефекта.
// Каждая операция, меняющая статус, выполняется в одной транзакции:
// блокирующее чтение (SELECT ... FOR UPDATE) → проверка перехода →
// условное обновление (WHERE status = expected) → запись аудита → commit.
// Порядок блокировок всегда дефект → ремонт.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/dms/internal/domain/lifecycle"
	"github.com/bigkaa/dms/internal/domain/model"
	"github.com/bigkaa/dms/internal/domain/rbac"
	"github.com/bigkaa/dms/internal/repository"
)

// Actor — аутентифицированный пользователь, выполняющий операцию.
type Actor struct {
	ID       int64
	Username string
	Rol      string
	Area     string
}

// TxRunner — выполнение функции в транзакции с набором репозиториев.
// Реализуется repository.TxRunner.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(repos *repository.Repositories) error) error
}

// ModeloResolver определяет модель изделия по коду.
type ModeloResolver interface {
	Resolve(ctx context.Context, codigo string) (string, error)
}

// WorkflowService — оркестратор жизненного цикла дефектов и ремонтов.
type WorkflowService struct {
	tx      TxRunner
	rbac    *rbac.Matrix
	modelos ModeloResolver
	now     func() time.Time
	logger  *slog.Logger
}

// NewWorkflowService создаёт оркестратор.
// modelos может быть nil — тогда модель не подставляется автоматически.
func NewWorkflowService(tx TxRunner, matrix *rbac.Matrix, modelos ModeloResolver, logger *slog.Logger) *WorkflowService {
	return &WorkflowService{
		tx:      tx,
		rbac:    matrix,
		modelos: modelos,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "workflow")),
	}
}

// DefectInput — данные регистрации дефекта.
type DefectInput struct {
	// Fecha — момент обнаружения; nil — текущее время
	Fecha          *time.Time
	Linea          string
	Codigo         string
	Defecto        string
	Ubicacion      string
	Area           string
	Modelo         string
	TipoInspeccion string
	EtapaDeteccion string
	// RegistradoPor — username инспектора; пусто — текущий пользователь
	RegistradoPor string
}

// FinishInput — данные завершения ремонта.
type FinishInput struct {
	AccionCorrectiva string
	MaterialesUsados *string
	Observaciones    *string
}

// RegisterDefect валидирует и регистрирует дефект в статусе Pendiente_Reparacion.
func (s *WorkflowService) RegisterDefect(ctx context.Context, actor Actor, in DefectInput) (*model.Defect, error) {
	if err := s.authorize(actor, rbac.CapRegisterDefect); err != nil {
		return nil, err
	}
	if in.RegistradoPor == "" {
		in.RegistradoPor = actor.Username
	}
	if err := validateDefectInput(&in); err != nil {
		return nil, err
	}

	fecha := s.now()
	if in.Fecha != nil {
		fecha = *in.Fecha
	}

	modelo := in.Modelo
	if modelo == "" && s.modelos != nil {
		resolved, err := s.modelos.Resolve(ctx, in.Codigo)
		if err != nil {
			s.logger.Warn("Не удалось определить модель по коду",
				slog.String("codigo", in.Codigo),
				slog.String("error", err.Error()),
			)
		}
		modelo = resolved
	}

	d := &model.Defect{
		ID:             newID("DEF", s.now()),
		Fecha:          fecha,
		Linea:          in.Linea,
		Codigo:         in.Codigo,
		Defecto:        in.Defecto,
		Ubicacion:      in.Ubicacion,
		Area:           in.Area,
		Modelo:         modelo,
		TipoInspeccion: in.TipoInspeccion,
		EtapaDeteccion: in.EtapaDeteccion,
		Status:         lifecycle.StatusPending,
		RegistradoPor:  in.RegistradoPor,
	}

	err := s.tx.RunInTx(ctx, func(repos *repository.Repositories) error {
		if err := repos.Defects.Create(ctx, d); err != nil {
			return wrapRepoError(err, "", "el defecto ya existe")
		}
		return repos.Audit.Append(ctx, statusAudit(model.TableDefects, model.AuditInsert, d.ID, actor.Username, "", d.Status))
	})
	if err != nil {
		return nil, err
	}

	defectsRegisteredTotal.WithLabelValues(d.EtapaDeteccion, d.TipoInspeccion).Inc()
	s.logger.Info("Дефект зарегистрирован",
		slog.String("defect_id", d.ID),
		slog.String("linea", d.Linea),
		slog.String("user", actor.Username),
	)
	return d, nil
}

// StartRepair открывает ремонт дефекта в статусе Pendiente_Reparacion
// и переводит дефект в En_Reparacion. Техник — текущий пользователь.
func (s *WorkflowService) StartRepair(ctx context.Context, actor Actor, defectID string) (*model.Repair, error) {
	if err := s.authorize(actor, rbac.CapRepair); err != nil {
		return nil, err
	}
	defectID = strings.TrimSpace(defectID)
	if defectID == "" {
		return nil, validationError("defect_id es requerido")
	}

	const ev = lifecycle.EventStartRepair
	var (
		rep  *model.Repair
		from lifecycle.Status
		to   lifecycle.Status
	)
	err := s.tx.RunInTx(ctx, func(repos *repository.Repositories) error {
		d, err := repos.Defects.GetForUpdate(ctx, defectID)
		if err != nil {
			return wrapRepoError(err, "defecto no encontrado", "")
		}
		from = d.Status
		to, err = lifecycle.Next(d.Status, ev)
		if err != nil {
			return err
		}

		if _, err := repos.Repairs.GetOpenByDefect(ctx, d.ID); err == nil {
			return conflictError("el defecto ya tiene una reparación abierta")
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		now := s.now()
		rep = &model.Repair{
			ID:             newID("REP", now),
			DefectID:       d.ID,
			FechaRecepcion: now,
			FechaInicio:    now,
			Tecnico:        actor.Username,
			StatusAntes:    from,
			StatusDespues:  to,
		}
		if err := repos.Repairs.Create(ctx, rep); err != nil {
			return wrapRepoError(err, "defecto no encontrado", "el defecto ya tiene una reparación abierta")
		}
		if err := repos.Defects.UpdateStatus(ctx, d.ID, from, to); err != nil {
			return stateChanged(err, from)
		}
		return repos.Audit.Append(ctx, statusAudit(model.TableDefects, model.AuditUpdate, d.ID, actor.Username, from, to))
	})
	if err != nil {
		return nil, s.rejected(ev, err)
	}

	s.transitioned(ev, defectID, rep.ID, from, to, actor)
	return rep, nil
}

// UpdateRepairProgress меняет переданные поля открытого ремонта.
// Статус дефекта не меняется; каждое изменённое поле попадает в аудит.
func (s *WorkflowService) UpdateRepairProgress(ctx context.Context, actor Actor, repairID string, patch model.RepairPatch) error {
	if err := s.authorize(actor, rbac.CapRepair); err != nil {
		return err
	}
	if patch.IsEmpty() {
		return validationError("no se proporcionaron campos para actualizar")
	}

	return s.tx.RunInTx(ctx, func(repos *repository.Repositories) error {
		rep, err := repos.Repairs.GetForUpdate(ctx, repairID)
		if err != nil {
			return wrapRepoError(err, "reparación no encontrada", "")
		}
		if !rep.IsOpen() {
			return s.closedRepair(ctx, repos, rep, "la reparación ya fue inspeccionada por QA")
		}

		if err := repos.Repairs.UpdateProgress(ctx, rep.ID, patch); err != nil {
			return stateChanged(err, "")
		}

		changes := []struct {
			field string
			old   string
			new   *string
		}{
			{"accion_correctiva", rep.AccionCorrectiva, patch.AccionCorrectiva},
			{"materiales_usados", rep.MaterialesUsados, patch.MaterialesUsados},
			{"observaciones", rep.Observaciones, patch.Observaciones},
		}
		for _, c := range changes {
			if c.new == nil || *c.new == c.old {
				continue
			}
			old := c.old
			entry := &model.AuditLogEntry{
				Tabla:           model.TableRepairs,
				RegistroID:      rep.ID,
				Accion:          model.AuditUpdate,
				CampoModificado: c.field,
				ValorAnterior:   &old,
				ValorNuevo:      c.new,
				Usuario:         actor.Username,
			}
			if err := repos.Audit.Append(ctx, entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// FinishRepair завершает работу техника: ремонт закрывается со стороны техника,
// дефект переходит En_Reparacion → Reparado.
func (s *WorkflowService) FinishRepair(ctx context.Context, actor Actor, repairID string, in FinishInput) error {
	if err := s.authorize(actor, rbac.CapRepair); err != nil {
		return err
	}
	in.AccionCorrectiva = strings.TrimSpace(in.AccionCorrectiva)
	if in.AccionCorrectiva == "" {
		return validationError("accion_correctiva es requerida")
	}

	const ev = lifecycle.EventFinishRepair
	var (
		defectID string
		from, to lifecycle.Status
	)
	err := s.tx.RunInTx(ctx, func(repos *repository.Repositories) error {
		d, rep, err := lockRepairWithDefect(ctx, repos, repairID)
		if err != nil {
			return err
		}
		defectID, from = d.ID, d.Status
		to, err = lifecycle.Next(d.Status, ev)
		if err != nil {
			return err
		}
		if !rep.IsOpen() || rep.FechaFin != nil {
			return &lifecycle.TransitionError{
				Code:    lifecycle.CodeInvalidState,
				Message: "la reparación ya fue finalizada",
				Current: d.Status,
			}
		}

		finish := repository.RepairFinish{
			AccionCorrectiva: in.AccionCorrectiva,
			MaterialesUsados: in.MaterialesUsados,
			Observaciones:    in.Observaciones,
			StatusDespues:    to,
		}
		if err := repos.Repairs.Finish(ctx, rep.ID, finish); err != nil {
			return stateChanged(err, d.Status)
		}
		if err := repos.Defects.UpdateStatus(ctx, d.ID, from, to); err != nil {
			return stateChanged(err, from)
		}
		return repos.Audit.Append(ctx, statusAudit(model.TableDefects, model.AuditUpdate, d.ID, actor.Username, from, to))
	})
	if err != nil {
		return s.rejected(ev, err)
	}

	s.transitioned(ev, defectID, repairID, from, to, actor)
	return nil
}

// ApproveRepair — вердикт QA «одобрено»: дефект Reparado → Aprobado.
// observaciones может быть nil.
func (s *WorkflowService) ApproveRepair(ctx context.Context, actor Actor, repairID string, observaciones *string) error {
	obs := ""
	if observaciones != nil {
		obs = strings.TrimSpace(*observaciones)
	}
	return s.verdict(ctx, actor, repairID, model.QAApproved, obs)
}

// RejectRepair — вердикт QA «отклонено»: дефект Reparado → Rechazado.
// Наблюдения обязательны.
func (s *WorkflowService) RejectRepair(ctx context.Context, actor Actor, repairID string, observaciones *string) error {
	obs := ""
	if observaciones != nil {
		obs = strings.TrimSpace(*observaciones)
	}
	if err := s.authorize(actor, rbac.CapValidateQA); err != nil {
		return err
	}
	if obs == "" {
		return validationError("las observaciones son requeridas al rechazar una reparación")
	}
	return s.verdict(ctx, actor, repairID, model.QARejected, obs)
}

// verdict записывает вердикт QA, статус дефекта и аудит атомарно.
func (s *WorkflowService) verdict(ctx context.Context, actor Actor, repairID string, result model.QAResult, obs string) error {
	if err := s.authorize(actor, rbac.CapValidateQA); err != nil {
		return err
	}

	ev := lifecycle.EventApprove
	if result == model.QARejected {
		ev = lifecycle.EventReject
	}

	var (
		defectID string
		from, to lifecycle.Status
	)
	err := s.tx.RunInTx(ctx, func(repos *repository.Repositories) error {
		d, rep, err := lockRepairWithDefect(ctx, repos, repairID)
		if err != nil {
			return err
		}
		defectID, from = d.ID, d.Status
		if rep.InspeccionadoPorQA {
			return &lifecycle.TransitionError{
				Code:    lifecycle.CodeInvalidState,
				Message: "esta reparación ya fue inspeccionada",
				Current: d.Status,
			}
		}
		to, err = lifecycle.Next(d.Status, ev)
		if err != nil {
			return err
		}

		v := repository.RepairVerdict{Inspector: actor.Username, Resultado: result, ObservacionesQA: obs}
		if err := repos.Repairs.RecordVerdict(ctx, rep.ID, v); err != nil {
			return stateChanged(err, d.Status)
		}
		if err := repos.Defects.UpdateStatus(ctx, d.ID, from, to); err != nil {
			return stateChanged(err, from)
		}
		return repos.Audit.Append(ctx, statusAudit(model.TableDefects, model.AuditUpdate, d.ID, actor.Username, from, to))
	})
	if err != nil {
		return s.rejected(ev, err)
	}

	s.transitioned(ev, defectID, repairID, from, to, actor)
	return nil
}

// ChangeStatus — ручная смена статуса дефекта (PUT /defects/{id}/status).
// Выполняются только рёбра, не принадлежащие операциям ремонта и QA.
func (s *WorkflowService) ChangeStatus(ctx context.Context, actor Actor, defectID, status string) (*model.Defect, error) {
	if err := s.authorize(actor, rbac.CapRepair); err != nil {
		return nil, err
	}
	target, err := lifecycle.ParseStatus(status)
	if err != nil {
		var te *lifecycle.TransitionError
		errors.As(err, &te)
		return nil, validationError("%s", te.Message)
	}

	var (
		d   *model.Defect
		ev  lifecycle.Event
		old lifecycle.Status
	)
	err = s.tx.RunInTx(ctx, func(repos *repository.Repositories) error {
		var err error
		d, err = repos.Defects.GetForUpdate(ctx, defectID)
		if err != nil {
			return wrapRepoError(err, "defecto no encontrado", "")
		}
		old = d.Status
		ev, err = lifecycle.ManualTransition(d.Status, target)
		if err != nil {
			return err
		}
		if err := repos.Defects.UpdateStatus(ctx, d.ID, old, target); err != nil {
			return stateChanged(err, old)
		}
		d.Status = target
		return repos.Audit.Append(ctx, statusAudit(model.TableDefects, model.AuditUpdate, d.ID, actor.Username, old, target))
	})
	if err != nil {
		return nil, s.rejected(lifecycle.EventRequeue, err)
	}

	s.transitioned(ev, d.ID, "", old, target, actor)
	return d, nil
}

// lockRepairWithDefect блокирует дефект, затем ремонт.
func lockRepairWithDefect(ctx context.Context, repos *repository.Repositories, repairID string) (*model.Defect, *model.Repair, error) {
	rep, err := repos.Repairs.GetByID(ctx, repairID)
	if err != nil {
		return nil, nil, wrapRepoError(err, "reparación no encontrada", "")
	}
	d, err := repos.Defects.GetForUpdate(ctx, rep.DefectID)
	if err != nil {
		return nil, nil, wrapRepoError(err, "defecto no encontrado", "")
	}
	rep, err = repos.Repairs.GetForUpdate(ctx, repairID)
	if err != nil {
		return nil, nil, wrapRepoError(err, "reparación no encontrada", "")
	}
	return d, rep, nil
}

// closedRepair — ошибка операции над ремонтом с вердиктом QA.
func (s *WorkflowService) closedRepair(ctx context.Context, repos *repository.Repositories, rep *model.Repair, msg string) error {
	te := &lifecycle.TransitionError{Code: lifecycle.CodeInvalidState, Message: msg}
	if d, err := repos.Defects.GetByID(ctx, rep.DefectID); err == nil {
		te.Current = d.Status
	}
	return te
}

// stateChanged переводит ErrStatusConflict условного обновления в ошибку
// недопустимого состояния; прочие ошибки возвращаются как есть.
func stateChanged(err error, current lifecycle.Status) error {
	if errors.Is(err, repository.ErrStatusConflict) {
		return &lifecycle.TransitionError{
			Code:    lifecycle.CodeInvalidState,
			Message: "el estado cambió durante la operación",
			Current: current,
		}
	}
	return err
}

func (s *WorkflowService) authorize(actor Actor, caps ...rbac.Capability) error {
	if !s.rbac.Allows(actor.Rol, caps...) {
		return forbiddenError("el rol %s no tiene permiso para esta operación", actor.Rol)
	}
	return nil
}

func (s *WorkflowService) rejected(ev lifecycle.Event, err error) error {
	if errors.Is(err, ErrInvalidState) {
		observeRejectedTransition(ev)
	}
	return err
}

func (s *WorkflowService) transitioned(ev lifecycle.Event, defectID, repairID string, from, to lifecycle.Status, actor Actor) {
	observeTransition(ev, from, to)
	s.logger.Info("Переход жизненного цикла",
		slog.String("event", string(ev)),
		slog.String("defect_id", defectID),
		slog.String("repair_id", repairID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("user", actor.Username),
	)
}

// validateDefectInput проверяет обязательные поля и перечисления.
func validateDefectInput(in *DefectInput) error {
	fields := []struct {
		name  string
		value *string
	}{
		{"linea", &in.Linea},
		{"codigo", &in.Codigo},
		{"defecto", &in.Defecto},
		{"ubicacion", &in.Ubicacion},
		{"area", &in.Area},
		{"tipo_inspeccion", &in.TipoInspeccion},
		{"etapa_deteccion", &in.EtapaDeteccion},
		{"registrado_por", &in.RegistradoPor},
	}

	var missing []string
	for _, f := range fields {
		*f.value = strings.TrimSpace(*f.value)
		if *f.value == "" {
			missing = append(missing, f.name)
		}
	}
	in.Modelo = strings.TrimSpace(in.Modelo)

	if len(missing) > 0 {
		return validationError("campos requeridos faltantes: %s", strings.Join(missing, ", "))
	}
	if !model.IsValidTipoInspeccion(in.TipoInspeccion) {
		return validationError("tipo_inspeccion inválido: %q (permitidos: %s)",
			in.TipoInspeccion, strings.Join(model.TiposInspeccion, ", "))
	}
	if !model.IsValidEtapaDeteccion(in.EtapaDeteccion) {
		return validationError("etapa_deteccion inválida: %q (permitidos: %s)",
			in.EtapaDeteccion, strings.Join(model.EtapasDeteccion, ", "))
	}
	return nil
}

// statusAudit — запись аудита о смене статуса. Пустой from — значение отсутствовало.
func statusAudit(tabla, accion, id, user string, from, to lifecycle.Status) *model.AuditLogEntry {
	entry := &model.AuditLogEntry{
		Tabla:           tabla,
		RegistroID:      id,
		Accion:          accion,
		CampoModificado: "status",
		Usuario:         user,
	}
	if from != "" {
		prev := string(from)
		entry.ValorAnterior = &prev
	}
	next := string(to)
	entry.ValorNuevo = &next
	return entry
}

// newID генерирует идентификатор вида PREFIX_<ms>_<suffix>.
func newID(prefix string, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("%s_%d_%s", prefix, now.UnixMilli(), suffix)
}
