package repository

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/dms/internal/config"
	"github.com/bigkaa/dms/internal/database"
	"github.com/bigkaa/dms/internal/domain/lifecycle"
	"github.com/bigkaa/dms/internal/domain/model"
)

// setupTestDB запускает PostgreSQL контейнер, применяет миграции.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("dms_test"),
		postgres.WithUsername("dms"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	// Настраиваем env для config.Load()
	t.Setenv("DMS_DB_HOST", host)
	t.Setenv("DMS_DB_PORT", port.Port())
	t.Setenv("DMS_DB_NAME", "dms_test")
	t.Setenv("DMS_DB_USER", "dms")
	t.Setenv("DMS_DB_PASSWORD", "test-password")
	t.Setenv("DMS_DB_SSL_MODE", "disable")
	t.Setenv("DMS_JWT_KEYS", "test:0123456789abcdef0123456789")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	return pool
}

// newTestDefect создаёт дефект в статусе Pendiente_Reparacion.
func newTestDefect(t *testing.T, repo DefectRepository, fecha time.Time, codigo string) *model.Defect {
	t.Helper()
	d := &model.Defect{
		ID:             "DEF_" + uuid.NewString(),
		Fecha:          fecha,
		Linea:          "M1",
		Codigo:         codigo,
		Defecto:        "Rayado",
		Ubicacion:      "Station 3",
		Area:           "SMD",
		TipoInspeccion: model.TipoVisual,
		EtapaDeteccion: model.EtapaOQC,
		Status:         lifecycle.StatusPending,
		RegistradoPor:  "insp1",
	}
	if err := repo.Create(context.Background(), d); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	return d
}

// newTestRepair открывает ремонт дефекта.
func newTestRepair(defectID, tecnico string) *model.Repair {
	now := time.Now()
	return &model.Repair{
		ID:             "REP_" + uuid.NewString(),
		DefectID:       defectID,
		FechaRecepcion: now,
		FechaInicio:    now,
		Tecnico:        tecnico,
		StatusAntes:    lifecycle.StatusPending,
		StatusDespues:  lifecycle.StatusInRepair,
	}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

// --- Тесты DefectRepository ---

func TestDefectRepository_CreateAndStatus(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewDefectRepository(pool)

	d := newTestDefect(t, repo, time.Now(), "ABC123456XYZ")
	if d.CreatedAt.IsZero() {
		t.Error("CreatedAt не установлен")
	}

	got, err := repo.GetByID(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetByID() ошибка: %v", err)
	}
	if got.Status != lifecycle.StatusPending {
		t.Errorf("Status = %q, хотели %q", got.Status, lifecycle.StatusPending)
	}
	if got.FechaEnvioReparacion != nil {
		t.Error("FechaEnvioReparacion должна быть пустой до начала ремонта")
	}

	if err := repo.UpdateStatus(ctx, d.ID, lifecycle.StatusPending, lifecycle.StatusInRepair); err != nil {
		t.Fatalf("UpdateStatus() ошибка: %v", err)
	}
	got, _ = repo.GetByID(ctx, d.ID)
	if got.Status != lifecycle.StatusInRepair || got.FechaEnvioReparacion == nil {
		t.Errorf("после перехода: Status=%q, FechaEnvioReparacion=%v", got.Status, got.FechaEnvioReparacion)
	}

	// Повторный переход из того же статуса — конфликт
	err = repo.UpdateStatus(ctx, d.ID, lifecycle.StatusPending, lifecycle.StatusInRepair)
	if !errors.Is(err, ErrStatusConflict) {
		t.Errorf("ожидали ErrStatusConflict, получили: %v", err)
	}

	if _, err := repo.GetByID(ctx, "DEF_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидали ErrNotFound, получили: %v", err)
	}
}

func TestDefectRepository_ListFilters(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewDefectRepository(pool)

	for i := 1; i <= 10; i++ {
		newTestDefect(t, repo, day(2024, time.January, i), "CODE-"+string(rune('A'+i-1)))
	}

	start, end := day(2024, time.January, 3), day(2024, time.January, 5)
	list, err := repo.List(ctx, DefectFilters{FechaInicio: &start, FechaFin: &end}, 1000)
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("диапазон 03..05 вернул %d записей, хотели 3", len(list))
	}
	// Новые первыми
	if !list[0].Fecha.After(list[2].Fecha) {
		t.Errorf("порядок нарушен: %v, %v", list[0].Fecha, list[2].Fecha)
	}

	// Только нижняя граница
	list, _ = repo.List(ctx, DefectFilters{FechaInicio: &start}, 1000)
	if len(list) != 8 {
		t.Errorf("FechaInicio=03 вернул %d записей, хотели 8", len(list))
	}

	// Точная дата вне диапазона — пусто
	outside := day(2024, time.January, 7)
	list, _ = repo.List(ctx, DefectFilters{Fecha: &outside, FechaInicio: &start, FechaFin: &end}, 1000)
	if len(list) != 0 {
		t.Errorf("дата вне диапазона вернула %d записей, хотели 0", len(list))
	}

	codigo := "code-c"
	list, _ = repo.List(ctx, DefectFilters{Codigo: &codigo}, 1000)
	if len(list) != 1 || list[0].Codigo != "CODE-C" {
		t.Errorf("поиск по коду вернул %+v", list)
	}

	list, _ = repo.List(ctx, DefectFilters{}, 4)
	if len(list) != 4 {
		t.Errorf("лимит 4 вернул %d записей", len(list))
	}

	pending, err := repo.ListPendingRepair(ctx)
	if err != nil {
		t.Fatalf("ListPendingRepair() ошибка: %v", err)
	}
	if len(pending) != 10 {
		t.Errorf("ListPendingRepair() вернул %d записей, хотели 10", len(pending))
	}
}

// --- Тесты RepairRepository ---

func TestRepairRepository_OpenRepairLifecycle(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	defects := NewDefectRepository(pool)
	repo := NewRepairRepository(pool)

	d := newTestDefect(t, defects, time.Now(), "ABC123456")
	rep := newTestRepair(d.ID, "tec1")
	if err := repo.Create(ctx, rep); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	// Второй открытый ремонт запрещён индексом
	if err := repo.Create(ctx, newTestRepair(d.ID, "tec2")); !errors.Is(err, ErrConflict) {
		t.Errorf("второй открытый ремонт: ожидали ErrConflict, получили: %v", err)
	}

	open, err := repo.GetOpenByDefect(ctx, d.ID)
	if err != nil || open.ID != rep.ID {
		t.Fatalf("GetOpenByDefect() = %v, %v", open, err)
	}

	obs := "cambio de conector"
	if err := repo.UpdateProgress(ctx, rep.ID, model.RepairPatch{Observaciones: &obs}); err != nil {
		t.Fatalf("UpdateProgress() ошибка: %v", err)
	}

	finish := RepairFinish{AccionCorrectiva: "Resoldado", StatusDespues: lifecycle.StatusRepaired}
	if err := repo.Finish(ctx, rep.ID, finish); err != nil {
		t.Fatalf("Finish() ошибка: %v", err)
	}
	if err := repo.Finish(ctx, rep.ID, finish); !errors.Is(err, ErrStatusConflict) {
		t.Errorf("повторный Finish(): ожидали ErrStatusConflict, получили: %v", err)
	}

	got, _ := repo.GetByID(ctx, rep.ID)
	if got.FechaFin == nil || got.FechaRetornoQA == nil || got.AccionCorrectiva != "Resoldado" {
		t.Errorf("после Finish: %+v", got)
	}
	if got.Observaciones != obs {
		t.Errorf("Observaciones = %q, хотели %q", got.Observaciones, obs)
	}

	verdict := RepairVerdict{Inspector: "qa1", Resultado: model.QARejected, ObservacionesQA: "sigue fallando"}
	if err := repo.RecordVerdict(ctx, rep.ID, verdict); err != nil {
		t.Fatalf("RecordVerdict() ошибка: %v", err)
	}
	if err := repo.RecordVerdict(ctx, rep.ID, verdict); !errors.Is(err, ErrStatusConflict) {
		t.Errorf("повторный вердикт: ожидали ErrStatusConflict, получили: %v", err)
	}

	// После вердикта открытого ремонта нет, можно открыть новый
	if _, err := repo.GetOpenByDefect(ctx, d.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetOpenByDefect() после вердикта: %v", err)
	}
	if err := repo.Create(ctx, newTestRepair(d.ID, "tec1")); err != nil {
		t.Fatalf("Create() после вердикта ошибка: %v", err)
	}

	history, err := repo.ListByDefect(ctx, d.ID)
	if err != nil {
		t.Fatalf("ListByDefect() ошибка: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("ListByDefect() вернул %d записей, хотели 2", len(history))
	}
	closed := history[1]
	if closed.ResultadoInspeccionQA == nil || *closed.ResultadoInspeccionQA != model.QARejected {
		t.Errorf("вердикт закрытого ремонта: %v", closed.ResultadoInspeccionQA)
	}
	if closed.HorasReparacion == nil {
		t.Error("HorasReparacion не рассчитаны для завершённого ремонта")
	}

	qaHistory, err := repo.QAHistory(ctx, 30, nil, 100)
	if err != nil {
		t.Fatalf("QAHistory() ошибка: %v", err)
	}
	if len(qaHistory) != 1 {
		t.Errorf("QAHistory() вернул %d записей, хотели 1", len(qaHistory))
	}
	other := "qa2"
	qaHistory, _ = repo.QAHistory(ctx, 30, &other, 100)
	if len(qaHistory) != 0 {
		t.Errorf("QAHistory(qa2) вернул %d записей, хотели 0", len(qaHistory))
	}
}

func TestRepairRepository_Queues(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	defects := NewDefectRepository(pool)
	repo := NewRepairRepository(pool)

	d := newTestDefect(t, defects, time.Now(), "QUEUE0001")
	if err := defects.UpdateStatus(ctx, d.ID, lifecycle.StatusPending, lifecycle.StatusInRepair); err != nil {
		t.Fatalf("UpdateStatus() ошибка: %v", err)
	}
	rep := newTestRepair(d.ID, "tec1")
	if err := repo.Create(ctx, rep); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	inProgress, err := repo.ListInProgress(ctx)
	if err != nil {
		t.Fatalf("ListInProgress() ошибка: %v", err)
	}
	if len(inProgress) != 1 || inProgress[0].ID != rep.ID || inProgress[0].Codigo != "QUEUE0001" {
		t.Errorf("ListInProgress() = %+v", inProgress)
	}

	if err := repo.Finish(ctx, rep.ID, RepairFinish{AccionCorrectiva: "ok", StatusDespues: lifecycle.StatusRepaired}); err != nil {
		t.Fatalf("Finish() ошибка: %v", err)
	}
	if err := defects.UpdateStatus(ctx, d.ID, lifecycle.StatusInRepair, lifecycle.StatusRepaired); err != nil {
		t.Fatalf("UpdateStatus() ошибка: %v", err)
	}

	pendingQA, err := repo.ListPendingQA(ctx)
	if err != nil {
		t.Fatalf("ListPendingQA() ошибка: %v", err)
	}
	if len(pendingQA) != 1 || pendingQA[0].DefectStatus != lifecycle.StatusRepaired {
		t.Errorf("ListPendingQA() = %+v", pendingQA)
	}
	inProgress, _ = repo.ListInProgress(ctx)
	if len(inProgress) != 0 {
		t.Errorf("ListInProgress() после завершения вернул %d записей", len(inProgress))
	}
}

// --- Тесты TxRunner ---

func TestTxRunner_RollbackOnError(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	runner := NewTxRunner(pool)

	id := "DEF_" + uuid.NewString()
	errBoom := errors.New("boom")
	err := runner.RunInTx(ctx, func(repos *Repositories) error {
		d := &model.Defect{
			ID: id, Fecha: time.Now(), Linea: "M2", Codigo: "ROLLBACK1", Defecto: "x",
			Ubicacion: "y", Area: "IMD", TipoInspeccion: model.TipoICT, EtapaDeteccion: model.EtapaLQC,
			Status: lifecycle.StatusPending, RegistradoPor: "insp1",
		}
		if err := repos.Defects.Create(ctx, d); err != nil {
			return err
		}
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("RunInTx() = %v, хотели errBoom", err)
	}

	if _, err := NewDefectRepository(pool).GetByID(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("после отката дефект не должен существовать, получили: %v", err)
	}
}

func TestTxRunner_GetForUpdateAndAudit(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	runner := NewTxRunner(pool)
	d := newTestDefect(t, NewDefectRepository(pool), time.Now(), "LOCK00001")

	err := runner.RunInTx(ctx, func(repos *Repositories) error {
		locked, err := repos.Defects.GetForUpdate(ctx, d.ID)
		if err != nil {
			return err
		}
		if err := repos.Defects.UpdateStatus(ctx, d.ID, locked.Status, lifecycle.StatusInRepair); err != nil {
			return err
		}
		prev, next := string(locked.Status), string(lifecycle.StatusInRepair)
		return repos.Audit.Append(ctx, &model.AuditLogEntry{
			Tabla: model.TableDefects, RegistroID: d.ID, Accion: model.AuditUpdate,
			CampoModificado: "status", ValorAnterior: &prev, ValorNuevo: &next, Usuario: "tec1",
		})
	})
	if err != nil {
		t.Fatalf("RunInTx() ошибка: %v", err)
	}

	entries, err := NewAuditRepository(pool).ListByRecord(ctx, model.TableDefects, d.ID)
	if err != nil {
		t.Fatalf("ListByRecord() ошибка: %v", err)
	}
	if len(entries) != 1 || *entries[0].ValorNuevo != "En_Reparacion" {
		t.Errorf("журнал аудита: %+v", entries)
	}
}

// --- Тесты UserRepository ---

func TestUserRepository_CRUD(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewUserRepository(pool)

	u := &model.User{
		Username: "insp1", PasswordHash: "hash", NombreCompleto: "Inspector Uno",
		Rol: "Inspector_LQC", Area: "SMD", Activo: true,
	}
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	if u.ID == 0 {
		t.Error("ID не установлен")
	}

	dup := *u
	if err := repo.Create(ctx, &dup); !errors.Is(err, ErrConflict) {
		t.Errorf("дубликат username: ожидали ErrConflict, получили: %v", err)
	}

	got, err := repo.GetByUsername(ctx, "insp1")
	if err != nil || got.ID != u.ID {
		t.Fatalf("GetByUsername() = %v, %v", got, err)
	}

	area := "IMD"
	updated, err := repo.Update(ctx, u.ID, model.UserUpdate{Area: &area})
	if err != nil {
		t.Fatalf("Update() ошибка: %v", err)
	}
	if updated.Area != "IMD" || updated.Rol != "Inspector_LQC" {
		t.Errorf("после Update: %+v", updated)
	}

	if err := repo.TouchLastAccess(ctx, u.ID); err != nil {
		t.Fatalf("TouchLastAccess() ошибка: %v", err)
	}
	if err := repo.Deactivate(ctx, u.ID); err != nil {
		t.Fatalf("Deactivate() ошибка: %v", err)
	}
	got, _ = repo.GetByID(ctx, u.ID)
	if got.Activo || got.UltimoAcceso == nil {
		t.Errorf("после Deactivate: Activo=%v, UltimoAcceso=%v", got.Activo, got.UltimoAcceso)
	}

	active := true
	list, err := repo.List(ctx, UserListFilters{Activo: &active})
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("List(activo) вернул %d записей, хотели 0", len(list))
	}
	list, _ = repo.List(ctx, UserListFilters{Roles: []string{"Inspector_LQC", "Inspector_OQC"}})
	if len(list) != 1 {
		t.Errorf("List(roles) вернул %d записей, хотели 1", len(list))
	}

	newTestDefect(t, NewDefectRepository(pool), time.Now(), "REF000001")
	refs, err := repo.CountReferences(ctx, "insp1")
	if err != nil || refs != 1 {
		t.Errorf("CountReferences() = %d, %v; хотели 1", refs, err)
	}

	if err := repo.Delete(ctx, u.ID); err != nil {
		t.Fatalf("Delete() ошибка: %v", err)
	}
	if _, err := repo.GetByID(ctx, u.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("после Delete ожидали ErrNotFound, получили: %v", err)
	}
	if err := repo.Delete(ctx, u.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("повторный Delete: ожидали ErrNotFound, получили: %v", err)
	}
}

// --- Тесты ModeloRepository ---

func TestModeloRepository_LookupAndUpsert(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewModeloRepository(pool)
	defects := NewDefectRepository(pool)

	got, err := repo.Lookup(ctx, "ABC123456")
	if err != nil || got != "" {
		t.Fatalf("Lookup() пустой БД = %q, %v", got, err)
	}

	d := &model.Defect{
		ID: "DEF_" + uuid.NewString(), Fecha: time.Now(), Linea: "M1", Codigo: "ABC123456-0001",
		Defecto: "x", Ubicacion: "y", Area: "SMD", Modelo: "LG-55UQ",
		TipoInspeccion: model.TipoFCT, EtapaDeteccion: model.EtapaLQC,
		Status: lifecycle.StatusPending, RegistradoPor: "insp1",
	}
	if err := defects.Create(ctx, d); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	got, _ = repo.Lookup(ctx, "ABC123456")
	if got != "LG-55UQ" {
		t.Errorf("Lookup() по дефектам = %q, хотели LG-55UQ", got)
	}

	if err := repo.Upsert(ctx, "ABC123456", "LG-65UQ", "admin"); err != nil {
		t.Fatalf("Upsert() ошибка: %v", err)
	}
	got, _ = repo.Lookup(ctx, "ABC123456")
	if got != "LG-65UQ" {
		t.Errorf("Lookup() после Upsert = %q, хотели LG-65UQ", got)
	}
}

// --- Тесты ReportRepository ---

func TestReportRepository_Stats(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	defects := NewDefectRepository(pool)
	repairs := NewRepairRepository(pool)
	reports := NewReportRepository(pool)

	results := []model.QAResult{model.QAApproved, model.QAApproved, model.QARejected}
	for _, res := range results {
		d := newTestDefect(t, defects, time.Now(), "STATS0001")
		rep := newTestRepair(d.ID, "tec1")
		if err := repairs.Create(ctx, rep); err != nil {
			t.Fatalf("Create() ошибка: %v", err)
		}
		if err := repairs.Finish(ctx, rep.ID, RepairFinish{AccionCorrectiva: "ok", StatusDespues: lifecycle.StatusRepaired}); err != nil {
			t.Fatalf("Finish() ошибка: %v", err)
		}
		if err := repairs.RecordVerdict(ctx, rep.ID, RepairVerdict{Inspector: "qa1", Resultado: res}); err != nil {
			t.Fatalf("RecordVerdict() ошибка: %v", err)
		}
	}
	// Открытый ремонт без вердикта
	d := newTestDefect(t, defects, time.Now(), "STATS0002")
	if err := repairs.Create(ctx, newTestRepair(d.ID, "tec1")); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	tech, err := reports.TechnicianStats(ctx, 30, nil)
	if err != nil {
		t.Fatalf("TechnicianStats() ошибка: %v", err)
	}
	if len(tech) != 1 {
		t.Fatalf("TechnicianStats() вернул %d строк, хотели 1", len(tech))
	}
	s := tech[0]
	if s.TotalReparaciones != 4 || s.Aprobadas != 2 || s.Rechazadas != 1 || s.PendientesQA != 1 {
		t.Errorf("TechnicianStats() = %+v", s)
	}

	qa, err := reports.InspectorStats(ctx, 30)
	if err != nil {
		t.Fatalf("InspectorStats() ошибка: %v", err)
	}
	if len(qa) != 1 || qa[0].TotalValidaciones != 3 || qa[0].TasaAprobacion != 66.67 {
		t.Errorf("InspectorStats() = %+v", qa)
	}
}
