// fake_test.go — in-memory набор репозиториев с транзакциями
// (снимок состояния и откат при ошибке) для unit-тестов сервисов.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bigkaa/dms/internal/domain/lifecycle"
	"github.com/bigkaa/dms/internal/domain/model"
	"github.com/bigkaa/dms/internal/repository"
)

// memState — содержимое «базы».
type memState struct {
	defects    map[string]model.Defect
	repairs    map[string]model.Repair
	users      map[int64]model.User
	audit      []model.AuditLogEntry
	modelos    map[string]string
	nextUserID int64
}

func (s *memState) clone() memState {
	c := memState{
		defects:    make(map[string]model.Defect, len(s.defects)),
		repairs:    make(map[string]model.Repair, len(s.repairs)),
		users:      make(map[int64]model.User, len(s.users)),
		audit:      append([]model.AuditLogEntry(nil), s.audit...),
		modelos:    make(map[string]string, len(s.modelos)),
		nextUserID: s.nextUserID,
	}
	for k, v := range s.defects {
		c.defects[k] = v
	}
	for k, v := range s.repairs {
		c.repairs[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.modelos {
		c.modelos[k] = v
	}
	return c
}

// memStore — хранилище и TxRunner. Транзакции сериализуются,
// что соответствует блокировке строки дефекта в PostgreSQL.
type memStore struct {
	txMu  sync.Mutex
	state memState
	now   func() time.Time

	// auditErr — если задана, Append возвращает её (проверка отката)
	auditErr error
	// lookups — число обращений к справочнику моделей
	lookups int
}

func newMemStore() *memStore {
	return &memStore{
		state: memState{
			defects:    make(map[string]model.Defect),
			repairs:    make(map[string]model.Repair),
			users:      make(map[int64]model.User),
			modelos:    make(map[string]string),
			nextUserID: 1,
		},
		now: time.Now,
	}
}

// RunInTx реализует TxRunner.
func (m *memStore) RunInTx(_ context.Context, fn func(repos *repository.Repositories) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snapshot := m.state.clone()
	if err := fn(m.repos()); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (m *memStore) repos() *repository.Repositories {
	return &repository.Repositories{
		Defects: memDefects{m},
		Repairs: memRepairs{m},
		Users:   memUsers{m},
		Audit:   memAudit{m},
		Modelos: memModelos{m},
		Reports: memReports{m},
	}
}

// auditFor — записи аудита по сущности.
func (m *memStore) auditFor(tabla, id string) []model.AuditLogEntry {
	var out []model.AuditLogEntry
	for _, e := range m.state.audit {
		if e.Tabla == tabla && e.RegistroID == id {
			out = append(out, e)
		}
	}
	return out
}

func (m *memStore) addUser(username, rol, area, password string, activo bool) model.User {
	hash, err := HashPassword(password)
	if err != nil {
		panic(err)
	}
	u := model.User{
		ID:             m.state.nextUserID,
		Username:       username,
		PasswordHash:   hash,
		NombreCompleto: strings.ToUpper(username),
		Rol:            rol,
		Area:           area,
		Activo:         activo,
		FechaCreacion:  m.now(),
	}
	m.state.users[u.ID] = u
	m.state.nextUserID++
	return u
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Defects ---

type memDefects struct{ m *memStore }

func (r memDefects) Create(_ context.Context, d *model.Defect) error {
	if _, ok := r.m.state.defects[d.ID]; ok {
		return fmt.Errorf("%w: дефект %s", repository.ErrConflict, d.ID)
	}
	d.CreatedAt = r.m.now()
	d.UpdatedAt = d.CreatedAt
	r.m.state.defects[d.ID] = *d
	return nil
}

func (r memDefects) GetByID(_ context.Context, id string) (*model.Defect, error) {
	d, ok := r.m.state.defects[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &d, nil
}

func (r memDefects) GetForUpdate(ctx context.Context, id string) (*model.Defect, error) {
	return r.GetByID(ctx, id)
}

func (r memDefects) UpdateStatus(_ context.Context, id string, expected, next lifecycle.Status) error {
	d, ok := r.m.state.defects[id]
	if !ok {
		return repository.ErrNotFound
	}
	if d.Status != expected {
		return repository.ErrStatusConflict
	}
	d.Status = next
	if next == lifecycle.StatusInRepair {
		now := r.m.now()
		d.FechaEnvioReparacion = &now
	}
	d.UpdatedAt = r.m.now()
	r.m.state.defects[id] = d
	return nil
}

func (r memDefects) List(_ context.Context, f repository.DefectFilters, limit int) ([]*model.Defect, error) {
	out := make([]*model.Defect, 0)
	for _, d := range r.m.state.defects {
		if f.Status != nil && string(d.Status) != *f.Status {
			continue
		}
		if f.Linea != nil && d.Linea != *f.Linea {
			continue
		}
		d := d
		out = append(out, &d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fecha.After(out[j].Fecha) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memDefects) ListPendingRepair(ctx context.Context) ([]*model.Defect, error) {
	s := string(lifecycle.StatusPending)
	return r.List(ctx, repository.DefectFilters{Status: &s}, len(r.m.state.defects)+1)
}

// --- Repairs ---

type memRepairs struct{ m *memStore }

func (r memRepairs) Create(_ context.Context, rep *model.Repair) error {
	if _, ok := r.m.state.defects[rep.DefectID]; !ok {
		return repository.ErrNotFound
	}
	for _, other := range r.m.state.repairs {
		if other.DefectID == rep.DefectID && other.IsOpen() {
			return fmt.Errorf("%w: открытый ремонт дефекта %s", repository.ErrConflict, rep.DefectID)
		}
	}
	rep.CreatedAt = r.m.now()
	rep.UpdatedAt = rep.CreatedAt
	r.m.state.repairs[rep.ID] = *rep
	return nil
}

func (r memRepairs) GetByID(_ context.Context, id string) (*model.Repair, error) {
	rep, ok := r.m.state.repairs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &rep, nil
}

func (r memRepairs) GetForUpdate(ctx context.Context, id string) (*model.Repair, error) {
	return r.GetByID(ctx, id)
}

func (r memRepairs) GetOpenByDefect(_ context.Context, defectID string) (*model.Repair, error) {
	for _, rep := range r.m.state.repairs {
		if rep.DefectID == defectID && rep.IsOpen() {
			return &rep, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r memRepairs) UpdateProgress(_ context.Context, id string, p model.RepairPatch) error {
	rep, ok := r.m.state.repairs[id]
	if !ok {
		return repository.ErrNotFound
	}
	if !rep.IsOpen() {
		return repository.ErrStatusConflict
	}
	if p.AccionCorrectiva != nil {
		rep.AccionCorrectiva = *p.AccionCorrectiva
	}
	if p.MaterialesUsados != nil {
		rep.MaterialesUsados = *p.MaterialesUsados
	}
	if p.Observaciones != nil {
		rep.Observaciones = *p.Observaciones
	}
	r.m.state.repairs[id] = rep
	return nil
}

func (r memRepairs) Finish(_ context.Context, id string, f repository.RepairFinish) error {
	rep, ok := r.m.state.repairs[id]
	if !ok {
		return repository.ErrNotFound
	}
	if !rep.IsOpen() || rep.FechaFin != nil {
		return repository.ErrStatusConflict
	}
	now := r.m.now()
	rep.FechaFin = &now
	rep.FechaRetornoQA = &now
	rep.AccionCorrectiva = f.AccionCorrectiva
	if f.MaterialesUsados != nil {
		rep.MaterialesUsados = *f.MaterialesUsados
	}
	if f.Observaciones != nil {
		rep.Observaciones = *f.Observaciones
	}
	rep.StatusDespues = f.StatusDespues
	r.m.state.repairs[id] = rep
	return nil
}

func (r memRepairs) RecordVerdict(_ context.Context, id string, v repository.RepairVerdict) error {
	rep, ok := r.m.state.repairs[id]
	if !ok {
		return repository.ErrNotFound
	}
	if !rep.IsOpen() {
		return repository.ErrStatusConflict
	}
	now := r.m.now()
	inspector, result, obs := v.Inspector, v.Resultado, v.ObservacionesQA
	rep.InspeccionadoPorQA = true
	rep.InspectorQA = &inspector
	rep.FechaInspeccionQA = &now
	rep.ResultadoInspeccionQA = &result
	rep.ObservacionesQA = &obs
	r.m.state.repairs[id] = rep
	return nil
}

func (r memRepairs) details(keep func(model.Repair, model.Defect) bool) []*model.RepairDetail {
	out := make([]*model.RepairDetail, 0)
	for _, rep := range r.m.state.repairs {
		d := r.m.state.defects[rep.DefectID]
		if !keep(rep, d) {
			continue
		}
		out = append(out, &model.RepairDetail{
			Repair:       rep,
			Linea:        d.Linea,
			Codigo:       d.Codigo,
			Defecto:      d.Defecto,
			DefectStatus: d.Status,
			FechaDefecto: d.Fecha,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FechaRecepcion.After(out[j].FechaRecepcion) })
	return out
}

func (r memRepairs) ListInProgress(_ context.Context) ([]*model.RepairDetail, error) {
	return r.details(func(rep model.Repair, d model.Defect) bool {
		return rep.IsOpen() && d.Status == lifecycle.StatusInRepair
	}), nil
}

func (r memRepairs) ListPendingQA(_ context.Context) ([]*model.RepairDetail, error) {
	return r.details(func(rep model.Repair, d model.Defect) bool {
		return rep.IsOpen() && rep.FechaFin != nil && d.Status == lifecycle.StatusRepaired
	}), nil
}

func (r memRepairs) ListByDefect(_ context.Context, defectID string) ([]*model.RepairDetail, error) {
	return r.details(func(rep model.Repair, _ model.Defect) bool {
		return rep.DefectID == defectID
	}), nil
}

func (r memRepairs) QAHistory(_ context.Context, days int, inspector *string, limit int) ([]*model.RepairDetail, error) {
	since := r.m.now().AddDate(0, 0, -days)
	out := r.details(func(rep model.Repair, _ model.Defect) bool {
		if !rep.InspeccionadoPorQA || rep.FechaInspeccionQA.Before(since) {
			return false
		}
		return inspector == nil || *rep.InspectorQA == *inspector
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- Users ---

type memUsers struct{ m *memStore }

func (r memUsers) Create(_ context.Context, u *model.User) error {
	for _, other := range r.m.state.users {
		if other.Username == u.Username {
			return fmt.Errorf("%w: пользователь %s уже существует", repository.ErrConflict, u.Username)
		}
	}
	u.ID = r.m.state.nextUserID
	u.FechaCreacion = r.m.now()
	r.m.state.nextUserID++
	r.m.state.users[u.ID] = *u
	return nil
}

func (r memUsers) GetByID(_ context.Context, id int64) (*model.User, error) {
	u, ok := r.m.state.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (r memUsers) GetByUsername(_ context.Context, username string) (*model.User, error) {
	for _, u := range r.m.state.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r memUsers) List(_ context.Context, f repository.UserListFilters) ([]*model.User, error) {
	out := make([]*model.User, 0)
	for _, u := range r.m.state.users {
		if len(f.Roles) > 0 && !slices.Contains(f.Roles, u.Rol) {
			continue
		}
		if f.Area != nil && u.Area != *f.Area {
			continue
		}
		if f.Activo != nil && u.Activo != *f.Activo {
			continue
		}
		u := u
		out = append(out, &u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (r memUsers) Update(_ context.Context, id int64, upd model.UserUpdate) (*model.User, error) {
	u, ok := r.m.state.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if upd.NombreCompleto != nil {
		u.NombreCompleto = *upd.NombreCompleto
	}
	if upd.Rol != nil {
		u.Rol = *upd.Rol
	}
	if upd.Area != nil {
		u.Area = *upd.Area
	}
	if upd.Activo != nil {
		u.Activo = *upd.Activo
	}
	r.m.state.users[id] = u
	return &u, nil
}

func (r memUsers) modify(id int64, fn func(u *model.User)) error {
	u, ok := r.m.state.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(&u)
	r.m.state.users[id] = u
	return nil
}

func (r memUsers) SetPassword(_ context.Context, id int64, hash string) error {
	return r.modify(id, func(u *model.User) { u.PasswordHash = hash })
}

func (r memUsers) TouchLastAccess(_ context.Context, id int64) error {
	now := r.m.now()
	return r.modify(id, func(u *model.User) { u.UltimoAcceso = &now })
}

func (r memUsers) Deactivate(_ context.Context, id int64) error {
	return r.modify(id, func(u *model.User) { u.Activo = false })
}

func (r memUsers) Delete(_ context.Context, id int64) error {
	if _, ok := r.m.state.users[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.m.state.users, id)
	return nil
}

func (r memUsers) CountReferences(_ context.Context, username string) (int, error) {
	n := 0
	for _, d := range r.m.state.defects {
		if d.RegistradoPor == username {
			n++
		}
	}
	for _, rep := range r.m.state.repairs {
		if rep.Tecnico == username || (rep.InspectorQA != nil && *rep.InspectorQA == username) {
			n++
		}
	}
	return n, nil
}

// --- Audit ---

type memAudit struct{ m *memStore }

func (r memAudit) Append(_ context.Context, e *model.AuditLogEntry) error {
	if r.m.auditErr != nil {
		return r.m.auditErr
	}
	e.ID = int64(len(r.m.state.audit) + 1)
	e.Fecha = r.m.now()
	r.m.state.audit = append(r.m.state.audit, *e)
	return nil
}

func (r memAudit) ListByRecord(_ context.Context, tabla, registroID string) ([]*model.AuditLogEntry, error) {
	out := make([]*model.AuditLogEntry, 0)
	for _, e := range r.m.auditFor(tabla, registroID) {
		e := e
		out = append(out, &e)
	}
	return out, nil
}

// --- Modelos / Reports ---

type memModelos struct{ m *memStore }

func (r memModelos) Lookup(_ context.Context, prefix string) (string, error) {
	r.m.lookups++
	return r.m.state.modelos[prefix], nil
}

func (r memModelos) Upsert(_ context.Context, prefix, modelo, _ string) error {
	r.m.state.modelos[prefix] = modelo
	return nil
}

type memReports struct{ m *memStore }

func (r memReports) TechnicianStats(_ context.Context, _ int, _ *string) ([]*model.TechnicianStats, error) {
	return []*model.TechnicianStats{}, nil
}

func (r memReports) InspectorStats(_ context.Context, _ int) ([]*model.InspectorStats, error) {
	return []*model.InspectorStats{}, nil
}
