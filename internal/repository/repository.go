// Пакет repository — слой доступа к данным PostgreSQL.
// Все запросы — чистый SQL через pgx, без ORM.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — запись уже существует")
	// ErrStatusConflict — условное обновление не затронуло строк:
	// запись уже не в ожидаемом состоянии.
	ErrStatusConflict = errors.New("запись не в ожидаемом состоянии")
	// ErrReferenced — запись используется другими таблицами.
	ErrReferenced = errors.New("запись используется другими таблицами")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repositories — набор репозиториев поверх одного DBTX.
// Внутри транзакции все репозитории набора работают в ней.
type Repositories struct {
	Defects DefectRepository
	Repairs RepairRepository
	Users   UserRepository
	Audit   AuditRepository
	Modelos ModeloRepository
	Reports ReportRepository
}

// New создаёт набор репозиториев поверх db (пул или транзакция).
func New(db DBTX) *Repositories {
	return &Repositories{
		Defects: NewDefectRepository(db),
		Repairs: NewRepairRepository(db),
		Users:   NewUserRepository(db),
		Audit:   NewAuditRepository(db),
		Modelos: NewModeloRepository(db),
		Reports: NewReportRepository(db),
	}
}

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx выполняет fn внутри транзакции (READ COMMITTED).
// fn получает набор репозиториев, привязанный к транзакции.
// При ошибке fn — транзакция откатывается, при успехе — коммитится.
// Соединение возвращается в пул в обоих случаях.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(repos *Repositories) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(New(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// isForeignKeyViolation проверяет нарушение внешнего ключа.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503" // foreign_key_violation
	}
	return false
}

// likeEscaper экранирует спецсимволы LIKE во вводе пользователя.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern строит шаблон ILIKE для поиска подстроки.
func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

// prefixPattern строит шаблон LIKE для поиска по префиксу.
func prefixPattern(s string) string {
	return likeEscaper.Replace(s) + "%"
}
