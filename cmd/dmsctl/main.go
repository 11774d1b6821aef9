// dmsctl — операторская утилита DMS: миграции схемы и служебные операции
// с пользователями (первичный администратор, диагностика паролей).
// Читает те же переменные DMS_DB_* (и .env), что и сервер.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/bigkaa/dms/internal/config"
	"github.com/bigkaa/dms/internal/database"
)

// app — состояние, общее для подкоманд. Конфигурация читается лениво,
// после проверки аргументов и флагов команды.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ошибка:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "dmsctl",
		Short:         "Операторская утилита DMS",
		Long:          "dmsctl применяет миграции схемы DMS и управляет учётными записями usuarios_dms без HTTP API.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newMigrateCmd(a), newUsersCmd(a))
	return root
}

// load читает DMS_DB_* и настраивает логирование.
func (a *app) load() error {
	if a.cfg != nil {
		return nil
	}
	cfg, err := config.LoadDatabase()
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = config.SetupLogger(cfg)
	return nil
}

// connect открывает пул PostgreSQL; закрывает вызывающий.
func (a *app) connect(ctx context.Context) (*pgxpool.Pool, error) {
	if err := a.load(); err != nil {
		return nil, err
	}
	return database.Connect(ctx, a.cfg, a.logger)
}
