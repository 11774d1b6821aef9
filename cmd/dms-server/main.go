// Точка входа DMS — сервиса учёта дефектов и ремонтов.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// собирает сервисный слой и API handlers, запускает topologymetrics
// и HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/dms/internal/api/handlers"
	"github.com/bigkaa/dms/internal/api/middleware"
	"github.com/bigkaa/dms/internal/api/openapi"
	"github.com/bigkaa/dms/internal/config"
	"github.com/bigkaa/dms/internal/database"
	"github.com/bigkaa/dms/internal/domain/rbac"
	"github.com/bigkaa/dms/internal/repository"
	"github.com/bigkaa/dms/internal/server"
	"github.com/bigkaa/dms/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения (.env — если есть)
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("DMS запускается",
		slog.String("version", config.Version),
		slog.String("env", cfg.Env),
		slog.Int("port", cfg.Port),
	)

	if os.Getenv("DMS_DEPHEALTH_GROUP") == "" {
		logger.Warn("DMS_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Матрица Role → Capabilities
	matrix := rbac.DefaultMatrix()
	if cfg.RoleCapabilities != "" {
		matrix, err = rbac.ParseMatrix(cfg.RoleCapabilities)
		if err != nil {
			logger.Error("Некорректная DMS_ROLE_CAPABILITIES", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("Матрица ролей переопределена", slog.Any("roles", matrix.Roles()))
	}

	// 4. Контракт API — загружается и валидируется до старта
	ctx := context.Background()
	doc, err := openapi.Load(ctx)
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI", slog.String("error", err.Error()))
		os.Exit(1)
	}
	openapiHandler, err := handlers.NewOpenAPIHandler(doc)
	if err != nil {
		logger.Error("Ошибка сериализации OpenAPI", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 5. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 6. Подключение к PostgreSQL (pgxpool)
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 6.1 Адаптер pgxpool → *sql.DB для topologymetrics.
	// Проверка идёт через тот же пул, поэтому видно и его исчерпание.
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 7. Счётчик неудачных входов: Redis, если задан, иначе в памяти процесса
	var (
		limiter      service.LoginLimiter
		redisChecker handlers.ReadinessChecker
	)
	if cfg.RedisURL != "" {
		redisLimiter, err := service.NewRedisLimiter(ctx, cfg.RedisURL, cfg.LoginMaxAttempts, cfg.LoginWindow)
		if err != nil {
			logger.Error("Ошибка подключения к Redis", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer redisLimiter.Close()
		limiter = redisLimiter
		// Redis не критичен: при недоступности вход не блокируется
		redisChecker = handlers.PingChecker{Ping: redisLimiter.Ping, Timeout: 2 * time.Second, FailStatus: "degraded"}
		logger.Info("Лимит попыток входа в Redis")
	} else {
		limiter = service.NewMemoryLimiter(cfg.LoginMaxAttempts, cfg.LoginWindow)
		logger.Info("Лимит попыток входа в памяти процесса (DMS_REDIS_URL не задан)")
	}

	// 8. Токены
	issuer, err := service.NewTokenIssuer(cfg.JWTKeys, cfg.JWTIssuer, cfg.JWTExpiresIn)
	if err != nil {
		logger.Error("Ошибка инициализации ключей JWT", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 9. Repositories
	repos := repository.New(pool)
	txRunner := repository.NewTxRunner(pool)

	// 10. Services
	modeloCache := service.NewModeloCache(cfg.ModeloCacheSize, cfg.ModeloCacheTTL)
	modelosSvc := service.NewModeloService(repos.Modelos, modeloCache, matrix, logger)
	svc := handlers.Services{
		Auth:     service.NewAuthService(repos.Users, issuer, limiter, matrix, logger),
		Workflow: service.NewWorkflowService(txRunner, matrix, modelosSvc, logger),
		Queries:  service.NewQueryService(repos, cfg.QueryLimit, logger),
		Modelos:  modelosSvc,
		Users:    service.NewUserService(txRunner, repos.Users, matrix, logger),
	}

	// 11. Health + API handler
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool), redisChecker)
	apiHandler := handlers.NewAPIHandler(healthHandler, svc, cfg.IsDevelopment(), logger)

	// 12. JWT middleware (ключи те же, что у TokenIssuer)
	jwtAuth := middleware.NewJWTAuth(issuer.Keyfunc(), issuer.Issuer(), cfg.JWTLeeway, logger)
	logger.Info("JWT middleware инициализирован",
		slog.String("issuer", issuer.Issuer()),
		slog.Int("keys", len(cfg.JWTKeys)),
	)

	// 13. topologymetrics — мониторинг PostgreSQL
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"dms",
		cfg.DephealthGroup,
		pgDB,
		cfg.DatabaseURL(),
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 14. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, openapiHandler, jwtAuth, matrix)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 15. Остановка фоновых задач
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("DMS остановлен")
}
