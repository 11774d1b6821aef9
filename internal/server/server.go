// Пакет server — HTTP-сервер DMS с graceful shutdown.
// Без TLS — TLS termination на reverse proxy.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bigkaa/dms/internal/api/handlers"
	"github.com/bigkaa/dms/internal/api/middleware"
	"github.com/bigkaa/dms/internal/config"
	"github.com/bigkaa/dms/internal/domain/rbac"
)

// publicPaths — маршруты без JWT. Элемент с завершающим "/" — префикс.
var publicPaths = []string{"/health/", "/metrics", "/api/auth/login", "/api/openapi.json"}

// Server — HTTP-сервер DMS.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
// jwtAuth — JWT middleware (может быть nil для тестирования без auth).
func New(
	cfg *config.Config,
	logger *slog.Logger,
	handler *handlers.APIHandler,
	openapi http.Handler,
	jwtAuth *middleware.JWTAuth,
	matrix *rbac.Matrix,
) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(logger, handler, openapi, jwtAuth, matrix),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter строит таблицу маршрутов.
// Доступ: публичные маршруты, любой аутентифицированный пользователь,
// и маршруты, требующие возможности роли (RequireCapability).
func NewRouter(
	logger *slog.Logger,
	h *handlers.APIHandler,
	openapi http.Handler,
	jwtAuth *middleware.JWTAuth,
	matrix *rbac.Matrix,
) http.Handler {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))
	router.Use(chimw.Recoverer)
	router.Use(chimw.RealIP)

	if jwtAuth != nil {
		router.Use(jwtAuthWithExclusions(jwtAuth, publicPaths...))
	}

	can := func(caps ...rbac.Capability) func(http.Handler) http.Handler {
		return middleware.RequireCapability(matrix, caps...)
	}

	// Публичные (вместе с /api/openapi.json и /api/auth/login)
	router.Get("/health/live", h.HealthLive)
	router.Get("/health/ready", h.HealthReady)
	router.Get("/metrics", h.GetMetrics)

	router.Route("/api", func(r chi.Router) {
		r.Method(http.MethodGet, "/openapi.json", openapi)
		r.Post("/auth/login", h.Login)

		r.Get("/auth/verify", h.Verify)
		r.Get("/auth/profile", h.Profile)
		r.Post("/auth/change-password", h.ChangePassword)

		r.Get("/catalogos", h.Catalogs)

		r.Route("/defects", func(r chi.Router) {
			r.Get("/", h.ListDefects)
			r.Get("/{id}", h.GetDefect)
			r.With(can(rbac.CapRegisterDefect)).Post("/", h.CreateDefect)
			r.With(can(rbac.CapRepair)).Put("/{id}/status", h.UpdateDefectStatus)
		})

		r.Get("/modelo", h.GetModelo)
		r.With(can(rbac.CapRegisterDefect)).Post("/modelo", h.SaveModelo)

		r.Route("/repairs", func(r chi.Router) {
			r.Get("/pendientes", h.ListPendingRepairs)
			r.Get("/en-proceso", h.ListRepairsInProgress)
			r.Get("/defecto/{defect_id}", h.RepairHistory)
			r.Get("/estadisticas/tecnicos", h.TechnicianStats)

			r.Group(func(r chi.Router) {
				r.Use(can(rbac.CapRepair))
				r.Post("/iniciar", h.StartRepair)
				r.Put("/{id}/progreso", h.UpdateRepairProgress)
				r.Post("/{id}/finalizar", h.FinishRepair)
			})
		})

		r.Route("/qa", func(r chi.Router) {
			r.Get("/pendientes", h.ListPendingQA)
			r.Get("/historial", h.QAHistory)
			r.Get("/estadisticas", h.InspectorStats)

			r.Group(func(r chi.Router) {
				r.Use(can(rbac.CapValidateQA))
				r.Post("/{repair_id}/aprobar", h.ApproveRepair)
				r.Post("/{repair_id}/rechazar", h.RejectRepair)
			})
		})

		// mode=purge дополнительно проверяется сервисом (PurgeUsers)
		r.Route("/usuarios", func(r chi.Router) {
			r.Use(can(rbac.CapManageUsers))
			r.Get("/", h.ListUsers)
			r.Post("/", h.CreateUser)
			r.Get("/roles/list", h.ListRoles)
			r.Get("/areas/list", h.ListAreas)
			r.Get("/{id}", h.GetUser)
			r.Put("/{id}", h.UpdateUser)
			r.Delete("/{id}", h.DeleteUser)
			r.Put("/{id}/password", h.SetUserPassword)
		})
	})

	return router
}

// jwtAuthWithExclusions оборачивает JWTAuth.Middleware(), пропуская указанные пути.
// Путь с завершающим "/" исключается как префикс, остальные — точным совпадением.
func jwtAuthWithExclusions(jwtAuth *middleware.JWTAuth, exclude ...string) func(http.Handler) http.Handler {
	jwtMiddleware := jwtAuth.Middleware()

	return func(next http.Handler) http.Handler {
		protected := jwtMiddleware(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, p := range exclude {
				if r.URL.Path == p || (strings.HasSuffix(p, "/") && strings.HasPrefix(r.URL.Path, p)) {
					next.ServeHTTP(w, r)
					return
				}
			}

			protected.ServeHTTP(w, r)
		})
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
