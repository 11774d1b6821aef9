// metrics.go — Prometheus-метрики бизнес-операций DMS.
package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/dms/internal/domain/lifecycle"
)

var (
	// transitionsTotal — выполненные переходы жизненного цикла.
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dms_lifecycle_transitions_total",
		Help: "Количество выполненных переходов жизненного цикла дефектов.",
	}, []string{"event", "from", "to"})

	// transitionsRejectedTotal — переходы, отклонённые проверкой состояния.
	transitionsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dms_lifecycle_transitions_rejected_total",
		Help: "Количество переходов, отклонённых из-за недопустимого статуса.",
	}, []string{"event"})

	// defectsRegisteredTotal — зарегистрированные дефекты по этапу обнаружения.
	defectsRegisteredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dms_defects_registered_total",
		Help: "Количество зарегистрированных дефектов.",
	}, []string{"etapa_deteccion", "tipo_inspeccion"})

	// loginAttemptsTotal — попытки входа по результату.
	loginAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dms_login_attempts_total",
		Help: "Количество попыток входа (success, invalid, throttled).",
	}, []string{"result"})
)

func observeTransition(ev lifecycle.Event, from, to lifecycle.Status) {
	transitionsTotal.WithLabelValues(string(ev), string(from), string(to)).Inc()
}

func observeRejectedTransition(ev lifecycle.Event) {
	transitionsRejectedTotal.WithLabelValues(string(ev)).Inc()
}
