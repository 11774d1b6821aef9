// Пакет lifecycle — граф состояний дефекта и справочники инспекции.
//
// Жизненный цикл:
//
//	Pendiente_Reparacion → En_Reparacion → Reparado → Aprobado (конечное)
//	                                           └─────→ Rechazado → Pendiente_Reparacion
//
// Пакет не хранит состояние: текущий статус живёт в defect_data,
// здесь только правила допустимых переходов.
package lifecycle

import (
	"errors"
	"fmt"
	"strings"
)

// Status — статус дефекта.
type Status string

const (
	// StatusPending — дефект зарегистрирован, ожидает ремонта.
	StatusPending Status = "Pendiente_Reparacion"
	// StatusInRepair — техник работает над дефектом.
	StatusInRepair Status = "En_Reparacion"
	// StatusRepaired — ремонт завершён, ожидает проверки QA.
	StatusRepaired Status = "Reparado"
	// StatusApproved — QA подтвердил ремонт.
	StatusApproved Status = "Aprobado"
	// StatusRejected — QA отклонил ремонт, дефект возвращается в ремонт.
	StatusRejected Status = "Rechazado"
)

// Event — операция, переводящая дефект между статусами.
type Event string

const (
	EventStartRepair  Event = "start_repair"
	EventFinishRepair Event = "finish_repair"
	EventApprove      Event = "approve"
	EventReject       Event = "reject"
	EventRequeue      Event = "requeue"
)

// Коды ошибок перехода.
const (
	CodeInvalidState  = "INVALID_STATE"
	CodeInvalidStatus = "INVALID_STATUS"
)

// ErrInvalidState — базовая ошибка недопустимого состояния.
// TransitionError сопоставляется с ней через errors.Is.
var ErrInvalidState = errors.New("недопустимое состояние для операции")

// edge — ребро графа: событие и целевой статус.
type edge struct {
	event Event
	to    Status
}

// validTransitions — матрица допустимых переходов.
// Ключ — текущий статус, значение — события и их целевые статусы.
var validTransitions = map[Status][]edge{
	StatusPending:  {{EventStartRepair, StatusInRepair}},
	StatusInRepair: {{EventFinishRepair, StatusRepaired}},
	StatusRepaired: {{EventApprove, StatusApproved}, {EventReject, StatusRejected}},
	StatusRejected: {{EventRequeue, StatusPending}},
	StatusApproved: {},
}

// manualEvents — события, которые можно выполнить прямой сменой статуса
// (PUT /defects/{id}/status). Остальные рёбра принадлежат операциям ремонта и QA.
var manualEvents = map[Event]bool{
	EventRequeue: true,
}

// AllStatuses возвращает все статусы в порядке жизненного цикла.
func AllStatuses() []Status {
	return []Status{StatusPending, StatusInRepair, StatusRepaired, StatusApproved, StatusRejected}
}

// IsValid проверяет, что статус входит в фиксированный набор.
func (s Status) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// IsTerminal — из статуса нет исходящих переходов.
func (s Status) IsTerminal() bool {
	return s.IsValid() && len(validTransitions[s]) == 0
}

// ParseStatus преобразует строку в Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.IsValid() {
		return "", &TransitionError{
			Code:    CodeInvalidStatus,
			Message: fmt.Sprintf("estado inválido: %q, permitidos: %s", s, joinStatuses()),
		}
	}
	return st, nil
}

// Next возвращает целевой статус для события из текущего статуса.
// Если событие недопустимо — TransitionError с текущим статусом.
func Next(current Status, ev Event) (Status, error) {
	for _, e := range validTransitions[current] {
		if e.event == ev {
			return e.to, nil
		}
	}
	return "", &TransitionError{
		Code:    CodeInvalidState,
		Message: invalidStateMessage(current, ev),
		Current: current,
	}
}

// Require проверяет, что дефект находится в ожидаемом статусе.
func Require(current, expected Status) error {
	if current != expected {
		return &TransitionError{
			Code:    CodeInvalidState,
			Message: fmt.Sprintf("el defecto no está en estado %s", expected),
			Current: current,
		}
	}
	return nil
}

// ManualTransition проверяет ручную смену статуса from → to.
// Разрешены только рёбра, не принадлежащие операциям ремонта/QA.
func ManualTransition(from, to Status) (Event, error) {
	if !to.IsValid() {
		return "", &TransitionError{
			Code:    CodeInvalidStatus,
			Message: fmt.Sprintf("estado inválido: %q", to),
			Current: from,
		}
	}
	for _, e := range validTransitions[from] {
		if e.to == to && manualEvents[e.event] {
			return e.event, nil
		}
	}
	return "", &TransitionError{
		Code:    CodeInvalidState,
		Message: fmt.Sprintf("transición %s → %s no permitida", from, to),
		Current: from,
	}
}

// TransitionError — ошибка перехода между статусами.
type TransitionError struct {
	Code    string // INVALID_STATE, INVALID_STATUS
	Message string
	Current Status // текущий статус дефекта (пустой, если неизвестен)
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is сопоставляет INVALID_STATE с ErrInvalidState.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidState && e.Code == CodeInvalidState
}

func invalidStateMessage(current Status, ev Event) string {
	switch ev {
	case EventStartRepair:
		return "el defecto no está pendiente de reparación"
	case EventFinishRepair:
		return "el defecto no está en reparación"
	case EventApprove, EventReject:
		return "el defecto no está en estado Reparado"
	default:
		return fmt.Sprintf("operación %s no permitida desde %s", ev, current)
	}
}

func joinStatuses() string {
	all := AllStatuses()
	parts := make([]string, len(all))
	for i, s := range all {
		parts[i] = string(s)
	}
	return strings.Join(parts, ", ")
}
