package lifecycle

import (
	"errors"
	"testing"
)

// TestParseStatus проверяет разбор статусов.
func TestParseStatus(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"Pendiente_Reparacion", false},
		{"En_Reparacion", false},
		{"Reparado", false},
		{"Aprobado", false},
		{"Rechazado", false},
		{"pendiente_reparacion", true},
		{"", true},
		{"Cerrado", true},
	}

	for _, tt := range tests {
		st, err := ParseStatus(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseStatus(%q): ожидалась ошибка", tt.in)
			}
			var te *TransitionError
			if !errors.As(err, &te) || te.Code != CodeInvalidStatus {
				t.Errorf("ParseStatus(%q): ожидался код INVALID_STATUS, получено %v", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseStatus(%q): неожиданная ошибка: %v", tt.in, err)
			continue
		}
		if string(st) != tt.in {
			t.Errorf("ParseStatus(%q) = %q", tt.in, st)
		}
	}
}

// TestNext_HappyPath проверяет штатный путь до Aprobado.
func TestNext_HappyPath(t *testing.T) {
	steps := []struct {
		from Status
		ev   Event
		want Status
	}{
		{StatusPending, EventStartRepair, StatusInRepair},
		{StatusInRepair, EventFinishRepair, StatusRepaired},
		{StatusRepaired, EventApprove, StatusApproved},
	}

	for _, s := range steps {
		got, err := Next(s.from, s.ev)
		if err != nil {
			t.Fatalf("%s --%s-->: неожиданная ошибка: %v", s.from, s.ev, err)
		}
		if got != s.want {
			t.Errorf("%s --%s--> = %s, хотели %s", s.from, s.ev, got, s.want)
		}
	}
}

// TestNext_RejectLoop проверяет цикл отклонения и возврата в ремонт.
func TestNext_RejectLoop(t *testing.T) {
	got, err := Next(StatusRepaired, EventReject)
	if err != nil || got != StatusRejected {
		t.Fatalf("Reparado --reject--> = %s, %v; хотели Rechazado", got, err)
	}
	got, err = Next(StatusRejected, EventRequeue)
	if err != nil || got != StatusPending {
		t.Fatalf("Rechazado --requeue--> = %s, %v; хотели Pendiente_Reparacion", got, err)
	}
}

// TestNext_Invalid проверяет, что недопустимые события возвращают текущий статус.
func TestNext_Invalid(t *testing.T) {
	tests := []struct {
		from Status
		ev   Event
	}{
		{StatusInRepair, EventStartRepair},
		{StatusPending, EventFinishRepair},
		{StatusInRepair, EventApprove},
		{StatusApproved, EventApprove},
		{StatusApproved, EventReject},
		{StatusRejected, EventStartRepair},
		{StatusPending, EventApprove},
	}

	for _, tt := range tests {
		_, err := Next(tt.from, tt.ev)
		if err == nil {
			t.Errorf("%s --%s-->: ожидалась ошибка", tt.from, tt.ev)
			continue
		}
		if !errors.Is(err, ErrInvalidState) {
			t.Errorf("%s --%s-->: ошибка должна соответствовать ErrInvalidState", tt.from, tt.ev)
		}
		var te *TransitionError
		if !errors.As(err, &te) {
			t.Fatalf("ожидался *TransitionError, получен %T", err)
		}
		if te.Current != tt.from {
			t.Errorf("Current = %s, хотели %s", te.Current, tt.from)
		}
	}
}

// TestManualTransition проверяет ручную смену статуса.
func TestManualTransition(t *testing.T) {
	if ev, err := ManualTransition(StatusRejected, StatusPending); err != nil || ev != EventRequeue {
		t.Errorf("Rechazado → Pendiente_Reparacion: ev=%s err=%v", ev, err)
	}

	// Рёбра, принадлежащие операциям ремонта/QA, вручную недоступны.
	forbidden := [][2]Status{
		{StatusPending, StatusInRepair},
		{StatusInRepair, StatusRepaired},
		{StatusRepaired, StatusApproved},
		{StatusRepaired, StatusRejected},
		{StatusApproved, StatusPending},
		{StatusPending, StatusApproved},
		{StatusPending, StatusPending},
	}
	for _, f := range forbidden {
		_, err := ManualTransition(f[0], f[1])
		if !errors.Is(err, ErrInvalidState) {
			t.Errorf("%s → %s: ожидалась ErrInvalidState, получено %v", f[0], f[1], err)
		}
	}

	_, err := ManualTransition(StatusRejected, Status("Cerrado"))
	var te *TransitionError
	if !errors.As(err, &te) || te.Code != CodeInvalidStatus {
		t.Errorf("ожидался INVALID_STATUS, получено %v", err)
	}
}

// TestRequire проверяет проверку ожидаемого статуса.
func TestRequire(t *testing.T) {
	if err := Require(StatusPending, StatusPending); err != nil {
		t.Errorf("неожиданная ошибка: %v", err)
	}
	err := Require(StatusInRepair, StatusPending)
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("ожидался *TransitionError, получен %v", err)
	}
	if te.Current != StatusInRepair {
		t.Errorf("Current = %s, хотели En_Reparacion", te.Current)
	}
}

// TestTerminal — только Aprobado конечный.
func TestTerminal(t *testing.T) {
	for _, s := range AllStatuses() {
		want := s == StatusApproved
		if s.IsTerminal() != want {
			t.Errorf("%s.IsTerminal() = %v, хотели %v", s, s.IsTerminal(), want)
		}
	}
	if Status("x").IsTerminal() {
		t.Error("невалидный статус не может быть конечным")
	}
}
