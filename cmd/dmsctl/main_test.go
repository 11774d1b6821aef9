package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestCommandTree(t *testing.T) {
	root := newRootCmd()

	paths := [][]string{
		{"migrate", "up"},
		{"migrate", "down"},
		{"migrate", "version"},
		{"users", "create"},
		{"users", "list"},
		{"users", "deactivate"},
		{"users", "check-password"},
	}
	for _, p := range paths {
		cmd, rest, err := root.Find(p)
		if err != nil || len(rest) != 0 {
			t.Errorf("%v: команда не найдена (%v, остаток %v)", p, err, rest)
			continue
		}
		if cmd.Name() != p[len(p)-1] {
			t.Errorf("%v: найдена %q", p, cmd.Name())
		}
	}
}

func TestUsersCreate_RequiredFlags(t *testing.T) {
	root := newRootCmd()
	// Флаги проверяются до чтения конфигурации БД
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"users", "create", "--username", "ana"})

	err := root.Execute()
	if err == nil {
		t.Fatal("ожидается ошибка об обязательных флагах")
	}
	for _, flag := range []string{"password", "rol", "area"} {
		if !strings.Contains(err.Error(), flag) {
			t.Errorf("ошибка %q не упоминает %s", err, flag)
		}
	}
}

func TestUsersDeactivate_Args(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"users", "deactivate"})
	if err := root.Execute(); err == nil {
		t.Fatal("без username ожидается ошибка")
	}
}
