package model

import (
	"testing"
	"unicode/utf8"
)

func TestModeloPrefix(t *testing.T) {
	tests := []struct {
		codigo string
		want   string
	}{
		{"ABC123456", "ABC123456"},
		{"ABC1234567890", "ABC123456"},
		{"ABC12345", ""},
		{"", ""},
		{"ÁBCDÉFGHIJK123", "ÁBCDÉFGHI"},
		{"ABCDEFGHÁ12", "ABCDEFGHÁ"},
		{"ÁÉÍÓÚÑÜ", ""},
	}
	for _, tt := range tests {
		got := ModeloPrefix(tt.codigo)
		if got != tt.want {
			t.Errorf("ModeloPrefix(%q) = %q, хотели %q", tt.codigo, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("ModeloPrefix(%q) = %q: невалидный UTF-8", tt.codigo, got)
		}
	}
}

func TestEnums(t *testing.T) {
	for _, v := range []string{"ICT", "FCT", "Packing", "Visual"} {
		if !IsValidTipoInspeccion(v) {
			t.Errorf("%q должен быть допустимым типом инспекции", v)
		}
	}
	for _, v := range []string{"ict", "AOI", ""} {
		if IsValidTipoInspeccion(v) {
			t.Errorf("%q не должен быть допустимым типом инспекции", v)
		}
	}
	if !IsValidEtapaDeteccion("LQC") || !IsValidEtapaDeteccion("OQC") {
		t.Error("LQC и OQC должны быть допустимыми этапами")
	}
	if IsValidEtapaDeteccion("IQC") {
		t.Error("IQC не должен быть допустимым этапом")
	}
}

func TestParseDeleteMode(t *testing.T) {
	tests := []struct {
		in     string
		want   DeleteMode
		wantOK bool
	}{
		{"", DeleteDeactivate, true},
		{"deactivate", DeleteDeactivate, true},
		{"purge", DeletePurge, true},
		{"hard", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseDeleteMode(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseDeleteMode(%q) = %q, %v; хотели %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestRepairPatchIsEmpty(t *testing.T) {
	if !(RepairPatch{}).IsEmpty() {
		t.Error("пустой патч должен быть пустым")
	}
	s := ""
	if (RepairPatch{Observaciones: &s}).IsEmpty() {
		t.Error("патч с пустой строкой не пустой: поле передано")
	}
}
