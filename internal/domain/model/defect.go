// Пакет model — доменные модели DMS (Defect Management System).
package model

import (
	"time"

	"github.com/bigkaa/dms/internal/domain/lifecycle"
)

// Defect — зарегистрированное несоответствие качества.
// Хранится в таблице defect_data, физически не удаляется.
type Defect struct {
	// ID — идентификатор вида DEF_<ms>_<suffix>
	ID string `json:"id"`
	// Fecha — момент обнаружения дефекта
	Fecha time.Time `json:"fecha"`
	// Linea — производственная линия (M1..M4, DP1..DP3, Harness)
	Linea string `json:"linea"`
	// Codigo — код изделия (серийный/штрихкод)
	Codigo string `json:"codigo"`
	// Defecto — описание дефекта
	Defecto string `json:"defecto"`
	// Ubicacion — позиция на изделии или станция
	Ubicacion string `json:"ubicacion"`
	Area      string `json:"area"`
	// Modelo — модель изделия, может быть пустой
	Modelo         string `json:"modelo"`
	TipoInspeccion string `json:"tipo_inspeccion"`
	EtapaDeteccion string `json:"etapa_deteccion"`
	// Status — текущий статус жизненного цикла
	Status lifecycle.Status `json:"status"`
	// RegistradoPor — username инспектора
	RegistradoPor string `json:"registrado_por"`
	// RegistradoPorNombre — полное имя инспектора (если пользователь найден)
	RegistradoPorNombre string `json:"registrado_por_nombre,omitempty"`
	// FechaEnvioReparacion — момент последней передачи в ремонт
	FechaEnvioReparacion *time.Time `json:"fecha_envio_reparacion"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Типы инспекции.
const (
	TipoICT     = "ICT"
	TipoFCT     = "FCT"
	TipoPacking = "Packing"
	TipoVisual  = "Visual"
)

// Этапы обнаружения.
const (
	EtapaLQC = "LQC"
	EtapaOQC = "OQC"
)

// TiposInspeccion — допустимые типы инспекции.
var TiposInspeccion = []string{TipoICT, TipoFCT, TipoPacking, TipoVisual}

// EtapasDeteccion — допустимые этапы обнаружения.
var EtapasDeteccion = []string{EtapaLQC, EtapaOQC}

// Areas — производственные области.
var Areas = []string{"SMD", "IMD", "Ensamble", "Mantenimiento", "Micom", "Administracion"}

// Lineas — производственные линии.
var Lineas = []string{"M1", "M2", "M3", "M4", "DP1", "DP2", "DP3", "Harness"}

// IsValidTipoInspeccion проверяет тип инспекции.
func IsValidTipoInspeccion(s string) bool {
	return contains(TiposInspeccion, s)
}

// IsValidEtapaDeteccion проверяет этап обнаружения.
func IsValidEtapaDeteccion(s string) bool {
	return contains(EtapasDeteccion, s)
}

// IsValidArea проверяет производственную область.
func IsValidArea(s string) bool {
	return contains(Areas, s)
}

// ModeloPrefixLen — длина префикса кода, по которому определяется модель.
const ModeloPrefixLen = 9

// ModeloPrefix возвращает префикс кода для поиска модели.
// Длина считается в символах, как LEFT(codigo, 9) в SQL.
// Для кодов короче ModeloPrefixLen символов — пустая строка.
func ModeloPrefix(codigo string) string {
	r := []rune(codigo)
	if len(r) < ModeloPrefixLen {
		return ""
	}
	return string(r[:ModeloPrefixLen])
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
