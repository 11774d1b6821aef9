// Пакет rbac — матрица Role → Set<Capability> и правила управления пользователями.
// Проверки прав в коде выполняются только через способности (capabilities),
// имена ролей сравниваются лишь при построении матрицы.
package rbac

import (
	"fmt"
	"sort"
	"strings"
)

// Capability — способность, которую проверяет шлюз авторизации.
type Capability string

const (
	CapRegisterDefect Capability = "RegisterDefect"
	CapRepair         Capability = "Repair"
	CapValidateQA     Capability = "ValidateQA"
	CapAdminister     Capability = "Administer"
	CapManageUsers    Capability = "ManageUsers"
	CapPurgeUsers     Capability = "PurgeUsers"
)

// Роли обеих ревизий схемы usuarios_dms.
const (
	RoleInspectorLQC         = "Inspector_LQC"
	RoleInspectorOQC         = "Inspector_OQC"
	RoleInspectorQA          = "Inspector_QA"
	RoleReparador            = "Reparador"
	RoleTecnicoReparacion    = "Tecnico_Reparacion"
	RoleSupervisorCalidad    = "Supervisor_Calidad"
	RoleSupervisorProduccion = "Supervisor_Produccion"
	RoleAdminCalidad         = "Admin_Calidad"
	RoleAdminReparacion      = "Admin_Reparacion"
	RoleAdmin                = "Admin"
)

// AreaAdministracion — область, не ограничивающая менеджера своей областью.
const AreaAdministracion = "Administracion"

var allCapabilities = []Capability{
	CapRegisterDefect, CapRepair, CapValidateQA, CapAdminister, CapManageUsers, CapPurgeUsers,
}

// defaultMatrix — матрица по умолчанию.
var defaultMatrix = map[string][]Capability{
	RoleInspectorLQC:         {CapRegisterDefect},
	RoleInspectorOQC:         {CapRegisterDefect},
	RoleReparador:            {CapRegisterDefect, CapRepair},
	RoleTecnicoReparacion:    {CapRegisterDefect, CapRepair},
	RoleInspectorQA:          {CapRegisterDefect, CapValidateQA},
	RoleSupervisorCalidad:    {CapRegisterDefect, CapValidateQA, CapManageUsers},
	RoleAdminCalidad:         {CapRegisterDefect, CapValidateQA, CapManageUsers},
	RoleSupervisorProduccion: {CapRegisterDefect, CapRepair, CapManageUsers},
	RoleAdminReparacion:      {CapRegisterDefect, CapRepair, CapManageUsers},
	RoleAdmin:                allCapabilities,
}

// defaultManageable — какие роли может создавать/менять менеджер.
var defaultManageable = map[string][]string{
	RoleSupervisorCalidad:    {RoleInspectorLQC, RoleInspectorOQC, RoleInspectorQA},
	RoleAdminCalidad:         {RoleInspectorLQC, RoleInspectorOQC, RoleInspectorQA},
	RoleSupervisorProduccion: {RoleReparador, RoleTecnicoReparacion},
	RoleAdminReparacion:      {RoleReparador, RoleTecnicoReparacion},
}

// Matrix — неизменяемое отображение Role → Set<Capability>.
// Строится один раз при старте и разделяется между запросами.
type Matrix struct {
	caps       map[string]map[Capability]bool
	manageable map[string]map[string]bool
}

// DefaultMatrix возвращает матрицу по умолчанию.
func DefaultMatrix() *Matrix {
	m := &Matrix{
		caps:       make(map[string]map[Capability]bool, len(defaultMatrix)),
		manageable: make(map[string]map[string]bool, len(defaultManageable)),
	}
	for role, caps := range defaultMatrix {
		m.caps[role] = capSet(caps)
	}
	for role, roles := range defaultManageable {
		m.manageable[role] = toSet(roles)
	}
	return m
}

// ParseMatrix строит матрицу из строки вида "Role=Cap|Cap;Role=Cap".
// Пустая строка — матрица по умолчанию. Роли из строки заменяют
// соответствующие строки матрицы по умолчанию, остальные сохраняются.
func ParseMatrix(spec string) (*Matrix, error) {
	m := DefaultMatrix()
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return m, nil
	}

	for _, entry := range strings.Split(spec, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		role, capsStr, ok := strings.Cut(entry, "=")
		role = strings.TrimSpace(role)
		if !ok || role == "" {
			return nil, fmt.Errorf("некорректная запись матрицы ролей: %q (ожидается Role=Cap|Cap)", entry)
		}
		set := make(map[Capability]bool)
		for _, c := range strings.Split(capsStr, "|") {
			c = strings.TrimSpace(c)
			if c == "" {
				continue
			}
			capability := Capability(c)
			if !IsValidCapability(capability) {
				return nil, fmt.Errorf("роль %s: неизвестная способность %q", role, c)
			}
			set[capability] = true
		}
		m.caps[role] = set
	}
	return m, nil
}

// Allows — предикат шлюза: есть ли у роли хотя бы одна из требуемых способностей.
// Administer включает все способности, кроме PurgeUsers: безвозвратное
// удаление выдаётся только явно.
func (m *Matrix) Allows(role string, required ...Capability) bool {
	set, ok := m.caps[role]
	if !ok {
		return false
	}
	for _, c := range required {
		if set[c] || (set[CapAdminister] && c != CapPurgeUsers) {
			return true
		}
	}
	return false
}

// Capabilities возвращает отсортированный список способностей роли.
func (m *Matrix) Capabilities(role string) []Capability {
	set := m.caps[role]
	result := make([]Capability, 0, len(set))
	for c := range set {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// IsKnownRole проверяет, что роль присутствует в матрице.
func (m *Matrix) IsKnownRole(role string) bool {
	_, ok := m.caps[role]
	return ok
}

// Roles возвращает все роли матрицы по алфавиту.
func (m *Matrix) Roles() []string {
	roles := make([]string, 0, len(m.caps))
	for r := range m.caps {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	return roles
}

// ManageableRoles возвращает роли, которыми может управлять менеджер.
// Для Administer — все роли матрицы.
func (m *Matrix) ManageableRoles(managerRole string) []string {
	if m.caps[managerRole][CapAdminister] {
		return m.Roles()
	}
	set := m.manageable[managerRole]
	roles := make([]string, 0, len(set))
	for r := range set {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	return roles
}

// CanManage проверяет, может ли менеджер управлять пользователем с ролью targetRole.
func (m *Matrix) CanManage(managerRole, targetRole string) bool {
	if m.caps[managerRole][CapAdminister] {
		return m.IsKnownRole(targetRole)
	}
	return m.manageable[managerRole][targetRole]
}

// AreaScope возвращает область, которой ограничен менеджер.
// Пустая строка — ограничения нет (Administer или область Administracion).
func (m *Matrix) AreaScope(managerRole, managerArea string) string {
	if m.caps[managerRole][CapAdminister] {
		return ""
	}
	if managerArea == AreaAdministracion {
		return ""
	}
	return managerArea
}

// IsValidCapability проверяет, является ли строка известной способностью.
func IsValidCapability(c Capability) bool {
	for _, known := range allCapabilities {
		if c == known {
			return true
		}
	}
	return false
}

func capSet(caps []Capability) map[Capability]bool {
	s := make(map[Capability]bool, len(caps))
	for _, c := range caps {
		s[c] = true
	}
	return s
}

// toSet конвертирует срез строк в map для быстрого поиска.
func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, item := range items {
		s[item] = true
	}
	return s
}
