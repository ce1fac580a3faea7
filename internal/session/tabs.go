package session

import "door-monitor/internal/model"

var permittedTabs = map[model.Role][]model.Tab{
	model.RoleViewer:   {model.TabDashboard},
	model.RoleOperator: {model.TabDashboard, model.TabLogs},
	model.RoleAdmin:    {model.TabDashboard, model.TabLogs, model.TabUsers, model.TabTickets},
}

// PermittedTabs returns the ordered tab set for role. Unknown roles get the
// viewer set.
func PermittedTabs(role model.Role) []model.Tab {
	tabs, ok := permittedTabs[role]
	if !ok {
		tabs = permittedTabs[model.RoleViewer]
	}
	return append([]model.Tab(nil), tabs...)
}

func TabPermitted(role model.Role, tab model.Tab) bool {
	for _, t := range PermittedTabs(role) {
		if t == tab {
			return true
		}
	}
	return false
}

// EffectiveTab forces tabs the role may not see back to the dashboard.
func EffectiveTab(role model.Role, requested model.Tab) model.Tab {
	if TabPermitted(role, requested) {
		return requested
	}
	return model.TabDashboard
}

func dashboardTitle(role model.Role, label string) string {
	switch role {
	case model.RoleAdmin:
		return "Admin Dashboard"
	case model.RoleOperator:
		if label == "auditor" {
			return "Auditor Dashboard"
		}
		return "Operator Dashboard"
	}
	return "Viewer Dashboard"
}
