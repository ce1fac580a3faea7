package model

import (
	"strings"
	"time"
)

type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// ParseRole maps a backend or token role string onto the closed role set.
// "auditor" is the middle tier under another name. Unknown values yield the
// least-privileged role and false.
func ParseRole(raw string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "viewer":
		return RoleViewer, true
	case "operator", "auditor":
		return RoleOperator, true
	case "admin":
		return RoleAdmin, true
	}
	return RoleViewer, false
}

func (r Role) Rank() int {
	switch r {
	case RoleAdmin:
		return 2
	case RoleOperator:
		return 1
	}
	return 0
}

type Tab string

const (
	TabDashboard Tab = "dashboard"
	TabLogs      Tab = "logs"
	TabUsers     Tab = "users"
	TabTickets   Tab = "tickets"
)

type DoorState string

const (
	DoorOpen   DoorState = "open"
	DoorClosed DoorState = "closed"
)

func ParseDoorState(raw string) (DoorState, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "open":
		return DoorOpen, true
	case "closed":
		return DoorClosed, true
	}
	return "", false
}

type Session struct {
	Token        string
	RefreshToken string
	Role         Role
	// RoleLabel is the role string as supplied, kept for display ("auditor" vs "operator").
	RoleLabel string
	Username  string
	IsDemo    bool
}

type TelemetrySnapshot struct {
	DoorState      DoorState `json:"doorState"`
	TemperatureC   float64   `json:"temperatureC"`
	BatteryPercent float64   `json:"batteryPercent"`
	Timestamp      time.Time `json:"timestamp"`
	IsStale        bool      `json:"isStale"`
}

type HistoryEntry struct {
	DoorState      DoorState `json:"doorState"`
	TemperatureC   float64   `json:"temperatureC"`
	BatteryPercent float64   `json:"batteryPercent"`
	Timestamp      time.Time `json:"timestamp"`
}

func (h HistoryEntry) Snapshot(stale bool) TelemetrySnapshot {
	return TelemetrySnapshot{
		DoorState:      h.DoorState,
		TemperatureC:   h.TemperatureC,
		BatteryPercent: h.BatteryPercent,
		Timestamp:      h.Timestamp,
		IsStale:        stale,
	}
}

type ManagedUser struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

func (u ManagedUser) Deletable() bool { return u.Role != RoleAdmin }

type NewUser struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
}

type ViewModel struct {
	LoggedIn     bool               `json:"loggedIn"`
	Role         Role               `json:"role,omitempty"`
	IsDemo       bool               `json:"isDemo"`
	Title        string             `json:"title,omitempty"`
	Tabs         []Tab              `json:"tabs"`
	ActiveTab    Tab                `json:"activeTab"`
	Snapshot     *TelemetrySnapshot `json:"snapshot,omitempty"`
	History      []HistoryEntry     `json:"history"`
	HistoryStale bool               `json:"historyStale"`
	Users        []ManagedUser      `json:"users"`
	Error        string             `json:"error,omitempty"`
}
