package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"door-monitor/internal/model"
)

// Timestamp accepts RFC 3339 as well as zone-less ISO-8601, which the
// backend emits for naive UTC datetimes.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", raw)
}

var now = time.Now

type statusRecord struct {
	State     string    `json:"state"`
	Temp      float64   `json:"temp"`
	Battery   float64   `json:"battery"`
	Timestamp Timestamp `json:"timestamp"`
}

func (r statusRecord) entry() (model.HistoryEntry, error) {
	state, ok := model.ParseDoorState(r.State)
	if !ok {
		return model.HistoryEntry{}, fmt.Errorf("invalid door state %q", r.State)
	}
	ts := r.Timestamp.Time
	if ts.IsZero() {
		ts = now().UTC()
	}
	return model.HistoryEntry{
		DoorState:      state,
		TemperatureC:   r.Temp,
		BatteryPercent: r.Battery,
		Timestamp:      ts,
	}, nil
}

type userRecord struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	CreatedAt Timestamp `json:"created_at"`
	Created   Timestamp `json:"created"`
}

func (r userRecord) user() model.ManagedUser {
	role, _ := model.ParseRole(r.Role)
	created := r.CreatedAt.Time
	if created.IsZero() {
		created = r.Created.Time
	}
	return model.ManagedUser{ID: r.ID, Username: r.Username, Role: role, CreatedAt: created}
}
