package session

import (
	"encoding/json"
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func TestNewDefaults(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := New("Ana", now)

	if s.ID == "" {
		t.Fatal("expected generated id")
	}
	for name, v := range map[string]string{"pressure": s.Pressure, "speed": s.Speed, "depth": s.Depth} {
		if v != DefaultIntensity {
			t.Errorf("%s = %q, want %q", name, v, DefaultIntensity)
		}
	}
	if s.FocusZones == nil || len(s.FocusZones) != 0 {
		t.Errorf("focus_zones = %v, want empty non-nil", s.FocusZones)
	}
	if s.IgnoreZones == nil || len(s.IgnoreZones) != 0 {
		t.Errorf("ignore_zones = %v, want empty non-nil", s.IgnoreZones)
	}
	if !s.CreatedAt.Equal(now) || !s.UpdatedAt.Equal(now) {
		t.Errorf("timestamps = %v/%v, want %v", s.CreatedAt, s.UpdatedAt, now)
	}

	other := New("Ana", now)
	if other.ID == s.ID {
		t.Error("ids should be unique")
	}
}

func TestNewEncodesEmptyZoneLists(t *testing.T) {
	data, err := json.Marshal(New("Ana", time.Now()))
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if _, ok := raw["focus_zones"].([]any); !ok {
		t.Errorf("focus_zones encoded as %v, want []", raw["focus_zones"])
	}
}

func TestApplyMergesOnlyPresentFields(t *testing.T) {
	base := New("Ana", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	prev := base.UpdatedAt

	Preferences{Pressure: strPtr("high")}.Apply(&base, prev.Add(time.Second))

	if base.Pressure != "high" {
		t.Errorf("pressure = %q, want high", base.Pressure)
	}
	if base.Speed != DefaultIntensity || base.Depth != DefaultIntensity {
		t.Errorf("untouched fields changed: speed=%q depth=%q", base.Speed, base.Depth)
	}
	if !base.UpdatedAt.After(prev) {
		t.Errorf("updated_at %v not after %v", base.UpdatedAt, prev)
	}
}

func TestApplyStrictlyIncreasesWhenClockStalls(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New("Ana", now)

	Preferences{Depth: strPtr("deep")}.Apply(&s, now)
	first := s.UpdatedAt
	if !first.After(now) {
		t.Fatalf("updated_at %v not after %v", first, now)
	}

	Preferences{Depth: strPtr("light")}.Apply(&s, now)
	if !s.UpdatedAt.After(first) {
		t.Errorf("updated_at %v not after %v", s.UpdatedAt, first)
	}
}

func TestApplyZonesCopied(t *testing.T) {
	s := New("Ana", time.Now())
	zones := []string{"neck", "shoulders"}
	Preferences{FocusZones: &zones}.Apply(&s, time.Now())

	zones[0] = "changed"
	if s.FocusZones[0] != "neck" {
		t.Errorf("record aliases caller slice: %v", s.FocusZones)
	}
}

func TestPreferencesDecodeAbsentVsEmpty(t *testing.T) {
	var p Preferences
	if err := json.Unmarshal([]byte(`{"ignore_zones":[],"speed":"slow"}`), &p); err != nil {
		t.Fatal(err)
	}
	if p.Pressure != nil || p.Depth != nil || p.FocusZones != nil {
		t.Errorf("absent fields decoded as present: %+v", p)
	}
	if p.IgnoreZones == nil || len(*p.IgnoreZones) != 0 {
		t.Errorf("ignore_zones = %v, want present empty", p.IgnoreZones)
	}

	f := p.Fields()
	if len(f) != 2 || f["speed"] != "slow" {
		t.Errorf("Fields() = %v", f)
	}
}

func TestPreferencesEmpty(t *testing.T) {
	if !(Preferences{}).Empty() {
		t.Error("zero value should be empty")
	}
	if (Preferences{Speed: strPtr("fast")}).Empty() {
		t.Error("speed set, should not be empty")
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := New("Ana", time.Now())
	s.FocusZones = []string{"back"}
	c := s.Clone()
	c.FocusZones[0] = "feet"
	if s.FocusZones[0] != "back" {
		t.Error("Clone shares zone slice")
	}
}
