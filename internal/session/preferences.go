package session

import "time"

// Preferences is a partial update. A nil field is absent from the update
// and leaves the stored value untouched.
type Preferences struct {
	Pressure    *string   `json:"pressure,omitempty"`
	Speed       *string   `json:"speed,omitempty"`
	Depth       *string   `json:"depth,omitempty"`
	FocusZones  *[]string `json:"focus_zones,omitempty"`
	IgnoreZones *[]string `json:"ignore_zones,omitempty"`
}

// Empty reports whether the update carries no fields.
func (p Preferences) Empty() bool {
	return p.Pressure == nil && p.Speed == nil && p.Depth == nil &&
		p.FocusZones == nil && p.IgnoreZones == nil
}

// Apply overwrites the fields of s that are present in p and stamps
// UpdatedAt with the next strictly increasing timestamp.
func (p Preferences) Apply(s *Session, now time.Time) {
	if p.Pressure != nil {
		s.Pressure = *p.Pressure
	}
	if p.Speed != nil {
		s.Speed = *p.Speed
	}
	if p.Depth != nil {
		s.Depth = *p.Depth
	}
	if p.FocusZones != nil {
		s.FocusZones = zonesOrEmpty(*p.FocusZones)
	}
	if p.IgnoreZones != nil {
		s.IgnoreZones = zonesOrEmpty(*p.IgnoreZones)
	}
	s.UpdatedAt = NextUpdateTime(s.UpdatedAt, now)
}

// Fields returns the present fields keyed by their wire names.
func (p Preferences) Fields() map[string]any {
	f := make(map[string]any, 5)
	if p.Pressure != nil {
		f["pressure"] = *p.Pressure
	}
	if p.Speed != nil {
		f["speed"] = *p.Speed
	}
	if p.Depth != nil {
		f["depth"] = *p.Depth
	}
	if p.FocusZones != nil {
		f["focus_zones"] = zonesOrEmpty(*p.FocusZones)
	}
	if p.IgnoreZones != nil {
		f["ignore_zones"] = zonesOrEmpty(*p.IgnoreZones)
	}
	return f
}

func zonesOrEmpty(z []string) []string {
	if z == nil {
		return []string{}
	}
	return cloneZones(z)
}
