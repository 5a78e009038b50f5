// Package summary computes on-demand aggregate views over current entity
// state for the watch: counts per domain plus optional per-entity detail.
package summary

import (
	"sort"
	"strconv"

	"github.com/nylondiamond/wristhub/pkg/hub"
)

const (
	// DefaultBatteryThreshold is the low-battery cutoff when the client
	// sends none.
	DefaultBatteryThreshold = 20
	// MinBatteryThreshold and MaxBatteryThreshold bound the client value.
	MinBatteryThreshold = 5
	MaxBatteryThreshold = 95
)

// Options controls one projection.
type Options struct {
	IncludeDetails   bool
	BatteryThreshold int
	// Entities restricts a domain to an explicit entity list. A domain with
	// a filter always gets details.
	Entities map[string][]string
}

// EntityDetail is one row in a domain detail list.
type EntityDetail struct {
	EntityID   string   `json:"entity_id"`
	Name       string   `json:"name"`
	State      string   `json:"state"`
	Brightness *float64 `json:"brightness,omitempty"`
	Unit       string   `json:"unit,omitempty"`
	Level      *float64 `json:"level,omitempty"`
}

// DomainSummary is the aggregate for one domain.
type DomainSummary struct {
	Count   int            `json:"count"`
	Total   int            `json:"total"`
	Details []EntityDetail `json:"details,omitempty"`
}

// Info is the full projection returned to clients.
type Info struct {
	Lights        DomainSummary `json:"lights"`
	Persons       DomainSummary `json:"persons"`
	Sensors       DomainSummary `json:"sensors"`
	BinarySensors DomainSummary `json:"binary_sensors"`
	Battery       DomainSummary `json:"battery"`
}

// Projector computes summaries from a state store.
type Projector struct {
	store hub.StateStore
}

// NewProjector creates a projector over the given store.
func NewProjector(store hub.StateStore) *Projector {
	return &Projector{store: store}
}

// ClampBatteryThreshold bounds a client-supplied threshold, applying the
// default for zero.
func ClampBatteryThreshold(v int) int {
	if v == 0 {
		return DefaultBatteryThreshold
	}
	if v < MinBatteryThreshold {
		return MinBatteryThreshold
	}
	if v > MaxBatteryThreshold {
		return MaxBatteryThreshold
	}
	return v
}

// Project computes the aggregate view.
func (p *Projector) Project(opts Options) *Info {
	threshold := ClampBatteryThreshold(opts.BatteryThreshold)

	return &Info{
		Lights:        p.domainSummary("light", opts, isOn, lightDetail),
		Persons:       p.domainSummary("person", opts, isHome, plainDetail),
		Sensors:       p.domainSummary("sensor", opts, always, sensorDetail),
		BinarySensors: p.domainSummary("binary_sensor", opts, isOn, plainDetail),
		Battery:       p.batterySummary(opts, float64(threshold)),
	}
}

func (p *Projector) domainStates(domain string, opts Options) []*hub.State {
	if filter, ok := opts.Entities[domain]; ok {
		states := make([]*hub.State, 0, len(filter))
		for _, id := range filter {
			if st, found := p.store.Get(id); found {
				states = append(states, st)
			}
		}
		return states
	}
	return p.store.All(domain)
}

func (p *Projector) domainSummary(
	domain string,
	opts Options,
	counts func(*hub.State) bool,
	detail func(*hub.State) EntityDetail,
) DomainSummary {
	states := p.domainStates(domain, opts)
	_, filtered := opts.Entities[domain]
	withDetails := opts.IncludeDetails || filtered

	out := DomainSummary{Total: len(states)}
	for _, st := range states {
		if counts(st) {
			out.Count++
		}
		if withDetails {
			out.Details = append(out.Details, detail(st))
		}
	}
	return out
}

// batterySummary walks battery-class sensors, parsing the state as a level.
// Unparseable states are excluded. Details are sorted ascending by level.
func (p *Projector) batterySummary(opts Options, threshold float64) DomainSummary {
	states := p.domainStates("sensor", opts)
	_, filtered := opts.Entities["sensor"]
	withDetails := opts.IncludeDetails || filtered

	out := DomainSummary{}
	for _, st := range states {
		if cls, _ := st.Attributes["device_class"].(string); cls != "battery" {
			continue
		}
		level, err := strconv.ParseFloat(st.State, 64)
		if err != nil {
			continue
		}
		out.Total++
		if level <= threshold {
			out.Count++
		}
		if withDetails {
			l := level
			out.Details = append(out.Details, EntityDetail{
				EntityID: st.EntityID,
				Name:     st.FriendlyName(),
				State:    st.State,
				Level:    &l,
			})
		}
	}
	sort.Slice(out.Details, func(i, j int) bool {
		return *out.Details[i].Level < *out.Details[j].Level
	})
	return out
}

func always(*hub.State) bool { return true }

func isOn(st *hub.State) bool { return st.State == "on" }

func isHome(st *hub.State) bool { return st.State == "home" }

func plainDetail(st *hub.State) EntityDetail {
	return EntityDetail{
		EntityID: st.EntityID,
		Name:     st.FriendlyName(),
		State:    st.State,
	}
}

func lightDetail(st *hub.State) EntityDetail {
	d := plainDetail(st)
	if b, ok := toFloat(st.Attributes["brightness"]); ok {
		d.Brightness = &b
	}
	return d
}

func sensorDetail(st *hub.State) EntityDetail {
	d := plainDetail(st)
	if unit, ok := st.Attributes["unit_of_measurement"].(string); ok {
		d.Unit = unit
	}
	return d
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
