package camera

import (
	"sort"
	"strings"

	"github.com/nylondiamond/wristhub/pkg/hub"
)

// Cameras frequently expose several entities per physical device (main and
// sub streams, snapshot channels). The watch wants one row per device with
// the entities classified by role, so it can pick the SD stream for live
// view and the HD one for snapshots.

// suffixRules maps entity-id suffixes to stream roles, checked longest
// first. The list merges the naming conventions of common camera platforms
// (reolink, unifiprotect, tapo) with generic fallbacks.
var suffixRules = []struct {
	suffix string
	role   string
}{
	{"_autotrack_snapshots_fluent", "sd_snapshot"},
	{"_autotrack_snapshots_clear", "hd_snapshot"},
	{"_autotrack_snapshots_sub", "sd_snapshot"},
	{"_autotrack_snapshots_main", "hd_snapshot"},
	{"_low_resolution_channel", "sd_stream"},
	{"_medium_resolution_channel", "sd_stream"},
	{"_high_resolution_channel", "hd_stream"},
	{"_autotrack_fluent", "sd_stream"},
	{"_autotrack_clear", "hd_stream"},
	{"_autotrack_sub", "sd_stream"},
	{"_autotrack_main", "hd_stream"},
	{"_snapshots_fluent", "sd_snapshot"},
	{"_snapshots_clear", "hd_snapshot"},
	{"_snapshots_sub", "sd_snapshot"},
	{"_snapshots_main", "hd_snapshot"},
	{"_fluent", "sd_stream"},
	{"_clear", "hd_stream"},
	{"_main", "hd_stream"},
	{"_sub", "sd_stream"},
	{"_high", "hd_stream"},
	{"_low", "sd_stream"},
	{"_ext", "sd_stream"},
	{"_hd", "hd_stream"},
	{"_sd", "sd_stream"},
}

// Device is one grouped physical camera.
type Device struct {
	Name         string            `json:"name"`
	Entities     map[string]string `json:"entities"`
	AllEntityIDs []string          `json:"all_entity_ids"`
}

// classifyRole returns the stream role for an entity id, or "" when no
// suffix matches, together with the base id with the suffix stripped.
func classifyRole(entityID string) (role, base string) {
	obj := strings.TrimPrefix(entityID, "camera.")
	for _, rule := range suffixRules {
		if strings.HasSuffix(obj, rule.suffix) && len(obj) > len(rule.suffix) {
			return rule.role, strings.TrimSuffix(obj, rule.suffix)
		}
	}
	return "", obj
}

// GroupDevices builds the grouped camera list from current states. Entities
// sharing a base id (after stripping a recognized role suffix) are one
// device; entities with no recognized suffix stand alone as an SD stream.
func GroupDevices(store hub.StateStore) []Device {
	type group struct {
		name     string
		roles    map[string]string
		entities []string
	}
	groups := make(map[string]*group)

	for _, st := range store.All("camera") {
		role, base := classifyRole(st.EntityID)
		g, ok := groups[base]
		if !ok {
			g = &group{roles: make(map[string]string)}
			groups[base] = g
		}
		g.entities = append(g.entities, st.EntityID)
		if role != "" {
			// First match wins per role.
			if _, taken := g.roles[role]; !taken {
				g.roles[role] = st.EntityID
			}
		}
		if name, ok := st.Attributes["friendly_name"].(string); ok && name != "" {
			// Prefer the suffix-less entity's friendly name for the device.
			if g.name == "" || role == "" {
				g.name = name
			}
		}
	}

	devices := make([]Device, 0, len(groups))
	for base, g := range groups {
		if len(g.roles) == 0 {
			g.roles["sd_stream"] = g.entities[0]
		}
		name := g.name
		if name == "" {
			name = titleCase(base)
		}
		sort.Strings(g.entities)
		devices = append(devices, Device{
			Name:         name,
			Entities:     g.roles,
			AllEntityIDs: g.entities,
		})
	}

	sort.Slice(devices, func(i, j int) bool {
		return strings.ToLower(devices[i].Name) < strings.ToLower(devices[j].Name)
	})
	return devices
}

// titleCase turns "front_door" into "Front Door" for devices with no
// friendly name.
func titleCase(objID string) string {
	words := strings.Split(objID, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
