package delta

import "strings"

// slimAttrs is the per-domain attribute whitelist applied in slim mode.
// Domains without an entry pass their attributes through unmodified.
var slimAttrs = map[string][]string{
	"light": {
		"friendly_name", "brightness", "color_mode", "supported_color_modes",
		"rgb_color", "hs_color", "color_temp_kelvin", "effect", "effect_list",
		"supported_features",
	},
	"climate": {
		"friendly_name", "hvac_modes", "hvac_action", "current_temperature",
		"temperature", "target_temp_high", "target_temp_low", "fan_mode",
		"fan_modes", "preset_mode", "preset_modes", "current_humidity",
		"humidity", "min_temp", "max_temp", "min_humidity", "max_humidity",
		"supported_features",
	},
	"sensor": {
		"friendly_name", "device_class", "unit_of_measurement", "state_class",
	},
	"binary_sensor": {
		"friendly_name", "device_class",
	},
	"media_player": {
		"friendly_name", "media_title", "media_artist", "media_position",
		"media_position_updated_at", "media_duration", "volume_level",
		"source", "source_list", "supported_features",
	},
	"cover": {
		"friendly_name", "current_position", "current_tilt_position",
		"device_class", "supported_features",
	},
	"person": {
		"friendly_name", "entity_picture",
	},
	"switch": {
		"friendly_name", "device_class",
	},
}

func entityDomain(entityID string) string {
	if i := strings.IndexByte(entityID, '.'); i >= 0 {
		return entityID[:i]
	}
	return entityID
}

// slimPayload returns a copy of a delta payload with the new_state attribute
// map filtered to the domain whitelist. The shared ingest-time payload is
// never mutated. Payloads for unlisted domains are returned as-is.
func slimPayload(payload map[string]any) map[string]any {
	entityID, _ := payload["entity_id"].(string)
	allowed, ok := slimAttrs[entityDomain(entityID)]
	if !ok {
		return payload
	}
	newState, ok := payload["new_state"].(map[string]any)
	if !ok {
		return payload
	}
	attrs, ok := newState["attributes"].(map[string]any)
	if !ok {
		return payload
	}

	filtered := make(map[string]any, len(allowed))
	for _, key := range allowed {
		if v, present := attrs[key]; present {
			filtered[key] = v
		}
	}

	stateCopy := make(map[string]any, len(newState))
	for k, v := range newState {
		stateCopy[k] = v
	}
	stateCopy["attributes"] = filtered

	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	out["new_state"] = stateCopy
	return out
}

// slimPayloads applies slimPayload to a batch.
func slimPayloads(payloads []map[string]any) []map[string]any {
	out := make([]map[string]any, len(payloads))
	for i, p := range payloads {
		out[i] = slimPayload(p)
	}
	return out
}
