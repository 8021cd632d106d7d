package materialise

import "strings"

// Zone classifies where a generated block is rendered.
type Zone string

const (
	ZoneForge     Zone = "FORGE"
	ZoneFoundry   Zone = "FOUNDRY"
	ZoneEngine    Zone = "ENGINE"
	ZoneBazaar    Zone = "BAZAAR"
	ZoneLogic     Zone = "LOGIC"
	ZoneUniversal Zone = "UNIVERSAL"
)

// DefaultZone is what nodes without a zone are generated for.
const DefaultZone = "default"

// Zones lists every classification in declaration order.
var Zones = []Zone{ZoneForge, ZoneFoundry, ZoneEngine, ZoneBazaar, ZoneLogic, ZoneUniversal}

// ClassifyZone maps a free-form zone string onto Zone, case-insensitively.
// "default", empty and unrecognised values fall back to FORGE.
func ClassifyZone(raw string) Zone {
	candidate := Zone(strings.ToUpper(strings.TrimSpace(raw)))
	for _, z := range Zones {
		if z == candidate {
			return z
		}
	}
	return ZoneForge
}
