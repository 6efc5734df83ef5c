package domain

type Tier string

const (
	TierHot  Tier = "hot"
	TierWarm Tier = "warm"
	TierCold Tier = "cold"
)

func AllTiers() []Tier {
	return []Tier{TierHot, TierWarm, TierCold}
}

func ValidTier(t string) bool {
	switch Tier(t) {
	case TierHot, TierWarm, TierCold:
		return true
	}
	return false
}

// Importance thresholds for initial write placement.
const (
	HotImportanceThreshold  = 0.7
	WarmImportanceThreshold = 0.3
)

// TierForWrite chooses the initial tier for a record. Working-type and
// session-scoped records always land in hot regardless of importance.
func TierForWrite(r *Record) Tier {
	if r.Type == MemoryTypeWorking || r.HasTag(TagSessionActive) {
		return TierHot
	}
	switch {
	case r.Importance >= HotImportanceThreshold:
		return TierHot
	case r.Importance >= WarmImportanceThreshold:
		return TierWarm
	default:
		return TierCold
	}
}

func TierReason(r *Record) string {
	if r.Type == MemoryTypeWorking {
		return "working type overrides importance"
	}
	if r.HasTag(TagSessionActive) {
		return "session_active tag overrides importance"
	}
	switch TierForWrite(r) {
	case TierHot:
		return "importance >= 0.7"
	case TierWarm:
		return "0.3 <= importance < 0.7"
	default:
		return "importance < 0.3"
	}
}

type DurabilityClass string

const (
	DurabilitySession   DurabilityClass = "session"
	DurabilityEphemeral DurabilityClass = "ephemeral"
	DurabilityDurable   DurabilityClass = "durable"
	DurabilityArchival  DurabilityClass = "archival"
)

// Capabilities are the hints a backend publishes about itself. The core
// treats tiers identically except for these.
type Capabilities struct {
	SupportsVectorSearch bool            `json:"supports_vector_search"`
	TypicalLatencyMS     int             `json:"typical_latency_ms"`
	Durability           DurabilityClass `json:"durability_class"`
}
