package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type MemoryType string

const (
	MemoryTypeEpisodic        MemoryType = "episodic"
	MemoryTypeSemantic        MemoryType = "semantic"
	MemoryTypeProcedural      MemoryType = "procedural"
	MemoryTypeEmotional       MemoryType = "emotional"
	MemoryTypeWorking         MemoryType = "working"
	MemoryTypeSystem          MemoryType = "system"
	MemoryTypeRefinementTrace MemoryType = "refinement_trace"
	MemoryTypeExpertConsensus MemoryType = "expert_consensus"
)

func ValidMemoryType(t string) bool {
	switch MemoryType(t) {
	case MemoryTypeEpisodic, MemoryTypeSemantic, MemoryTypeProcedural,
		MemoryTypeEmotional, MemoryTypeWorking, MemoryTypeSystem,
		MemoryTypeRefinementTrace, MemoryTypeExpertConsensus:
		return true
	}
	return false
}

type MemoryState string

const (
	StateActive   MemoryState = "active"
	StateWeak     MemoryState = "weak"
	StateArchived MemoryState = "archived"
	StateDeleted  MemoryState = "deleted"
)

// Strength thresholds for the state ladder.
const (
	ActiveThreshold   = 0.30
	WeakThreshold     = 0.15
	ArchivedThreshold = 0.05
)

// StateForStrength maps a strength value onto the state ladder.
func StateForStrength(strength float64) MemoryState {
	switch {
	case strength >= ActiveThreshold:
		return StateActive
	case strength >= WeakThreshold:
		return StateWeak
	case strength >= ArchivedThreshold:
		return StateArchived
	default:
		return StateDeleted
	}
}

// Tags that make a record immune to deletion.
const (
	TagProtected       = "protected"
	TagExplicitlySaved = "explicitly_saved"
	TagNeverForget     = "never_forget"
	TagSystem          = "system"
	TagSessionActive   = "session_active"
	TagPersonal        = "personal"
	TagOrdering        = "ordering"
)

// ConversationTagPrefix marks tags that carry a conversation id,
// e.g. "conversation:9f2c".
const ConversationTagPrefix = "conversation:"

// MaxContentBytes caps record content at 64 KiB.
const MaxContentBytes = 64 * 1024

// Salience holds the caller-supplied sub-scores, each in [0,10].
type Salience struct {
	Emotional  float64 `json:"emotional"`
	Novelty    float64 `json:"novelty"`
	Actionable float64 `json:"actionable"`
	Personal   float64 `json:"personal"`
}

// PrivacyMarkers are the derived detection flags, each in [0,1].
type PrivacyMarkers struct {
	PIIScore       float64 `json:"pii_score"`
	FinancialScore float64 `json:"financial_score"`
}

// ReviewState is present iff the record is scheduled for spaced repetition.
type ReviewState struct {
	IntervalDays   float64   `json:"interval_days"`
	EasinessFactor float64   `json:"easiness_factor"`
	NextReviewAt   time.Time `json:"next_review_at"`
	ReviewCount    int       `json:"review_count"`
}

// Record is the unit of memory. Identity is immutable; scores are not.
type Record struct {
	ID           string         `json:"id"`
	Content      string         `json:"content"`
	Type         MemoryType     `json:"type"`
	Embedding    []float32      `json:"-"`
	Importance   float64        `json:"importance"`
	Strength     float64        `json:"strength"`
	AccessCount  int            `json:"access_count"`
	CreatedAt    time.Time      `json:"created_at"`
	LastAccessed time.Time      `json:"last_accessed"`
	LastDecayed  time.Time      `json:"last_decayed"`
	Tags         []string       `json:"tags,omitempty"`
	Tier         Tier           `json:"tier"`
	Review       *ReviewState   `json:"review_state,omitempty"`
	Privacy      PrivacyMarkers `json:"privacy_markers"`
	State        MemoryState    `json:"state"`
	Links        []string       `json:"links,omitempty"`
	Salience     *Salience      `json:"salience,omitempty"`
	// DeletedAt marks a tombstone; set when the record expires, cleared never.
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// NewID returns an id of the form mem_<epoch_ms>_<8_hex>, unique forever
// across tiers.
func NewID(now time.Time) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("mem_%d_%s", now.UnixMilli(), hex[:8])
}

func (r *Record) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ConversationTag returns the conversation id tag, if any.
func (r *Record) ConversationTag() (string, bool) {
	for _, t := range r.Tags {
		if strings.HasPrefix(t, ConversationTagPrefix) {
			return t, true
		}
	}
	return "", false
}

// AddTag appends the tag preserving set semantics.
func (r *Record) AddTag(tag string) {
	if !r.HasTag(tag) {
		r.Tags = append(r.Tags, tag)
	}
}

// AddLink appends the id preserving set semantics.
func (r *Record) AddLink(id string) {
	for _, l := range r.Links {
		if l == id {
			return
		}
	}
	r.Links = append(r.Links, id)
}

// NeverForget reports whether any protection predicate blocks deletion.
func (r *Record) NeverForget() bool {
	if r.Type == MemoryTypeSystem {
		return true
	}
	if r.HasTag(TagProtected) || r.HasTag(TagExplicitlySaved) ||
		r.HasTag(TagNeverForget) || r.HasTag(TagSystem) {
		return true
	}
	if r.Importance > 0.8 {
		return true
	}
	return r.AccessCount > 50
}

// Tombstoned reports whether the record has been expired but not yet purged.
func (r *Record) Tombstoned() bool {
	return r.DeletedAt != nil
}

// AgeDays is the age of the record relative to now.
func (r *Record) AgeDays(now time.Time) float64 {
	return now.Sub(r.CreatedAt).Hours() / 24
}

// Clone returns a deep copy, so in-process backends never alias caller state.
func (r *Record) Clone() *Record {
	c := *r
	if r.Embedding != nil {
		c.Embedding = append([]float32(nil), r.Embedding...)
	}
	if r.Tags != nil {
		c.Tags = append([]string(nil), r.Tags...)
	}
	if r.Links != nil {
		c.Links = append([]string(nil), r.Links...)
	}
	if r.Review != nil {
		rv := *r.Review
		c.Review = &rv
	}
	if r.Salience != nil {
		s := *r.Salience
		c.Salience = &s
	}
	if r.DeletedAt != nil {
		d := *r.DeletedAt
		c.DeletedAt = &d
	}
	return &c
}
