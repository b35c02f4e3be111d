package model

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
)

type EntityType string

const (
	EntityTypeUser     EntityType = "user"
	EntityTypeLocation EntityType = "location"
	EntityTypeObject   EntityType = "object"
)

// Validate checks if the entity type is valid
func (t EntityType) Validate() error {
	switch t {
	case EntityTypeUser, EntityTypeLocation, EntityTypeObject:
		return nil
	default:
		return goerr.New("invalid entity type", goerr.V("type", t))
	}
}

// ProfileKey identifies a profile. A robot holds at most one profile per
// (entity_type, entity_id) pair.
type ProfileKey struct {
	RobotID    string
	EntityType EntityType
	EntityID   string
}

// Validate checks required fields of a profile key
func (k ProfileKey) Validate() error {
	if k.RobotID == "" {
		return goerr.New("robot_id is empty")
	}
	if k.EntityID == "" {
		return goerr.New("entity_id is empty")
	}
	return k.EntityType.Validate()
}

// Fact is a confidence-weighted statement about an entity
type Fact struct {
	Subject    string  `json:"subject"`
	Predicate  string  `json:"predicate"`
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence"`
}

// Validate checks if the fact is well-formed
func (f *Fact) Validate() error {
	if f.Subject == "" {
		return goerr.New("fact subject is empty")
	}
	if f.Predicate == "" {
		return goerr.New("fact predicate is empty")
	}
	if f.Object == "" {
		return goerr.New("fact object is empty")
	}
	if f.Confidence < 0 || f.Confidence > 1 {
		return goerr.New("fact confidence out of range", goerr.V("confidence", f.Confidence))
	}
	return nil
}

// Profile is durable knowledge about one entity, rebuilt by consolidation.
// Only the Profile Consolidator mutates a profile.
type Profile struct {
	RobotID     string
	EntityType  EntityType
	EntityID    string
	Summary     string
	Facts       []Fact
	LastUpdated time.Time
	CreatedAt   time.Time
}

// Key returns the unique key of the profile
func (p *Profile) Key() ProfileKey {
	return ProfileKey{RobotID: p.RobotID, EntityType: p.EntityType, EntityID: p.EntityID}
}

// MergeFacts folds newly extracted facts into an existing fact set with
// last-confident-write-wins semantics. A new fact supersedes an existing one
// with the same (subject, predicate) only when its confidence is greater than
// or equal to the existing confidence; a lower-confidence extraction never
// overrides. Facts for unseen (subject, predicate) pairs are appended in
// extraction order. No fact is ever removed.
func MergeFacts(existing, extracted []Fact) []Fact {
	merged := make([]Fact, len(existing))
	copy(merged, existing)

	for _, fact := range extracted {
		idx := -1
		for i, cur := range merged {
			if cur.Subject == fact.Subject && cur.Predicate == fact.Predicate {
				idx = i
				break
			}
		}
		if idx < 0 {
			merged = append(merged, fact)
			continue
		}
		// Equal confidence: the most recent extraction wins
		if fact.Confidence >= merged[idx].Confidence {
			merged[idx] = fact
		}
	}

	return merged
}
