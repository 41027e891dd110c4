package types

import "time"

// Status is the lifecycle status of a mutable entity
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// BaseModel is the base model for all entities that track their own audit
// timestamps. Stores set CreatedAt on insert and bump UpdatedAt on mutation.
type BaseModel struct {
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// GetDefaultBaseModel returns a BaseModel stamped with the current time
func GetDefaultBaseModel() BaseModel {
	now := time.Now().UTC()
	return BaseModel{
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Metadata is a string key value store for entity annotations
type Metadata map[string]string

// Merge overlays other on top of m and returns the result. m is not mutated.
func (m Metadata) Merge(other Metadata) Metadata {
	merged := make(Metadata, len(m)+len(other))
	for k, v := range m {
		merged[k] = v
	}
	for k, v := range other {
		merged[k] = v
	}
	return merged
}
