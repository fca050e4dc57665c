package models

import (
	"time"
)

// TrustSnapshot is a persisted copy of the in-memory sender trust cache so a
// restarted process starts warm. It is never authoritative: a stale snapshot
// is discarded and the cache rebuilt from the vendor directory.
type TrustSnapshot struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	BuiltAt    time.Time `gorm:"not null" json:"built_at"`
	TTLSeconds int       `gorm:"not null" json:"ttl_seconds"`
	Payload    string    `gorm:"type:text" json:"payload"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for TrustSnapshot
func (TrustSnapshot) TableName() string {
	return "trust_snapshots"
}

// Expired reports whether the snapshot is older than its TTL
func (s *TrustSnapshot) Expired() bool {
	return time.Since(s.BuiltAt) > time.Duration(s.TTLSeconds)*time.Second
}
