package model

import "time"

// PickerSnapshot is a resumable file-selection cache keyed by an opaque ULID,
// used by the (external) filesystem browser so users can navigate away and
// back without losing their in-progress selection.
type PickerSnapshot struct {
	Key       string             `json:"key"`
	Files     []string           `json:"files"`
	Config    *ConversionOptions `json:"config,omitempty"`
	ExpiresAt time.Time          `json:"expiresAt"`
}

// Expired reports whether the snapshot has passed its TTL relative to now.
func (p PickerSnapshot) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// PickerSnapshotTTL is the fixed lifetime of a picker snapshot.
const PickerSnapshotTTL = 7 * 24 * time.Hour
