package types

import (
	"strings"
	"time"
)

// TimestampLayout formats a run's capture instant with millisecond precision.
// It avoids ':' so descriptions are also valid AMI names.
const TimestampLayout = "20060102-150405.000"

// Snapshot is a point-in-time image of an instance
type Snapshot struct {
	ID          string    `json:"id"`
	InstanceID  string    `json:"instance_id"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description"`
	Status      string    `json:"status,omitempty"`
	SizeBytes   int64     `json:"size_bytes,omitempty"`
}

// SnapshotLess orders snapshots by creation time, ties broken by ID.
// Providers do not guarantee a stable listing order, so every eviction
// decision goes through this function.
func SnapshotLess(a, b Snapshot) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// FormatTimestamp renders t in UTC using TimestampLayout
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// SnapshotDescription builds "{tag}-{plan}-{region}_{timestamp}"
func SnapshotDescription(inst Instance, runTime time.Time) string {
	return inst.NamePrefix() + "_" + FormatTimestamp(runTime)
}

// BelongsTo reports whether the snapshot description was produced for inst
func (s Snapshot) BelongsTo(inst Instance) bool {
	return strings.HasPrefix(s.Description, inst.NamePrefix()+"_")
}
