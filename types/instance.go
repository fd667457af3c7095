package types

import "fmt"

// Instance is a managed compute instance whose snapshots are rotated.
// It is re-fetched from the provider on every run and never cached.
type Instance struct {
	ID     string `json:"id"`
	Label  string `json:"label,omitempty"`
	Tag    string `json:"tag,omitempty"`
	Plan   string `json:"plan"`
	Region string `json:"region"`
}

// NamePrefix returns the "{tag}-{plan}-{region}" prefix shared by every
// snapshot description of this instance. An empty tag falls back to the
// label, then to the instance ID.
func (i Instance) NamePrefix() string {
	name := i.Tag
	if name == "" {
		name = i.Label
	}
	if name == "" {
		name = i.ID
	}
	return fmt.Sprintf("%s-%s-%s", name, i.Plan, i.Region)
}

// DisplayName returns a human readable name for logs and reports
func (i Instance) DisplayName() string {
	if i.Label != "" {
		return i.Label
	}
	if i.Tag != "" {
		return i.Tag
	}
	return i.ID
}
