package vultr

import (
	"time"

	"github.com/yairfalse/snapkeep/types"
)

type meta struct {
	Total int `json:"total"`
	Links struct {
		Next string `json:"next"`
		Prev string `json:"prev"`
	} `json:"links"`
}

type apiInstance struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Tag    string `json:"tag"`
	Plan   string `json:"plan"`
	Region string `json:"region"`
	Status string `json:"status"`
}

func (i apiInstance) toInstance() types.Instance {
	return types.Instance{
		ID:     i.ID,
		Label:  i.Label,
		Tag:    i.Tag,
		Plan:   i.Plan,
		Region: i.Region,
	}
}

type instancesPage struct {
	Instances []apiInstance `json:"instances"`
	Meta      meta          `json:"meta"`
}

type instanceEnvelope struct {
	Instance apiInstance `json:"instance"`
}

type apiSnapshot struct {
	ID          string `json:"id"`
	DateCreated string `json:"date_created"`
	Description string `json:"description"`
	Size        int64  `json:"size"`
	Status      string `json:"status"`
}

// toSnapshot converts the wire form. An unparseable date sorts first, so a
// malformed entry is evicted before well-formed ones.
func (s apiSnapshot) toSnapshot(instanceID string) types.Snapshot {
	created, err := time.Parse(time.RFC3339, s.DateCreated)
	if err != nil {
		created = time.Time{}
	}
	return types.Snapshot{
		ID:          s.ID,
		InstanceID:  instanceID,
		CreatedAt:   created.UTC(),
		Description: s.Description,
		Status:      s.Status,
		SizeBytes:   s.Size,
	}
}

type snapshotsPage struct {
	Snapshots []apiSnapshot `json:"snapshots"`
	Meta      meta          `json:"meta"`
}

type snapshotEnvelope struct {
	Snapshot apiSnapshot `json:"snapshot"`
}

type createSnapshotRequest struct {
	InstanceID  string `json:"instance_id"`
	Description string `json:"description"`
}
