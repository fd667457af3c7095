package vultr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/yairfalse/snapkeep/providers"
	"github.com/yairfalse/snapkeep/types"
)

// ProviderName is the registry key
const ProviderName = "vultr"

func init() {
	providers.RegisterProvider(ProviderName, func(ctx context.Context, config providers.ProviderConfig) (providers.InventoryClient, error) {
		return NewProvider(config)
	})
}

// Provider implements providers.InventoryClient over the Vultr API
type Provider struct {
	client *client
	region string
}

// NewProvider creates a Vultr client. The API key is required.
func NewProvider(config providers.ProviderConfig) (*Provider, error) {
	if err := providers.Require(config, ProviderName); err != nil {
		return nil, err
	}

	c, err := newClient(config.BaseURL, config.APIKey, config.RequestTimeout, config.RequestsPerSecond)
	if err != nil {
		return nil, types.NewConfigError("base_url", "%v", err)
	}
	return &Provider{client: c, region: config.Region}, nil
}

// Name returns the provider name
func (p *Provider) Name() string { return ProviderName }

// Region returns the configured region; Vultr accounts are global
func (p *Provider) Region() string { return p.region }

// ListInstances returns every instance on the account
func (p *Provider) ListInstances(ctx context.Context) ([]types.Instance, error) {
	var instances []types.Instance
	err := p.client.list(ctx, "/instances", func(body []byte) (string, error) {
		var page instancesPage
		if err := json.Unmarshal(body, &page); err != nil {
			return "", err
		}
		for _, inst := range page.Instances {
			instances = append(instances, inst.toInstance())
		}
		return page.Meta.Links.Next, nil
	})
	if err != nil {
		return nil, types.NewTransportError("list instances", "", err)
	}
	return instances, nil
}

// GetInstance returns one instance, NotFound on 404
func (p *Provider) GetInstance(ctx context.Context, id string) (*types.Instance, error) {
	resp, err := p.client.do(ctx, http.MethodGet, "/instances/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return nil, types.NewTransportError("get instance", id, err)
	}

	switch resp.status {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, types.NewNotFoundError("get instance", id)
	default:
		return nil, types.NewTransportError("get instance", id, fmt.Errorf("%s", resp.detail()))
	}

	var envelope instanceEnvelope
	if err := json.Unmarshal(resp.body, &envelope); err != nil {
		return nil, types.NewTransportError("get instance", id, fmt.Errorf("failed to decode response: %w", err))
	}
	inst := envelope.Instance.toInstance()
	return &inst, nil
}

// ListSnapshots returns the snapshots of one instance. The API has no
// instance filter, so ownership is the description prefix written at
// creation time. An instance whose prefix is shared with another instance
// fails with a ConfigError instead of claiming the other's snapshots.
func (p *Provider) ListSnapshots(ctx context.Context, instanceID string) ([]types.Snapshot, error) {
	inst, err := p.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if err := p.checkOwnership(ctx, *inst); err != nil {
		return nil, err
	}
	prefix := inst.NamePrefix() + "_"

	var snapshots []types.Snapshot
	err = p.client.list(ctx, "/snapshots", func(body []byte) (string, error) {
		var page snapshotsPage
		if err := json.Unmarshal(body, &page); err != nil {
			return "", err
		}
		for _, s := range page.Snapshots {
			if strings.HasPrefix(s.Description, prefix) {
				snapshots = append(snapshots, s.toSnapshot(instanceID))
			}
		}
		return page.Meta.Links.Next, nil
	})
	if err != nil {
		return nil, types.NewTransportError("list snapshots", instanceID, err)
	}
	return snapshots, nil
}

// checkOwnership fails when another instance on the account maps to the
// same description prefix
func (p *Provider) checkOwnership(ctx context.Context, inst types.Instance) error {
	instances, err := p.ListInstances(ctx)
	if err != nil {
		return err
	}

	prefix := inst.NamePrefix()
	var shared []string
	for _, other := range instances {
		if other.ID != inst.ID && other.NamePrefix() == prefix {
			shared = append(shared, other.ID)
		}
	}
	if len(shared) == 0 {
		return nil
	}
	sort.Strings(shared)
	return types.NewConfigError("instance "+inst.ID,
		"ambiguous snapshot ownership: prefix %q is shared with %s; give the instances distinct tags",
		prefix, strings.Join(shared, ", "))
}

// CreateSnapshot requests a new snapshot of the instance
func (p *Provider) CreateSnapshot(ctx context.Context, instanceID, description string) (*types.Snapshot, error) {
	body := createSnapshotRequest{InstanceID: instanceID, Description: description}
	resp, err := p.client.do(ctx, http.MethodPost, "/snapshots", nil, body)
	if err != nil {
		return nil, types.NewCreateFailedError(instanceID, "request failed", types.NewTransportError("create snapshot", instanceID, err))
	}
	if resp.status != http.StatusCreated && resp.status != http.StatusOK && resp.status != http.StatusAccepted {
		return nil, types.NewCreateFailedError(instanceID, resp.detail(), nil)
	}

	var envelope snapshotEnvelope
	if err := json.Unmarshal(resp.body, &envelope); err != nil || envelope.Snapshot.ID == "" {
		return nil, types.NewCreateFailedError(instanceID, "response carried no snapshot", err)
	}
	snap := envelope.Snapshot.toSnapshot(instanceID)
	if snap.Description == "" {
		snap.Description = description
	}
	return &snap, nil
}

// DeleteSnapshot removes a snapshot. Anything but 204 is a failure,
// including 404.
func (p *Provider) DeleteSnapshot(ctx context.Context, snapshotID string) error {
	resp, err := p.client.do(ctx, http.MethodDelete, "/snapshots/"+url.PathEscape(snapshotID), nil, nil)
	if err != nil {
		return types.NewDeleteFailedError(snapshotID, "request failed", types.NewTransportError("delete snapshot", snapshotID, err))
	}

	switch resp.status {
	case http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return types.NewDeleteFailedError(snapshotID, resp.detail(), types.ErrNotFound)
	default:
		return types.NewDeleteFailedError(snapshotID, resp.detail(), nil)
	}
}

var _ providers.InventoryClient = (*Provider)(nil)
