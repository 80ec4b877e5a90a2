package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cuemby/fleetcore/pkg/types"
)

// httpDialect isolates the handful of things that differ between Vultr and
// Hetzner's REST APIs: base URL, auth header, endpoint paths, and the
// server-type/plan lookup. HTTPAdapter implements the request plumbing and
// error classification once for both.
type httpDialect struct {
	providerName   types.Provider
	baseURL        string
	authHeader     func(apiKey string) (name, value string)
	instancesPath  string
	volumesPath    string
	planFor        func(Plan) string
	instanceShapes map[string]instanceShape
}

type instanceShape struct {
	vcpu     int
	memoryMB int64
}

// HTTPAdapter implements Provider over a JSON REST API shaped like Vultr's or
// Hetzner's: bearer-token auth, a flat instance and volume resource model
// (/instances and /blocks for Vultr, /servers and /volumes for Hetzner).
// The ~20s instance-creation latency these APIs exhibit is the caller's
// concern: CreateInstance returns only once the API responds, and a Fleet
// Reconciler tick waits for every create it issues.
type HTTPAdapter struct {
	client  *http.Client
	apiKey  string
	dialect httpDialect
	region  *regionTable
}

func NewVultrAdapter(apiKey string, client *http.Client) *HTTPAdapter {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPAdapter{
		client: client,
		apiKey: apiKey,
		region: vultrRegions,
		dialect: httpDialect{
			providerName: types.ProviderVultr,
			baseURL:      "https://api.vultr.com/v2",
			authHeader: func(key string) (string, string) {
				return "Authorization", "Bearer " + key
			},
			instancesPath: "/instances",
			volumesPath:   "/blocks",
			planFor:       vultrPlanFor,
		},
	}
}

func NewHetznerAdapter(apiKey string, client *http.Client) *HTTPAdapter {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPAdapter{
		client: client,
		apiKey: apiKey,
		region: hetznerRegions,
		dialect: httpDialect{
			providerName: types.ProviderHetzner,
			baseURL:      "https://api.hetzner.cloud/v1",
			authHeader: func(key string) (string, string) {
				return "Authorization", "Bearer " + key
			},
			instancesPath: "/servers",
			volumesPath:   "/volumes",
			planFor:       hetznerPlanFor,
			instanceShapes: map[string]instanceShape{
				"cx11":  {vcpu: 1, memoryMB: 2048},
				"cpx11": {vcpu: 2, memoryMB: 2048},
				"cx22":  {vcpu: 2, memoryMB: 4096},
				"cpx22": {vcpu: 3, memoryMB: 4096},
				"cx32":  {vcpu: 4, memoryMB: 8192},
				"cpx32": {vcpu: 4, memoryMB: 8192},
				"cx42":  {vcpu: 8, memoryMB: 16384},
				"cpx42": {vcpu: 8, memoryMB: 16384},
			},
		},
	}
}

func (a *HTTPAdapter) Name() types.Provider { return a.dialect.providerName }

type httpInstance struct {
	ID        string    `json:"id"`
	Plan      string    `json:"plan"`
	Region    string    `json:"region"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type httpInstanceListResponse struct {
	Instances []httpInstance `json:"instances"`
}

func (a *HTTPAdapter) ListInstances(ctx context.Context) ([]types.Instance, error) {
	var resp httpInstanceListResponse
	if err := a.do(ctx, http.MethodGet, a.dialect.instancesPath, nil, &resp); err != nil {
		return nil, err
	}

	out := make([]types.Instance, 0, len(resp.Instances))
	for _, inst := range resp.Instances {
		converted, err := a.toInstance(inst)
		if err != nil {
			return nil, err
		}
		out = append(out, converted)
	}
	return out, nil
}

type createInstanceRequest struct {
	Region string `json:"region"`
	Plan   string `json:"plan"`
	Image  string `json:"image"`
}

func (a *HTTPAdapter) CreateInstance(ctx context.Context, region string, plan Plan) (types.Instance, error) {
	native, err := a.region.Native(region)
	if err != nil {
		return types.Instance{}, err
	}

	req := createInstanceRequest{
		Region: native,
		Plan:   a.dialect.planFor(plan),
		Image:  plan.Image,
	}

	var resp httpInstance
	if err := a.do(ctx, http.MethodPost, a.dialect.instancesPath, req, &resp); err != nil {
		return types.Instance{}, err
	}

	return a.toInstance(resp)
}

func (a *HTTPAdapter) DestroyInstance(ctx context.Context, id string) error {
	path := fmt.Sprintf("%s/%s", a.dialect.instancesPath, id)
	return a.do(ctx, http.MethodDelete, path, nil, nil)
}

type httpVolume struct {
	ID         string    `json:"id"`
	SizeGB     int       `json:"size_gb"`
	Region     string    `json:"region"`
	AttachedTo *string   `json:"attached_to_instance"`
	CreatedAt  time.Time `json:"created_at"`
}

type httpVolumeListResponse struct {
	Volumes []httpVolume `json:"volumes"`
}

func (a *HTTPAdapter) ListVolumes(ctx context.Context) ([]types.Volume, error) {
	var resp httpVolumeListResponse
	if err := a.do(ctx, http.MethodGet, a.dialect.volumesPath, nil, &resp); err != nil {
		return nil, err
	}

	out := make([]types.Volume, 0, len(resp.Volumes))
	for _, vol := range resp.Volumes {
		out = append(out, types.Volume{
			ID:         vol.ID,
			Provider:   a.dialect.providerName,
			SizeGB:     vol.SizeGB,
			Tier:       types.VolumeTierStandard,
			Type:       "block",
			AttachedTo: vol.AttachedTo,
			CreatedAt:  vol.CreatedAt,
		})
	}
	return out, nil
}

type createVolumeRequest struct {
	Region string `json:"region"`
	SizeGB int    `json:"size_gb"`
}

func (a *HTTPAdapter) CreateVolume(ctx context.Context, region string, sizeGB int, tier types.VolumeTier) (types.Volume, error) {
	native, err := a.region.Native(region)
	if err != nil {
		return types.Volume{}, err
	}

	var resp httpVolume
	if err := a.do(ctx, http.MethodPost, a.dialect.volumesPath, createVolumeRequest{Region: native, SizeGB: sizeGB}, &resp); err != nil {
		return types.Volume{}, err
	}

	return types.Volume{
		ID:        resp.ID,
		Provider:  a.dialect.providerName,
		SizeGB:    resp.SizeGB,
		Tier:      tier,
		Type:      "block",
		CreatedAt: resp.CreatedAt,
	}, nil
}

func (a *HTTPAdapter) DestroyVolume(ctx context.Context, id string) error {
	path := fmt.Sprintf("%s/%s", a.dialect.volumesPath, id)
	return a.do(ctx, http.MethodDelete, path, nil, nil)
}

type attachVolumeRequest struct {
	InstanceID string `json:"instance_id"`
}

func (a *HTTPAdapter) AttachVolume(ctx context.Context, volumeID, instanceID string, opts VolumeAttachOptions) error {
	path := fmt.Sprintf("%s/%s/attach", a.dialect.volumesPath, volumeID)
	return a.do(ctx, http.MethodPost, path, attachVolumeRequest{InstanceID: instanceID}, nil)
}

func (a *HTTPAdapter) DetachVolume(ctx context.Context, volumeID string, opts VolumeDetachOptions) error {
	path := fmt.Sprintf("%s/%s/detach", a.dialect.volumesPath, volumeID)
	return a.do(ctx, http.MethodPost, path, nil, nil)
}

type resizeVolumeRequest struct {
	SizeGB int `json:"size_gb"`
}

func (a *HTTPAdapter) ResizeVolume(ctx context.Context, volumeID string, newSizeGB int, newTier *types.VolumeTier) error {
	path := fmt.Sprintf("%s/%s/resize", a.dialect.volumesPath, volumeID)
	return a.do(ctx, http.MethodPost, path, resizeVolumeRequest{SizeGB: newSizeGB}, nil)
}

func (a *HTTPAdapter) toInstance(inst httpInstance) (types.Instance, error) {
	canonical, err := a.region.Canonical(inst.Region)
	if err != nil {
		return types.Instance{}, err
	}

	shape := a.dialect.instanceShapes[inst.Plan]

	return types.Instance{
		ID:        inst.ID,
		Provider:  a.dialect.providerName,
		Region:    canonical,
		VCPU:      shape.vcpu,
		MemoryMB:  shape.memoryMB,
		State:     stateFor(inst.Status),
		CreatedAt: inst.CreatedAt,
	}, nil
}

func stateFor(status string) types.InstanceState {
	switch status {
	case "pending", "installing", "provisioning":
		return types.InstanceStatePending
	case "active", "running":
		return types.InstanceStateRunning
	case "stopping", "stopped":
		return types.InstanceStateTerminating
	default:
		return types.InstanceStateGone
	}
}

func vultrPlanFor(plan Plan) string {
	switch {
	case plan.VCPU <= 1 && plan.MemoryMB <= 1024:
		return "vc2-1c-1gb"
	case plan.VCPU <= 2 && plan.MemoryMB <= 4096:
		return "vc2-2c-4gb"
	default:
		return "vc2-4c-8gb"
	}
}

func hetznerPlanFor(plan Plan) string {
	switch {
	case plan.VCPU <= 1 && plan.MemoryMB <= 2048:
		return "cx11"
	case plan.VCPU <= 2 && plan.MemoryMB <= 4096:
		return "cx22"
	case plan.VCPU <= 4 && plan.MemoryMB <= 8192:
		return "cx32"
	default:
		return "cx42"
	}
}

// do issues one HTTP request against the dialect's base URL and decodes the
// JSON response into out (skipped when out is nil). Non-2xx responses are
// classified per status code: 429 is rate-limited, 5xx is transient,
// everything else is permanent.
func (a *HTTPAdapter) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return &PermanentProviderError{Provider: string(a.dialect.providerName), Op: path, Err: err}
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.dialect.baseURL+path, reqBody)
	if err != nil {
		return &PermanentProviderError{Provider: string(a.dialect.providerName), Op: path, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	name, value := a.dialect.authHeader(a.apiKey)
	req.Header.Set(name, value)

	resp, err := a.client.Do(req)
	if err != nil {
		return &TransientProviderError{Provider: string(a.dialect.providerName), Op: path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitedError{Provider: string(a.dialect.providerName), Op: path}
	}
	if resp.StatusCode >= 500 {
		return &TransientProviderError{Provider: string(a.dialect.providerName), Op: path, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return &PermanentProviderError{Provider: string(a.dialect.providerName), Op: path, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransientProviderError{Provider: string(a.dialect.providerName), Op: path, Err: err}
	}
	return nil
}
