package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/compute/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/edvin/botplane/internal/model"
)

const gcpDefaultZone = "asia-northeast1-a"

// gcpCompute drives Compute Engine. APIToken holds the service account JSON
// and Extra["project"] the project id. Instance ids are "zone/name".
type gcpCompute struct {
	caller
	svc     *compute.Service
	project string
}

func newGCP(ctx context.Context, cred *model.CloudCredential, o options) (*gcpCompute, error) {
	project := extra(cred, "project")
	if project == "" {
		return nil, errors.New("gcp credential needs a project")
	}
	opts := []option.ClientOption{option.WithHTTPClient(o.httpClient)}
	if o.baseURL != "" {
		opts = append(opts, option.WithEndpoint(o.baseURL+"/"))
	} else {
		// WithHTTPClient skips authentication; it is only paired with an
		// endpoint override.
		opts = []option.ClientOption{option.WithCredentialsJSON([]byte(cred.APIToken))}
	}
	svc, err := compute.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create compute client: %w", err)
	}
	return &gcpCompute{caller: newCaller(GCP, o.logger), svc: svc, project: project}, nil
}

func (p *gcpCompute) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		return &Error{Kind: kindForStatus(ge.Code, ge.Message), Provider: GCP, Op: op, Status: ge.Code, Err: err}
	}
	return &Error{Kind: KindTransient, Provider: GCP, Op: op, Err: err}
}

func splitGCPID(id string) (zone, name string, err error) {
	zone, name, ok := strings.Cut(id, "/")
	if !ok || zone == "" || name == "" {
		return "", "", &Error{Kind: KindNotFound, Provider: GCP, Op: "parse_id", Err: fmt.Errorf("malformed instance id %q", id)}
	}
	return zone, name, nil
}

func lastSegment(s string) string {
	if i := strings.LastIndex(s, "/"); i >= 0 {
		return s[i+1:]
	}
	return s
}

func gcpNatIP(in *compute.Instance) string {
	for _, ni := range in.NetworkInterfaces {
		for _, ac := range ni.AccessConfigs {
			if usableIP(ac.NatIP) {
				return ac.NatIP
			}
		}
	}
	return ""
}

func gcpInstance(in *compute.Instance) Instance {
	state := StateUnknown
	switch in.Status {
	case "PROVISIONING", "STAGING":
		state = StatePending
	case "RUNNING":
		state = StateRunning
	case "STOPPING", "STOPPED", "TERMINATED", "SUSPENDED":
		state = StateStopped
	}
	zone := lastSegment(in.Zone)
	return Instance{
		ID:     zone + "/" + in.Name,
		Status: state,
		Region: zone,
		Plan:   lastSegment(in.MachineType),
		IP:     gcpNatIP(in),
	}
}

func (p *gcpCompute) Name() string { return GCP }

func (p *gcpCompute) Validate(ctx context.Context) (*Validation, error) {
	err := p.call(ctx, "validate", func(ctx context.Context) error {
		_, err := p.svc.Projects.Get(p.project).Context(ctx).Do()
		return p.classify("validate", err)
	})
	if err != nil {
		if IsKind(err, KindInvalidCredential) {
			return &Validation{OK: false}, nil
		}
		return nil, err
	}
	return &Validation{OK: true}, nil
}

func (p *gcpCompute) Create(ctx context.Context, req CreateRequest) (*Instance, error) {
	zone := req.Region
	if zone == "" {
		zone = gcpDefaultZone
	}
	userData := req.CloudInit
	inst := &compute.Instance{
		Name:        req.Label,
		MachineType: fmt.Sprintf("zones/%s/machineTypes/%s", zone, req.Plan),
		Labels:      map[string]string{"managed-by": "botplane"},
		Disks: []*compute.AttachedDisk{{
			Boot:             true,
			AutoDelete:       true,
			InitializeParams: &compute.AttachedDiskInitializeParams{SourceImage: req.Image, DiskSizeGb: 20},
		}},
		NetworkInterfaces: []*compute.NetworkInterface{{
			AccessConfigs: []*compute.AccessConfig{{Name: "External NAT", Type: "ONE_TO_ONE_NAT"}},
		}},
		Metadata: &compute.Metadata{Items: []*compute.MetadataItems{{Key: "user-data", Value: &userData}}},
	}
	if req.SSHKeyID != "" {
		key := req.SSHKeyID
		inst.Metadata.Items = append(inst.Metadata.Items, &compute.MetadataItems{Key: "ssh-keys", Value: &key})
	}

	err := p.call(ctx, "create", func(ctx context.Context) error {
		_, err := p.svc.Instances.Insert(p.project, zone, inst).Context(ctx).Do()
		return p.classify("create", err)
	})
	if err != nil {
		return nil, err
	}
	return &Instance{ID: zone + "/" + req.Label, Status: StatePending, Region: zone, Plan: req.Plan}, nil
}

func (p *gcpCompute) LookupByIP(ctx context.Context, ip string) (*Lookup, error) {
	var found *compute.Instance
	err := p.call(ctx, "lookup", func(ctx context.Context) error {
		found = nil
		err := p.svc.Instances.AggregatedList(p.project).Context(ctx).Pages(ctx, func(page *compute.InstanceAggregatedList) error {
			for _, scoped := range page.Items {
				for _, in := range scoped.Instances {
					if gcpNatIP(in) == ip {
						found = in
						return nil
					}
				}
			}
			return nil
		})
		return p.classify("lookup", err)
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return &Lookup{}, nil
	}
	return &Lookup{Found: true, Instance: gcpInstance(found)}, nil
}

func (p *gcpCompute) Start(ctx context.Context, id string) error {
	zone, name, err := splitGCPID(id)
	if err != nil {
		return err
	}
	return p.call(ctx, "start", func(ctx context.Context) error {
		_, err := p.svc.Instances.Start(p.project, zone, name).Context(ctx).Do()
		return p.classify("start", err)
	})
}

func (p *gcpCompute) Halt(ctx context.Context, id string) error {
	zone, name, err := splitGCPID(id)
	if err != nil {
		return err
	}
	return p.call(ctx, "halt", func(ctx context.Context) error {
		_, err := p.svc.Instances.Stop(p.project, zone, name).Context(ctx).Do()
		return p.classify("halt", err)
	})
}

func (p *gcpCompute) Destroy(ctx context.Context, id string) error {
	zone, name, err := splitGCPID(id)
	if err != nil {
		return err
	}
	return p.call(ctx, "destroy", func(ctx context.Context) error {
		_, err := p.svc.Instances.Delete(p.project, zone, name).Context(ctx).Do()
		return p.classify("destroy", err)
	})
}

func (p *gcpCompute) InstanceIP(ctx context.Context, id string) (string, error) {
	zone, name, err := splitGCPID(id)
	if err != nil {
		return "", err
	}
	var in *compute.Instance
	err = p.call(ctx, "instance_ip", func(ctx context.Context) error {
		var err error
		in, err = p.svc.Instances.Get(p.project, zone, name).Context(ctx).Do()
		return p.classify("instance_ip", err)
	})
	if err != nil {
		return "", err
	}
	return gcpNatIP(in), nil
}
