package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"

	"github.com/edvin/botplane/internal/model"
)

const awsDefaultRegion = "ap-northeast-1"

// awsEC2 drives EC2 in one region. The access key id is the credential's
// APIToken and the secret lives in Extra["secret_access_key"].
type awsEC2 struct {
	caller
	client *ec2.Client
	region string
}

func newAWS(cred *model.CloudCredential, o options) (*awsEC2, error) {
	secret := extra(cred, "secret_access_key")
	if cred.APIToken == "" || secret == "" {
		return nil, errors.New("aws credential needs an access key id and secret_access_key")
	}
	region := extra(cred, "region")
	if region == "" {
		region = awsDefaultRegion
	}
	opts := ec2.Options{
		Region:      region,
		Credentials: credentials.NewStaticCredentialsProvider(cred.APIToken, secret, ""),
		HTTPClient:  o.httpClient,
	}
	if o.baseURL != "" {
		opts.BaseEndpoint = aws.String(o.baseURL)
	}
	return &awsEC2{caller: newCaller(AWS, o.logger), client: ec2.New(opts), region: region}, nil
}

// classify maps an EC2 API error onto a Kind.
func (p *awsEC2) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	kind := KindTransient
	var ae smithy.APIError
	if errors.As(err, &ae) {
		code := ae.ErrorCode()
		switch {
		case code == "AuthFailure", code == "UnauthorizedOperation", strings.HasPrefix(code, "InvalidClientTokenId"),
			code == "SignatureDoesNotMatch":
			kind = KindInvalidCredential
		case strings.HasSuffix(code, "LimitExceeded") && code != "RequestLimitExceeded",
			code == "InsufficientInstanceCapacity":
			kind = KindQuota
		case strings.HasSuffix(code, ".NotFound"):
			kind = KindNotFound
		case code == "RequestLimitExceeded", code == "Unavailable", code == "InternalError":
			kind = KindTransient
		default:
			kind = KindRejected
		}
	}
	return &Error{Kind: kind, Provider: AWS, Op: op, Err: err}
}

func ec2Instance(in types.Instance) Instance {
	state := StateUnknown
	if in.State != nil {
		switch in.State.Name {
		case types.InstanceStateNamePending:
			state = StatePending
		case types.InstanceStateNameRunning:
			state = StateRunning
		case types.InstanceStateNameStopped, types.InstanceStateNameStopping:
			state = StateStopped
		}
	}
	var region string
	if in.Placement != nil {
		region = aws.ToString(in.Placement.AvailabilityZone)
	}
	return Instance{
		ID:     aws.ToString(in.InstanceId),
		Status: state,
		Region: region,
		Plan:   string(in.InstanceType),
		IP:     aws.ToString(in.PublicIpAddress),
	}
}

func (p *awsEC2) Name() string { return AWS }

func (p *awsEC2) Validate(ctx context.Context) (*Validation, error) {
	err := p.call(ctx, "validate", func(ctx context.Context) error {
		_, err := p.client.DescribeRegions(ctx, &ec2.DescribeRegionsInput{})
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

func (p *awsEC2) Create(ctx context.Context, req CreateRequest) (*Instance, error) {
	input := &ec2.RunInstancesInput{
		ImageId:      aws.String(req.Image),
		InstanceType: types.InstanceType(req.Plan),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		UserData:     aws.String(base64.StdEncoding.EncodeToString([]byte(req.CloudInit))),
		TagSpecifications: []types.TagSpecification{{
			ResourceType: types.ResourceTypeInstance,
			Tags: []types.Tag{
				{Key: aws.String("Name"), Value: aws.String(req.Label)},
				{Key: aws.String("managed-by"), Value: aws.String("botplane")},
			},
		}},
	}
	if req.SSHKeyID != "" {
		input.KeyName = aws.String(req.SSHKeyID)
	}

	var out *ec2.RunInstancesOutput
	err := p.call(ctx, "create", func(ctx context.Context) error {
		var err error
		out, err = p.client.RunInstances(ctx, input)
		return p.classify("create", err)
	})
	if err != nil {
		return nil, err
	}
	if len(out.Instances) == 0 {
		return nil, &Error{Kind: KindRejected, Provider: AWS, Op: "create", Err: errors.New("no instance returned")}
	}
	inst := ec2Instance(out.Instances[0])
	return &inst, nil
}

func (p *awsEC2) describe(ctx context.Context, op string, input *ec2.DescribeInstancesInput) ([]types.Instance, error) {
	var found []types.Instance
	err := p.call(ctx, op, func(ctx context.Context) error {
		found = nil
		pager := ec2.NewDescribeInstancesPaginator(p.client, input)
		for pager.HasMorePages() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return p.classify(op, err)
			}
			for _, r := range page.Reservations {
				found = append(found, r.Instances...)
			}
		}
		return nil
	})
	return found, err
}

func (p *awsEC2) LookupByIP(ctx context.Context, ip string) (*Lookup, error) {
	instances, err := p.describe(ctx, "lookup", &ec2.DescribeInstancesInput{
		Filters: []types.Filter{{Name: aws.String("ip-address"), Values: []string{ip}}},
	})
	if err != nil {
		return nil, err
	}
	for _, in := range instances {
		if aws.ToString(in.PublicIpAddress) == ip {
			return &Lookup{Found: true, Instance: ec2Instance(in)}, nil
		}
	}
	return &Lookup{}, nil
}

func (p *awsEC2) Start(ctx context.Context, id string) error {
	return p.call(ctx, "start", func(ctx context.Context) error {
		_, err := p.client.StartInstances(ctx, &ec2.StartInstancesInput{InstanceIds: []string{id}})
		return p.classify("start", err)
	})
}

func (p *awsEC2) Halt(ctx context.Context, id string) error {
	return p.call(ctx, "halt", func(ctx context.Context) error {
		_, err := p.client.StopInstances(ctx, &ec2.StopInstancesInput{InstanceIds: []string{id}})
		return p.classify("halt", err)
	})
}

func (p *awsEC2) Destroy(ctx context.Context, id string) error {
	return p.call(ctx, "destroy", func(ctx context.Context) error {
		_, err := p.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: []string{id}})
		return p.classify("destroy", err)
	})
}

func (p *awsEC2) InstanceIP(ctx context.Context, id string) (string, error) {
	instances, err := p.describe(ctx, "instance_ip", &ec2.DescribeInstancesInput{InstanceIds: []string{id}})
	if err != nil {
		return "", err
	}
	if len(instances) == 0 {
		return "", nil
	}
	return aws.ToString(instances[0].PublicIpAddress), nil
}
