package params

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSM reads values from AWS Systems Manager Parameter Store. The key
// Parameters:db-password is read from <Prefix>/Parameters/db-password with
// decryption, so SecureString parameters work as well.
type SSM struct {
	Prefix string
	client ssmAPI
}

// NewSSM builds a store from the default AWS credential chain.
func NewSSM(ctx context.Context, region, prefix string) (*SSM, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}
	return &SSM{Prefix: prefix, client: ssm.NewFromConfig(cfg)}, nil
}

func (s *SSM) Lookup(ctx context.Context, key string) (string, bool, error) {
	if _, _, err := SplitKey(key); err != nil {
		return "", false, err
	}
	name := pathName(s.Prefix, key)
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var nf *types.ParameterNotFound
		if errors.As(err, &nf) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read SSM parameter %s: %w", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", false, nil
	}
	return *out.Parameter.Value, true, nil
}
