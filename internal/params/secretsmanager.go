package params

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"
)

type secretsAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManager reads values from AWS Secrets Manager.
//
// Without a Bundle each key is its own secret named <Prefix>/Parameters/x.
// With a Bundle one secret holds a JSON object keyed by the full parameter
// key, which is fetched once.
type SecretsManager struct {
	Prefix string
	Bundle string
	client secretsAPI

	bundleOnce   sync.Once
	bundleValues map[string]string
	bundleErr    error
}

// NewSecretsManager builds a store from the default AWS credential chain.
func NewSecretsManager(ctx context.Context, region, prefix string) (*SecretsManager, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}
	return &SecretsManager{Prefix: prefix, client: secretsmanager.NewFromConfig(cfg)}, nil
}

func (s *SecretsManager) Lookup(ctx context.Context, key string) (string, bool, error) {
	if _, _, err := SplitKey(key); err != nil {
		return "", false, err
	}
	if s.Bundle != "" {
		return s.lookupBundle(ctx, key)
	}
	return s.secret(ctx, pathName(s.Prefix, key))
}

func (s *SecretsManager) lookupBundle(ctx context.Context, key string) (string, bool, error) {
	s.bundleOnce.Do(func() {
		raw, ok, err := s.secret(ctx, pathName(s.Prefix, s.Bundle))
		if err != nil || !ok {
			s.bundleErr = err
			return
		}
		if err := json.Unmarshal([]byte(raw), &s.bundleValues); err != nil {
			s.bundleErr = fmt.Errorf("secret %s is not a JSON object of strings: %w", s.Bundle, err)
		}
	})
	if s.bundleErr != nil {
		return "", false, s.bundleErr
	}
	v, ok := s.bundleValues[key]
	return v, ok, nil
}

func (s *SecretsManager) secret(ctx context.Context, id string) (string, bool, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(id),
	})
	if err != nil {
		var ae smithy.APIError
		if errors.As(err, &ae) && ae.ErrorCode() == "ResourceNotFoundException" {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read secret %s: %w", id, err)
	}
	if out.SecretString != nil {
		return *out.SecretString, true, nil
	}
	if out.SecretBinary != nil {
		return string(out.SecretBinary), true, nil
	}
	return "", false, nil
}
