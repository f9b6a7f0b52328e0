// Package params supplies parameter values from layered sources.
//
// Keys take the form "Parameters:<name>" or "ConnectionStrings:<name>".
// Every store reports a missing key with ok == false so a Chain can fall
// through to the next one; only real failures are returned as errors.
package params

import (
	"context"
	"fmt"
	"strings"

	"github.com/picklr-io/apphost/internal/model"
)

const (
	ParametersSection        = "Parameters"
	ConnectionStringsSection = "ConnectionStrings"
)

// Store looks up a parameter value by key.
type Store interface {
	Lookup(ctx context.Context, key string) (value string, ok bool, err error)
}

var _ model.ValueSource = Store(nil)

// Chain consults stores in order; the first store holding the key wins.
type Chain []Store

func (c Chain) Lookup(ctx context.Context, key string) (string, bool, error) {
	for _, s := range c {
		if err := ctx.Err(); err != nil {
			return "", false, err
		}
		if s == nil {
			continue
		}
		v, ok, err := s.Lookup(ctx, key)
		if err != nil {
			return "", false, err
		}
		if ok {
			return v, true, nil
		}
	}
	return "", false, nil
}

// Map is an in-memory store.
type Map map[string]string

func (m Map) Lookup(_ context.Context, key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

// SplitKey separates a key into its section and name.
func SplitKey(key string) (section, name string, err error) {
	section, name, found := strings.Cut(key, ":")
	if !found || name == "" {
		return "", "", fmt.Errorf("invalid parameter key %q", key)
	}
	switch section {
	case ParametersSection, ConnectionStringsSection:
		return section, name, nil
	}
	return "", "", fmt.Errorf("invalid parameter key %q: unknown section %s", key, section)
}

// EnvName is the environment variable form of key, for example
// Parameters__cache-password.
func EnvName(key string) string {
	return strings.ReplaceAll(key, ":", "__")
}

// pathName maps key to a slash separated path under prefix, the layout used
// by the AWS stores: <prefix>/Parameters/<name>.
func pathName(prefix, key string) string {
	p := strings.ReplaceAll(key, ":", "/")
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return p
	}
	return prefix + "/" + p
}
