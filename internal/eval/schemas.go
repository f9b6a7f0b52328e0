package eval

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
)

// AppHostSchemaFile is the file name topology modules amend.
const AppHostSchemaFile = "AppHost.pkl"

//go:embed schemas/AppHost.pkl
var appHostSchema []byte

// AppHostSchema returns the Pkl schema for topology modules.
func AppHostSchema() []byte {
	return append([]byte(nil), appHostSchema...)
}

// WriteSchema writes the topology schema into dir.
func WriteSchema(dir string) (string, error) {
	path := filepath.Join(dir, AppHostSchemaFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create schema directory: %w", err)
	}
	if err := os.WriteFile(path, appHostSchema, 0644); err != nil {
		return "", fmt.Errorf("failed to write schema: %w", err)
	}
	return path, nil
}
