package params

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the settings file read from the project directory.
const DefaultConfigFile = "apphost.yaml"

// File is the on-disk settings layout.
type File struct {
	Parameters        map[string]string `yaml:"parameters"`
	ConnectionStrings map[string]string `yaml:"connectionStrings"`
}

// Config serves values from a YAML file, overlaid by a .env file and then by
// the process environment.
type Config struct {
	file   File
	dotenv map[string]string
	getenv func(string) (string, bool)
}

// LoadConfig reads the settings file and the optional .env file. Missing
// files are not an error.
func LoadConfig(path, dotenvPath string) (*Config, error) {
	c := &Config{getenv: os.LookupEnv}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &c.file); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	if dotenvPath != "" {
		env, err := godotenv.Read(dotenvPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read env file %s: %w", dotenvPath, err)
		default:
			c.dotenv = env
		}
	}
	return c, nil
}

// NewConfig builds a Config from values already in memory.
func NewConfig(file File, dotenv map[string]string, getenv func(string) (string, bool)) *Config {
	if getenv == nil {
		getenv = func(string) (string, bool) { return "", false }
	}
	return &Config{file: file, dotenv: dotenv, getenv: getenv}
}

func (c *Config) Lookup(_ context.Context, key string) (string, bool, error) {
	section, name, err := SplitKey(key)
	if err != nil {
		return "", false, err
	}

	env := EnvName(key)
	if v, ok := c.getenv(env); ok {
		return v, true, nil
	}
	if v, ok := c.dotenv[env]; ok {
		return v, true, nil
	}

	values := c.file.Parameters
	if section == ConnectionStringsSection {
		values = c.file.ConnectionStrings
	}
	v, ok := values[name]
	return v, ok, nil
}
