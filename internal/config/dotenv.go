package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
)

// DotEnvFiles are read in order; later files override earlier ones.
var DotEnvFiles = []string{".env", ".env.local"}

// ReadDotEnv merges the dotenv files found in dir. Missing files are skipped.
func ReadDotEnv(fsys afero.Fs, dir string) (map[string]string, error) {
	values := map[string]string{}
	for _, name := range DotEnvFiles {
		path := filepath.Join(dir, name)
		file, err := fsys.Open(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		parsed, err := godotenv.Parse(file)
		_ = file.Close()
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		for key, value := range parsed {
			values[key] = value
		}
	}
	return values, nil
}

// WithDotEnv returns a lookup where the process environment wins over values
// read from dotenv files.
func WithDotEnv(values map[string]string, lookup LookupFunc) LookupFunc {
	return func(key string) (string, bool) {
		if value, ok := lookup(key); ok {
			return value, true
		}
		value, ok := values[key]
		return value, ok
	}
}

// LoadFromEnv loads the configuration from the process environment, falling
// back to .env and .env.local in the working directory.
func LoadFromEnv(serviceName string) (Config, error) {
	return LoadWithFs(afero.NewOsFs(), ".", serviceName, os.LookupEnv)
}

func LoadWithFs(fsys afero.Fs, dir, serviceName string, lookup LookupFunc) (Config, error) {
	values, err := ReadDotEnv(fsys, dir)
	if err != nil {
		return Config{}, err
	}
	return Load(serviceName, WithDotEnv(values, lookup))
}
