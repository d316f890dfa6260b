package config

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
)

// Read reads a config from the given file. ${VAR} references are expanded from the environment
// before decoding.
func Read(filePath string) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return FromReader(filePath, bytes.NewReader(buf))
}

// FromReader reads a config from the given reader and specifies where, if applicable, the file
// the reader originated from. Fields are decoded over the defaults.
func FromReader(originalPath string, r io.Reader) (*Config, error) {
	cfg := Default()
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode Config from json")
	}
	cfg.ConfigFilePath = originalPath
	if err := cfg.Ensure(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadOrDefault reads the config at filePath, or returns the defaults when filePath is empty.
func ReadOrDefault(filePath string) (*Config, error) {
	if filePath == "" {
		cfg := Default()
		return cfg, cfg.Ensure()
	}
	return Read(filePath)
}
