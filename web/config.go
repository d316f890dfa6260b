package web

import (
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// Default upload limits.
const (
	DefaultMaxFileSize    = 50 << 20
	DefaultMaxRequestSize = 50 << 20
)

// Config contains the parameters of the HTTP API.
type Config struct {
	Listen    string `json:"listen"`
	UploadDir string `json:"upload_dir"`
	// MaxFileSize is the largest accepted single file in bytes. Larger files are skipped with a warning.
	MaxFileSize int64 `json:"max_file_size"`
	// MaxRequestSize is the largest accepted upload request in bytes. Larger requests are refused.
	MaxRequestSize int64 `json:"max_request_size"`
	// AllowedOrigins lists the CORS origins. Empty allows all origins.
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// DefaultConfig listens on localhost:5000 and stores uploads under ./uploads.
func DefaultConfig() *Config {
	return &Config{
		Listen:         "localhost:5000",
		UploadDir:      "uploads",
		MaxFileSize:    DefaultMaxFileSize,
		MaxRequestSize: DefaultMaxRequestSize,
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Listen == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "listen")
	}
	if cfg.UploadDir == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "upload_dir")
	}
	if cfg.MaxFileSize <= 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("max_file_size should be > 0, got %d", cfg.MaxFileSize))
	}
	if cfg.MaxRequestSize < cfg.MaxFileSize {
		return utils.NewConfigValidationError(path,
			errors.Errorf("max_request_size (%d) should not be below max_file_size (%d)", cfg.MaxRequestSize, cfg.MaxFileSize))
	}
	return nil
}
