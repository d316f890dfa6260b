package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/photocloud/photocloud/config"
	"github.com/photocloud/photocloud/logging"
	"github.com/photocloud/photocloud/vision/reconstruction"
)

// directoryExtensions are the files picked up when a directory is given as input.
var directoryExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

// printf prints a message with a newline.
func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}

// warningf prints a message prefixed with "Warning: ".
func warningf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, "Warning: "+format+"\n", a...)
}

func hasGlobMeta(path string) bool {
	return strings.ContainsAny(path, "*?[")
}

// ExpandInputs resolves files, directories and glob patterns into a sorted list of unique
// paths. Directories contribute the png and jpeg files directly inside them.
func ExpandInputs(args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, errors.Wrap(reconstruction.ErrNoInputs, "provide at least one file, directory or glob pattern")
	}
	seen := map[string]bool{}
	var diagnostics []string
	add := func(path string) {
		seen[filepath.Clean(path)] = true
	}
	for _, arg := range args {
		info, err := os.Stat(arg)
		switch {
		case err == nil && info.IsDir():
			entries, err := os.ReadDir(arg)
			if err != nil {
				return nil, errors.Wrapf(err, "listing %s", arg)
			}
			found := 0
			for _, entry := range entries {
				if entry.IsDir() || !directoryExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
					continue
				}
				add(filepath.Join(arg, entry.Name()))
				found++
			}
			if found == 0 {
				diagnostics = append(diagnostics, fmt.Sprintf("directory %q contains no png or jpeg images", arg))
			}
		case err == nil:
			add(arg)
		default:
			matches, globErr := filepath.Glob(arg)
			if globErr != nil {
				return nil, errors.Wrapf(globErr, "bad pattern %q", arg)
			}
			for _, match := range matches {
				if info, err := os.Stat(match); err == nil && !info.IsDir() {
					add(match)
				}
			}
			if len(matches) > 0 {
				continue
			}
			switch dir := filepath.Dir(arg); {
			case !hasGlobMeta(arg):
				diagnostics = append(diagnostics, fmt.Sprintf("file or directory %q not found", arg))
			case !exists(dir):
				diagnostics = append(diagnostics, fmt.Sprintf("directory %q of pattern %q not found", dir, arg))
			default:
				diagnostics = append(diagnostics, fmt.Sprintf("no files matched the pattern %q", arg))
			}
		}
	}
	if len(seen) == 0 {
		return nil, errors.Wrap(reconstruction.ErrNoInputs, strings.Join(diagnostics, "; "))
	}
	inputs := make([]string, 0, len(seen))
	for path := range seen {
		inputs = append(inputs, path)
	}
	sort.Strings(inputs)
	return inputs, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// loadConfig reads the config named by the global flag and builds the root logger from it.
func loadConfig(c *cli.Context) (*config.Config, logging.Logger, error) {
	cfg, err := config.ReadOrDefault(c.String(flagConfig))
	if err != nil {
		return nil, nil, err
	}
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, nil, err
	}
	if c.Bool(flagDebug) {
		return cfg, logging.NewDebugLogger("photocloud"), nil
	}
	logger := logging.NewLogger("photocloud")
	logger.SetLevel(level)
	return cfg, logger, nil
}
