package cli

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/photocloud/photocloud/pointcloud"
	"github.com/photocloud/photocloud/vision/reconstruction"
)

// ReconstructAction reconstructs the given inputs and writes the cloud to a ply file.
func ReconstructAction(c *cli.Context) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}
	if detector := c.String(flagDetector); detector != "" {
		cfg.Reconstruction.Features.Detector = detector
		if err := cfg.Reconstruction.Validate("reconstruction"); err != nil {
			return err
		}
	}
	if c.Bool(flagNoSFM) {
		cfg.Reconstruction.DisableMultiView = true
	}

	inputs, err := ExpandInputs(c.Args().Slice())
	if err != nil {
		return err
	}
	reconstructor, err := reconstruction.NewReconstructor(cfg.Reconstruction, logger)
	if err != nil {
		return err
	}
	if len(inputs) >= 2 && !cfg.Reconstruction.DisableMultiView {
		printf(c.App.Writer, "Attempting multi-view reconstruction with %d images...", len(inputs))
	}
	outcome, err := reconstructor.Reconstruct(c.Context, inputs)
	if err != nil {
		return err
	}
	for _, warning := range outcome.Warnings {
		warningf(c.App.ErrWriter, "%s", warning)
	}

	output := c.Path(flagOutput)
	plyType := pointcloud.PLYBinary
	if c.Bool(flagASCII) {
		plyType = pointcloud.PLYAscii
	}
	if err := writeCloud(outcome.Cloud, output, plyType); err != nil {
		return errors.Wrapf(err, "writing %s", output)
	}
	printf(c.App.Writer, "%s reconstruction generated %d points", outcome.Method, outcome.Cloud.Size())
	printf(c.App.Writer, "Point cloud saved to %s", output)
	return nil
}

func writeCloud(cloud pointcloud.PointCloud, path string, plyType pointcloud.PLYType) (err error) {
	if plyType == pointcloud.PLYBinary {
		return pointcloud.WriteToPLYFile(cloud, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return pointcloud.ToPLY(cloud, f, plyType)
}
