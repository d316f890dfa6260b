package cli

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/photocloud/photocloud/config"
	"github.com/photocloud/photocloud/jobmanager"
	"github.com/photocloud/photocloud/logging"
	"github.com/photocloud/photocloud/vision/reconstruction"
	"github.com/photocloud/photocloud/web"
)

// ServeAction runs the HTTP API until SIGINT or SIGTERM.
func ServeAction(c *cli.Context) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}
	if listen := c.String(flagListen); listen != "" {
		cfg.Web.Listen = listen
	}
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", cfg.Web.Listen)
	if err != nil {
		return err
	}
	return serve(ctx, cfg, listener, logger)
}

// serve wires the job store, the job manager and the API together and serves on listener until
// ctx is done.
func serve(ctx context.Context, cfg *config.Config, listener net.Listener, logger logging.Logger) (err error) {
	defer func() {
		if err != nil {
			//nolint:errcheck
			listener.Close()
		}
	}()
	reconstructor, err := reconstruction.NewReconstructor(cfg.Reconstruction, logger)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Jobs.ResultsDir, 0o750); err != nil {
		return err
	}
	store, err := jobmanager.OpenStore(ctx, cfg.Jobs)
	if err != nil {
		return err
	}
	runner := reconstruction.NewJobRunner(reconstructor, cfg.Jobs.ResultsDir)
	jm, err := jobmanager.New(cfg.Jobs, store, runner, logger)
	if err != nil {
		return multierr.Combine(err, store.Close())
	}
	jm.Start()
	defer func() {
		err = multierr.Combine(err, jm.Close())
	}()

	server, err := web.NewServer(cfg.Web, jm, logger)
	if err != nil {
		return err
	}
	return server.Serve(ctx, listener)
}
