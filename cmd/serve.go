package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/moodlens/api/schemas"
	"github.com/xkilldash9x/moodlens/internal/camera"
	"github.com/xkilldash9x/moodlens/internal/config"
	"github.com/xkilldash9x/moodlens/internal/observability"
	"github.com/xkilldash9x/moodlens/internal/pipeline"
	"github.com/xkilldash9x/moodlens/internal/server"
)

// newServeCmd creates the `serve` command. Its flags are bound to viper keys so
// they override the config file and environment.
func newServeCmd(v *viper.Viper) *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the live view, the JSON API and the WebSocket feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			continuous, _ := cmd.Flags().GetBool("continuous")
			return runServe(cmd.Context(), cfg, continuous, observability.GetLogger())
		},
	}

	serveCmd.Flags().String("listen", "127.0.0.1:8080", "address for the HTTP server")
	serveCmd.Flags().String("camera", string(config.CameraSourceNone), "server-side frame source (none, file, snapshot, browser)")
	serveCmd.Flags().Bool("continuous", false, "start with continuous mode on (requires a server camera)")
	_ = v.BindPFlag("server.listen_addr", serveCmd.Flags().Lookup("listen"))
	_ = v.BindPFlag("camera.source", serveCmd.Flags().Lookup("camera"))

	return serveCmd
}

// runServe wires the pipeline to the HTTP server and blocks until ctx is done.
func runServe(ctx context.Context, cfg *config.Config, continuous bool, logger *zap.Logger) (err error) {
	var src schemas.FrameSource
	if cfg.Camera.Source != config.CameraSourceNone && cfg.Camera.Source != "" {
		lock := camera.NewDeviceLock(cfg.Camera.LockFile)
		if err := lock.Acquire(); err != nil {
			return err
		}
		defer func() {
			if rerr := lock.Release(); rerr != nil {
				logger.Warn("Failed to release camera lock", zap.String("path", lock.Path()), zap.Error(rerr))
			}
		}()

		if src, err = camera.New(cfg.Camera, logger); err != nil {
			return fmt.Errorf("failed to initialize camera: %w", err)
		}
		logger.Info("Server camera configured", zap.String("source", string(cfg.Camera.Source)))
	} else if continuous {
		return fmt.Errorf("continuous mode needs a server camera; set --camera or camera.source")
	}

	analyzer, err := newAnalyzer(ctx, cfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize analysis client: %w", err)
	}

	resultStore, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to open result store: %w", err)
	}

	var opts []pipeline.Option
	if resultStore != nil {
		opts = append(opts, pipeline.WithRecorder(resultStore))
	}
	ctrl := pipeline.NewController(analyzer, cfg.Pipeline, logger, opts...)
	// The controller goes first so an in-flight result is never recorded into a
	// closed store.
	defer func() {
		ctrl.Close()
		if resultStore != nil {
			if cerr := resultStore.Close(); cerr != nil {
				logger.Warn("Failed to close result store", zap.Error(cerr))
			}
		}
	}()

	if resultStore != nil {
		records, err := resultStore.RecentResults(ctx, cfg.Pipeline.HistorySize)
		if err != nil {
			logger.Warn("Could not restore history from the result store", zap.Error(err))
		} else {
			ctrl.Restore(records)
		}
	}
	if continuous {
		ctrl.ToggleContinuousMode()
	}

	srv := server.New(cfg.Server, ctrl, src, resultStore, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	if src != nil {
		scheduler := pipeline.NewScheduler(ctrl, src, cfg.Pipeline.ContinuousInterval, logger)
		g.Go(func() error { return scheduler.Run(gctx) })
	}

	logger.Info("moodlens is serving", zap.String("addr", srv.Addr()), zap.String("version", Version))
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("moodlens stopped")
	return nil
}
