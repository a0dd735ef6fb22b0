package rover

import (
	"context"

	"github.com/edaniels/golog"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/tern-robotics/rover/config"
	"github.com/tern-robotics/rover/logging"
)

// Arguments are the command line flags of the rover daemon.
type Arguments struct {
	ConfigFile string `flag:"0,required,usage=rover config file"`
	Debug      bool   `flag:"debug"`
	NoWatch    bool   `flag:"no-watch,usage=do not watch the config file for changes"`
	Version    bool   `flag:"version,usage=print version"`
}

// RunServer is the rover daemon entry point, meant to be handed to
// utils.ContextualMainQuit by a thin main.
func RunServer(ctx context.Context, args []string, logger golog.Logger) (err error) {
	var argsParsed Arguments
	if err := goutils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}

	logger.Infof("rover version %s, hash %s", config.Version, config.GitRevision)
	if argsParsed.Version {
		return nil
	}

	cfg, err := config.Read(ctx, argsParsed.ConfigFile, logger)
	if err != nil {
		return err
	}
	if argsParsed.Debug {
		cfg.Debug = true
	}

	logger = logging.New("roverd", cfg.Debug, cfg.LogFile)
	if err := serveRover(ctx, cfg, argsParsed, logger); err != nil {
		logger.Errorw("error serving rover", "error", err)
		return err
	}
	return nil
}

func serveRover(ctx context.Context, cfg *config.Config, argsParsed Arguments, logger golog.Logger) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r, err := New(ctx, cfg, nil, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, r.Close())
	}()

	if err := r.Start(ctx); err != nil {
		return err
	}

	if !argsParsed.NoWatch {
		// watch for and deliver config changes to the running rover
		watcher, err := config.NewWatcher(ctx, cfg.ConfigFilePath, logger.Named("config"))
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Combine(err, watcher.Close())
		}()
		onWatchDone := make(chan struct{})
		goutils.ManagedGo(func() {
			for {
				select {
				case <-ctx.Done():
					return
				case fresh := <-watcher.Config():
					r.Reconfigure(fresh)
				}
			}
		}, func() {
			close(onWatchDone)
		})
		defer func() {
			<-onWatchDone
		}()
		defer cancel()
	}

	<-ctx.Done()
	return nil
}
