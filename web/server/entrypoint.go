// Package server implements the entry point for running the rover's web server.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"go.viam.com/utils/perf"

	"github.com/picar-labs/rover/config"
	"github.com/picar-labs/rover/logging"
	"github.com/picar-labs/rover/robot"
)

const shutdownTimeout = 5 * time.Second

// Arguments for the command.
type Arguments struct {
	ConfigFile string `flag:"config,usage=rover config file; all fake parts when empty"`
	CPUProfile string `flag:"cpuprofile,usage=write cpu profile to file"`
	Debug      bool   `flag:"debug"`
	Port       int    `flag:"port,usage=port to listen on; overrides the config"`
}

// RunServer is an entry point to starting the web server that can be called by main in a code
// sample.
func RunServer(ctx context.Context, args []string, logger golog.Logger) (err error) {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}

	if argsParsed.CPUProfile != "" {
		f, err := os.Create(argsParsed.CPUProfile)
		if err != nil {
			return err
		}
		err = pprof.StartCPUProfile(f)
		if err != nil {
			return err
		}
		defer pprof.StopCPUProfile()
	}

	if argsParsed.Debug {
		exp := perf.NewNiceLoggingSpanExporter()
		trace.RegisterExporter(exp)
		trace.ApplyConfig(trace.Config{DefaultSampler: trace.AlwaysSample()})
	}

	cfg, err := readConfig(ctx, argsParsed.ConfigFile, logger)
	if err != nil {
		return err
	}
	if argsParsed.Port != 0 {
		cfg.Web.Port = argsParsed.Port
	}
	if argsParsed.Debug {
		cfg.Log.Debug = true
	}

	if cfg.Log.File != "" || cfg.Log.Debug {
		var closer func() error
		logger, closer, err = logging.NewLogger("rover", &cfg.Log)
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Combine(err, closer())
		}()
	}

	err = serveWeb(ctx, cfg, logger)
	if err != nil {
		logger.Errorw("error serving web", "error", err)
	}
	return err
}

func readConfig(ctx context.Context, path string, logger golog.Logger) (*config.Config, error) {
	if path == "" {
		logger.Info("no config file given, running with fake parts")
		cfg := config.Default()
		if err := cfg.Ensure(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	initialReadCtx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()
	return config.Read(initialReadCtx, path, logger)
}

func serveWeb(ctx context.Context, cfg *config.Config, logger golog.Logger) (err error) {
	r, err := robot.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, r.Close(context.Background()))
	}()
	if err := r.Start(ctx); err != nil {
		return err
	}

	srv := New(r, &cfg.Web, logger.Named("web"))
	srv.Start()
	defer srv.Close()

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Web.Port))
	if err != nil {
		return errors.Wrap(err, "cannot listen")
	}
	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	utils.PanicCapturingGo(func() {
		serveErr <- httpServer.Serve(listener)
	})
	logger.Infow("serving", "url", fmt.Sprintf("http://%s", listener.Addr()))

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// sockets are hijacked, so Shutdown does not wait on them
	srv.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
