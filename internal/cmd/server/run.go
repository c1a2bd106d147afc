package serverrun

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thejerf/suture/v4"

	cfgpkg "github.com/rzbill/evstore/internal/config"
	"github.com/rzbill/evstore/internal/runtime"
	grpcserver "github.com/rzbill/evstore/internal/server/grpc"
	httpserver "github.com/rzbill/evstore/internal/server/http"
	logpkg "github.com/rzbill/evstore/pkg/log"
)

// Options configures Run.
type Options struct {
	Config cfgpkg.Config
	// Logger defaults to one built from Config.Log.
	Logger logpkg.Logger
	// Ready, when set, is called once every service has been added.
	Ready func(*runtime.Runtime)
}

// Run opens the runtime and supervises the HTTP server, the gRPC server and
// the integrity auditor until ctx is cancelled or a signal arrives.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	if cfg.DataDir == "" {
		cfg.DataDir = cfgpkg.DefaultDataDir()
	}
	procLogger := opts.Logger
	if procLogger == nil {
		l, err := logpkg.ApplyConfig(&logpkg.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
		if err != nil {
			return err
		}
		procLogger = l
	}
	// Redirect stdlib logs to our logger
	logpkg.RedirectStdLog(procLogger)

	rt, err := runtime.Open(sctx, runtime.Options{Config: cfg, Logger: procLogger})
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			procLogger.Error("close runtime", logpkg.Err(err))
		}
	}()

	procLogger.Info("starting evstore server",
		logpkg.Str("driver", cfg.Storage.Driver),
		logpkg.Str("data_dir", cfg.DataDir),
		logpkg.Str("http", cfg.Server.HTTPAddr),
		logpkg.Str("grpc", cfg.Server.GRPCAddr),
		logpkg.Bool("audit", cfg.Archive.VerifyEnabled),
	)

	sup := newSupervisor(cfg.Server.ShutdownTimeout, procLogger)
	if cfg.Server.HTTPAddr != "" {
		sup.Add(httpserver.New(rt, procLogger))
	}
	if cfg.Server.GRPCAddr != "" {
		sup.Add(grpcserver.New(rt, procLogger))
	}
	if cfg.Archive.VerifyEnabled {
		auditor, err := rt.NewAuditor()
		if err != nil {
			return err
		}
		sup.Add(auditor)
	}
	if opts.Ready != nil {
		opts.Ready(rt)
	}

	err = sup.Serve(sctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func newSupervisor(timeout time.Duration, logger logpkg.Logger) *suture.Supervisor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	sl := logger.With(logpkg.Component("supervisor"))
	return suture.New("evstore", suture.Spec{
		EventHook:        eventHook(sl),
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          timeout,
	})
}

// eventHook logs supervisor events. Restarts and timeouts are warnings.
func eventHook(l logpkg.Logger) suture.EventHook {
	return func(e suture.Event) {
		fields := make([]logpkg.Field, 0, 4)
		for k, v := range e.Map() {
			fields = append(fields, logpkg.Any(k, v))
		}
		switch e.Type() {
		case suture.EventTypeServicePanic, suture.EventTypeServiceTerminate,
			suture.EventTypeStopTimeout, suture.EventTypeBackoff:
			l.Warn(e.String(), fields...)
		default:
			l.Info(e.String(), fields...)
		}
	}
}
