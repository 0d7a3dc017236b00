package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/joho/godotenv"
	"github.com/phsym/console-slog"
	"github.com/stratawm/strata/internal/backend"
	"github.com/stratawm/strata/internal/broker"
	"github.com/stratawm/strata/internal/build"
	"github.com/stratawm/strata/internal/config"
	"github.com/stratawm/strata/internal/httpdebug"
	"github.com/stratawm/strata/pkg/sutureext"
)

type Options struct {
	Debug  bool   `doc:"enable debug logging"`
	Socket string `doc:"unix socket to listen on, overrides the config file"`
	HTTP   string `doc:"http debug address, overrides the config file"`
	Config string `doc:"config file" default:".stratad.yaml"`
}

func main() {
	godotenv.Load()

	cli := humacli.New(func(hooks humacli.Hooks, options *Options) {
		if options.Debug {
			InitLogger(slog.LevelDebug)
		} else {
			InitLogger(slog.LevelInfo)
		}

		OnServe(hooks, func(ctx context.Context) error {
			configFilePath, err := filepath.Abs(options.Config)
			if err != nil {
				return err
			}

			store, err := config.NewStore(config.NewYAML(configFilePath))
			if err != nil {
				return err
			}
			cfg, err := store.GetConfig()
			if err != nil {
				return err
			}
			if options.Socket != "" {
				cfg.Socket = options.Socket
			}
			if options.HTTP != "" {
				cfg.HTTPAddress = options.HTTP
			}

			// Headless mode runs against the in-memory backend; a compositor
			// embedding the broker provides the real one.
			be := backend.NewFake(backend.DefaultOutputs()...)

			b := broker.New(be, broker.Options{
				QueueCapacity:    cfg.QueueCapacity,
				MinWindowSize:    cfg.MinWindowSize,
				Layouts:          cfg.Layouts,
				RefreshTolerance: cfg.RefreshTolerance,
			})

			super := sutureext.NewSimple("stratad")
			sutureext.Add(super, b)
			sutureext.Add(super, broker.NewServer(b, cfg.Socket))
			if cfg.HTTPAddress != "" {
				sutureext.Add(super, httpdebug.NewServer(b, cfg.HTTPAddress))
			}

			return super.Serve(ctx)
		})
	})

	cli.Root().Version = build.Current.Version

	cli.Run()
}

func InitLogger(level slog.Level) {
	slog.SetDefault(slog.New(console.NewHandler(os.Stderr, &console.HandlerOptions{
		Level: level,
	})))
}

func OnServe(hooks humacli.Hooks, serveFn func(ctx context.Context) error) {
	stopC := make(chan struct{})
	hooks.OnStart(func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		errC := make(chan error, 1)

		go func() { errC <- serveFn(ctx) }()

		select {
		case <-stopC:
			cancel()
		case err := <-errC:
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Fatal(err)
			}
			return
		}

		<-errC
		<-stopC
	})
	hooks.OnStop(func() {
		stopC <- struct{}{}
		stopC <- struct{}{}
	})
}
