package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/loraspect/internal/api"
	"github.com/samcharles93/loraspect/internal/logger"
	"github.com/samcharles93/loraspect/internal/lora"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		maxUpload   int64
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the inspection REST API",
		Flags: append(loadFlags(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.Int64Flag{
				Name:        "max-upload-bytes",
				Usage:       "largest accepted upload",
				Value:       api.DefaultMaxUploadBytes,
				Destination: &maxUpload,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			cfg := configFromContext(ctx)
			applyLoadConfig(cmd, cfg)
			applyServeConfig(cmd, cfg, &addr, &maxUpload)

			server := api.NewServer(api.NewFileStore(), api.Config{
				MaxUploadBytes: maxUpload,
				FileOptions:    []lora.Option{lora.WithEager(eager), lora.WithCacheSize(cacheSize)},
				Logger:         log,
			})
			defer func() { _ = server.Close() }()

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "eager", eager, "cache_size", cacheSize)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
