package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/henvic/httpretty"
	"github.com/labstack/echo/v5"
	"github.com/urfave/cli/v3"

	"decodelm/internal/logger"
	"decodelm/internal/server"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		maxGenerate int
		traceHTTP   bool
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the model over a JSON HTTP API",
		Flags: modelCommandFlags(
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
			&cli.IntFlag{
				Name:        "max-generate",
				Usage:       "largest max_length accepted by /v1/generate",
				Value:       server.DefaultMaxGenerate,
				Destination: &maxGenerate,
			},
			&cli.BoolFlag{
				Name:        "trace-http",
				Usage:       "dump every request and response to stderr",
				Destination: &traceHTTP,
			},
		),
		Before: setupLogging,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			m, err := loadModel(ctx, cmd)
			if err != nil {
				return err
			}
			srv := server.New(m, log.WithGroup("http"))
			srv.MaxGenerate = maxGenerate
			e := server.NewEcho(srv)

			log.Info("starting server", "address", addr)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(s *http.Server) error {
					s.ReadHeaderTimeout = readTimeout
					if traceHTTP {
						s.Handler = traceHandler(s.Handler)
					}
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}

// traceHandler wraps h with an httpretty dump of each exchange.
func traceHandler(h http.Handler) http.Handler {
	tracer := &httpretty.Logger{
		Time:           true,
		RequestHeader:  true,
		RequestBody:    true,
		ResponseHeader: true,
		ResponseBody:   true,
		Colors:         true,
	}
	tracer.SetOutput(os.Stderr)
	return tracer.Middleware(h)
}
