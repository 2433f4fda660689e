package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/tileserv/tileserv/internal/cache"
	"github.com/tileserv/tileserv/internal/config"
	"github.com/tileserv/tileserv/internal/server"
	"github.com/tileserv/tileserv/internal/tileset"
)

// Options defines the CLI flags and env-var fallbacks for the serve
// command, following the teacher's own doc-tagged Options struct.
// Flags: --config, --host, --port, --log-level
// Env vars: recognized directly by internal/config.Load (DATABASE_URL,
// DEFAULT_SRID, ...); --host/--port only override srv.listen.
type Options struct {
	Config   string `doc:"Path to the YAML config file" short:"c" default:"tileserv.yaml"`
	Host     string `doc:"Host to bind to, overriding srv.listen's host" default:""`
	Port     int    `doc:"Port to listen on, overriding srv.listen's port" short:"p" default:"0"`
	LogLevel string `doc:"Log level: debug, info, warn, error" default:"info"`
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return cfg.Build()
}

func loadConfig(opts *Options) (*config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, err
	}
	if opts.Host != "" || opts.Port != 0 {
		host, port := splitListen(cfg.Srv.Listen)
		if opts.Host != "" {
			host = opts.Host
		}
		if opts.Port != 0 {
			port = opts.Port
		}
		cfg.Srv.Listen = fmt.Sprintf("%s:%d", host, port)
	}
	return cfg, nil
}

func splitListen(listen string) (host string, port int) {
	host, port = "0.0.0.0", 3000
	if listen == "" {
		return host, port
	}
	h, p, err := net.SplitHostPort(listen)
	if err != nil {
		return host, port
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return host, port
	}
	return h, n
}

func preferredEncoding(s string) tileset.Encoding {
	switch s {
	case "brotli":
		return tileset.Brotli
	case "zstd":
		return tileset.Zstd
	case "gzip":
		return tileset.Gzip
	default:
		return tileset.Identity
	}
}

func newServer(ctx context.Context, opts *Options, logger *zap.Logger) (*server.Server, *config.Config, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	c := cache.New(cache.Options{MaxWeightBytes: cfg.Srv.CacheSizeMB << 20})
	rebuild := func(ctx context.Context) (*server.Built, error) {
		return server.BuildRegistry(ctx, cfg, logger)
	}

	host, port := splitListen(cfg.Srv.Listen)
	srv, err := server.New(ctx, server.Config{
		Host:              host,
		Port:              port,
		BasePath:          cfg.Srv.BasePath,
		CORS:              cfg.Srv.CORS,
		PreferredEncoding: preferredEncoding(cfg.Srv.PreferredEncoding),
	}, c, logger, rebuild)
	if err != nil {
		return nil, nil, err
	}
	return srv, cfg, nil
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		logger, err := newLogger(opts.LogLevel)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer logger.Sync()

		ctx := context.Background()
		srv, cfg, err := newServer(ctx, opts, logger)
		if err != nil {
			logger.Fatal("failed to start", zap.Error(err))
		}

		hooks.OnStart(func() {
			host, port := splitListen(cfg.Srv.Listen)
			addr := fmt.Sprintf("%s:%d", host, port)
			logger.Info("tileserv starting",
				zap.String("addr", addr),
				zap.Int("postgres_pools", len(cfg.Postgres)),
			)
			if err := http.ListenAndServe(addr, srv); err != nil {
				logger.Fatal("server error", zap.Error(err))
			}
		})
		hooks.OnStop(func() {
			srv.Close()
		})
	})

	cli.Root().Use = "tileserv"
	cli.Root().Short = "Vector tile serving engine for MBTiles, PMTiles and PostGIS sources"
	cli.Root().Version = "0.1.0"

	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export the OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			logger, _ := newLogger("error")
			srv, _, err := newServer(context.Background(), opts, logger)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error building server: %v\n", err)
				os.Exit(1)
			}
			defer srv.Close()

			useYAML, _ := cmd.Flags().GetBool("yaml")
			spec := srv.OpenAPI()

			var output []byte
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "error marshaling spec: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	cli.Root().AddCommand(newMBTilesCmd())
	cli.Root().AddCommand(newCopyCmd())

	cli.Run()
}
