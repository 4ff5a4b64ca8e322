// Package main is the imgembed CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/imgembed/internal/cli"
	"github.com/hyperjump/imgembed/internal/client"
	"github.com/hyperjump/imgembed/internal/config"
	"github.com/hyperjump/imgembed/internal/device"
	"github.com/hyperjump/imgembed/internal/models"
	"github.com/hyperjump/imgembed/internal/server"
	"github.com/hyperjump/imgembed/internal/watcher"
	"github.com/hyperjump/imgembed/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/imgembed/config.yaml"
	shutdownTimeout   = 10 * time.Second
)

// loadConfig loads config from path. When path is the default, config.yaml in
// the current directory wins if present. With allowMissing, a missing default
// config yields the built-in defaults. Returns the config and the path that
// was loaded ("" for defaults).
func loadConfig(path string, allowMissing bool) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); allowMissing && errors.Is(statErr, os.ErrNotExist) {
			return config.Default(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		os.Exit(runServer(os.Args[2:]))
	case "encode":
		os.Exit(runEncode(os.Args[2:]))
	case "watch":
		os.Exit(runWatch(os.Args[2:]))
	case "version", "--version", "-v":
		fmt.Printf("imgembed version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads config and logger for the long-running commands, exiting on
// failure.
func setup(name string, args []string) (*config.Config, *zap.Logger, *flag.FlagSet) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	cfg, resolvedConfigPath, err := loadConfig(*configPath, true)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode))
	return cfg, logger, fs
}

func runServer(args []string) int {
	cfg, logger, _ := setup("server", args)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger, device.SystemProbe{}); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return 1
	}
	return 0
}

// serve runs the HTTP server, and the watcher when directories are
// configured, until ctx ends or one of them fails. Components are closed
// before it returns.
func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger, probe device.Probe) error {
	components, err := initializeComponents(ctx, cfg, logger, probe)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer closeComponents(components, logger)

	srv := server.NewServer(components.Service, &cfg.Server, cfg.Limits.MaxBytes, components.Metrics, logger)

	g, gctx := errgroup.WithContext(ctx)
	if len(cfg.Watch.Directories) > 0 {
		w, err := startWatcher(gctx, cfg, cfg.Watch.Directories, components, logger)
		if err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
		defer w.Stop()
	}
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})
	return g.Wait()
}

func runWatch(args []string) int {
	cfg, logger, fs := setup("watch", args)
	defer logger.Sync()

	dirs := cfg.Watch.Directories
	if fs.NArg() > 0 {
		dirs = fs.Args()
	}
	if len(dirs) == 0 {
		logger.Error("no directories to watch; pass them as arguments or set watch.directories")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := watch(ctx, cfg, dirs, logger, device.SystemProbe{}); err != nil {
		logger.Error("watch stopped with error", zap.Error(err))
		return 1
	}
	return 0
}

// watch writes sidecars for dirs until ctx ends.
func watch(ctx context.Context, cfg *config.Config, dirs []string, logger *zap.Logger, probe device.Probe) error {
	components, err := initializeComponents(ctx, cfg, logger, probe)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer closeComponents(components, logger)

	w, err := startWatcher(ctx, cfg, dirs, components, logger)
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer w.Stop()
	<-ctx.Done()
	logger.Info("Shutting down...")
	return nil
}

// startWatcher watches dirs, writing sidecars for images that are already
// present and for every later change.
func startWatcher(ctx context.Context, cfg *config.Config, dirs []string, components *Components, logger *zap.Logger) (*watcher.Watcher, error) {
	writer := &sidecarWriter{ctx: ctx, svc: components.Service, logger: logger}
	w := watcher.New(dirs, cfg.Watch.Extensions, cfg.Watch.RecursiveOrDefault(),
		writer.Changed, writer.Removed, watcher.WithLogger(logger))
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	logger.Info("watching directories", zap.Strings("directories", w.Directories()))
	go func() {
		n := w.SyncExistingFiles(ctx)
		logger.Info("initial sync done", zap.Int("files", n))
	}()
	return w, nil
}

func closeComponents(c *Components, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := c.Close(ctx); err != nil {
		logger.Warn("shutdown cleanup failed", zap.Error(err))
	}
}

// printEncodeUsage prints encode subcommand usage.
func printEncodeUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: imgembed encode [flags] <image>\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Without --server the model is loaded in-process (slow to start). With
--server the image is uploaded to a running "imgembed server".

Examples:
  imgembed encode cat.jpg
  imgembed encode --server http://localhost:8001 --output json cat.jpg
`)
}

// runEncode embeds one file and prints the result. It returns the exit code.
func runEncode(args []string) int {
	fs := flag.NewFlagSet("encode", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (local mode)")
	serverURL := fs.String("server", "", "server URL; empty loads the model locally")
	output := fs.String("output", string(cli.OutputText), "output format: text or json")
	normalize := fs.Bool("normalize", false, "scale the vector to unit length")
	debug := fs.Bool("debug", false, "enable debug logging (local mode)")
	fs.Usage = func() { printEncodeUsage(fs) }
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}
	format, err := cli.ParseOutputFormat(*output)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	path := fs.Arg(0)
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", path, err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var resp *models.EmbeddingResponse
	if *serverURL != "" {
		resp, err = client.New(*serverURL, client.WithNormalize(*normalize)).Encode(ctx, path, data)
	} else {
		resp, err = encodeLocal(ctx, *configPath, *debug, *normalize, data)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Encode failed: %v\n", err)
		return 1
	}
	if err := cli.WriteResult(os.Stdout, path, resp, format); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write output: %v\n", err)
		return 1
	}
	return 0
}

func encodeLocal(ctx context.Context, configPath string, debug, normalize bool, data []byte) (*models.EmbeddingResponse, error) {
	cfg, _, err := loadConfig(configPath, true)
	if err != nil {
		return nil, err
	}
	if normalize {
		cfg.Embedding.Normalize = true
	}
	logger := zap.NewNop()
	if debug || cfg.Debug {
		if logger, err = utils.NewLogger(true); err != nil {
			return nil, err
		}
	}
	components, err := initializeComponents(ctx, cfg, logger, device.SystemProbe{})
	if err != nil {
		return nil, err
	}
	defer closeComponents(components, logger)

	res, err := components.Service.EncodeImage(ctx, data)
	if err != nil {
		return nil, err
	}
	return res.Response(""), nil
}

func printUsage() {
	fmt.Println(`imgembed - CLIP image embedding service

Usage:
  imgembed server [flags]            Start the HTTP server
  imgembed encode [flags] <image>    Embed one image and print the vector
  imgembed watch [flags] [dirs...]   Write <image>.embedding.json next to images in dirs
  imgembed version                   Show version
  imgembed help                      Show this help

Server / Watch Flags:
  --config string    Config file path (default: /usr/local/etc/imgembed/config.yaml)
  --debug            Enable debug logging

Encode Flags:
  --config string    Config file path (local mode)
  --server string    Server URL, e.g. http://localhost:8001. Empty loads the model locally.
  --output string    Output format: text or json (default: text)
  --normalize        Scale the vector to unit length

Endpoints (server):
  POST /clip/encode         multipart form, field "file"
  POST /api/v1/embeddings   raw image bytes
  GET  /api/v1/model        loaded model
  GET  /health
  GET  /metrics

Examples:
  imgembed server
  imgembed encode cat.jpg
  imgembed encode --server http://localhost:8001 --output json cat.jpg
  imgembed watch ~/Pictures`)
}
