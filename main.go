// Copyright (c) 2025 HostPulse authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hostpulse/internal/config"
	"hostpulse/internal/handlers"
	"hostpulse/internal/sampler"
	"hostpulse/internal/server"
	"hostpulse/internal/stats"
	"hostpulse/internal/telemetry"
	"hostpulse/internal/tui"
	"hostpulse/internal/watcher"
	"hostpulse/web"
)

const shutdownTimeout = 5 * time.Second

var (
	v          = viper.New()
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "hostpulse",
	Short: "Stream live host CPU and memory usage to browsers",
	Long: `hostpulse samples CPU and memory usage in the background and pushes
every sample to connected dashboards over WebSocket.

Examples:
  hostpulse
  hostpulse serve --port 9000 --static-dir ./web
  hostpulse serve --source node_exporter --node-exporter-url http://db1:9100/metrics
  hostpulse watch ws://127.0.0.1:8082/realtime/cpus
  HOSTPULSE_PORT=9000 hostpulse`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sampler and the HTTP/WebSocket server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Take one sample and print it as JSON",
	Args:  cobra.NoArgs,
	RunE:  runSample,
}

var watchCmd = &cobra.Command{
	Use:   "watch [stream-url]",
	Short: "Render a stream endpoint in the terminal",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWatch,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(v, configPath)
		if err != nil {
			return err
		}
		out, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "hostpulse version %s\n", handlers.BackendVersion)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ~/.hostpulse/config.yaml)")

	// server flags live on root too, so a bare `hostpulse` accepts them
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd, sampleCmd} {
		f := cmd.Flags()
		f.String("host", "", "host interface to listen on")
		f.Int("port", 0, "port to listen on")
		f.String("static-dir", "", "serve dashboard assets from this directory (enables live reload)")
		f.Duration("sample-interval", 0, "time between samples (raised to the source minimum)")
		f.String("source", "", "metrics source: local or node_exporter")
		f.String("node-exporter-url", "", "node_exporter metrics URL for --source node_exporter")
		f.String("log-level", "", "log level (debug, info, warn, error)")
		f.String("log-format", "", "log format (text or json)")
	}
	rootCmd.PreRunE = bindFlags
	serveCmd.PreRunE = bindFlags
	sampleCmd.PreRunE = bindFlags

	rootCmd.AddCommand(serveCmd, sampleCmd, watchCmd, configCmd, versionCmd)
}

// bindFlags maps dashed flag names onto viper keys for the running command.
func bindFlags(cmd *cobra.Command, args []string) error {
	for _, name := range []string{"host", "port", "static-dir", "sample-interval", "source", "node-exporter-url", "log-level", "log-format"} {
		key := flagKey(name)
		if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("binding flag %s: %w", name, err)
		}
	}
	return nil
}

func flagKey(name string) string {
	b := []byte(name)
	for i := range b {
		if b[i] == '-' {
			b[i] = '_'
		}
	}
	return string(b)
}

func newLogger(cfg *config.Config) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	log.SetLevel(level)
	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}

func newSource(cfg *config.Config) stats.Source {
	if cfg.Source == config.SourceNodeExporter {
		return stats.NewNodeExporterSource(cfg.NodeExporterURL)
	}
	return stats.NewLocalSource()
}

func setup() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(v, configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"version": handlers.BackendVersion, "source": cfg.Source}).Info("hostpulse starting")

	metrics := telemetry.New()
	topics := sampler.NewTopics()
	smp := sampler.New(newSource(cfg), topics, cfg.SampleInterval, log, metrics)

	var assets fs.FS = web.Assets
	var w *watcher.Service
	if cfg.StaticDir != "" {
		abs, err := filepath.Abs(cfg.StaticDir)
		if err != nil {
			return fmt.Errorf("invalid static_dir: %w", err)
		}
		assets = os.DirFS(abs)
		log.WithField("dir", abs).Info("serving static assets")
		if w, err = watcher.New(abs, log); err != nil {
			log.WithError(err).Warn("live reload disabled")
		} else if err := w.Start(); err != nil {
			log.WithError(err).Warn("live reload disabled")
			w.Stop()
			w = nil
		}
	}

	srv := server.New(cfg.ListenAddr(), assets, topics, metrics, w, log)
	srv.WriteTimeout = cfg.WriteTimeout
	srv.Routes()
	if _, err := srv.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	samplerDone := smp.Start(ctx)

	<-ctx.Done()
	log.Info("shutdown signal received, shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("error during server shutdown")
	}
	<-samplerDone
	return nil
}

type sampleOutput struct {
	CPU    stats.CPUSnapshot    `json:"cpu"`
	Memory stats.MemorySnapshot `json:"memory"`
}

func runSample(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	topics := sampler.NewTopics()
	smp := sampler.New(newSource(cfg), topics, cfg.SampleInterval, log, telemetry.New())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// the first tick only primes delta-based sources
	_ = smp.Tick(ctx)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(smp.Interval()):
	}
	if err := smp.Tick(ctx); err != nil {
		return err
	}

	var out sampleOutput
	out.CPU, _ = topics.CPU.Latest()
	out.Memory, _ = topics.Memory.Latest()
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func runWatch(cmd *cobra.Command, args []string) error {
	url := "ws://127.0.0.1:8082/realtime/cpus"
	if len(args) == 1 {
		url = args[0]
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return tui.Watch(ctx, url, cmd.OutOrStdout(), tui.TerminalWidth())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
