// Package main implements the lessond CLI for lesson retrieval and capture.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nivantalabs/lessond/internal/config"
	"github.com/nivantalabs/lessond/internal/embeddings"
	"github.com/nivantalabs/lessond/internal/localstore"
	"github.com/nivantalabs/lessond/internal/logging"
	"github.com/nivantalabs/lessond/internal/remotestore"
	"github.com/nivantalabs/lessond/internal/retrieval"
)

var (
	configPath string
	outputJSON bool

	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lessond",
	Short: "Retrieve and capture lessons learned from past projects",
	Long: `lessond ranks lessons learned from past projects against the current
project context and surfaces the most relevant ones, blending semantic
similarity with metadata matching and accumulated confidence.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/lessond/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output results as JSON")
}

// app bundles everything a command needs, plus shutdown.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	bridge *retrieval.Bridge

	local    *localstore.Store
	remote   remotestore.Store
	embedder embeddings.Provider
}

// newApp loads config and wires the retrieval bridge. Remote store and
// embedding provider failures are downgraded to warnings; the commands keep
// working against the local corpus.
func newApp() (*app, error) {
	if err := config.EnsureConfigDir(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	var localOpts []localstore.Option
	if cfg.Local.Watch {
		localOpts = append(localOpts, localstore.WithWatcher())
	}
	local, err := localstore.Open(cfg.Local.Path, logger, localOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open local corpus: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, local: local}

	opts := []retrieval.Option{
		retrieval.WithLogger(logger),
		retrieval.WithWeights(cfg.Scoring),
		retrieval.WithTimeout(cfg.Retrieval.Timeout),
	}

	remote, err := remotestore.New(cfg.Remote, logger)
	if err != nil {
		logger.Warn("remote store unavailable, continuing local only", zap.Error(err))
	} else if remote != nil {
		a.remote = remote
		opts = append(opts, retrieval.WithRemote(remote))
	}

	embedder, err := embeddings.NewProvider(cfg.Embeddings)
	if err != nil {
		logger.Warn("embedding provider unavailable, keyword retrieval only", zap.Error(err))
	} else {
		a.embedder = embedder
		opts = append(opts, retrieval.WithEmbedder(embedder))
	}

	a.bridge = retrieval.New(local, opts...)
	return a, nil
}

// close drains pending counter updates and releases every backend.
func (a *app) close() {
	a.bridge.WaitForTracking()
	if a.embedder != nil {
		if err := a.embedder.Close(); err != nil {
			a.logger.Warn("failed to close embedding provider", zap.Error(err))
		}
	}
	if a.remote != nil {
		if err := a.remote.Close(); err != nil {
			a.logger.Warn("failed to close remote store", zap.Error(err))
		}
	}
	if err := a.local.Close(); err != nil {
		a.logger.Warn("failed to close local corpus", zap.Error(err))
	}
	_ = logging.Sync(a.logger)
}
