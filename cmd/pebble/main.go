package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"pebble/internal/config"
	"pebble/internal/errors"
	"pebble/internal/logging"
	"pebble/internal/project"
	"pebble/internal/registry"
	"pebble/internal/workspace"
)

var (
	configPath string
	logLevel   string

	cfg    *config.Config
	logger = logging.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "pebble",
	Short: "Pebble is a small local version control system",
	Long: `Pebble records snapshots of a working tree as a linear chain of throws.
Each throw stores the files that were added, modified or deleted since its
parent, so any earlier state of the tree can be rebuilt.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <home>/config.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger, err = logging.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	return nil
}

func projectOptions() project.Options {
	fs := afero.NewOsFs()
	return project.Options{
		FS:       fs,
		Registry: registry.NewFileRegistry(fs, cfg.Home),
		Logger:   logger.Logger,
		Config:   cfg,
	}
}

// openProject opens the project containing the current directory.
func openProject() (*project.Project, error) {
	dir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting current directory: %w", err)
	}
	root, err := workspace.FindRoot(afero.NewOsFs(), dir)
	if err != nil {
		return nil, err
	}
	return project.Open(root, projectOptions())
}

// absPaths resolves command line paths against the current directory so they
// mean the same thing from any subdirectory of the project.
func absPaths(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for _, a := range args {
		p, err := filepath.Abs(a)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", a, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// report prints err and returns the exit status for it. An empty operation
// is not a failure.
func report(w io.Writer, err error) int {
	if errors.Is(err, errors.KindEmptyOperation) {
		color.New(color.FgYellow).Fprintln(w, err)
		return 0
	}
	color.New(color.FgRed).Fprintf(w, "error: %v\n", err)
	return 1
}

func main() {
	err := rootCmd.Execute()
	logger.Sync()
	if err != nil {
		os.Exit(report(os.Stderr, err))
	}
}
