package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gatewright/gatewright/pkg/config"
)

// rootOptions holds global flags shared by all commands.
type rootOptions struct {
	LogLevel    string
	ArchivePath string
	ProfileDir  string
	ProfileName string
	ShadowMode  bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	env := config.Load()
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "gatewright",
		Short:         "Governed admission pipeline",
		Long:          "gatewright validates, sandboxes, and commits knowledge-base updates under dual control with a verifiable provenance chain.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(opts.LogLevel)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", env.LogLevel, "log level (DEBUG|INFO|WARN|ERROR)")
	cmd.PersistentFlags().StringVar(&opts.ArchivePath, "archive", env.ArchivePath, "path to the archive database")
	cmd.PersistentFlags().StringVar(&opts.ProfileDir, "profile-dir", env.ProfileDir, "directory holding profile_<name>.yaml files")
	cmd.PersistentFlags().StringVar(&opts.ProfileName, "profile", env.ProfileName, "governance profile name")
	cmd.PersistentFlags().BoolVar(&opts.ShadowMode, "shadow", env.ShadowMode, "run cycles without committing or archiving")

	cmd.AddCommand(newDemoCommand(opts))
	cmd.AddCommand(newVerifyCommand())
	cmd.AddCommand(newArchiveCommand(opts))
	return cmd
}

func setupLogging(level string) error {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "INFO":
		lvl = slog.LevelInfo
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q", level)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
	return nil
}

// loadProfile resolves the active governance profile: the compiled-in default
// unless a named profile file exists.
func loadProfile(opts *rootOptions) (*config.Profile, error) {
	if opts.ProfileName == "" || opts.ProfileName == "default" {
		return config.DefaultProfile(), nil
	}
	return config.LoadProfile(opts.ProfileDir, opts.ProfileName)
}
