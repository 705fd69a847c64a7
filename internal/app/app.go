package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"mail-chat-bridge-go/internal/config"
)

// Exit codes of the binary
const (
	ExitOK    = 0
	ExitError = 2
)

const stopTimeout = 30 * time.Second

// Execute runs the command line and returns the process exit code
func Execute() int {
	if err := newRootCmd().Execute(); err != nil {
		logrus.Errorf("application error: %v", err)
		return ExitError
	}
	return ExitOK
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mail-chat-bridge",
		Short:         "Relay unread mail and its attachments to a chat channel",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "start <config-file>",
			Short: "Start a worker for every enabled account",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return start(args[0])
			},
		},
		&cobra.Command{
			Use:   "stop <config-file>",
			Short: "Stop the running bridge",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return stop(args[0], false)
			},
		},
		&cobra.Command{
			Use:   "restart <config-file>",
			Short: "Stop the running bridge, then start it again",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := stop(args[0], true); err != nil {
					return err
				}
				return start(args[0])
			},
		},
	)

	return root
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func start(path string) error {
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}

	if err := acquirePID(cfg.Runtime.PidFile); err != nil {
		return err
	}
	defer releasePID(cfg.Runtime.PidFile)

	return Run(cfg)
}

func stop(path string, quiet bool) error {
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}

	err = signalStop(cfg.Runtime.PidFile, stopTimeout)
	switch {
	case errors.Is(err, errNotRunning):
		if !quiet {
			logrus.Warnf("No running process recorded in %s", cfg.Runtime.PidFile)
		}
		return nil
	case err != nil:
		return err
	}

	logrus.Info("Mail chat bridge stopped")
	return nil
}
