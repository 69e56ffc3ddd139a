// Command neromon runs the daemon: the DHT peer node, client bridge, and
// debug HTTP surface described in spec.md. Grounded on the teacher's
// cmd/synnergy/main.go cobra-root-command wiring and cmd/cli/kademlia.go's
// PersistentFlags-plus-PersistentPreRunE init idiom.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"neromon/internal/config"
	"neromon/internal/daemon"
)

const bootstrapFileFlagName = "bootstrap-file"

// Exit codes per spec.md §6 "CLI surface (daemon)".
const (
	exitOK           = 0
	exitConfigError  = 1
	exitPortInUse    = 2
	exitStorageFatal = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath     string
		listenEndpoint string
		dataDir        string
		bootstrap      []string
		bootstrapFile  string
		logLevel       string
	)

	log := logrus.StandardLogger()

	root := &cobra.Command{
		Use:   "neromon",
		Short: "neromon runs a decentralized marketplace DHT daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return &startupError{code: exitConfigError, err: err}
			}
			if listenEndpoint != "" {
				cfg.Network.ListenEndpoint = listenEndpoint
			}
			if dataDir != "" {
				cfg.Storage.DataDir = dataDir
			}
			if len(bootstrap) > 0 {
				cfg.Network.BootstrapPeers = bootstrap
			}
			if bootstrapFile != "" {
				raw, err := os.ReadFile(bootstrapFile)
				if err != nil {
					return &startupError{code: exitConfigError, err: err}
				}
				peers, err := config.ParseBootstrapList(raw)
				if err != nil {
					return &startupError{code: exitConfigError, err: err}
				}
				cfg.Network.BootstrapPeers = append(cfg.Network.BootstrapPeers, peers...)
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}

			d, err := daemon.New(cfg, log)
			if err != nil {
				return &startupError{code: exitStorageFatal, err: err}
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := d.Run(ctx); err != nil {
				return &startupError{code: classifyRunError(err), err: err}
			}
			return nil
		},
	}

	root.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.Flags().StringVar(&listenEndpoint, "listen", "", "peer listen endpoint (overrides config)")
	root.Flags().StringVar(&dataDir, "data-dir", "", "data directory (overrides config)")
	root.Flags().StringArrayVar(&bootstrap, "bootstrap", nil, "bootstrap peer endpoint (repeatable)")
	root.Flags().StringVar(&bootstrapFile, bootstrapFileFlagName, "", "YAML file listing additional bootstrap peer endpoints")
	root.Flags().StringVar(&logLevel, "log-level", "", "log level (overrides config)")

	if err := root.Execute(); err != nil {
		var se *startupError
		if errors.As(err, &se) {
			log.WithError(se.err).Error("neromon: startup failed")
			return se.code
		}
		log.WithError(err).Error("neromon: fatal error")
		return exitStorageFatal
	}
	return exitOK
}

// startupError carries the exit code a failure at a specific stage should
// produce (spec.md §6: 1 config error, 2 port in use, 3 fatal storage).
type startupError struct {
	code int
	err  error
}

func (e *startupError) Error() string { return e.err.Error() }
func (e *startupError) Unwrap() error { return e.err }

func classifyRunError(err error) int {
	if isAddrInUse(err) {
		return exitPortInUse
	}
	return exitStorageFatal
}

func isAddrInUse(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "address already in use") || strings.Contains(err.Error(), "bind:"))
}
