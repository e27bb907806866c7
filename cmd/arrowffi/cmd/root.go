package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/VanDung-dev/arrow-wasm-ffi/config"
	"github.com/VanDung-dev/arrow-wasm-ffi/guest"
	"github.com/VanDung-dev/arrow-wasm-ffi/host"
	"github.com/VanDung-dev/arrow-wasm-ffi/server"
)

// app is the state shared by every command after flag parsing.
type app struct {
	configPath string
	output     string

	cfg    *config.Config
	logger *zap.Logger
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "arrowffi",
		Short: "Decode Arrow IPC data inside a WebAssembly sandbox",
		Long: `arrowffi decodes Arrow IPC streams and files with a sandboxed decoder
module and reads the results back through C Data Interface structures.

Without --wasm the decoder runs in-process through the same boundary.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "Path to a YAML config file")
	pf.StringVarP(&a.output, "output", "o", "text", "Output format (text, json)")
	pf.String("wasm", "", "Compiled decoder module; empty decodes in-process")
	pf.Int("instances", 0, "Number of pooled module instances")
	pf.String("log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(
		newTableCmd(a),
		newBatchCmd(a),
		newInspectCmd(a),
		newServeCmd(a),
		newGenerateCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads the config, overlays flags that were set explicitly and
// installs the logger.
func (a *app) setup(cmd *cobra.Command) error {
	if a.output != "text" && a.output != "json" {
		return fmt.Errorf("unknown output format %q", a.output)
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	var flagErr error
	cmd.Flags().Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "wasm":
			cfg.Guest.WasmPath = f.Value.String()
		case "instances":
			n, err := strconv.Atoi(f.Value.String())
			if err != nil {
				flagErr = err
				return
			}
			cfg.Guest.Instances = n
		case "log-level":
			cfg.Logging.Level = f.Value.String()
		}
	})
	if flagErr != nil {
		return flagErr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := cfg.Logging.Logger()
	if err != nil {
		return err
	}
	host.SetLogger(logger)
	guest.SetLogger(logger)
	server.SetLogger(logger)

	a.cfg = cfg
	a.logger = logger
	return nil
}

// decoder opens the configured decoder.
func (a *app) decoder(ctx context.Context, m *host.Metrics) (host.Decoder, error) {
	opts := []host.Option{
		host.WithInstances(a.cfg.Guest.Instances),
		host.WithMemoryLimitPages(a.cfg.Guest.MemoryLimitPages),
		host.WithStderr(os.Stderr),
	}
	if m != nil {
		opts = append(opts, host.WithMetrics(m))
	}
	if a.cfg.Logging.Level == "debug" {
		opts = append(opts, host.WithGuestEnv("ARROWFFI_GUEST_LOG", "debug"))
	}

	if a.cfg.Guest.WasmPath == "" {
		a.logger.Debug("using in-process decoder")
		return host.NewInProcess(opts...), nil
	}
	return host.Load(ctx, a.cfg.Guest.WasmPath, opts...)
}

// readInput reads path, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return data, nil
}
