// Package main implements the luacov-instrument CLI
package main

import (
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/luakit/luacov-instrument/pkg/config"
	"github.com/luakit/luacov-instrument/pkg/errors"
	"github.com/luakit/luacov-instrument/pkg/instrument"
	"github.com/luakit/luacov-instrument/pkg/parser"
	"github.com/luakit/luacov-instrument/pkg/sourcemap"
	"github.com/luakit/luacov-instrument/pkg/ui"
)

var version = "0.2.0"

func main() {
	rootCmd := &cobra.Command{
		Use:          "luacov-instrument",
		Short:        "Source-to-source coverage instrumentation for Lua",
		Version:      version,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			ui.PrintHelp(version)
		},
	}

	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		ui.PrintHelp(version)
	})

	rootCmd.AddCommand(instrumentCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newInstrumenter builds the driver from config plus CLI overrides
func newInstrumenter(logLevel string, include, exclude []string) (*instrument.Instrumenter, error) {
	overrides := &config.Config{}
	overrides.Files.Include = include
	overrides.Files.Exclude = exclude

	cfg, err := config.Load(overrides)
	if err != nil {
		return nil, err
	}

	logger := instrument.NewLogger(logLevel, os.Stderr)
	return instrument.NewWithConfig(cfg, instrument.WithLogger(logger), instrument.WithBuildLog()), nil
}

func instrumentCmd() *cobra.Command {
	var (
		logLevel string
		include  []string
		exclude  []string
		keep     bool
	)

	cmd := &cobra.Command{
		Use:   "instrument <path>...",
		Short: "Instrument Lua files or directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := newInstrumenter(logLevel, include, exclude)
			if err != nil {
				ui.PrintError("%v", err)
				return err
			}
			if !keep {
				defer in.Shutdown()
			}

			instrumented, failed := 0, 0
			var firstErr error
			for _, path := range args {
				results, err := in.InstrumentTree(path)
				for _, res := range results {
					ui.PrintFilePair(res.SourceMap.Path, res.InstrumentedPath)
					instrumented++
				}
				if err != nil {
					printInstrumentError(err)
					failed++
					if firstErr == nil {
						firstErr = err
					}
				}
			}

			tempRoot := ""
			if keep {
				tempRoot = in.TempRootDir()
			}
			ui.PrintSummary(instrumented, failed, tempRoot)
			return firstErr
		},
	}

	cmd.Flags().StringVar(&logLevel, "log", "info", "log level: debug, info, warn, error")
	cmd.Flags().StringSliceVar(&include, "include", nil, "include file patterns (regex)")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "exclude file patterns (regex)")
	cmd.Flags().BoolVar(&keep, "keep", false, "keep instrumented files after exit")
	return cmd
}

// printInstrumentError renders parse failures as source snippets with a
// caret; everything else prints as a plain error line.
func printInstrumentError(err error) {
	var perr *parser.ParseError
	if stderrors.As(err, &perr) && perr.Path != "" {
		snippet := errors.NewSnippet(perr.Path, perr.Line, perr.Column, perr.Msg).
			WithAnnotation(string(perr.Kind) + " error")
		fmt.Print(snippet.Format())
		return
	}
	ui.PrintError("%v", err)
}

func validateCmd() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate <file.map>",
		Short: "Validate a serialized source map",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := sourcemap.NewValidatorFromFile(args[0])
			if err != nil {
				ui.PrintError("%v", err)
				return err
			}
			v.SetStrict(strict)

			result := v.Validate()
			for _, e := range result.Errors {
				ui.PrintError("[%s] %s", e.Type, e.Message)
			}
			for _, w := range result.Warnings {
				ui.PrintWarning("[%s] %s", w.Type, w.Message)
			}
			if !result.Valid {
				return fmt.Errorf("source map is invalid (%d error(s))", len(result.Errors))
			}
			ui.PrintSuccess("valid: %d mapping(s), round-trip accuracy %.1f%%",
				result.TotalMappings, result.Accuracy)
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "treat warnings as errors")
	return cmd
}

func watchCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Re-instrument Lua files as they change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := newInstrumenter(logLevel, nil, nil)
			if err != nil {
				return err
			}
			defer in.Shutdown()

			logger := instrument.NewLogger(logLevel, os.Stderr)
			watcher, err := instrument.NewFileWatcher(args[0], logger, func(path string) {
				if res, err := in.InstrumentFile(path); err != nil {
					ui.PrintError("%s: %v", path, err)
				} else {
					ui.PrintFilePair(path, res.InstrumentedPath)
				}
			})
			if err != nil {
				return err
			}
			defer watcher.Close()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			<-sig
			return nil
		},
	}

	cmd.Flags().StringVar(&logLevel, "log", "info", "log level: debug, info, warn, error")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("luacov-instrument %s\n", version)
		},
	}
}
