// Command aethervault is the CLI surface over the Vault API: one subcommand
// per spec.md §6 method, sharing the exit-code contract (0 success, 1
// generic error, 2 invalid arguments, 3 capsule corrupt, 4 lock busy, 5
// version unsupported) so downstream scripts can branch on $?.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"

	"github.com/sunilkgrao/aethervault/internal/config"
	"github.com/sunilkgrao/aethervault/internal/types"
)

const (
	exitOK = iota
	exitGeneric
	exitBadArgs
	exitCorrupt
	exitLockBusy
	exitUnsupportedVersion
)

// globalFlags mirrors the CLI contract's cross-command flags.
type globalFlags struct {
	jsonOut  bool
	files    bool
	logQuery bool
	prefix   string
	topK     int
	plan     bool
	maxBytes int
}

func main() {
	os.Exit(run())
}

func run() int {
	var gf globalFlags
	var ambient config.Ambient
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))

	root := &cobra.Command{
		Use:           "aethervault",
		Short:         "Single-file memory capsule storage engine for AI agents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			ambient = a
			logger = levelLogger(logger, ambient.LogLevel)
			return nil
		},
	}
	config.RegisterFlags(root.PersistentFlags())
	root.PersistentFlags().BoolVar(&gf.jsonOut, "json", false, "emit structured JSON output")
	root.PersistentFlags().BoolVar(&gf.files, "files", false, "emit tab-separated score/frame_id/uri/title rows")
	root.PersistentFlags().BoolVar(&gf.logQuery, "log", false, "append the query and its results as an audit frame")
	root.PersistentFlags().StringVarP(&gf.prefix, "collection", "c", "", "restrict to a uri prefix")
	root.PersistentFlags().IntVarP(&gf.topK, "top-k", "n", 10, "number of results to return")
	root.PersistentFlags().BoolVar(&gf.plan, "plan", false, "include the retrieval plan in context output")
	root.PersistentFlags().IntVar(&gf.maxBytes, "max-bytes", 8192, "byte budget for context bundles")

	root.AddCommand(
		newInitCmd(&gf, logger),
		newOpenCmd(&gf, logger),
		newPutCmd(&gf, logger),
		newGetCmd(&gf, logger),
		newDeleteCmd(&gf, logger),
		newSearchCmd(&gf, logger),
		newContextCmd(&gf, logger),
		newEmbedFramesCmd(&gf, logger),
		newFeedbackCmd(&gf, logger),
		newLogCmd(&gf, logger),
		newConfigGetCmd(&gf, logger),
		newConfigSetCmd(&gf, logger),
		newDiffCmd(&gf, logger),
		newMergeCmd(&gf, logger),
		newCompactCmd(&gf, logger),
		newDoctorCmd(&gf, logger),
		newStatusCmd(&gf, logger),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "aethervault:", err)
		return exitCodeFor(err)
	}
	return exitOK
}

func levelLogger(base log.Logger, lvl string) log.Logger {
	switch lvl {
	case "debug":
		return level.NewFilter(base, level.AllowDebug())
	case "warn":
		return level.NewFilter(base, level.AllowWarn())
	case "error":
		return level.NewFilter(base, level.AllowError())
	default:
		return level.NewFilter(base, level.AllowInfo())
	}
}

// exitCodeFor maps a returned error to the CLI's stable exit-code contract.
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, errBadArgs):
		return exitBadArgs
	case errors.Is(err, types.ErrLockBusy):
		return exitLockBusy
	case errors.Is(err, types.ErrUnsupportedVersion):
		return exitUnsupportedVersion
	case errors.Is(err, types.ErrBadMagic),
		errors.Is(err, types.ErrHeaderCorrupt),
		errors.Is(err, types.ErrTocMismatch):
		return exitCorrupt
	default:
		var walErr *types.WalCorruptError
		if errors.As(err, &walErr) {
			return exitCorrupt
		}
		return exitGeneric
	}
}

var errBadArgs = errors.New("invalid arguments")
