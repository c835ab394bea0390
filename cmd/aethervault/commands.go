package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sunilkgrao/aethervault"
	"github.com/sunilkgrao/aethervault/internal/lex"
	"github.com/sunilkgrao/aethervault/internal/maintenance"
	"github.com/sunilkgrao/aethervault/internal/pipeline"
	"github.com/sunilkgrao/aethervault/internal/types"
)

func emit(gf *globalFlags, v interface{}) {
	if gf.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(v)
		return
	}
	fmt.Println(v)
}

func emitResults(gf *globalFlags, results []pipeline.Result) {
	if gf.jsonOut {
		emit(gf, results)
		return
	}
	if gf.files {
		for _, r := range results {
			fmt.Printf("%.4f\t%d\t%s\t%s\n", r.Score, r.FrameID, r.URI, r.Title)
		}
		return
	}
	for _, r := range results {
		fmt.Printf("%3d  %.4f  %-10d  %-40s  %s\n", r.Rank, r.Score, r.FrameID, r.URI, r.Title)
	}
}

func filtersFromFlags(gf *globalFlags) lex.Filters {
	return lex.Filters{URIPrefix: gf.prefix}
}

func openForWrite(logger log.Logger, path string) (*aethervault.Vault, error) {
	return aethervault.Open(path, aethervault.ModeWrite, aethervault.Options{Logger: logger})
}

func openForRead(logger log.Logger, path string) (*aethervault.Vault, error) {
	return aethervault.Open(path, aethervault.ModeRead, aethervault.Options{Logger: logger})
}

func newInitCmd(gf *globalFlags, logger log.Logger) *cobra.Command {
	var capacity int64
	var walSize uint64
	cmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Create an empty capsule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := aethervault.Init(args[0], aethervault.Options{
				Capacity: capacity, WalSizeOverride: walSize, Logger: logger,
			})
			if err != nil {
				return err
			}
			defer v.Close()
			emit(gf, fmt.Sprintf("initialized %s", args[0]))
			return nil
		},
	}
	cmd.Flags().Int64Var(&capacity, "capacity", 0, "expected eventual capsule size, sizes the wal_size_class")
	cmd.Flags().Uint64Var(&walSize, "wal-size", 0, "explicit wal region size, overrides --capacity sizing")
	return cmd
}

func newOpenCmd(gf *globalFlags, logger log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "open <path>",
		Short: "Open a capsule and report its status (a liveness check)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openForRead(logger, args[0])
			if err != nil {
				return err
			}
			defer v.Close()
			emit(gf, v.Status())
			return nil
		},
	}
}

func newPutCmd(gf *globalFlags, logger log.Logger) *cobra.Command {
	var title, tagsRaw, encodingName, file string
	cmd := &cobra.Command{
		Use:   "put <path> <uri>",
		Short: "Append a frame at uri",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload []byte
			var err error
			if file != "" {
				payload, err = os.ReadFile(file)
			} else {
				payload, err = readAllStdin()
			}
			if err != nil {
				return err
			}

			v, err := openForWrite(logger, args[0])
			if err != nil {
				return err
			}
			defer v.Close()

			id, err := v.Put(args[1], payload, aethervault.PutOptions{
				Title:    title,
				Tags:     parseTags(tagsRaw),
				Encoding: encodingFromFlag(encodingName),
			})
			if err != nil {
				return err
			}
			if err := v.Commit(); err != nil {
				return err
			}
			emit(gf, fmt.Sprintf("frame_id=%d", id))
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "frame title")
	cmd.Flags().StringVar(&tagsRaw, "tags", "", "comma-separated key=value tags")
	cmd.Flags().StringVar(&encodingName, "encoding", "raw", "payload encoding: raw, lz4, zstd")
	cmd.Flags().StringVar(&file, "file", "", "read payload from file instead of stdin")
	return cmd
}

func newGetCmd(gf *globalFlags, logger log.Logger) *cobra.Command {
	var asOf uint64
	cmd := &cobra.Command{
		Use:   "get <path> <uri>",
		Short: "Fetch the active frame at uri",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openForRead(logger, args[0])
			if err != nil {
				return err
			}
			defer v.Close()

			f, err := v.GetByURI(args[1], types.FrameID(asOf))
			if err != nil {
				return err
			}
			if gf.jsonOut {
				emit(gf, f)
				return nil
			}
			os.Stdout.Write(f.Payload)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&asOf, "as-of", 0, "resolve the frame active as of this frame_id")
	return cmd
}

func newDeleteCmd(gf *globalFlags, logger log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <path> <uri>",
		Short: "Tombstone the active frame at uri",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openForWrite(logger, args[0])
			if err != nil {
				return err
			}
			defer v.Close()
			if err := v.Delete(args[1]); err != nil {
				return err
			}
			if err := v.Commit(); err != nil {
				return err
			}
			emit(gf, "deleted")
			return nil
		},
	}
}

func newSearchCmd(gf *globalFlags, logger log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "search <path> <query>",
		Short: "Run the hybrid retrieval pipeline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openForRead(logger, args[0])
			if err != nil {
				return err
			}
			defer v.Close()

			results, err := v.Search(context.Background(), args[1], aethervault.SearchOptions{
				TopK: gf.topK, Filters: filtersFromFlags(gf),
			})
			if err != nil {
				return err
			}
			emitResults(gf, results)
			if gf.logQuery {
				logQueryTrace(v, args[1], results)
			}
			return nil
		},
	}
}

func newContextCmd(gf *globalFlags, logger log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "context <path> <query>",
		Short: "Pack search results into a byte-budgeted context bundle",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openForRead(logger, args[0])
			if err != nil {
				return err
			}
			defer v.Close()

			b, err := v.Context(context.Background(), args[1], aethervault.ContextOptions{
				TopK: gf.topK, Filters: filtersFromFlags(gf), MaxBytes: gf.maxBytes,
			})
			if err != nil {
				return err
			}
			if gf.jsonOut {
				emit(gf, b)
				return nil
			}
			if gf.plan {
				fmt.Println(b.Plan)
			}
			emitResults(gf, b.Results)
			return nil
		},
	}
}

func newEmbedFramesCmd(gf *globalFlags, logger log.Logger) *cobra.Command {
	var batchSize int
	cmd := &cobra.Command{
		Use:   "embed-frames <path>",
		Short: "Precompute vectors for frames matching --collection via the embed hook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openForWrite(logger, args[0])
			if err != nil {
				return err
			}
			defer v.Close()

			n, err := v.EmbedFrames(context.Background(), filtersFromFlags(gf), batchSize)
			if err != nil {
				return err
			}
			emit(gf, fmt.Sprintf("embedded=%d", n))
			return nil
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 32, "frames embedded per hook round")
	return cmd
}

func newFeedbackCmd(gf *globalFlags, logger log.Logger) *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "feedback <path> <uri> <score>",
		Short: "Record a feedback score in [-1, 1] for the frame active at uri",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			score, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("%w: score must be a float: %v", errBadArgs, err)
			}
			v, err := openForWrite(logger, args[0])
			if err != nil {
				return err
			}
			defer v.Close()
			id, err := v.Feedback(args[1], score, note)
			if err != nil {
				return err
			}
			emit(gf, fmt.Sprintf("frame_id=%d", id))
			return nil
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "free-text note attached to the feedback frame")
	return cmd
}

func newLogCmd(gf *globalFlags, logger log.Logger) *cobra.Command {
	var session, role string
	cmd := &cobra.Command{
		Use:   "log <path> <text>",
		Short: "Append an agent-log frame",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if session == "" {
				session = uuid.NewString()
			}
			v, err := openForWrite(logger, args[0])
			if err != nil {
				return err
			}
			defer v.Close()
			id, err := v.Log(session, role, args[1])
			if err != nil {
				return err
			}
			emit(gf, fmt.Sprintf("frame_id=%d session=%s", id, session))
			return nil
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "session id; a fresh uuid is generated if omitted")
	cmd.Flags().StringVar(&role, "role", "agent", "role recorded on the log frame: agent, user, system")
	return cmd
}

func newConfigGetCmd(gf *globalFlags, logger log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "config-get <path> <key>",
		Short: "Read an in-capsule config value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openForRead(logger, args[0])
			if err != nil {
				return err
			}
			defer v.Close()
			val, err := v.ConfigGet(args[1])
			if err != nil {
				return err
			}
			emit(gf, val)
			return nil
		},
	}
}

func newConfigSetCmd(gf *globalFlags, logger log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "config-set <path> <key> <value_json>",
		Short: "Write an in-capsule config value",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openForWrite(logger, args[0])
			if err != nil {
				return err
			}
			defer v.Close()
			if err := v.ConfigSet(args[1], args[2]); err != nil {
				return err
			}
			emit(gf, "set")
			return nil
		},
	}
}

func newDiffCmd(gf *globalFlags, logger log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <path-a> <path-b>",
		Short: "Show the set-theoretic difference between two capsules",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openForRead(logger, args[0])
			if err != nil {
				return err
			}
			defer a.Close()
			b, err := openForRead(logger, args[1])
			if err != nil {
				return err
			}
			defer b.Close()

			d := a.Diff(b)
			if gf.jsonOut {
				emit(gf, d)
				return nil
			}
			fmt.Printf("only_in_a=%d only_in_b=%d modified=%d config_changed=%d\n",
				len(d.OnlyInA), len(d.OnlyInB), len(d.Modified), len(d.Config))
			return nil
		},
	}
}

func newMergeCmd(gf *globalFlags, logger log.Logger) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "merge <path-a> <path-b> <out>",
		Short: "Three-way merge two capsules into a fresh output capsule",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openForRead(logger, args[0])
			if err != nil {
				return err
			}
			defer a.Close()
			b, err := openForRead(logger, args[1])
			if err != nil {
				return err
			}
			defer b.Close()

			result, err := a.Merge(b, args[2], force)
			if err != nil {
				return err
			}
			if gf.jsonOut {
				emit(gf, result)
				return nil
			}
			fmt.Printf("merged frames=%d conflicts=%d\n", len(result.Frames), len(result.Conflicts))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "elect b's frame as active on conflict instead of a's")
	return cmd
}

func newCompactCmd(gf *globalFlags, logger log.Logger) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "compact <path>",
		Short: "Rewrite the capsule, dropping tombstones and superseded segments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openForWrite(logger, args[0])
			if err != nil {
				return err
			}
			defer v.Close()
			result, err := v.Compact(dryRun)
			if err != nil {
				return err
			}
			if gf.jsonOut {
				emit(gf, result)
				return nil
			}
			fmt.Printf("live=%d dropped=%d applied=%v\n", len(result.LiveFrames), result.Dropped, result.Applied)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report the compaction plan without applying it")
	return cmd
}

func newDoctorCmd(gf *globalFlags, logger log.Logger) *cobra.Command {
	var opts maintenance.DoctorOptions
	cmd := &cobra.Command{
		Use:   "doctor <path>",
		Short: "Verify capsule integrity and optionally repair it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := aethervault.ModeWrite
			if opts.DryRun {
				mode = aethervault.ModeRead
			}
			v, err := aethervault.Open(args[0], mode, aethervault.Options{Logger: logger})
			if err != nil {
				return err
			}
			defer v.Close()

			report, err := v.Doctor(opts)
			if err != nil {
				return err
			}
			if gf.jsonOut {
				emit(gf, report)
				return nil
			}
			emit(gf, report.String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.Deep, "deep", false, "verify every payload checksum")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report issues without repairing them")
	cmd.Flags().BoolVar(&opts.Vacuum, "vacuum", false, "reclaim unreferenced segment space")
	cmd.Flags().BoolVar(&opts.RebuildLex, "rebuild-lex", false, "rebuild the lexical index")
	cmd.Flags().BoolVar(&opts.RebuildVec, "rebuild-vec", false, "rebuild the vector index")
	cmd.Flags().BoolVar(&opts.RebuildTime, "rebuild-time", false, "rebuild the time index")
	return cmd
}

func newStatusCmd(gf *globalFlags, logger log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "status <path>",
		Short: "Report frame counts, WAL state, and TOC revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openForRead(logger, args[0])
			if err != nil {
				return err
			}
			defer v.Close()
			emit(gf, v.Status())
			return nil
		},
	}
}

func logQueryTrace(v *aethervault.Vault, query string, results []pipeline.Result) {
	trace := struct {
		Query     string            `json:"query"`
		Results   []pipeline.Result `json:"results"`
		Params    pipeline.Config   `json:"params"`
		Timestamp int64             `json:"timestamp"`
	}{Query: query, Results: results, Params: v.PipelineConfig(), Timestamp: time.Now().Unix()}
	body, err := json.Marshal(trace)
	if err != nil {
		return
	}
	uri := types.Build(types.SchemeVault, "agent-log", fmt.Sprintf("query-trace/%d", time.Now().UnixNano()))
	if _, err := v.Put(uri, body, aethervault.PutOptions{Kind: types.KindQueryTrace}); err != nil {
		return
	}
	_ = v.Commit()
}

func parseTags(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	out := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[kv[0]] = kv[1]
	}
	return out
}

func encodingFromFlag(name string) types.Encoding {
	switch name {
	case "lz4":
		return types.EncodingLZ4
	case "zstd":
		return types.EncodingZstd
	default:
		return types.EncodingRaw
	}
}

func readAllStdin() ([]byte, error) {
	st, err := os.Stdin.Stat()
	if err == nil && (st.Mode()&os.ModeCharDevice) != 0 {
		return nil, fmt.Errorf("%w: no --file given and stdin is a terminal", errBadArgs)
	}
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}
	return buf, nil
}
