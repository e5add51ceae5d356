// Command membank keeps agent notes files under a size threshold by
// archiving their content and preserving the lines that matter.
//
// The rotate command is the hook invoked by the agent runtime: it exits 0
// when nothing needed doing or the rotation succeeded, and non-zero with a
// single diagnostic line otherwise.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scrypster/membank/internal/archive"
	"github.com/scrypster/membank/internal/config"
	"github.com/scrypster/membank/internal/engine"
	"github.com/scrypster/membank/internal/index"
	"github.com/scrypster/membank/internal/logging"
	"github.com/scrypster/membank/internal/storage/sqlite"
	"github.com/scrypster/membank/pkg/types"
)

// app holds the global flags and the objects built from them.
type app struct {
	configPath string
	archiveDir string
	indexPath  string
	notesDir   string
	logLevel   string

	cfg    *config.Config
	logger *zap.Logger
	engine *engine.Engine
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute runs the command line and returns the exit code. A failure is
// reported as a single line on stderr. Teardown runs on every path since
// cobra skips post-run hooks when a command fails.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	a.teardown()
	if err != nil {
		fmt.Fprintf(stderr, "membank: %s\n", oneLine(err))
		return 1
	}
	return 0
}

func oneLine(err error) string {
	return strings.Join(strings.Fields(err.Error()), " ")
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "membank",
		Short:         "membank - notes rotation and archive for agent memory banks",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.ErrOrStderr())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "YAML config file (default: $MEMBANK_CONFIG)")
	flags.StringVar(&a.archiveDir, "archive-dir", "", "archive directory (default: <notes dir>/archive)")
	flags.StringVar(&a.indexPath, "index", "", "archive index file (default: <archive dir>/index.json)")
	flags.StringVar(&a.notesDir, "notes-dir", "", "notes directory (or file) whose archive the archive commands use (default: current directory)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		a.rotateCmd(),
		a.scoreCmd(),
		a.classifyCmd(),
		a.searchCmd(),
		a.statsCmd(),
		a.listCmd(),
		a.compactCmd(),
		a.pruneCmd(),
		a.reindexCmd(),
		a.recoverCmd(),
		a.watchCmd(),
	)
	return root
}

// setup loads .env, the configuration, the logger and the engine. Flags
// take precedence over the environment and the config file.
func (a *app) setup(logOut io.Writer) error {
	_ = godotenv.Load()

	path := a.configPath
	if path == "" {
		path = os.Getenv("MEMBANK_CONFIG")
	}
	cfg, err := config.LoadConfigFile(path)
	if err != nil {
		return err
	}
	if a.archiveDir != "" {
		cfg.Archive.Dir = a.archiveDir
	}
	if a.indexPath != "" {
		cfg.Archive.IndexPath = a.indexPath
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}

	logger, err := logging.NewTo(cfg.Logging, logOut)
	if err != nil {
		return err
	}

	eng, err := engine.New(cfg, engine.Options{Logger: logger})
	if err != nil {
		return err
	}

	a.cfg, a.logger, a.engine = cfg, logger, eng
	return nil
}

func (a *app) teardown() {
	if a.engine != nil {
		_ = a.engine.Close()
		a.engine = nil
	}
	if a.logger != nil {
		_ = a.logger.Sync()
		a.logger = nil
	}
}

// archiveHelp is appended to the help of commands that work on an archive
// directory rather than a notes file.
const archiveHelp = `
The archive directory is --archive-dir (or archive.dir / MEMBANK_ARCHIVE_DIR)
when set, otherwise <notes dir>/archive where the notes directory is
--notes-dir, defaulting to the current directory. Point --notes-dir at the
directory holding the notes files passed to "membank rotate".`

// archiveDirectory is the archive directory for commands that do not take
// a notes file.
func (a *app) archiveDirectory() string {
	dir := a.notesDir
	if dir == "" {
		dir = "."
	}
	if info, err := os.Stat(dir); err == nil && !info.IsDir() {
		return a.cfg.ArchiveDirFor(dir)
	}
	return a.cfg.ArchiveDirFor(filepath.Join(dir, "notes.md"))
}

func (a *app) rotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate <notes-file> [agent]",
		Short: "Rotate a notes file if it is over the threshold",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			agent := ""
			if len(args) == 2 {
				agent = args[1]
			}
			res, err := a.engine.RotateIfNeeded(cmd.Context(), args[0], agent)
			if err != nil {
				return err
			}
			if res.Rotated {
				fmt.Fprintln(cmd.OutOrStdout(), res.Summary())
			}
			return nil
		},
	}
}

func (a *app) scoreCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "score <file>",
		Short: "Print the importance score of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if !verbose {
				fmt.Fprintln(out, a.engine.Scorer().Score(args[0]))
				return nil
			}
			b, err := a.engine.Breakdown(args[0])
			if err != nil {
				if errors.Is(err, types.ErrFileNotFound) {
					fmt.Fprintln(out, types.ScoreMin)
					return nil
				}
				return err
			}
			fmt.Fprintf(out, "score: %d\n", b.Score)
			fmt.Fprintf(out, "critical: %t\nimportant: %t\nnormal: %t\ntemporary: %t\n",
				b.Critical, b.Important, b.Normal, b.Temporary)
			if d, err := a.engine.Evaluate(args[0]); err == nil {
				fmt.Fprintf(out, "lines: %d/%d (%s)\n", d.LineCount, d.Threshold, d.State())
			}
			if mf, err := a.engine.Inspect(args[0], ""); err == nil {
				fmt.Fprintf(out, "modified: %s\n", humanize.Time(mf.ModTime))
				if mf.HasBackup {
					fmt.Fprintln(out, "backup: a failed rotation left a backup (run membank recover)")
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show the score breakdown")
	return cmd
}

func (a *app) classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <text>",
		Short: "Print the category of a line of text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), a.engine.Classifier().Classify(strings.Join(args, " ")))
			return nil
		},
	}
}

func (a *app) searchCmd() *cobra.Command {
	var (
		agent    string
		limit    int
		fullText bool
	)
	cmd := &cobra.Command{
		Use:   "search <term>",
		Short: "Search archived notes",
		Long:  "Search archived notes.\n" + archiveHelp,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			term := ""
			if len(args) == 1 {
				term = args[0]
			}
			out := cmd.OutOrStdout()

			if fullText {
				hits, err := a.engine.FullTextSearch(cmd.Context(), a.archiveDirectory(), term, sqlite.SearchOptions{Agent: agent, Limit: limit})
				if err != nil {
					return err
				}
				for _, h := range hits {
					printEntry(out, h.Entry)
					if h.Snippet != "" {
						fmt.Fprintf(out, "    %s\n", strings.Join(strings.Fields(h.Snippet), " "))
					}
				}
				return nil
			}

			entries, err := a.engine.Search(cmd.Context(), a.archiveDirectory(), term, index.SearchOptions{Agent: agent, Limit: limit})
			if err != nil {
				return err
			}
			for _, e := range entries {
				printEntry(out, e)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "only entries of this agent")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of results (0 = all)")
	cmd.Flags().BoolVar(&fullText, "full-text", false, "search archived content through the catalog")
	return cmd
}

func printEntry(w io.Writer, e types.ArchiveEntry) {
	fmt.Fprintf(w, "%s  %-12s %s  [%s]  %s\n",
		e.Timestamp.Local().Format("2006-01-02 15:04"),
		e.Agent,
		e.ArchiveFile,
		strings.Join(e.Keywords, ","),
		e.ContentSummary)
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show archive statistics",
		Long:  "Show archive statistics.\n" + archiveHelp,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := a.engine.Stats(cmd.Context(), a.archiveDirectory())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if stats.Degraded {
				fmt.Fprintln(out, "warning: index unreadable, figures come from the archive files (run membank reindex)")
			}
			fmt.Fprintf(out, "archives: %d\n", stats.Count)
			fmt.Fprintf(out, "lines archived: %s\n", humanize.Comma(int64(stats.TotalOriginalSize)))
			fmt.Fprintf(out, "lines kept after rotation: %s\n", humanize.Comma(int64(stats.TotalArchivedSize)))
			if stats.TotalBytes > 0 {
				fmt.Fprintf(out, "bytes archived: %s\n", humanize.Bytes(uint64(stats.TotalBytes)))
			}
			if stats.Count > 0 {
				fmt.Fprintf(out, "first: %s (%s)\n", stats.First.Local().Format("2006-01-02 15:04"), humanize.Time(stats.First))
				fmt.Fprintf(out, "last: %s (%s)\n", stats.Last.Local().Format("2006-01-02 15:04"), humanize.Time(stats.Last))
			}
			if len(stats.TopKeywords) > 0 {
				parts := make([]string, len(stats.TopKeywords))
				for i, k := range stats.TopKeywords {
					parts[i] = fmt.Sprintf("%s(%d)", k.Keyword, k.Count)
				}
				fmt.Fprintf(out, "top keywords: %s\n", strings.Join(parts, " "))
			}
			return nil
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List index entries, oldest first",
		Long:  "List index entries, oldest first.\n" + archiveHelp,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := a.engine.List(cmd.Context(), a.archiveDirectory())
			if err != nil {
				return err
			}
			for _, e := range entries {
				printEntry(cmd.OutOrStdout(), e)
			}
			return nil
		},
	}
}

func (a *app) compactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Remove duplicate index entries and sort the index",
		Long:  "Remove duplicate index entries and sort the index.\n" + archiveHelp,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := a.engine.Compact(cmd.Context(), a.archiveDirectory())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "compacted index: %d duplicates removed\n", removed)
			return nil
		},
	}
}

func (a *app) pruneCmd() *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Keep the most recent archives and delete the rest",
		Long:  "Keep the most recent archives and delete the rest.\n" + archiveHelp,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("keep") {
				keep = a.cfg.Archive.Retention
			}
			res, err := a.engine.Cleanup(cmd.Context(), a.archiveDirectory(), keep)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d entries, deleted %d archives, freed %s\n",
				res.Pruned, res.FilesRemoved, humanize.Bytes(uint64(max(0, res.BytesBefore-res.BytesAfter))))
			return nil
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 0, "number of entries to keep (default: configured retention)")
	return cmd
}

func (a *app) reindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the index (and catalog) from the archive files",
		Long:  "Rebuild the index (and catalog) from the archive files.\n" + archiveHelp,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.engine.Reindex(cmd.Context(), a.archiveDirectory())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reindexed %d archives: %d kept, %d recovered, %d dropped, %d unreadable\n",
				res.Entries, res.Kept, res.Recovered, res.Dropped, res.Unreadable)
			return nil
		},
	}
}

func (a *app) recoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover <notes-file>",
		Short: "Restore a notes file from the backup of a failed rotation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			found, err := a.engine.Recover(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if found {
				fmt.Fprintf(out, "restored %s from backup\n", args[0])
			} else {
				fmt.Fprintf(out, "no backup for %s\n", args[0])
			}
			if stale, err := archive.StaleBackups(args[0]); err == nil && len(stale) > 0 {
				fmt.Fprintf(out, "older backups kept aside (review and delete by hand): %s\n", strings.Join(stale, " "))
			}
			return nil
		},
	}
}

func (a *app) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <dir>",
		Short: "Watch a memory directory and rotate notes files as they grow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.engine.Watch(cmd.Context(), args[0])
		},
	}
}
