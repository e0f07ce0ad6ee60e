package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tsoflow/internal/agentloop"
	"tsoflow/internal/dispatch"
	"tsoflow/internal/fingerprint"
	"tsoflow/internal/flow"
	"tsoflow/internal/golden"
	"tsoflow/internal/replay"
	"tsoflow/internal/session"
	"tsoflow/internal/transcript"
)

const defaultHost = "127.0.0.1:3270"

var (
	trace  bool
	logger *slog.Logger
)

func main() {
	root := &cobra.Command{
		Use:           "tsoflow",
		Short:         "Drive TSO/ISPF sessions with declarative flows",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if trace {
				level = slog.LevelDebug
			}
			logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(logger)
		},
	}
	root.PersistentFlags().BoolVar(&trace, "trace", false, "enable debug logging")

	root.AddCommand(runCmd())
	root.AddCommand(agentCmd())
	root.AddCommand(goldensCmd())
	root.AddCommand(replayCmd())
	root.AddCommand(screenCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var (
		host          string
		envPairs      []string
		flowsDir      string
		goldensDir    string
		logsDir       string
		saveGoldens   bool
		assertGoldens bool
	)

	cmd := &cobra.Command{
		Use:   "run <flow.yaml>",
		Short: "Execute a flow against a live session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := flow.Load(args[0])
			if err != nil {
				return err
			}
			if flowsDir == "" {
				flowsDir = filepath.Dir(args[0])
			}

			env := environMap(os.Environ())
			for _, pair := range envPairs {
				k, v, ok := strings.Cut(pair, "=")
				if !ok {
					return fmt.Errorf("--env %q: want KEY=VALUE", pair)
				}
				env[k] = v
			}

			driver := session.NewS3270(session.WithLogger(logger))
			ctx := context.Background()
			if err := driver.Connect(ctx, resolveHost(host)); err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer driver.Disconnect()

			logs := resolveLogsDir(logsDir)
			tl, err := transcript.Open(logs, f.Name)
			if err != nil {
				return err
			}
			defer tl.Close()

			eng := flow.New(flow.Config{
				Driver:  driver,
				Goldens: golden.NewStore(resolveGoldensDir(goldensDir)),
				Log:     tl,
				Env:     env,
				Logger:  logger,
				Options: flow.Options{
					FlowsDir:      flowsDir,
					LogsDir:       logs,
					SaveGoldens:   saveGoldens,
					AssertGoldens: assertGoldens,
				},
			})

			res, err := eng.Run(ctx, f)
			if err != nil {
				return err
			}

			fmt.Printf("flow %s: %s (%d steps, run %s)\n", res.Flow, res.State, len(res.Steps), res.RunID)
			fmt.Printf("transcript: %s\n", tl.Path())
			if res.State != flow.StateCompleted {
				if res.FailurePath != "" {
					fmt.Printf("failure screen: %s\n", res.FailurePath)
				}
				return fmt.Errorf("flow %s failed", res.Flow)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "terminal host:port (default $TSOFLOW_HOST or "+defaultHost+")")
	cmd.Flags().StringArrayVar(&envPairs, "env", nil, "KEY=VALUE overrides for value_env lookups (repeatable)")
	cmd.Flags().StringVar(&flowsDir, "flows-dir", "", "directory for resolving imports (default: the flow's directory)")
	cmd.Flags().StringVar(&goldensDir, "goldens-dir", "", "golden snapshot directory")
	cmd.Flags().StringVar(&logsDir, "logs-dir", "", "transcript and failure screen directory")
	cmd.Flags().BoolVar(&saveGoldens, "save-goldens", false, "record snapshot steps as goldens")
	cmd.Flags().BoolVar(&assertGoldens, "assert-goldens", false, "check snapshot steps against recorded goldens")
	return cmd
}

func agentCmd() *cobra.Command {
	var (
		host       string
		envPairs   []string
		goldensDir string
		logsDir    string
		resultsDir string
	)

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Apply actions from stdin, one per line, against a live session",
		Long: `Reads one action per line from stdin and applies each to the session in
order. A line starting with '{' is decoded as a JSON action
({"name": "press", "params": {"aid": "PF3"}}); anything else is parsed as
free text ("press enter", "type HERC01 into Userid"). Responses are
printed as JSON, one per line.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env := environMap(os.Environ())
			for _, pair := range envPairs {
				k, v, ok := strings.Cut(pair, "=")
				if !ok {
					return fmt.Errorf("--env %q: want KEY=VALUE", pair)
				}
				env[k] = v
			}

			driver := session.NewS3270(session.WithLogger(logger))
			ctx := context.Background()
			if err := driver.Connect(ctx, resolveHost(host)); err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer driver.Disconnect()

			tl, err := transcript.Open(resolveLogsDir(logsDir), "agent")
			if err != nil {
				return err
			}
			defer tl.Close()

			eng := flow.New(flow.Config{
				Driver:  driver,
				Goldens: golden.NewStore(resolveGoldensDir(goldensDir)),
				Log:     tl,
				Env:     env,
				Logger:  logger,
			})
			loop := agentloop.New(eng, dispatch.NewDispatcher(logger), resultsDir, logger)
			defer loop.Close()

			out := json.NewEncoder(os.Stdout)
			sc := bufio.NewScanner(os.Stdin)
			for sc.Scan() {
				line := strings.TrimSpace(sc.Text())
				if line == "" {
					continue
				}

				var act dispatch.Action
				if strings.HasPrefix(line, "{") {
					if err := json.Unmarshal([]byte(line), &act); err != nil {
						fmt.Fprintf(os.Stderr, "bad action: %v\n", err)
						continue
					}
				} else {
					parsed, ok := dispatch.ParseFreeText(line)
					if !ok {
						fmt.Fprintf(os.Stderr, "unrecognized action: %q\n", line)
						continue
					}
					act = parsed
				}

				resp, err := loop.Submit(ctx, agentloop.Request{Action: act})
				if err != nil {
					return err
				}
				if err := out.Encode(resp); err != nil {
					return err
				}
			}
			return sc.Err()
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "terminal host:port (default $TSOFLOW_HOST or "+defaultHost+")")
	cmd.Flags().StringArrayVar(&envPairs, "env", nil, "KEY=VALUE overrides for value_env lookups (repeatable)")
	cmd.Flags().StringVar(&goldensDir, "goldens-dir", "", "golden snapshot directory")
	cmd.Flags().StringVar(&logsDir, "logs-dir", "", "transcript and failure screen directory")
	cmd.Flags().StringVar(&resultsDir, "results-dir", "", "write a JSON artifact per action here")
	return cmd
}

func goldensCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "goldens",
		Short: "Manage golden screen snapshots",
	}
	cmd.PersistentFlags().StringVar(&dir, "goldens-dir", "", "golden snapshot directory")

	store := func() *golden.Store {
		return golden.NewStore(resolveGoldensDir(dir))
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List saved goldens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			metas, err := store().List()
			if err != nil {
				return err
			}
			for _, m := range metas {
				fmt.Printf("%-24s %s  %dx%d  %s\n", m.Name, fingerprint.ShortDigest(m.Digest), m.Rows, m.Cols,
					m.SavedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show <name>",
		Short: "Print a golden's screen text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := store().Load(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("name: %s\ndigest: %s\nsaved: %s\n\n%s\n",
				g.Meta.Name, g.Meta.Digest, g.Meta.SavedAt.Format(time.RFC3339), g.Text)
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a golden",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return store().Delete(args[0])
		},
	}

	var olderThan time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete goldens older than a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := store().Prune(olderThan)
			if err != nil {
				return err
			}
			fmt.Printf("pruned %d goldens\n", n)
			return nil
		},
	}
	prune.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age cutoff")

	cmd.AddCommand(list, show, del, prune)
	return cmd
}

func replayCmd() *cobra.Command {
	var (
		dir      string
		asJSON   bool
		strictOK bool
	)

	cmd := &cobra.Command{
		Use:   "replay <transcript.jsonl>",
		Short: "Replay a recorded transcript against saved goldens",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h := replay.NewHarness(golden.NewStore(resolveGoldensDir(dir)), logger)
			report, err := h.Replay(args[0])
			if err != nil {
				return err
			}

			if asJSON {
				out, err := report.FormatJSON()
				if err != nil {
					return err
				}
				fmt.Println(out)
			} else {
				fmt.Print(report.FormatCLI())
			}

			if !report.Clean() && !strictOK {
				return fmt.Errorf("replay diverged in %d places", len(report.Differences))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "goldens-dir", "", "golden snapshot directory")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit the report as JSON")
	cmd.Flags().BoolVar(&strictOK, "no-fail", false, "exit 0 even when the replay diverges")
	return cmd
}

func screenCmd() *cobra.Command {
	var host string

	cmd := &cobra.Command{
		Use:   "screen",
		Short: "Connect, capture one snapshot, and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			driver := session.NewS3270(session.WithLogger(logger))
			ctx := context.Background()
			if err := driver.Connect(ctx, resolveHost(host)); err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer driver.Disconnect()

			snap, err := session.Capture(ctx, driver)
			if err != nil {
				return err
			}

			fmt.Printf("%dx%d cursor=(%d,%d) digest=%s fields=%d\n",
				snap.Rows, snap.Cols, snap.Cursor.Row, snap.Cursor.Col,
				fingerprint.ShortDigest(snap.Digest), len(snap.Fields))
			fmt.Println(snap.Text)
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "terminal host:port (default $TSOFLOW_HOST or "+defaultHost+")")
	return cmd
}

func resolveHost(flag string) string {
	if flag != "" {
		return flag
	}
	if h := os.Getenv("TSOFLOW_HOST"); h != "" {
		return h
	}
	return defaultHost
}

func resolveGoldensDir(flag string) string {
	if flag != "" {
		return flag
	}
	return golden.ResolveDir(os.Environ())
}

func resolveLogsDir(flag string) string {
	if flag != "" {
		return flag
	}
	return transcript.ResolveDir()
}

func environMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, pair := range environ {
		if k, v, ok := strings.Cut(pair, "="); ok {
			m[k] = v
		}
	}
	return m
}
