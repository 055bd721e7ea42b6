// Command snowcode manages locally stored coding sessions: listing, forking,
// sharing, renaming, deletion and usage reports.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/snowcode-dev/snowcode/pkg/bus"
	"github.com/snowcode-dev/snowcode/pkg/config"
	"github.com/snowcode-dev/snowcode/pkg/observability"
	"github.com/snowcode-dev/snowcode/pkg/session"
	"github.com/snowcode-dev/snowcode/pkg/share"
	"github.com/snowcode-dev/snowcode/pkg/stats"
	"github.com/snowcode-dev/snowcode/pkg/storage"
)

var version = "dev"

var (
	flagConfig  string
	flagProject string
)

// env holds the wired runtime for one command invocation.
type env struct {
	cfg     config.Config
	store   storage.Backend
	bus     *bus.Bus
	service *session.Service
	manager *session.Manager
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}

	store, err := config.OpenBackend(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	b := bus.New()

	opts := []session.Option{session.WithVersion(version)}
	if cfg.Share.Mode != config.ShareDisabled && cfg.Share.BaseURL != "" {
		opts = append(opts, session.WithShare(
			share.NewHTTPClient(cfg.Share.BaseURL),
			cfg.Share.Mode,
		))
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}

	return &env{
		cfg:     cfg,
		store:   store,
		bus:     b,
		service: session.NewService(store, b, flagProject, cwd, opts...),
		manager: session.NewManager(store, b),
	}, nil
}

func (e *env) close() {
	if err := e.store.Close(); err != nil {
		log.Printf("close storage: %v", err)
	}
}

func main() {
	root := &cobra.Command{
		Use:     "snowcode",
		Short:   "Session store for AI coding assistants",
		Version: version,
		Long: `snowcode persists AI coding sessions as forkable conversation trees
and reports on their token usage and cost.`,
		SilenceUsage: true,
	}

	defaultConfig := "snowcode.yaml"
	if home, err := os.UserHomeDir(); err == nil {
		defaultConfig = filepath.Join(home, ".snowcode", "config.yaml")
	}
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", defaultConfig, "config file path")
	root.PersistentFlags().StringVarP(&flagProject, "project", "p", "default", "project id")

	root.AddCommand(
		newListCmd(),
		newShowCmd(),
		newNewCmd(),
		newForkCmd(),
		newChildrenCmd(),
		newAncestryCmd(),
		newRenameCmd(),
		newRemoveCmd(),
		newShareCmd(),
		newUnshareCmd(),
		newStatsCmd(),
		newServeCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newListCmd() *cobra.Command {
	var (
		search    string
		sortBy    string
		ascending bool
		limit     int
		rootsOnly bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions with usage stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			res, err := e.manager.List(cmd.Context(), flagProject, session.ListOptions{
				Search:    search,
				SortBy:    sortBy,
				Ascending: ascending,
				Limit:     limit,
				RootsOnly: rootsOnly,
			})
			if err != nil {
				return err
			}

			for _, l := range res.Sessions {
				marker := " "
				if l.Session.ParentID != "" {
					marker = "*"
				}
				fmt.Printf("%s %s  %-40s  msgs=%-4d forks=%-3d $%.4f  %s\n",
					marker,
					l.Session.ID,
					truncate(l.Session.Title, 40),
					l.Stat.MessageCount,
					l.Stat.ChildCount,
					l.Stat.Cost,
					time.UnixMilli(l.Session.Time.Updated).Format("2006-01-02 15:04"),
				)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "filter by title substring")
	cmd.Flags().StringVar(&sortBy, "sort", session.SortUpdated, "sort key: updated, created, cost, messages, title")
	cmd.Flags().BoolVar(&ascending, "asc", false, "sort ascending")
	cmd.Flags().IntVar(&limit, "limit", 0, "max results (0 = all)")
	cmd.Flags().BoolVar(&rootsOnly, "roots", false, "only root sessions")
	return cmd
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			sess, err := e.service.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s  %s\n", sess.ID, sess.Title)
			if sess.ParentID != "" {
				fmt.Printf("  forked from %s\n", sess.ParentID)
			}
			if sess.Share != nil {
				fmt.Printf("  shared at %s\n", sess.Share.URL)
			}
			fmt.Printf("  created %s  updated %s\n",
				time.UnixMilli(sess.Time.Created).Format(time.RFC3339),
				time.UnixMilli(sess.Time.Updated).Format(time.RFC3339))

			msgs, err := e.service.Messages(cmd.Context(), sess.ID)
			if err != nil {
				return err
			}
			for _, m := range msgs {
				fmt.Printf("\n[%s] %s", m.Info.Role, m.Info.ID)
				if m.Info.ModelID != "" {
					fmt.Printf("  %s ($%.4f)", m.Info.ModelID, m.Info.Cost)
				}
				fmt.Println()
				for _, p := range m.Parts {
					switch p.Type {
					case session.PartTypeText, session.PartTypeReasoning:
						fmt.Printf("  %s\n", truncate(p.Text, 120))
					case session.PartTypeTool:
						status := ""
						if p.State != nil {
							status = string(p.State.Status)
						}
						fmt.Printf("  tool %s [%s]\n", p.Tool, status)
					case session.PartTypeFile:
						fmt.Printf("  file %s (%s)\n", p.Filename, p.MIME)
					}
				}
			}
			return nil
		},
	}
}

func newNewCmd() *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			sess, err := e.service.Create(cmd.Context(), session.CreateOptions{Title: title})
			if err != nil {
				return err
			}
			fmt.Println(sess.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "session title")
	return cmd
}

func newForkCmd() *cobra.Command {
	var atMessage string
	cmd := &cobra.Command{
		Use:   "fork <session-id>",
		Short: "Fork a session, copying its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			fork, err := e.service.Fork(cmd.Context(), args[0], atMessage)
			if err != nil {
				return err
			}
			fmt.Println(fork.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&atMessage, "at", "", "copy only messages before this message id")
	return cmd
}

func newChildrenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "children <session-id>",
		Short: "List the direct forks of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			children, err := e.manager.Children(cmd.Context(), flagProject, args[0])
			if err != nil {
				return err
			}
			for _, c := range children {
				fmt.Printf("%s  %s\n", c.ID, c.Title)
			}
			return nil
		},
	}
}

func newAncestryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ancestry <session-id>",
		Short: "Show the fork chain from root to session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			chain, err := e.manager.Ancestry(cmd.Context(), flagProject, args[0])
			if err != nil {
				return err
			}
			for i, s := range chain {
				fmt.Printf("%*s%s  %s\n", i*2, "", s.ID, s.Title)
			}
			return nil
		},
	}
}

func newRenameCmd() *cobra.Command {
	var auto bool
	cmd := &cobra.Command{
		Use:   "rename <session-id> [title]",
		Short: "Rename a session, or derive a title from its first message",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			if auto {
				sess, err := e.manager.AutoTitle(cmd.Context(), flagProject, args[0])
				if err != nil {
					return err
				}
				if sess == nil {
					fmt.Println("no user text to derive a title from")
					return nil
				}
				fmt.Println(sess.Title)
				return nil
			}
			if len(args) < 2 {
				return fmt.Errorf("title required unless --auto is set")
			}
			_, err = e.manager.Rename(cmd.Context(), flagProject, args[0], args[1])
			return err
		},
	}
	cmd.Flags().BoolVar(&auto, "auto", false, "derive title from the first user message")
	return cmd
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <session-id>",
		Aliases: []string{"remove"},
		Short:   "Delete a session and all of its forks",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			return e.service.Remove(cmd.Context(), args[0])
		},
	}
}

func newShareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "share <session-id>",
		Short: "Create (or print) the session's share link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			info, err := e.service.Share(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(info.URL)
			return nil
		},
	}
}

func newUnshareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unshare <session-id>",
		Short: "Revoke the session's share link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			return e.service.Unshare(cmd.Context(), args[0])
		},
	}
}

func newStatsCmd() *cobra.Command {
	var days, topN int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Report usage: cost and tokens by model, day and tool",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			report, err := stats.NewAggregator(e.store).Aggregate(cmd.Context(), flagProject, stats.Options{
				Days: days,
				TopN: topN,
			})
			if err != nil {
				return err
			}

			fmt.Printf("sessions: %d  messages: %d  total cost: $%.4f\n",
				report.Sessions, report.Messages, report.TotalCost)
			fmt.Printf("tokens: in=%d out=%d reasoning=%d cache.r=%d cache.w=%d\n\n",
				report.Tokens.Input, report.Tokens.Output, report.Tokens.Reasoning,
				report.Tokens.Cache.Read, report.Tokens.Cache.Write)

			if len(report.ByModel) > 0 {
				fmt.Println("by model:")
				for _, m := range report.ByModel {
					fmt.Printf("  %-32s $%.4f  msgs=%d\n", m.Model, m.Cost, m.Messages)
				}
			}
			if len(report.ByDay) > 0 {
				fmt.Println("by day:")
				for _, d := range report.ByDay {
					fmt.Printf("  %s  $%.4f  msgs=%d\n", d.Day, d.Cost, d.Messages)
				}
			}
			if len(report.ByTool) > 0 {
				fmt.Println("by tool:")
				for _, t := range report.ByTool {
					fmt.Printf("  %-20s n=%-4d ok=%.0f%%  avg=%s\n",
						t.Tool, t.Count, t.SuccessRate*100, t.AvgDuration)
				}
			}
			if len(report.TopsByCost) > 0 {
				fmt.Println("most expensive sessions:")
				for _, s := range report.TopsByCost {
					fmt.Printf("  %s  $%.4f  %s\n", s.SessionID, s.Cost, truncate(s.Title, 48))
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "limit to the last N days (0 = all)")
	cmd.Flags().IntVar(&topN, "top", 10, "number of sessions in the cost ranking")
	return cmd
}

func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health and metrics endpoints with periodic stats refresh",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			observability.InitMetrics()
			if err := observability.InitTracingFromEnv(); err != nil {
				log.Printf("tracing init: %v", err)
			}

			checker := observability.NewHealthChecker()
			checker.RegisterCheck(observability.StorageCheck(func(ctx context.Context) error {
				_, err := e.store.List(ctx, []string{"session"})
				return err
			}))

			scheduler := stats.NewScheduler(stats.NewAggregator(e.store), flagProject, e.cfg.Stats.Schedule)
			if err := scheduler.Start(); err != nil {
				return fmt.Errorf("start stats scheduler: %w", err)
			}
			defer scheduler.Stop()

			srv := observability.NewServer(port, checker)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()
			log.Printf("serving health and metrics on :%d", port)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case <-sigCh:
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := observability.ShutdownTracing(shutdownCtx); err != nil {
				log.Printf("tracing shutdown: %v", err)
			}
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().IntVar(&port, "port", 9090, "listen port")
	return cmd
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
