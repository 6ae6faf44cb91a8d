package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rcliao/fact-memory/internal/jobs"
	"github.com/rcliao/fact-memory/internal/summarizer"
)

func init() {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Convert a user's legacy single-file store to the layered format",
		Run:   runMigrate,
	}

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired working facts for every user",
		Run:   runCleanup,
	}

	compactCmd := &cobra.Command{
		Use:   "compact",
		Short: "Summarize the oldest archive facts of users over the threshold",
		Long:  "Requires summarizer.model (and usually summarizer.url / summarizer.api_key) to be configured.",
		Run:   runCompact,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run cleanup and compaction on their schedules until interrupted",
		Run:   runServe,
	}

	RootCmd.AddCommand(migrateCmd, cleanupCmd, compactCmd, serveCmd)
}

func runMigrate(cmd *cobra.Command, args []string) {
	requireUser()

	a, err := openApp(cmd)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	migrated, err := a.memory.Migrate(cmd.Context(), userID)
	if err != nil {
		exitErr("migrate", err)
	}
	msg := "already migrated or nothing to migrate"
	if migrated {
		msg = "migrated"
	}
	printOut(map[string]any{"user_id": userID, "migrated": migrated}, msg)
}

func (a *app) cleaner() *jobs.Cleaner {
	return jobs.NewCleaner(a.facts, a.index, jobs.CleanerLogger(a.log))
}

func (a *app) compactor() (*jobs.Compactor, error) {
	sum := summarizer.New(a.cfg.Summarizer)
	if sum == nil {
		return nil, fmt.Errorf("no summarizer configured (set summarizer.model)")
	}
	return jobs.NewCompactor(a.facts, a.index, sum,
		jobs.CompactThreshold(a.cfg.Jobs.CompactThreshold),
		jobs.CompactBatch(a.cfg.Jobs.CompactBatch),
		jobs.CompactorLogger(a.log),
	), nil
}

func runCleanup(cmd *cobra.Command, args []string) {
	a, err := openApp(cmd)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	rep, err := a.cleaner().Run(cmd.Context())
	if err != nil {
		exitErr("cleanup", err)
	}
	printOut(rep, fmt.Sprintf("users=%d removed=%d failed=%d", rep.Users, rep.Facts, rep.Failed))
}

func runCompact(cmd *cobra.Command, args []string) {
	a, err := openApp(cmd)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	c, err := a.compactor()
	if err != nil {
		exitErr("compact", err)
	}
	rep, err := c.Run(cmd.Context())
	if err != nil {
		exitErr("compact", err)
	}
	printOut(rep, fmt.Sprintf("users=%d compacted=%d replaced=%d failed=%d", rep.Users, rep.Changed, rep.Facts, rep.Failed))
}

func runServe(cmd *cobra.Command, args []string) {
	a, err := openApp(cmd)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	sched := jobs.NewScheduler(a.log)
	if err := sched.Add("cleanup", a.cfg.Jobs.CleanupSchedule, a.cleaner()); err != nil {
		exitErr("serve", err)
	}
	if c, err := a.compactor(); err != nil {
		a.log.Warn("compaction disabled", zap.Error(err))
	} else if err := sched.Add("compact", a.cfg.Jobs.CompactSchedule, c); err != nil {
		exitErr("serve", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched.Start()
	a.log.Info("scheduler running", zap.String("data_dir", a.cfg.DataDir))
	<-ctx.Done()
	a.log.Info("shutting down")
	sched.Stop()
}
