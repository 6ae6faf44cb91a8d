package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/fact-memory/internal/model"
	"github.com/rcliao/fact-memory/internal/store"
)

func init() {
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show fact counts and index statistics",
		Long:  "Show per-user fact counts from the logs and chunk counts from the index. --user narrows to one user.",
		Run:   runStats,
	}

	usersCmd := &cobra.Command{
		Use:   "users",
		Short: "List known users",
		Run:   runUsers,
	}

	RootCmd.AddCommand(statsCmd, usersCmd)
}

type statsOutput struct {
	Users []model.UserMeta `json:"users"`
	Index *store.Stats     `json:"index"`
}

func runStats(cmd *cobra.Command, args []string) {
	a, err := openApp(cmd)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	out := statsOutput{Users: []model.UserMeta{}}
	g, ctx := errgroup.WithContext(cmd.Context())

	g.Go(func() error {
		users := []string{userID}
		if userID == "" {
			var err error
			if users, err = a.facts.Users(); err != nil {
				return err
			}
		}
		for _, u := range users {
			m, err := a.facts.ReadMeta(u)
			if err != nil {
				return fmt.Errorf("meta for %s: %w", u, err)
			}
			out.Users = append(out.Users, m)
		}
		return nil
	})
	g.Go(func() error {
		st, err := a.index.Stats(ctx, a.cfg.DBPath, userID)
		out.Index = st
		return err
	})
	if err := g.Wait(); err != nil {
		exitErr("stats", err)
	}

	text := fmt.Sprintf("index: %d chunks, %d bytes", out.Index.TotalChunks, out.Index.DBSizeBytes)
	for _, m := range out.Users {
		text += fmt.Sprintf("\n%s: profile=%d working=%d archive=%d", m.UserID, m.ProfileCount, m.WorkingCount, m.ArchiveCount)
	}
	printOut(out, text)
}

func runUsers(cmd *cobra.Command, args []string) {
	a, err := openApp(cmd)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	users, err := a.facts.Users()
	if err != nil {
		exitErr("users", err)
	}
	if users == nil {
		users = []string{}
	}
	text := ""
	for i, u := range users {
		if i > 0 {
			text += "\n"
		}
		text += u
	}
	printOut(users, text)
}
