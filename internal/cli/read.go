package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/fact-memory/internal/factlog"
	"github.com/rcliao/fact-memory/internal/model"
)

func init() {
	readCmd := &cobra.Command{
		Use:   "read",
		Short: "Read a user's visible facts",
		Long: "Read profile, non-expired working and archive facts as plain sentences.\n" +
			"With --compat, print only profile and working facts, capped for flat-file callers.",
		Run: runRead,
	}
	readCmd.Flags().Bool("compat", false, "Profile and working only, size-capped")

	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one fact by id, including expired working facts",
		Args:  cobra.ExactArgs(1),
		Run:   runGet,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List facts with their tags",
		Run:   runList,
	}
	listCmd.Flags().StringP("type", "t", "", "Only this type: profile, working, archive")
	listCmd.Flags().Bool("raw", false, "Include expired working facts not yet swept")

	RootCmd.AddCommand(readCmd, getCmd, listCmd)
}

func runRead(cmd *cobra.Command, args []string) {
	requireUser()
	compat, _ := cmd.Flags().GetBool("compat")

	a, err := openApp(cmd)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	if compat {
		text, ok, err := a.memory.ReadCompat(cmd.Context(), userID)
		if err != nil {
			exitErr("read", err)
		}
		printOut(map[string]any{"ok": ok, "text": text}, text)
		return
	}

	text, err := a.memory.ReadText(cmd.Context(), userID)
	if err != nil {
		exitErr("read", err)
	}
	printOut(map[string]any{"text": text}, text)
}

func runGet(cmd *cobra.Command, args []string) {
	requireUser()

	a, err := openApp(cmd)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	if _, err := a.memory.Migrate(cmd.Context(), userID); err != nil {
		exitErr("migrate", err)
	}
	f, ok, err := a.facts.FindByID(userID, args[0])
	if err != nil {
		exitErr("get", err)
	}
	if !ok {
		exitErr("get", fmt.Errorf("%s: %s", model.ReasonNotFound, args[0]))
	}
	printOut(f, f.Text)
}

func runList(cmd *cobra.Command, args []string) {
	requireUser()
	typ, _ := cmd.Flags().GetString("type")
	raw, _ := cmd.Flags().GetBool("raw")

	types := model.FactTypes
	if typ != "" {
		t := model.FactType(typ)
		if !t.Valid() {
			exitErr("list", fmt.Errorf("unknown type %q", typ))
		}
		types = []model.FactType{t}
	}

	a, err := openApp(cmd)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	if _, err := a.memory.Migrate(cmd.Context(), userID); err != nil {
		exitErr("migrate", err)
	}

	facts := []model.Fact{}
	for _, t := range types {
		var batch []model.Fact
		if t == model.FactWorking && !raw {
			batch, err = a.facts.ReadWorking(userID)
		} else {
			batch, err = a.facts.ReadAll(userID, t)
		}
		if err != nil {
			exitErr("list", err)
		}
		facts = append(facts, batch...)
	}

	var lines []string
	for _, f := range facts {
		lines = append(lines, factlog.Format(f))
	}
	printOut(facts, strings.Join(lines, "\n"))
}
