package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	forgetCmd := &cobra.Command{
		Use:   "forget <id-or-query>",
		Short: "Forget a fact by id or by the closest semantic match",
		Args:  cobra.MinimumNArgs(1),
		Run:   runForget,
	}

	updateCmd := &cobra.Command{
		Use:   "update <id-or-query> [new text]",
		Short: "Replace the text of a fact, keeping its id and classification",
		Long:  "Replace the text of a fact. The new text can follow the id or be piped via stdin.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runUpdate,
	}

	RootCmd.AddCommand(forgetCmd, updateCmd)
}

func runForget(cmd *cobra.Command, args []string) {
	requireUser()
	target := strings.Join(args, " ")

	a, err := openApp(cmd)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	res, err := a.memory.ForgetFact(cmd.Context(), userID, target)
	if err != nil {
		exitErr("forget", err)
	}
	if res.OK() {
		printOut(res, "forgot "+res.FactID)
	} else {
		printOut(res, string(res.Reason))
	}
}

func runUpdate(cmd *cobra.Command, args []string) {
	requireUser()
	target := args[0]
	newText := strings.TrimSpace(argsOrStdin(args[1:]))
	if newText == "" {
		exitErr("update", fmt.Errorf("new text is required (positional arg or stdin)"))
	}

	a, err := openApp(cmd)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	res, err := a.memory.UpdateFact(cmd.Context(), userID, target, newText)
	if err != nil {
		exitErr("update", err)
	}
	if res.OK() {
		printOut(res, "updated "+res.FactID)
	} else {
		printOut(res, string(res.Reason))
	}
}
