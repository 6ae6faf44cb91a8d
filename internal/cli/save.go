package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/fact-memory/internal/model"
	"github.com/rcliao/fact-memory/internal/policy"
)

func init() {
	cmd := &cobra.Command{
		Use:   "save [text]",
		Short: "Remember a fact",
		Long: "Validate, classify and store a fact. Text can be a positional arg or piped via stdin.\n" +
			"Rejections (length, question, command, secret, duplicate, semantic_duplicate, limit)\n" +
			"are reported in the result, not as errors.",
		Run: runSave,
	}

	cmd.Flags().StringP("type", "t", "", "Force type: profile, working, archive")
	cmd.Flags().StringP("importance", "i", "", "Importance: high, normal, low")
	cmd.Flags().String("expires", "", "Expiry date for working facts (YYYY-MM-DD)")

	RootCmd.AddCommand(cmd)
}

func runSave(cmd *cobra.Command, args []string) {
	requireUser()
	typ, _ := cmd.Flags().GetString("type")
	imp, _ := cmd.Flags().GetString("importance")
	exp, _ := cmd.Flags().GetString("expires")

	text := strings.TrimSpace(argsOrStdin(args))
	if text == "" {
		exitErr("save", fmt.Errorf("text is required (positional arg or stdin)"))
	}

	var meta *policy.Meta
	if typ != "" {
		t := model.FactType(typ)
		if !t.Valid() {
			exitErr("save", fmt.Errorf("unknown type %q", typ))
		}
		meta = &policy.Meta{Type: t, Importance: model.Importance(imp), ExpiresAt: exp}
	}

	a, err := openApp(cmd)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	res, err := a.memory.SaveFact(cmd.Context(), userID, text, meta)
	if err != nil {
		exitErr("save", err)
	}

	if res.OK() {
		printOut(res, fmt.Sprintf("saved %s (%s)", res.FactID, res.Type))
	} else {
		printOut(res, "rejected: "+string(res.Reason))
	}
}
