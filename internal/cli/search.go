package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/fact-memory/internal/memory"
	"github.com/rcliao/fact-memory/internal/model"
)

func init() {
	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search facts by meaning",
		Long:  "Rank the user's indexed chunks by cosine similarity to the query. Requires an embedding provider.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}
	searchCmd.Flags().IntP("top-k", "k", 5, "Max results")
	searchCmd.Flags().Duration("since", 0, "Only chunks created within this duration (e.g. 720h)")
	searchCmd.Flags().Bool("decay", true, "Attenuate archive and normal-importance chunks by age")

	contextCmd := &cobra.Command{
		Use:   "context [message]",
		Short: "Assemble memory blocks for a prompt",
		Long: "Build the [PROFILE MEMORY], [WORKING MEMORY] and [RELEVANT MEMORY FOR THIS TURN]\n" +
			"blocks for the given message. The message can be piped via stdin.",
		Run: runContext,
	}

	chunksCmd := &cobra.Command{
		Use:   "chunks <id>...",
		Short: "Fetch indexed chunks by id",
		Long:  "Return the chunks named by search result ids, in order. Unknown ids print as null.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runChunks,
	}

	RootCmd.AddCommand(searchCmd, contextCmd, chunksCmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	requireUser()
	topK, _ := cmd.Flags().GetInt("top-k")
	since, _ := cmd.Flags().GetDuration("since")
	decay, _ := cmd.Flags().GetBool("decay")
	query := strings.Join(args, " ")

	a, err := openApp(cmd)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	opts := memory.SearchOptions{TopK: topK, Decay: decay}
	if since > 0 {
		opts.SinceMs = time.Now().Add(-since).UnixMilli()
	}
	results, err := a.memory.Search(cmd.Context(), userID, query, opts)
	if err != nil {
		exitErr("search", err)
	}
	if results == nil {
		results = []model.SearchResult{}
	}

	var lines []string
	for _, r := range results {
		lines = append(lines, fmt.Sprintf("%.3f  %s  %s", r.Score, r.FactID, r.Preview))
	}
	printOut(results, strings.Join(lines, "\n"))
}

func runContext(cmd *cobra.Command, args []string) {
	requireUser()
	message := argsOrStdin(args)

	a, err := openApp(cmd)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	blocks, err := a.memory.PromptBlocks(cmd.Context(), userID, message)
	if err != nil {
		exitErr("context", err)
	}
	printOut(blocks, blocks.String())
}

func runChunks(cmd *cobra.Command, args []string) {
	requireUser()

	a, err := openApp(cmd)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	chunks, err := a.index.GetChunks(cmd.Context(), userID, args)
	if err != nil {
		exitErr("chunks", err)
	}

	lines := make([]string, len(chunks))
	for i, c := range chunks {
		if c == nil {
			lines[i] = args[i] + "  (not found)"
			continue
		}
		lines[i] = fmt.Sprintf("%s  %s  %s", c.ID, c.FactID, c.Text)
	}
	printOut(chunks, strings.Join(lines, "\n"))
}
