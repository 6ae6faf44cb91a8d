package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/fact-memory/internal/memory"
	"github.com/rcliao/fact-memory/internal/model"
	"github.com/rcliao/fact-memory/internal/policy"
)

func init() {
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export a user's facts as JSON or YAML",
		Run:   runExport,
	}
	exportCmd.Flags().StringP("output", "o", "json", "Encoding: json or yaml")

	importCmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import facts from an export file",
		Long: "Import facts produced by export (JSON or YAML, from a file or stdin). Each fact goes\n" +
			"through the normal save path, so duplicates and over-limit facts are skipped.",
		Args: cobra.MaximumNArgs(1),
		Run:  runImport,
	}

	RootCmd.AddCommand(exportCmd, importCmd)
}

func runExport(cmd *cobra.Command, args []string) {
	requireUser()
	output, _ := cmd.Flags().GetString("output")

	a, err := openApp(cmd)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	exp, err := a.memory.Export(cmd.Context(), userID)
	if err != nil {
		exitErr("export", err)
	}

	switch output {
	case "yaml":
		b, err := yaml.Marshal(exp)
		if err != nil {
			exitErr("encode yaml", err)
		}
		fmt.Print(string(b))
	case "json":
		b, _ := json.MarshalIndent(exp, "", "  ")
		fmt.Println(string(b))
	default:
		exitErr("export", fmt.Errorf("unknown output %q", output))
	}
}

func runImport(cmd *cobra.Command, args []string) {
	requireUser()

	var (
		data []byte
		err  error
	)
	if len(args) == 1 {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		exitErr("read input", err)
	}

	// YAML is a superset of JSON, so one decoder reads both.
	var exp memory.Export
	if err := yaml.Unmarshal(data, &exp); err != nil {
		exitErr("parse input", err)
	}

	a, err := openApp(cmd)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	imported := 0
	skipped := map[model.Reason]int{}
	for _, f := range exp.Facts {
		meta := &policy.Meta{Type: f.Type, Importance: f.Importance, ExpiresAt: f.ExpiresAt}
		res, err := a.memory.SaveFact(cmd.Context(), userID, f.Text, meta)
		if err != nil {
			exitErr("import", err)
		}
		if res.OK() {
			imported++
		} else {
			skipped[res.Reason]++
		}
	}

	printOut(map[string]any{"ok": true, "imported": imported, "skipped": skipped},
		fmt.Sprintf("imported %d, skipped %d", imported, len(exp.Facts)-imported))
}
