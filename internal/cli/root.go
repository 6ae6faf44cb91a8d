// Package cli implements the fact-memory CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rcliao/fact-memory/internal/config"
	"github.com/rcliao/fact-memory/internal/embedding"
	"github.com/rcliao/fact-memory/internal/factlog"
	"github.com/rcliao/fact-memory/internal/logger"
	"github.com/rcliao/fact-memory/internal/memory"
	"github.com/rcliao/fact-memory/internal/store"
)

var (
	dataDir    string
	dbPath     string
	userID     string
	debugFlag  bool
	formatFlag string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "fact-memory",
	Short: "Per-user layered fact memory for conversational agents",
	Long: "Stores facts about users in human-readable profile, working and archive logs,\n" +
		"indexes them in SQLite for semantic retrieval, and keeps the store bounded.",
	SilenceUsage: true,
}

func init() {
	pf := RootCmd.PersistentFlags()
	pf.StringVar(&dataDir, "data-dir", "", "Data directory (default: $FACT_MEMORY_DATA_DIR or ~/.fact-memory)")
	pf.StringVarP(&dbPath, "db", "d", "", "Index database path (default: <data-dir>/sqlite/memory.sqlite)")
	pf.StringVarP(&userID, "user", "u", "", "User id")
	pf.BoolVar(&debugFlag, "debug", false, "Debug logging to stderr")
	pf.StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
}

// app holds everything a command needs.
type app struct {
	cfg    *config.Config
	log    *zap.Logger
	facts  *factlog.Log
	index  *store.SQLiteStore
	memory *memory.Service
}

func (a *app) Close() {
	if a.index != nil {
		a.index.Close()
	}
	a.log.Sync()
}

func loadConfig() (*config.Config, error) {
	v, err := config.InitViper(dataDir)
	if err != nil {
		return nil, err
	}
	if err := v.BindPFlag("db_path", RootCmd.PersistentFlags().Lookup("db")); err != nil {
		return nil, err
	}
	if err := v.BindPFlag("debug", RootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return nil, err
	}
	return config.Load(v)
}

func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.Debug)

	pol, err := cfg.BuildPolicy()
	if err != nil {
		return nil, fmt.Errorf("build policy: %w", err)
	}
	emb, err := embedding.New(cfg.Embedding)
	if err != nil {
		return nil, err
	}

	storeOpts := []store.Option{
		store.WithHalfLife(pol.Config().HalfLifeDays),
		store.WithLogger(log),
	}
	if emb != nil {
		storeOpts = append(storeOpts, store.WithEmbedder(emb))
	} else {
		log.Debug("embeddings disabled, semantic search unavailable")
	}
	idx, err := store.NewSQLiteStore(cfg.DBPath, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	facts := factlog.New(cfg.DataDir)
	svc := memory.New(facts,
		memory.WithIndex(idx),
		memory.WithPolicy(pol),
		memory.WithLogger(log),
	)
	return &app{cfg: cfg, log: log, facts: facts, index: idx, memory: svc}, nil
}

func requireUser() {
	if strings.TrimSpace(userID) == "" {
		exitErr("usage", fmt.Errorf("--user is required"))
	}
}

// argsOrStdin joins args, or reads piped stdin when there are none.
func argsOrStdin(args []string) string {
	if len(args) > 0 {
		return strings.Join(args, " ")
	}
	stat, _ := os.Stdin.Stat()
	if (stat.Mode() & os.ModeCharDevice) == 0 {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			exitErr("read stdin", err)
		}
		return string(b)
	}
	return ""
}

// printOut writes v as indented JSON, or text when --format text.
func printOut(v any, text string) {
	if formatFlag == "text" {
		fmt.Println(text)
		return
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
