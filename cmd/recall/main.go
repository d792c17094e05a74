package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"recall/internal/config"
	"recall/internal/history"
	"recall/internal/logging"
	"recall/internal/loop"
	"recall/internal/memory"
	"recall/internal/perception"
	"recall/internal/sandbox"
	"recall/internal/tools"
)

var (
	// Global flags
	verbose    bool
	configPath string
	sessionID  string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "recall",
	Short: "recall - budgeted plan/execute agent with a historical answer cache",
	Long: `recall drives a single user task through a bounded sequence of
plan/execute attempts, short-circuiting when an equivalent task was already
answered before. Past (query, answer) turns are mined from session
transcripts into a historical index that feeds a paraphrase fast path and
few-shot planning context.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

// runCmd answers a single task.
var runCmd = &cobra.Command{
	Use:   "run [task]",
	Short: "Answer one task through the budgeted loop",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTask,
}

// historyCmd groups index maintenance commands.
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect and maintain the historical answer index",
}

var historySimilarCmd = &cobra.Command{
	Use:   "similar [query]",
	Short: "Show the stored examples most similar to a query",
	Args:  cobra.MinimumNArgs(1),
	RunE:  historySimilar,
}

var historyBestCmd = &cobra.Command{
	Use:   "best [query]",
	Short: "Show the paraphrase fast-path answer for a query, if any",
	Args:  cobra.MinimumNArgs(1),
	RunE:  historyBest,
}

var historyRebuildCmd = &cobra.Command{
	Use:   "rebuild [transcripts-dir]",
	Short: "Re-index every session transcript in a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  historyRebuild,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "recall.yaml", "config file path")
	runCmd.Flags().StringVar(&sessionID, "session", "", "session ID (default: random)")

	historyCmd.AddCommand(historySimilarCmd, historyBestCmd, historyRebuildCmd)
	rootCmd.AddCommand(runCmd, historyCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := logging.Initialize(".", logging.Options{
		DebugMode:  cfg.Logging.DebugMode || verbose,
		Level:      cfg.Logging.Level,
		Categories: cfg.Logging.Categories,
	}); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newClient(ctx context.Context, cfg *config.Config) (perception.LLMClient, error) {
	timeout, err := time.ParseDuration(cfg.LLM.Timeout)
	if err != nil || timeout <= 0 {
		timeout = 120 * time.Second
	}

	switch cfg.LLM.Provider {
	case "gemini":
		return perception.NewGeminiClient(ctx, cfg.LLM.APIKey, cfg.LLM.Model)
	case "openai":
		return perception.NewOpenAIClient(perception.OpenAIConfig{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", cfg.LLM.Provider)
	}
}

func runTask(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client, err := newClient(ctx, cfg)
	if err != nil {
		return err
	}

	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	dispatcher := tools.NewDispatcher(tools.BuiltinServers()...)
	index := history.NewBoundedIndex(cfg.History.MemoryIndexFile, cfg.History.MaxIndexRecords)
	session := memory.NewSession(sessionID, "memory")
	controller := loop.New(cfg, client, dispatcher, sandbox.NewRunner(), index, session)

	task := strings.Join(args, " ")
	logger.Info("processing task", zap.String("session", sessionID), zap.String("task", task))

	answer := controller.Answer(ctx, task)
	fmt.Println(answer)
	return nil
}

func historySimilar(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	index := history.NewIndex(cfg.History.MemoryIndexFile)
	examples := index.TopSimilar(strings.Join(args, " "), cfg.History.TopKSimilarExamples)
	if len(examples) == 0 {
		fmt.Println("No similar examples.")
		return nil
	}
	for _, ex := range examples {
		fmt.Printf("[%s#%d] %s\n  %s\n", ex.SessionID, ex.TurnIndex, ex.UserQuery, ex.FinalAnswer)
	}
	return nil
}

func historyBest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	index := history.NewIndex(cfg.History.MemoryIndexFile)
	answer, ok := index.BestMatch(strings.Join(args, " "), cfg.History.JaccardSimilarityThreshold)
	if !ok {
		fmt.Println("No match above threshold.")
		return nil
	}
	fmt.Println(answer)
	return nil
}

func historyRebuild(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	index := history.NewBoundedIndex(cfg.History.MemoryIndexFile, cfg.History.MaxIndexRecords)
	n, err := index.UpdateFromDir(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Re-indexed %d transcript(s) into %s\n", n, cfg.History.MemoryIndexFile)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
