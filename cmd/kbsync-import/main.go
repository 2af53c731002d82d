package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/kbsync/internal/config"
	"github.com/agentworkforce/kbsync/internal/kbsync"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"

	configPath string
	inputPath  string
	outputPath string
	doneDSN    string
	gapMinutes int
	dryRun     bool
	jsonOutput bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "kbsync-import",
		Short: "Batch-import a formatted Q&A document into the source store",
		Long: `kbsync-import parses a blank-line-separated question/answer document,
rewrites each answer through the generation service, and creates one
source-store page per record. Completed questions are checkpointed so an
interrupted run resumes where it stopped.`,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("KBSYNC_CONFIG"), "path to YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "output as JSON")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the import",
		RunE:  runImport,
	}
	runCmd.Flags().StringVarP(&inputPath, "input", "i", "", "formatted input document (overrides config)")
	runCmd.Flags().StringVar(&doneDSN, "done", "", "done-set DSN: file://, memory://, or postgres:// (overrides config)")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse and report what would be imported, without remote calls")
	rootCmd.AddCommand(runCmd)

	formatCmd := &cobra.Command{
		Use:   "format",
		Short: "Convert a raw chat-log CSV into the importable Q&A document",
		Long: `format reads a chat-log CSV (sendTime,userId,roomId,sender,text) and
groups its messages into question/answer sections: a user message after 15
minutes of silence (or in a new room) opens a new section, consecutive
messages from the same sender merge, and sections without an answer are
dropped. The result is the document "run" consumes.`,
		RunE: runFormat,
	}
	formatCmd.Flags().StringVarP(&inputPath, "input", "i", "", "raw chat-log CSV")
	formatCmd.Flags().StringVarP(&outputPath, "output", "o", "", "destination document (default stdout)")
	formatCmd.Flags().IntVar(&gapMinutes, "gap", 15, "minutes of silence that open a new question")
	rootCmd.AddCommand(formatCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show checkpointed progress",
		RunE:  showStatus,
	}
	statusCmd.Flags().StringVar(&doneDSN, "done", "", "done-set DSN (overrides config)")
	rootCmd.AddCommand(statusCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				printJSON(map[string]string{
					"version": version,
					"commit":  commit,
					"date":    buildDate,
				})
				return
			}
			fmt.Printf("kbsync-import %s (%s, %s)\n", version, commit, buildDate)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if inputPath == "" {
		inputPath = cfg.Import.InputPath
	}
	if inputPath == "" {
		return fmt.Errorf("no input document: set --input or import.input_path")
	}
	if doneDSN == "" {
		doneDSN = cfg.Import.DoneDSN
	}

	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("read input %s: %w", inputPath, err)
	}
	records := kbsync.ParseRecords(string(data))
	if len(records) == 0 {
		return fmt.Errorf("input %s contains no importable sections", inputPath)
	}

	ctx := cmd.Context()
	done, err := kbsync.BuildDoneSetFromDSN(doneDSN)
	if err != nil {
		return err
	}
	defer done.Close()
	if err := done.Load(ctx); err != nil {
		return fmt.Errorf("load done set: %w", err)
	}

	if dryRun {
		return reportDryRun(records, done)
	}

	generator := kbsync.NewHTTPOpenAIClient(kbsync.OpenAIClientOptions{
		BaseURL: cfg.OpenAI.BaseURL,
		APIKey:  cfg.OpenAI.APIKey,
		Model:   cfg.OpenAI.Model,
	})
	writer := kbsync.NewHTTPNotionClient(kbsync.NotionClientOptions{
		BaseURL:       cfg.Notion.BaseURL,
		APIVersion:    cfg.Notion.APIVersion,
		TokenProvider: kbsync.StaticTokenProvider(cfg.Notion.Token),
	})
	importer, err := kbsync.NewImporter(kbsync.ImporterOptions{
		Generator:  generator,
		Writer:     writer,
		Done:       done,
		DatabaseID: cfg.Notion.DatabaseID,
		TitleField: cfg.Approval.TitleField,
		BodyField:  cfg.Approval.BodyField,
		Interval:   time.Duration(cfg.Import.RateIntervalMs) * time.Millisecond,
	})
	if err != nil {
		return err
	}

	summary, runErr := importer.Run(ctx, records)
	if jsonOutput {
		printJSON(map[string]any{
			"ok":       runErr == nil,
			"imported": summary.Imported,
			"skipped":  summary.Skipped,
			"total":    len(records),
		})
	} else {
		fmt.Printf("imported %d, skipped %d of %d record(s)\n", summary.Imported, summary.Skipped, len(records))
	}
	if runErr != nil {
		// Progress up to the failing record is checkpointed; a rerun resumes
		// there.
		log.Printf("import stopped: %v", runErr)
		return runErr
	}
	return nil
}

func runFormat(cmd *cobra.Command, args []string) error {
	if inputPath == "" {
		return fmt.Errorf("no chat log: set --input")
	}
	f, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open chat log %s: %w", inputPath, err)
	}
	defer f.Close()

	messages, err := kbsync.ParseChatLog(f)
	if err != nil {
		return err
	}
	doc := kbsync.FormatChatLog(messages, time.Duration(gapMinutes)*time.Minute)
	sections := len(kbsync.ParseRecords(doc))

	if outputPath == "" {
		fmt.Println(doc)
		return nil
	}
	if err := os.WriteFile(outputPath, []byte(doc), 0o644); err != nil {
		return fmt.Errorf("write document %s: %w", outputPath, err)
	}
	if jsonOutput {
		printJSON(map[string]any{
			"messages": len(messages),
			"sections": sections,
			"output":   outputPath,
		})
		return nil
	}
	fmt.Printf("wrote %d section(s) from %d message(s) to %s\n", sections, len(messages), outputPath)
	return nil
}

func reportDryRun(records []kbsync.Record, done kbsync.DoneSet) error {
	type plan struct {
		Question string `json:"question"`
		Skipped  bool   `json:"skipped"`
	}
	plans := make([]plan, 0, len(records))
	pending := 0
	for _, record := range records {
		skipped := done.Contains(record.Question)
		if !skipped {
			pending++
		}
		plans = append(plans, plan{Question: record.Question, Skipped: skipped})
	}
	if jsonOutput {
		printJSON(map[string]any{
			"total":   len(records),
			"pending": pending,
			"records": plans,
		})
		return nil
	}
	for i, p := range plans {
		marker := "import"
		if p.Skipped {
			marker = "skip"
		}
		fmt.Printf("[%d] %-6s %s\n", i+1, marker, p.Question)
	}
	fmt.Printf("%d of %d record(s) pending\n", pending, len(records))
	return nil
}

func showStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if doneDSN == "" {
		doneDSN = cfg.Import.DoneDSN
	}
	done, err := kbsync.BuildDoneSetFromDSN(doneDSN)
	if err != nil {
		return err
	}
	defer done.Close()
	if err := done.Load(cmd.Context()); err != nil {
		return err
	}
	entries := done.Entries()
	if jsonOutput {
		printJSON(map[string]any{
			"done":    len(entries),
			"entries": entries,
		})
		return nil
	}
	fmt.Printf("%d record(s) checkpointed\n", len(entries))
	for _, entry := range entries {
		fmt.Printf("  %s\n", entry)
	}
	return nil
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	fmt.Println(string(data))
}
