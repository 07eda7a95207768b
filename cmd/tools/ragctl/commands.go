package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ragchat/internal/rag"

	"github.com/spf13/cobra"
)

var queryTopK int

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.pdf>",
	Short: "Ingest a local PDF through the full pipeline",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngest,
}

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Retrieve the chunks most similar to a question",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQuery,
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Replay persisted chunks and embeddings into the vector store",
	Args:  cobra.NoArgs,
	RunE:  runReindex,
}

var ensureCollectionCmd = &cobra.Command{
	Use:   "ensure-collection",
	Short: "Create the vector collection if it does not exist",
	Args:  cobra.NoArgs,
	RunE:  runEnsureCollection,
}

func init() {
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of chunks to return (0 uses the configured default)")
	rootCmd.AddCommand(ingestCmd, queryCmd, reindexCmd, ensureCollectionCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	path := args[0]
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	res, err := svc.Ingestor.Ingest(cmd.Context(), rag.IngestRequest{
		Filename:    filepath.Base(path),
		ContentType: "application/pdf",
		Size:        info.Size(),
		Body:        f,
	})
	if err != nil {
		return fmt.Errorf("ingest %s: %w", path, err)
	}

	if flagJSON {
		return printJSON(cmd, res)
	}
	cmd.Printf("document %d: %s, %d chunks in %dms\n", res.DocumentID, res.OriginalFilename, res.ChunkCount, res.ProcessingTimeMs)
	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")
	results, err := svc.Retriever.Retrieve(cmd.Context(), question, queryTopK)
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(cmd, results)
	}
	if len(results) == 0 {
		cmd.Println("No results found.")
		return nil
	}
	for i, r := range results {
		cmd.Printf("[%d] doc=%d chunk=%d score=%.4f\n", i+1, r.DocumentID, r.ChunkIndex, r.Score)
		cmd.Printf("    %s\n", preview(r.Content, 160))
	}
	return nil
}

func runReindex(cmd *cobra.Command, args []string) error {
	stats, err := svc.Documents.Reindex(cmd.Context())
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(cmd, stats)
	}
	cmd.Printf("reindexed %d documents, %d points, %d skipped\n", stats.Documents, stats.Points, stats.Skipped)
	return nil
}

func runEnsureCollection(cmd *cobra.Command, args []string) error {
	if err := svc.Store.EnsureCollection(cmd.Context()); err != nil {
		return err
	}
	cmd.Println("collection ready")
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
