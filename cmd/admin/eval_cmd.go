package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ArchyTseng/tiic-law-chat/evaluator"
	"github.com/ArchyTseng/tiic-law-chat/generation"
	"github.com/ArchyTseng/tiic-law-chat/ids"
	"github.com/ArchyTseng/tiic-law-chat/store"
)

var evalRecordID string

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Replay the evaluator's rule checks against a recorded message",
	Long: `Re-runs the C6 rule checks (evaluator.Evaluate) against the retrieval
hits and generation output a prior chat turn already persisted, and
compares the replayed verdict against the stored one. A mismatch means
the evaluator's rule configuration or inputs changed since the record
was written, so the same inputs no longer produce the same verdict.`,
	RunE: runEval,
}

func init() {
	evalCmd.Flags().StringVar(&evalRecordID, "evaluation-record-id", "", "id of a previously persisted EvaluationRecord (required)")
	evalCmd.MarkFlagRequired("evaluation-record-id")
	rootCmd.AddCommand(evalCmd)
}

// outputStructuredAnswer matches the subset of generation.Output fields
// this command needs from EvaluationRecord.GenerationRecordID's
// OutputStructured snapshot.
type outputStructuredAnswer struct {
	Answer string `json:"Answer"`
}

func runEval(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "status=config_error")
		return err
	}

	recID, err := ids.Parse(evalRecordID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "status=bad_request")
		return err
	}

	s, err := store.New(cfg.ResolveDBPath(), cfg.EmbeddingDim)
	if err != nil {
		fmt.Fprintln(os.Stderr, "status=store_error")
		return err
	}
	defer s.Close()

	ctx := context.Background()
	recorded, err := s.GetEvaluationRecord(ctx, recID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "status=not_found")
		return err
	}

	hits, err := s.GetRetrievalHits(ctx, recorded.RetrievalRecordID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "status=store_error")
		return err
	}
	hitIDs := make([]ids.ID, len(hits))
	for i, h := range hits {
		hitIDs[i] = h.NodeID
	}

	genRec, err := s.GetGenerationRecord(ctx, recorded.GenerationRecordID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "status=store_error")
		return err
	}
	var citations []generation.Citation
	if genRec.Citations != "" {
		if err := json.Unmarshal([]byte(genRec.Citations), &citations); err != nil {
			fmt.Fprintln(os.Stderr, "status=decode_error")
			return err
		}
	}
	citationIDs := make([]ids.ID, len(citations))
	for i, c := range citations {
		citationIDs[i] = c.NodeID
	}
	var out outputStructuredAnswer
	if genRec.OutputStructured != "" {
		_ = json.Unmarshal([]byte(genRec.OutputStructured), &out)
	}

	var rulesCfg evaluator.Config
	if recorded.Config != "" {
		if err := json.Unmarshal([]byte(recorded.Config), &rulesCfg); err != nil {
			fmt.Fprintln(os.Stderr, "status=decode_error")
			return err
		}
	}

	replayedReport, _ := evaluator.Evaluate(evaluator.Input{
		Hits: hitIDs, Citations: citationIDs, Answer: out.Answer, Config: rulesCfg,
	})

	match := string(replayedReport.Status) == recorded.Status
	fmt.Printf("recorded_status=%s replayed_status=%s deterministic=%t\n", recorded.Status, replayedReport.Status, match)

	if !match {
		fmt.Fprintln(os.Stderr, "status=nondeterministic")
		return fmt.Errorf("admin eval: replayed verdict %q does not match recorded verdict %q", replayedReport.Status, recorded.Status)
	}

	fmt.Fprintln(os.Stderr, "status=success")
	return nil
}
