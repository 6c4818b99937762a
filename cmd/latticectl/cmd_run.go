package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"patternlattice/internal/engine"
	"patternlattice/internal/export"
	"patternlattice/internal/text"
)

var (
	networkPath string
	wordLabel   string
	skipSpace   bool
	suspend     bool
	showMetrics bool
	queries     []string
)

var runCmd = &cobra.Command{
	Use:   "run [text...]",
	Short: "Process each argument as a document through a network",
	Long: `Builds the network file, feeds every argument as one document (one input
per character, plus word inputs when --word is set), processes the documents
in parallel and prints the final activations of each.

Example:
  latticectl run --network patterns.yaml "abcde" "xbcdx"
  latticectl run --network words.yaml --word WORD --skip-space --query follows "the cat"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDocuments,
}

func init() {
	runCmd.Flags().StringVarP(&networkPath, "network", "n", "", "Network file (required)")
	runCmd.Flags().StringVar(&wordLabel, "word", "", "Input neuron label for word tokens")
	runCmd.Flags().BoolVar(&skipSpace, "skip-space", false, "Do not feed whitespace characters")
	runCmd.Flags().BoolVar(&suspend, "suspend", false, "Suspend idle lattice nodes to the store afterwards")
	runCmd.Flags().BoolVar(&showMetrics, "metrics", false, "Print engine metrics")
	runCmd.Flags().StringSliceVarP(&queries, "query", "q", nil, "Print exported facts of a predicate (activation, selected, conflict, follows, excluded)")
	_ = runCmd.MarkFlagRequired("network")
}

func runDocuments(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	net, err := loadNetwork(networkPath)
	if err != nil {
		return err
	}
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()
	if err := net.Build(s.model); err != nil {
		return err
	}

	tok := text.Tokenizer{Word: wordLabel, SkipSpace: skipSpace}
	jobs := make([]engine.Job, len(args))
	for i, doc := range args {
		if _, err := tok.Alphabet(s.model, doc); err != nil {
			return err
		}
		jobs[i] = engine.Job{
			Name: fmt.Sprintf("doc-%d", i+1),
			Keep: true,
			Feed: func(d *engine.Document) error {
				_, err := tok.Feed(d, doc)
				return err
			},
		}
	}
	logger.Info("Processing documents", zap.Int("documents", len(jobs)), zap.String("network", networkPath))

	results, docs, err := engine.NewPool(s.model, cfg.Workers).Run(ctx, jobs)
	if err != nil {
		return err
	}
	defer func() {
		for _, d := range docs {
			if d != nil {
				_ = d.Close()
			}
		}
	}()

	facts, err := export.New()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for i, res := range results {
		printResult(out, args[i], res)
		if res.Status == engine.StatusCommitted {
			if err := facts.AddDocument(docs[i]); err != nil {
				return err
			}
		}
	}
	for _, q := range queries {
		rows, err := facts.Facts(q)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: %d facts\n", q, len(rows))
		for _, f := range rows {
			fmt.Fprintf(out, "  %s\n", f)
		}
	}

	for _, d := range docs {
		if d != nil {
			_ = d.Close()
		}
	}
	if suspend {
		n, err := s.model.SuspendIdle(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "suspended %d of %d lattice nodes to %s\n", n, s.model.NodeCount(), s.store.Backend())
	}
	if showMetrics {
		return s.writeMetrics(out)
	}
	return nil
}

func printResult(w io.Writer, input string, res *engine.Result) {
	fmt.Fprintf(w, "%s %q\n", res, input)
	if res.Status != engine.StatusCommitted {
		return
	}
	if len(res.Selected) > 0 {
		fmt.Fprintf(w, "  selected: %s\n", strings.Join(res.Selected, ", "))
	}
	for _, a := range res.Activations {
		if a.Fixed {
			continue
		}
		fmt.Fprintf(w, "  %-12s %-10s value=%.4f p=%.4f\n", a.Neuron.Label, a.Range, a.Value, a.Probability)
	}
}
