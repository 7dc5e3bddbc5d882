package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/lamim/vellumbatch/internal/config"
	"github.com/lamim/vellumbatch/internal/cost"
	"github.com/lamim/vellumbatch/internal/repair"
	"github.com/lamim/vellumbatch/internal/writer"
	"github.com/lamim/vellumbatch/pkg/models"
)

func newRepairCmd() *cobra.Command {
	var sequence bool

	cmd := &cobra.Command{
		Use:   "repair [file]",
		Short: "Repair a truncated JSON document",
		Long: `Read a possibly truncated JSON document (from a file or stdin) and print
the largest valid document it contains. Nothing that was cut off is invented:
unfinished strings, keys and values are dropped.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open input: %w", err)
				}
				defer f.Close()
				in = f
			}
			return repairDocument(in, cmd.OutOrStdout(), sequence)
		},
	}
	cmd.Flags().BoolVar(&sequence, "sequence", false, "Treat the input as concatenated documents (e.g. JSONL) and emit an array")
	return cmd
}

func repairDocument(in io.Reader, out io.Writer, sequence bool) error {
	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	text := repair.StripThinkTags(string(data))
	var doc *repair.Document
	if sequence {
		doc, err = repair.RepairSequence(text)
	} else {
		doc, err = repair.Repair(text)
	}
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(out, doc.String())
	return err
}

func newCostsCmd() *cobra.Command {
	var pricing cost.Pricing

	cmd := &cobra.Command{
		Use:   "costs <results.jsonl>",
		Short: "Summarize outcomes, token usage and cost of a results file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := writer.ReadResults(args[0])
			if err != nil {
				return err
			}
			printCosts(cmd.OutOrStdout(), records, pricing)
			return nil
		},
	}
	cmd.Flags().Float64Var(&pricing.InputPerMillion, "input-price", 0, "USD per million prompt tokens")
	cmd.Flags().Float64Var(&pricing.OutputPerMillion, "output-price", 0, "USD per million completion tokens")
	return cmd
}

func printCosts(out io.Writer, records []models.ResultRecord, pricing cost.Pricing) {
	kinds := map[string]int{}
	var usage models.Usage
	for _, rec := range records {
		kinds[rec.Kind]++
		if rec.Usage != nil {
			usage.Add(*rec.Usage)
		}
	}

	fmt.Fprintf(out, "Requests:           %d\n", len(records))
	fmt.Fprintf(out, "  Success:          %d\n", kinds["success"])
	fmt.Fprintf(out, "  Failed:           %d\n", kinds["failed"])
	fmt.Fprintf(out, "  Absent:           %d\n", kinds["absent"])
	fmt.Fprintf(out, "Prompt tokens:      %d\n", usage.PromptTokens)
	fmt.Fprintf(out, "Completion tokens:  %d\n", usage.CompletionTokens)
	if pricing.IsZero() {
		return
	}
	b := pricing.Price(usage)
	fmt.Fprintf(out, "Input cost:         $%.4f\n", b.InputUSD)
	fmt.Fprintf(out, "Output cost:        $%.4f\n", b.OutputUSD)
	fmt.Fprintf(out, "Total cost:         $%.4f\n", b.TotalUSD)
}

func newInitCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write an example configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			} else if !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := os.WriteFile(path, []byte(config.GetExampleConfig()), 0644); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "config", "config.toml", "Path of the configuration file to create")
	return cmd
}
