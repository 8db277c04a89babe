package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/furgapp/furgo/internal/config"
	"github.com/furgapp/furgo/internal/models"
	"github.com/furgapp/furgo/internal/services/intent"
	"github.com/furgapp/furgo/internal/services/providers"
	"github.com/furgapp/furgo/internal/services/usage"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "furgo",
		Short: "furgo routing and cost tooling",
		Long:  "Inspection tooling for the request router: dry-run intent classification, price lookups, and the effective configuration.",
	}

	rootCmd.AddCommand(newClassifyCommand())
	rootCmd.AddCommand(newCostCommand())
	rootCmd.AddCommand(newConfigCommand())

	return rootCmd
}

// noRemote disables the remote classifier so a dry run never spends tokens.
type noRemote struct{}

func (noRemote) ClassifyIntent(ctx context.Context, message string) (*models.IntentDecision, *providers.Result, error) {
	return nil, nil, models.NewKindError(models.KindModelPermanent, "remote classification disabled in dry run")
}

func newClassifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <message>",
		Short: "Dry-run the intent rules against a message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			classifier := intent.NewClassifier(intent.Config{
				Remote: noRemote{},
				Logger: zap.NewNop(),
			})

			message := strings.Join(args, " ")
			dec := classifier.Classify(cmd.Context(), "cli", message)

			out := map[string]any{
				"intent":     dec.Intent,
				"confidence": dec.Confidence,
				"source":     dec.Source,
				"reasoning":  dec.Reasoning,
				"model":      models.ModelForIntent(dec.Intent),
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(out)
		},
	}
}

func newCostCommand() *cobra.Command {
	var (
		model  string
		input  int
		cached int
		output int
	)

	cmd := &cobra.Command{
		Use:   "cost",
		Short: "Price a token count against the model price table",
		RunE: func(cmd *cobra.Command, args []string) error {
			prices := usage.DefaultPriceTable()
			cost := prices.CostOf(models.ModelID(model), input, cached, output)

			out := map[string]any{
				"model":         model,
				"input_tokens":  input,
				"cached_tokens": cached,
				"output_tokens": output,
				"cost_usd":      cost,
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(out)
		},
	}

	cmd.Flags().StringVar(&model, "model", string(models.ModelRoaster), "model id (roaster, advisor, utility)")
	cmd.Flags().IntVar(&input, "input", 0, "input tokens")
	cmd.Flags().IntVar(&cached, "cached", 0, "cached input tokens")
	cmd.Flags().IntVar(&output, "output", 0, "output tokens")
	return cmd
}

func newConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load("")
			if err != nil {
				return err
			}
			// API keys stay out of the dump.
			cfg.Models.Roaster.APIKey = redact(cfg.Models.Roaster.APIKey)
			cfg.Models.Advisor.APIKey = redact(cfg.Models.Advisor.APIKey)
			cfg.Models.Utility.APIKey = redact(cfg.Models.Utility.APIKey)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	}
}

func redact(key string) string {
	if key == "" {
		return ""
	}
	return "****"
}
