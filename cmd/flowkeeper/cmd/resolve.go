package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/solatis/flowkeeper/internal/core/api"
	"github.com/solatis/flowkeeper/internal/core/db"
	"github.com/solatis/flowkeeper/internal/rules"
	"github.com/solatis/flowkeeper/internal/types"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve one message against a step and print the resolution as JSON",
	Long: `Resolve runs the rule engine once against the database. An audit row is
written only when both --ticket and --flow are given.`,
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().String("tenant", "", "tenant id (required)")
	resolveCmd.Flags().String("step", "", "step id (required)")
	resolveCmd.Flags().String("message", "", "inbound message text")
	resolveCmd.Flags().String("ticket", "", "ticket id")
	resolveCmd.Flags().String("flow", "", "flow id")
	resolveCmd.Flags().Bool("secondary", false, "use secondary (fallback) mode")
	_ = resolveCmd.MarkFlagRequired("tenant")
	_ = resolveCmd.MarkFlagRequired("step")
}

func runResolve(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	flags := cmd.Flags()
	tenant, _ := flags.GetString("tenant")
	step, _ := flags.GetString("step")
	message, _ := flags.GetString("message")
	ticket, _ := flags.GetString("ticket")
	flow, _ := flags.GetString("flow")
	secondary, _ := flags.GetBool("secondary")

	database, err := openDatabase(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	store, err := db.NewStore(database)
	if err != nil {
		return fmt.Errorf("failed to load queries: %w", err)
	}
	engine, err := rules.NewEngine(store, store, rules.WithLogger(logger))
	if err != nil {
		return err
	}

	res, err := engine.Resolve(ctx, rules.Request{
		TenantID:  types.TenantID(tenant),
		StepID:    types.StepID(step),
		Message:   message,
		TicketID:  ticket,
		FlowID:    types.FlowID(flow),
		Secondary: secondary,
	})
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}

	out, err := api.ResolutionFrom(res)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
