package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cuemby/fleetcore/pkg/store"
	"github.com/cuemby/fleetcore/pkg/types"
)

var ruleCmd = &cobra.Command{
	Use:   "rule",
	Short: "manage the fleet reconciler's desired-state rules",
}

var ruleListCmd = &cobra.Command{
	Use:   "list",
	Short: "list all rules",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		rs, err := store.NewRuleStore(ctx, cfg.CockroachDBURL)
		if err != nil {
			return err
		}
		defer rs.Close()

		rules, err := rs.ListRules(ctx)
		if err != nil {
			return err
		}
		for _, rule := range rules {
			fmt.Printf("%s\t%s\t%d\n", rule.Provider, rule.Region, rule.DesiredCount)
		}
		return nil
	},
}

var ruleSetCmd = &cobra.Command{
	Use:   "set <provider> <region> <desired-count>",
	Short: "create or update a rule",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		count, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid desired count %q: %w", args[2], err)
		}

		ctx := cmd.Context()
		rs, err := store.NewRuleStore(ctx, cfg.CockroachDBURL)
		if err != nil {
			return err
		}
		defer rs.Close()

		return rs.UpsertRule(ctx, types.Rule{
			Provider:     types.Provider(args[0]),
			Region:       args[1],
			DesiredCount: count,
		})
	},
}

var ruleDeleteCmd = &cobra.Command{
	Use:   "delete <provider> <region>",
	Short: "delete a rule",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		rs, err := store.NewRuleStore(ctx, cfg.CockroachDBURL)
		if err != nil {
			return err
		}
		defer rs.Close()

		return rs.DeleteRule(ctx, types.Provider(args[0]), args[1])
	},
}

func init() {
	ruleCmd.AddCommand(ruleListCmd, ruleSetCmd, ruleDeleteCmd)
}
