package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/eddielth/edge-ingest/model"
	"github.com/eddielth/edge-ingest/storage"
)

func newRulesCommand(flags *globalFlags) *cobra.Command {
	rulesCmd := &cobra.Command{
		Use:     "rules",
		Aliases: []string{"rule"},
		Short:   "Inspect automation rules",
	}

	var (
		asJSON bool
		all    bool
	)
	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the rules in the configured database",
		Long:    `List the enabled rules (or every rule with --all) stored in the configured database.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}

			db, err := storage.NewDatabase(cfg.Storage.Type, cfg.Storage.DSN)
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer db.Close()

			var list []model.Rule
			if all {
				list, err = db.ListRules(cmd.Context())
			} else {
				list, err = db.EnabledRules(cmd.Context())
			}
			if err != nil {
				return fmt.Errorf("fetch rules: %w", err)
			}

			return printRules(cmd, list, asJSON)
		},
	}
	listCmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	listCmd.Flags().BoolVarP(&all, "all", "a", false, "include disabled rules")

	rulesCmd.AddCommand(listCmd)
	return rulesCmd
}

func printRules(cmd *cobra.Command, list []model.Rule, asJSON bool) error {
	out := cmd.OutOrStdout()

	if asJSON {
		if list == nil {
			list = []model.Rule{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(list)
	}

	if len(list) == 0 {
		fmt.Fprintln(out, "No rules found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tNAME\tENABLED\tCONDITION\tACTION")
	fmt.Fprintln(w, "--\t----\t-------\t---------\t------")
	for _, r := range list {
		fmt.Fprintf(w, "%d\t%s\t%t\t%s %s %g\t%s\n", r.ID, r.Name, r.Enabled, r.Metric, r.Operator, r.Value, r.Action)
	}
	return nil
}
