package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/learningpaths/learningpaths/internal/config"
	"github.com/learningpaths/learningpaths/internal/models"
	"github.com/learningpaths/learningpaths/internal/ui"
)

var surfaceCmd = &cobra.Command{
	Use:   "surface [name]",
	Short: "Show the public model surface",
	Long: `Lists the names re-exported by the models package, grouped by feature.
Callers of the old import path can rely on every name listed here.

With a name, shows what that name is bound to.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if len(args) == 1 {
			e, ok := models.Lookup(args[0])
			if !ok {
				return fmt.Errorf("%s is not part of the public surface", args[0])
			}
			t, err := models.TypeOf(e.Name)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s (%s, %s) -> %s\n", e.Name, e.Group, e.Kind, t)
			return nil
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON || config.Get().UI.OutputFormat == "json" {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]interface{}{
				"groups":  models.Groups(),
				"exports": models.Surface(),
			})
		}

		surface := models.Surface()
		for _, group := range models.Groups() {
			fmt.Fprintf(out, "%s:\n", group)
			for _, e := range surface[group] {
				fmt.Fprintf(out, "  %s %s %s\n", ui.PadRight(e.Name, 32), ui.PadRight(e.Kind, 5), e.Symbol)
			}
		}
		fmt.Fprintf(out, "\nTotal names: %d\n", len(models.Names()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(surfaceCmd)
	surfaceCmd.Flags().Bool("json", false, "Print as JSON")
}
