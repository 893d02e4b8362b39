package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newListCmd(root *rootOptions) *cobra.Command {
	var class string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered game tests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := root.load(cmd)
			if err != nil {
				return err
			}
			defs := e.registry.All()
			if class != "" {
				defs = e.registry.ByClass(class)
			}
			out := cmd.OutOrStdout()
			for _, d := range defs {
				var tags []string
				if d.Optional {
					tags = append(tags, "optional")
				}
				if d.ManualOnly {
					tags = append(tags, "manual")
				}
				if d.Flaky() {
					tags = append(tags, fmt.Sprintf("flaky %d/%d", d.RequiredSuccesses, d.MaxAttempts))
				}
				line := fmt.Sprintf("%-32s batch=%-10s structure=%-12s timeout=%d", d.Name, d.Batch, d.Structure, d.TimeoutTicks)
				if len(tags) > 0 {
					line += " [" + strings.Join(tags, ", ") + "]"
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&class, "class", "", "only list tests of this class")
	return cmd
}
