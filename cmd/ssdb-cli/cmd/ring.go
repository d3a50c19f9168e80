package cmd

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var rangesCmd = &cobra.Command{
	Use:   "ranges",
	Short: "Show the hash range of every cluster",
	Args:  cobra.NoArgs,
	RunE:  runRanges,
}

var splitCmd = &cobra.Command{
	Use:   "split <key> [keys...]",
	Short: "Show which cluster serves each key",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSplit,
}

func runRanges(cmd *cobra.Command, args []string) error {
	ring := ssdbClient.Ring()
	ranges := ring.Ranges()
	if outputFlag == "json" {
		return printJSON(cmd.OutOrStdout(), ranges)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "CLUSTER\tMIN\tMAX\tVALID\tTAKEN OVER BY\n")
	for _, r := range ranges {
		fmt.Fprintf(w, "%s\t%d\t%d\t%t\t%s\n", r.ID, r.Min, r.Max, r.Valid, r.TakenOverBy)
	}
	fmt.Fprintf(w, "\npolicy: %s\n", ring.Policy())
	return w.Flush()
}

func runSplit(cmd *cobra.Command, args []string) error {
	groups, err := ssdbClient.SplitKeys(args...)
	if err != nil {
		return err
	}
	if outputFlag == "json" {
		return printJSON(cmd.OutOrStdout(), groups)
	}

	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	w := cmd.OutOrStdout()
	for _, id := range ids {
		fmt.Fprintf(w, "%s:", id)
		for _, k := range groups[id] {
			fmt.Fprintf(w, " %s", k)
		}
		fmt.Fprintln(w)
	}
	return nil
}
