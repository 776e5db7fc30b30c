package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wesleyorama2/stampede/internal/history"
)

func newHistoryCmd(v *viper.Viper) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect past runs stored with --history",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(v)
			if err != nil {
				return err
			}
			defer store.Close()

			items, err := store.List(v.GetInt("limit"))
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTARTED\tDURATION\tRESULT\tEXIT")
			for _, item := range items {
				var duration time.Duration
				if item.Report != nil {
					duration = time.Duration(item.Report.DurationMs * float64(time.Millisecond)).Round(time.Millisecond)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
					shortID(item.ID),
					item.Name,
					item.StartTime.Local().Format(time.DateTime),
					duration,
					verdict(item.Passed),
					item.ExitCode,
				)
			}
			return w.Flush()
		},
	}
	listCmd.Flags().Int("limit", 20, "maximum number of runs to list (0 for all)")

	showCmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print the JSON summary of a stored run; a unique id prefix is enough",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(v)
			if err != nil {
				return err
			}
			defer store.Close()

			item, err := store.Get(args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(item.Report)
		},
	}

	historyCmd.AddCommand(listCmd, showCmd)
	return historyCmd
}

func openHistory(v *viper.Viper) (*history.Store, error) {
	path := v.GetString("history")
	if path == "" {
		return nil, errors.New("no history file: set --history or STAMPEDE_HISTORY")
	}
	return history.Open(path)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func verdict(passed bool) string {
	if passed {
		return "PASSED"
	}
	return "FAILED"
}
