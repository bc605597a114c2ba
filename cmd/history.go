package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"steadytls/internal/cli"
	"steadytls/internal/report"
	"steadytls/internal/target"
	"steadytls/internal/tui"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse previous runs",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		return viper.BindPFlags(cmd.Flags())
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(viper.GetViper())
		if err != nil {
			return err
		}
		defer store.Close()
		return tui.RunHistory(store)
	},
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print stored runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(viper.GetViper())
		if err != nil {
			return err
		}
		defer store.Close()

		items, err := store.List()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTIME\tURL\tTLS\tVUS\tREQS\tERR%\tP99")
		for _, it := range items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%.1f\t%s\n",
				it.ID, it.Timestamp.Format(time.RFC3339), it.Target.URL,
				target.VersionName(it.Target.TLSVersion), it.Run.VUs,
				it.Summary.Requests, it.Summary.ErrorRate(), it.Summary.Get(99).Round(time.Microsecond))
		}
		return w.Flush()
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print the summary of one run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(viper.GetViper())
		if err != nil {
			return err
		}
		defer store.Close()

		item, err := store.Get(args[0])
		if err != nil {
			return err
		}
		cli.PrintHeader(os.Stdout, item.Target, item.Run)
		cli.PrintSummary(os.Stdout, item.Summary)
		if item.Aborted != "" {
			fmt.Printf("\n⚠️  %s\n", item.Aborted)
		}

		if out, _ := cmd.Flags().GetString("out"); out != "" {
			rep := report.NewReport(item.ID, item.Target, item.Run.VUs, item.Summary)
			rep.Timestamp = item.Timestamp
			files, err := report.Export(out, rep, nil)
			if err != nil {
				return err
			}
			fmt.Printf("\n💾 Report saved: %s\n", files[0])
		}
		return nil
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Remove a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(viper.GetViper())
		if err != nil {
			return err
		}
		defer store.Close()
		return store.Delete(args[0])
	},
}

func init() {
	historyCmd.PersistentFlags().String("history-file", "", "history database (default $HOME/.steadytls/history.db)")
	historyShowCmd.Flags().StringP("out", "o", "", "also write <out>_summary.json")
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyDeleteCmd)
}
