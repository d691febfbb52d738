package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and seed the episode ledger",
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every title and its next episode",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openStore()
		if err != nil {
			return err
		}
		defer a.close()

		records, err := a.ledger.List(context.Background())
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("Ledger is empty")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TITLE\tSEASON\tEPISODE\tUPDATED")
		for _, r := range records {
			updated := "-"
			if !r.UpdatedAt.IsZero() {
				updated = r.UpdatedAt.Local().Format(time.DateTime)
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", r.Title, r.Season, r.Episode, updated)
		}
		return w.Flush()
	},
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show <title>",
	Short: "Show a title's position and its recent runs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("runs")

		a, err := openStore()
		if err != nil {
			return err
		}
		defer a.close()

		ctx := context.Background()
		record, err := a.ledger.Get(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s: next release is %s\n", record.Title, record.Position())

		runs, err := a.history.ForTitle(ctx, args[0], limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			return nil
		}

		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tEPISODE\tSTATUS\tRENDITIONS\tFAILURE")
		for _, run := range runs {
			failure := "-"
			if run.FailureCode != nil {
				failure = *run.FailureCode
			}
			fmt.Fprintf(w, "%s\tS%02dE%02d\t%s\t%d\t%s\n",
				run.StartedAt.Local().Format(time.DateTime), run.Season, run.Episode, run.Status, run.Renditions, failure)
		}
		return w.Flush()
	},
}

var ledgerSeedCmd = &cobra.Command{
	Use:   "seed <title> <season> <episode>",
	Short: "Set the starting position of a title the ledger does not know yet",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		season, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid season %q", args[1])
		}
		episode, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid episode %q", args[2])
		}

		a, err := openStore()
		if err != nil {
			return err
		}
		defer a.close()

		record, created, err := a.ledger.Seed(context.Background(), args[0], season, episode)
		if err != nil {
			return err
		}
		if !created {
			fmt.Printf("%s is already tracked at %s; left unchanged\n", record.Title, record.Position())
			return nil
		}
		fmt.Printf("%s seeded at %s\n", record.Title, record.Position())
		return nil
	},
}

func init() {
	ledgerShowCmd.Flags().Int("runs", 10, "number of recent runs to show")
	ledgerCmd.AddCommand(ledgerListCmd, ledgerShowCmd, ledgerSeedCmd)
}
