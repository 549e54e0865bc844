package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ward/internal/app"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Print the most recent journaled results",
	Long:  `Reads the result journal configured under "storage" (file or sqlite driver).`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("lines")
		a, err := newApp(cmd, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.Stop(cmd.Context(), app.StopAppStop)

		recs, err := a.Journal(cmd.Context(), n)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, r := range recs {
			fmt.Fprintf(out, "%s  %-8.8s  %-5s  %6dms  %s => %s\n",
				r.At.Local().Format("2006-01-02 15:04:05"), r.Session, r.Class, r.TookMS, r.Command, r.Result)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.Flags().IntP("lines", "n", 20, "Number of records to show")
}
