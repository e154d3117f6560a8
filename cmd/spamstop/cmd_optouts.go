package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"spamstop/internal/logging"
	"spamstop/internal/optout"
	"spamstop/internal/phone"
	"spamstop/internal/report"
)

// optoutsCmd groups the opt-out set maintenance commands.
var optoutsCmd = &cobra.Command{
	Use:   "optouts",
	Short: "Inspect and edit the opt-out set",
}

var optoutsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every opted-out number",
	Args:  cobra.NoArgs,
	RunE:  listOptOuts,
}

var optoutsCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print how many numbers are opted out",
	Args:  cobra.NoArgs,
	RunE:  countOptOuts,
}

var optoutsRemoveCmd = &cobra.Command{
	Use:   "remove <phone>",
	Short: "Remove a number so it can be sent STOP again",
	Args:  cobra.ExactArgs(1),
	RunE:  removeOptOut,
}

var optoutsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show opt-out counts per source command",
	Args:  cobra.NoArgs,
	RunE:  optOutStats,
}

func init() {
	optoutsCmd.AddCommand(optoutsListCmd)
	optoutsCmd.AddCommand(optoutsCountCmd)
	optoutsCmd.AddCommand(optoutsRemoveCmd)
	optoutsCmd.AddCommand(optoutsStatsCmd)
}

func listOptOuts(cmd *cobra.Command, args []string) (err error) {
	a, err := openApp(cmd, "optouts list")
	if err != nil {
		return err
	}
	defer func() { err = a.close(err, nil) }()

	entries, err := a.set.List(cmd.Context())
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(a.out, "Opt-out set is empty")
		return nil
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NUMBER\tSOURCE\tADDED")
	for _, e := range entries {
		added := "-"
		if !e.AddedAt.IsZero() {
			added = e.AddedAt.Local().Format(time.DateTime)
		}
		source := e.Source
		if source == "" {
			source = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Number, source, added)
	}
	return w.Flush()
}

func countOptOuts(cmd *cobra.Command, args []string) (err error) {
	a, err := openApp(cmd, "optouts count")
	if err != nil {
		return err
	}
	defer func() { err = a.close(err, nil) }()

	n, err := a.set.Count(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, n)
	return nil
}

func removeOptOut(cmd *cobra.Command, args []string) (err error) {
	a, err := openApp(cmd, "optouts remove")
	if err != nil {
		return err
	}
	defer func() { err = a.close(err, nil) }()

	err = a.set.Remove(cmd.Context(), args[0])
	switch {
	case errors.Is(err, optout.ErrNotFound):
		return fmt.Errorf("%s is not in the opt-out set", args[0])
	case err != nil:
		return err
	}

	number := phone.Clean(args[0])
	a.audit.OptOutRemove(number)
	logger.Info("removed opt-out", zap.String("number", logging.MaskPhone(number)))
	fmt.Fprintf(a.out, "Removed %s\n", number)
	return nil
}

func optOutStats(cmd *cobra.Command, args []string) (err error) {
	a, err := openApp(cmd, "optouts stats")
	if err != nil {
		return err
	}
	defer func() { err = a.close(err, nil) }()

	st, err := a.set.Stats(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprint(a.out, report.New().Stats(st))
	return nil
}
