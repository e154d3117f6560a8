package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"spamstop/internal/phone"
	"spamstop/internal/unsub"
)

// purgeCmd replies STOP to a single number.
var purgeCmd = &cobra.Command{
	Use:   "purge <phone>",
	Short: "Reply STOP to one number",
	Long: `Normalizes the number to its national form (US numbers lose the +1
country code) and replies STOP unless it is already in the opt-out set.

Example:
  spamstop purge "+1 (555) 123-4567"`,
	Args: cobra.ExactArgs(1),
	RunE: runPurge,
}

func runPurge(cmd *cobra.Command, args []string) (err error) {
	number := phone.National(args[0])
	if number == "" {
		return fmt.Errorf("%q contains no digits", args[0])
	}

	a, err := openApp(cmd, "purge")
	if err != nil {
		return err
	}
	var res unsub.Result
	defer func() { err = a.close(err, res.Counts()) }()

	ctx, cancel := a.context(cmd)
	defer cancel()

	r, err := a.runner("purge")
	if err != nil {
		return err
	}
	r.Delay = -1

	res, err = r.Run(ctx, phone.Slice([]string{number}))
	if err != nil {
		return err
	}
	switch {
	case res.Skipped > 0:
		fmt.Fprintf(a.out, "%s is already opted out\n", number)
	case res.Failed > 0:
		return fmt.Errorf("send to %s failed", number)
	}
	return nil
}
