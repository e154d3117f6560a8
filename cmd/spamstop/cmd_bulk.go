package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"spamstop/internal/config"
	"spamstop/internal/phone"
	"spamstop/internal/unsub"
)

var bulkFile string

// bulkCmd replies STOP to every number listed in a file.
var bulkCmd = &cobra.Command{
	Use:     "bulk-unsubscribe",
	Aliases: []string{"bulk_unsubscribe"},
	Short:   "Reply STOP to every number in a file",
	Long: `Reads one phone number per line (blank lines ignored) and replies STOP to
each number not already in the opt-out set. A missing file is reported and
nothing is sent.`,
	Args: cobra.NoArgs,
	RunE: runBulk,
}

func init() {
	bulkCmd.Flags().StringVar(&bulkFile, "file", "", "Numbers file (default from config)")
}

func runBulk(cmd *cobra.Command, args []string) (err error) {
	a, err := openApp(cmd, "bulk-unsubscribe")
	if err != nil {
		return err
	}
	var res unsub.Result
	defer func() { err = a.close(err, res.Counts()) }()

	path := bulkFile
	if path == "" {
		path = a.cfg.Bulk.NumbersFile
	}
	path = config.ExpandHome(path)

	numbers, err := readNumbers(path)
	if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(a.out, "Numbers file %s not found, nothing to do\n", path)
		return nil
	}
	if err != nil {
		return err
	}
	logger.Debug("read numbers file", zap.String("path", path), zap.Int("lines", len(numbers)))

	ctx, cancel := a.context(cmd)
	defer cancel()

	r, err := a.runner("bulk-unsubscribe")
	if err != nil {
		return err
	}
	res, err = r.Run(ctx, phone.Slice(numbers))
	a.summarize("bulk-unsubscribe", res)
	return err
}

// readNumbers returns the trimmed non-blank lines of path.
func readNumbers(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}
