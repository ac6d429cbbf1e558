package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"text/tabwriter"
	"time"

	"github.com/remindfi/remind-network/reminders/chain"
	"github.com/spf13/cobra"
	"github.com/xssnick/tonutils-go/tlb"
)

var tasksJSON bool

func init() {
	tasksCmd.Flags().BoolVar(&tasksJSON, "json", false, "print as json")
	rootCmd.AddCommand(tasksCmd)
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Read all ledger tasks and print them",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()

		l, err := openLedger(ctx, cfg)
		if err != nil {
			return err
		}

		cache := chain.NewTaskCache(l, cacheConfig(cfg.Chain), logger)
		if _, err = cache.Refresh(ctx, true); err != nil {
			return fmt.Errorf("failed to read tasks: %w", err)
		}
		snap := cache.Snapshot()

		if tasksJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tCREATOR\tCOMMIT\tPOOL\tDEADLINE\tRESOLVED\tHANDLE\tDESCRIPTION")
		for _, t := range snap {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%v\t%s\t%s\n", t.ID, t.Creator.Hex(),
				amount(t.CommitAmount), amount(t.RewardPool), t.Deadline.UTC().Format(time.RFC3339),
				t.Resolved, t.FarcasterHandle, t.Description)
		}
		return tw.Flush()
	},
}

func amount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return tlb.MustFromNano(v, cfg.Chain.TokenDecimals).String()
}
