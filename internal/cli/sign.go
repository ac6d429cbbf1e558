package cli

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/remindfi/remind-network/pkg/claims"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(signCmd)
}

var signCmd = &cobra.Command{
	Use:   "sign <helper-address> <task-id> <score>",
	Short: "Issue a claim signature offline",
	Long: `Signs a claim for helper on task with a normalized score in [0,1],
using the configured signer key. Nothing is read from or written to the store.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !common.IsHexAddress(args[0]) {
			return fmt.Errorf("incorrect helper address %q", args[0])
		}

		taskID, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil || taskID == 0 {
			return fmt.Errorf("incorrect task id %q", args[1])
		}

		score, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return fmt.Errorf("incorrect score: %w", err)
		}

		bps, err := claims.ScoreBasisPoints(score)
		if err != nil {
			return err
		}

		signer, err := openSigner(cfg)
		if err != nil {
			return err
		}
		if signer == nil {
			return fmt.Errorf("signer key is not configured")
		}

		sig, err := signer.Sign(common.HexToAddress(args[0]), taskID, bps)
		if err != nil {
			return err
		}

		tier := claims.TierForBps(bps)
		fmt.Printf("signer:    %s\n", signer.Address().Hex())
		fmt.Printf("score_bps: %d\n", bps)
		fmt.Printf("tier:      %s (%d bps)\n", tier.Name, tier.BasisPoints)
		fmt.Printf("signature: %s\n", hexutil.Encode(sig))
		return nil
	},
}
