package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"example.com/backstage/services/provenance/utils"
	"example.com/backstage/services/provenance/verifier"
)

var auditFlag bool

var verifyCmd = &cobra.Command{
	Use:   "verify <batch-id>",
	Short: "Print the verification of a batch",
	Long: `Print a batch and its custody timeline as JSON. With --audit every
stored event hash is recomputed and a mismatch fails the command.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeStore, err := openStore(cfg, false)
		if err != nil {
			return err
		}
		defer closeStore()

		v := verifier.New(store, nil)

		var (
			result   *verifier.Verification
			checkErr error
		)
		if auditFlag {
			result, checkErr = v.Audit(cmd.Context(), args[0])
		} else {
			result, checkErr = v.Verify(cmd.Context(), args[0])
		}
		if result == nil {
			return checkErr
		}

		out, err := utils.PrettyPrint(result)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)

		if checkErr != nil {
			return fmt.Errorf("batch %s failed integrity audit: %w", args[0], checkErr)
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().BoolVar(&auditFlag, "audit", false, "recompute every event hash")
	rootCmd.AddCommand(verifyCmd)
}
