package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"example.com/backstage/services/provenance/payload"
	"example.com/backstage/services/provenance/utils"
)

var parseQRCmd = &cobra.Command{
	Use:   "parse-qr <text>",
	Short: "Decode a scanned QR payload",
	Long: `Decode the text of a scanned code the way the scan endpoint does
and print the extracted fields as JSON.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := payload.ParseStrict(strings.Join(args, " "))
		if err != nil {
			return err
		}

		out, err := utils.PrettyPrint(p)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(parseQRCmd)
}
