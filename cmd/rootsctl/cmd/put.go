package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var putCmd = &cobra.Command{
	Use:   "put <key> <value>",
	Short: "Set a key to a value in a single-statement transaction",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rs, closeFn, err := openRoots()
		if err != nil {
			return err
		}
		defer closeFn()

		txn, err := rs.Transaction([]string{treeName})
		if err != nil {
			return err
		}
		if err := txn.Set(treeName, [][]byte{[]byte(args[0])}, []byte(args[1])); err != nil {
			txn.Rollback()
			return err
		}
		if err := txn.Commit(); err != nil {
			return err
		}
		fmt.Printf("set %q in %q\n", args[0], treeName)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(putCmd)
}
