package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Remove a key in a single-statement transaction",
	Args:  cobra.ExactArgs(1),
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
		if err := txn.Remove(treeName, [][]byte{[]byte(args[0])}); err != nil {
			txn.Rollback()
			return err
		}
		if err := txn.Commit(); err != nil {
			return err
		}
		fmt.Printf("removed %q from %q\n", args[0], treeName)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
