package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Rewrite the tree file, dropping unreachable chunks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rs, closeFn, err := openRoots()
		if err != nil {
			return err
		}
		defer closeFn()

		if err := rs.Compact(treeName); err != nil {
			return err
		}
		fmt.Printf("compacted %q\n", treeName)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(compactCmd)
}
