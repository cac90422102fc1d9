package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print a tree's alive/deleted key counts and total value bytes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rs, closeFn, err := openRoots()
		if err != nil {
			return err
		}
		defer closeFn()

		tf, err := rs.Tree(treeName)
		if err != nil {
			return err
		}
		stats := tf.Stats(false)
		fmt.Printf("tree=%s alive_keys=%d deleted_keys=%d total_bytes=%d\n",
			treeName, stats.AliveKeys, stats.DeletedKeys, stats.TotalBytes)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
