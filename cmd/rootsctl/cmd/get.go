package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get the value stored for a key",
	Args:  cobra.ExactArgs(1),
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
		value, found, err := tf.Get([]byte(args[0]), false)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("key %q not found in tree %q", args[0], treeName)
		}
		fmt.Println(string(value))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
}
