package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ssargent/rootsdb/internal/btree"
)

var (
	scanStart   string
	scanEnd     string
	scanReverse bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List key/value pairs in ascending key order, optionally bounded",
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

		r := btree.KeyRange{}
		if scanStart != "" {
			r.Start = []byte(scanStart)
		}
		if scanEnd != "" {
			r.End = []byte(scanEnd)
		}

		return tf.Scan(r, !scanReverse, false, func(key, value []byte) (bool, error) {
			fmt.Printf("%s=%s\n", key, value)
			return true, nil
		})
	},
}

func init() {
	scanCmd.Flags().StringVar(&scanStart, "start", "", "Inclusive lower key bound")
	scanCmd.Flags().StringVar(&scanEnd, "end", "", "Inclusive upper key bound")
	scanCmd.Flags().BoolVar(&scanReverse, "reverse", false, "Walk keys in descending order")
	rootCmd.AddCommand(scanCmd)
}
