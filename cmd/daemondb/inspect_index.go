package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"daemondb/internal/index"
)

// Grounded on cmd/inspect_idx/main.go's "walk an index file and print its
// contents" role, adapted from a standalone .idx file reader to a B+ tree
// rooted at the page the catalog has on record.
func init() {
	cmd := &cobra.Command{
		Use:   "inspect-index <table> <index>",
		Short: "Print every (key, rid) pair an index holds, in ascending key order",
		Args:  cobra.ExactArgs(2),
		RunE:  runInspectIndex,
	}
	rootCmd.AddCommand(cmd)
}

func runInspectIndex(cmd *cobra.Command, args []string) error {
	tableName, indexName := args[0], args[1]

	e, err := openEngine()
	if err != nil {
		return fmt.Errorf("inspect-index: %w", err)
	}
	defer e.Close()

	idxInfo, err := e.Catalog.GetIndex(tableName, indexName)
	if err != nil {
		return fmt.Errorf("inspect-index: %w", err)
	}

	cfg := e.Config()
	tree := index.New(e.Pool, cfg.IndexLeafMaxSize, cfg.IndexInternalMaxSize, nil)
	tree.SetRootPageID(idxInfo.RootPageID)

	it, err := tree.NewIterator()
	if err != nil {
		return fmt.Errorf("inspect-index: %w", err)
	}

	count := 0
	for {
		key, rid, ok, err := it.Next()
		if err != nil {
			return fmt.Errorf("inspect-index: %w", err)
		}
		if !ok {
			break
		}
		fmt.Printf("key=%d page=%d slot=%d\n", key, rid.PageID, rid.SlotNum)
		count++
	}
	fmt.Printf("%d entries\n", count)
	return nil
}
