package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	os.Exit(run())
}

func run() int {
	root := &cobra.Command{
		Use:     "photodedupe",
		Short:   "Find duplicate and near-duplicate photos",
		Version: version + " (" + commit + ")",
	}

	root.AddCommand(newScanCmd())
	root.AddCommand(newGroupsCmd())
	root.AddCommand(newOverrideCmd())
	root.AddCommand(newConflictsCmd())

	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}
