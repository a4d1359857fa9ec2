package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/localphoto/photodedupe/pkg/photodedupe"
)

// newConflictsCmd creates the conflicts subcommand.
func newConflictsCmd() *cobra.Command {
	dbPath := "photodedupe.db"

	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List groups whose manual override no longer matches auto-selection",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runConflicts(dbPath)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", dbPath, "Path to the store database file")
	return cmd
}

func runConflicts(dbPath string) error {
	disableColorIfNotATerminal()

	engine, err := photodedupe.OpenStore(dbPath, mustDefaultSettings(), nil, nil, nil)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = engine.Close() }()

	conflicts, err := engine.DetectConflicts()
	if err != nil {
		return err
	}
	if len(conflicts) == 0 {
		fmt.Println("no conflicts")
		return nil
	}

	for _, c := range conflicts {
		fmt.Printf("group %d: override keeps file %d, auto-selection now picks %s\n",
			c.GroupID, c.OverrideFile, color.YellowString("%d", c.AutoPicked))
	}
	return nil
}
