package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/localphoto/photodedupe/internal/domain"
	"github.com/localphoto/photodedupe/internal/settings"
	"github.com/localphoto/photodedupe/pkg/photodedupe"
)

// groupsOptions holds CLI flags for the groups command.
type groupsOptions struct {
	dbPath string
	tier   string
}

// newGroupsCmd creates the groups subcommand.
func newGroupsCmd() *cobra.Command {
	opts := &groupsOptions{dbPath: "photodedupe.db"}

	cmd := &cobra.Command{
		Use:   "groups",
		Short: "List duplicate groups found by the last scan",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runGroups(opts)
		},
	}

	cmd.Flags().StringVar(&opts.dbPath, "db", opts.dbPath, "Path to the store database file")
	cmd.Flags().StringVar(&opts.tier, "tier", "", "Restrict to a tier (exact or near); default: both")

	return cmd
}

func runGroups(opts *groupsOptions) error {
	disableColorIfNotATerminal()

	engine, err := photodedupe.OpenStore(opts.dbPath, mustDefaultSettings(), nil, nil, nil)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = engine.Close() }()

	var tierFilter *domain.Tier
	if opts.tier != "" {
		t := domain.ParseTier(opts.tier)
		tierFilter = &t
	}

	groups, err := engine.ListGroups(tierFilter)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		fmt.Println("no duplicate groups")
		return nil
	}

	for _, g := range groups {
		fmt.Printf("group %d  tier=%s  confidence=%.2f\n", g.ID, g.Tier, g.Confidence)
		for _, m := range g.Members {
			fmt.Printf("  [%s] %s (%s)\n", roleColor(m.Role), m.File.Path, formatSize(m.File.Size))
		}
	}
	return nil
}

// mustDefaultSettings returns the Balanced preset for read-only subcommands
// (groups, override, conflicts) that don't run a pipeline and so have no
// reason to expose the full settings flag surface.
func mustDefaultSettings() settings.Settings {
	s, _ := settings.DefaultSettings(settings.PresetBalanced)
	return s
}
