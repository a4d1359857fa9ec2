package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/localphoto/photodedupe/internal/domain"
	"github.com/localphoto/photodedupe/pkg/photodedupe"
)

// newOverrideCmd creates the override command and its put/clear subcommands.
func newOverrideCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "override",
		Short: "Manage manual overrides of a group's chosen original",
	}
	cmd.AddCommand(newOverridePutCmd())
	cmd.AddCommand(newOverrideClearCmd())
	return cmd
}

type overridePutOptions struct {
	dbPath     string
	groupID    int64
	chosenFile int64
	autoPicked int64
	reason     string
	note       string
}

func newOverridePutCmd() *cobra.Command {
	opts := &overridePutOptions{dbPath: "photodedupe.db"}

	cmd := &cobra.Command{
		Use:   "put",
		Short: "Record which file is the original for a group",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runOverridePut(opts)
		},
	}

	cmd.Flags().StringVar(&opts.dbPath, "db", opts.dbPath, "Path to the store database file")
	cmd.Flags().Int64Var(&opts.groupID, "group", 0, "Group id")
	cmd.Flags().Int64Var(&opts.chosenFile, "chosen-file", 0, "File id to keep as the original")
	cmd.Flags().Int64Var(&opts.autoPicked, "auto-picked", 0, "File id auto-selection would have picked")
	cmd.Flags().StringVar(&opts.reason, "reason", string(domain.ReasonUserPreference), "Reason code (user_preference, quality_better, format_preference, manual_selection, algorithm_error)")
	cmd.Flags().StringVar(&opts.note, "note", "", "Free-text note")
	_ = cmd.MarkFlagRequired("group")
	_ = cmd.MarkFlagRequired("chosen-file")

	return cmd
}

func runOverridePut(opts *overridePutOptions) error {
	engine, err := photodedupe.OpenStore(opts.dbPath, mustDefaultSettings(), nil, nil, nil)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = engine.Close() }()

	id, err := engine.ApplyOverride(opts.groupID, opts.chosenFile, opts.autoPicked,
		domain.OverrideSingleGroup, domain.OverrideReason(opts.reason), opts.note)
	if err != nil {
		return err
	}
	fmt.Printf("override %d applied to group %d\n", id, opts.groupID)
	return nil
}

type overrideClearOptions struct {
	dbPath  string
	groupID int64
}

func newOverrideClearCmd() *cobra.Command {
	opts := &overrideClearOptions{dbPath: "photodedupe.db"}

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove a group's override, reverting to automatic selection",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runOverrideClear(opts)
		},
	}

	cmd.Flags().StringVar(&opts.dbPath, "db", opts.dbPath, "Path to the store database file")
	cmd.Flags().Int64Var(&opts.groupID, "group", 0, "Group id")
	_ = cmd.MarkFlagRequired("group")

	return cmd
}

func runOverrideClear(opts *overrideClearOptions) error {
	engine, err := photodedupe.OpenStore(opts.dbPath, mustDefaultSettings(), nil, nil, nil)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = engine.Close() }()

	if err := engine.RemoveOverride(opts.groupID); err != nil {
		return err
	}
	fmt.Printf("override cleared for group %d\n", opts.groupID)
	return nil
}
