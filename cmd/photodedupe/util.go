package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/localphoto/photodedupe/internal/domain"
	"github.com/localphoto/photodedupe/internal/settings"
)

// disableColorIfNotATerminal turns off fatih/color's ANSI output when
// stdout isn't a real terminal (piped to a file, captured by CI), so
// redirected output stays plain text.
func disableColorIfNotATerminal() {
	fd := os.Stdout.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		color.NoColor = true
	}
}

// roleColor renders a member's role with the color convention used across
// every subcommand: the kept original in green, a demoted duplicate in
// yellow, a promoted safe duplicate in cyan.
func roleColor(r domain.Role) string {
	switch r {
	case domain.RoleOriginal:
		return color.GreenString(r.String())
	case domain.RoleSafeDuplicate:
		return color.CyanString(r.String())
	default:
		return color.YellowString(r.String())
	}
}

// parsePreset validates a --preset flag value against the known presets.
func parsePreset(s string) (settings.Preset, error) {
	switch settings.Preset(s) {
	case settings.PresetUltraLite, settings.PresetBalanced, settings.PresetAccurate, settings.PresetCustom:
		return settings.Preset(s), nil
	default:
		return "", fmt.Errorf("unknown preset %q (want ultra_lite, balanced, accurate, or custom)", s)
	}
}

// formatSize renders a byte count in human-readable SI units.
func formatSize(n int64) string {
	return humanize.Bytes(uint64(n))
}
