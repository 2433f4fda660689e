package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tileserv/tileserv/internal/mbtiles"
)

// newMBTilesCmd groups the file-level MBTiles maintenance subcommands —
// copy, diff, apply, validate — all thin wrappers over the C3 engine's
// ATTACH-DATABASE-based operations between two existing files. The
// source-contract bulk scraper (fetching through any registered
// Source, not another MBTiles file) is the separate top-level `copy`
// command in copy.go.
func newMBTilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mbtiles",
		Short: "MBTiles file maintenance: copy, diff, apply, validate",
	}
	cmd.AddCommand(newMBTilesCopyCmd())
	cmd.AddCommand(newMBTilesDiffCmd())
	cmd.AddCommand(newMBTilesApplyCmd())
	cmd.AddCommand(newMBTilesValidateCmd())
	return cmd
}

func newMBTilesCopyCmd() *cobra.Command {
	var minZoom, maxZoom int
	var computeHash bool
	var duplicate string
	cmd := &cobra.Command{
		Use:   "copy <src.mbtiles> <dst.mbtiles>",
		Short: "Copy tiles and metadata from one MBTiles file into another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := mbtiles.CopyOptions{
				SrcPath:        args[0],
				DstPath:        args[1],
				Duplicate:      duplicateModeOf(duplicate),
				ComputeAggHash: computeHash,
			}
			if minZoom != -1 {
				opts.MinZoom = &minZoom
			}
			if maxZoom != -1 {
				opts.MaxZoom = &maxZoom
			}
			return mbtiles.Copy(opts)
		},
	}
	cmd.Flags().IntVar(&minZoom, "min-zoom", -1, "minimum zoom to copy (default: all)")
	cmd.Flags().IntVar(&maxZoom, "max-zoom", -1, "maximum zoom to copy (default: all)")
	cmd.Flags().BoolVar(&computeHash, "agg-hash", false, "recompute agg_tiles_hash in the destination")
	cmd.Flags().StringVar(&duplicate, "on-duplicate", "override", "override|ignore|abort")
	return cmd
}

func duplicateModeOf(s string) mbtiles.DuplicateMode {
	switch s {
	case "ignore":
		return mbtiles.DuplicateIgnore
	case "abort":
		return mbtiles.DuplicateAbort
	default:
		return mbtiles.DuplicateOverride
	}
}

func newMBTilesDiffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff <src.mbtiles> <dif.mbtiles> <out.mbtiles>",
		Short: "Write an MBTiles patch file containing only the differences from src to dif",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mbtiles.Diff(mbtiles.DiffOptions{SrcPath: args[0], DifPath: args[1], OutPath: args[2]})
		},
	}
	return cmd
}

func newMBTilesApplyCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "apply <base.mbtiles> <patch.mbtiles> <dst.mbtiles>",
		Short: "Apply a diff patch file to a base MBTiles file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mbtiles.Apply(mbtiles.ApplyOptions{BasePath: args[0], PatchPath: args[1], DstPath: args[2], Force: force})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "skip the before/after agg-hash integrity checks")
	return cmd
}

func newMBTilesValidateCmd() *cobra.Command {
	var full, checkHash bool
	cmd := &cobra.Command{
		Use:   "validate <file.mbtiles>",
		Short: "Run a SQLite integrity check, optionally verifying agg_tiles_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			check := mbtiles.CheckQuick
			if full {
				check = mbtiles.CheckFull
			}
			hashMode := mbtiles.HashSkip
			if checkHash {
				hashMode = mbtiles.HashVerify
			}
			report, err := mbtiles.Validate(args[0], check, hashMode)
			if err != nil {
				return err
			}
			fmt.Printf("sqlite_ok=%v hash_ok=%v", report.SqliteOK, report.HashOK)
			if report.SqliteIssue != "" {
				fmt.Printf(" issue=%q", report.SqliteIssue)
			}
			if checkHash {
				fmt.Printf(" stored=%s computed=%s", report.StoredHash, report.ComputedHash)
			}
			fmt.Println()
			if !report.SqliteOK || (checkHash && !report.HashOK) {
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "run PRAGMA integrity_check instead of quick_check")
	cmd.Flags().BoolVar(&checkHash, "agg-hash", false, "recompute and compare agg_tiles_hash")
	return cmd
}
