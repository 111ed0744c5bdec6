// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// The gptsync command reconciles MBR and GPT partition metadata on a
// block device or disk image.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/siderolabs/gen/xslices"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/siderolabs/go-gptsync/block"
	"github.com/siderolabs/go-gptsync/gptsync"
	"github.com/siderolabs/go-gptsync/parttypes"
)

var (
	writeEnabled bool
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "gptsync <device-or-image> [block-size]",
	Short: "Reconcile MBR and GPT partition metadata",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		blockSize := uint64(0)

		if len(args) == 2 {
			var err error

			blockSize, err = strconv.ParseUint(args[1], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid block size %q: %w", args[1], err)
			}
		}

		return run(args[0], blockSize)
	},
}

func init() {
	rootCmd.Flags().BoolVar(&writeEnabled, "write", false, "apply needed writes to the device (default: report only)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func run(path string, blockSize uint64) (err error) {
	logger, err := buildLogger()
	if err != nil {
		return err
	}

	defer logger.Sync() //nolint:errcheck

	dev, err := block.NewFromPath(path, writeEnabled)
	if err != nil {
		return fmt.Errorf("failed to open %q: %w", path, err)
	}

	defer func() {
		if closeErr := dev.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close %q: %w", path, closeErr)
		}
	}()

	types := parttypes.Default()

	state, err := gptsync.Read(dev,
		gptsync.WithLogger(logger),
		gptsync.WithBlockSize(blockSize),
		gptsync.WithTypeTable(types),
	)
	if err != nil {
		return err
	}

	printSummary(state)

	fired := state.Apply(gptsync.SyncRules(types))
	for _, name := range fired {
		fmt.Printf("rule fired: %s\n", name)
	}

	pending, err := state.Reconcile()
	if err != nil {
		return err
	}

	statuses := state.Statuses()

	for _, structure := range []gptsync.Structure{
		gptsync.StructureMBR,
		gptsync.StructureMainHeader,
		gptsync.StructureMainTable,
		gptsync.StructureBackupHeader,
		gptsync.StructureBackupTable,
	} {
		status := statuses[structure]

		fmt.Printf("%-17s accessible=%-5v checksum_ok=%-5v write_needed=%v\n",
			structure, status.Accessible, status.ChecksumOK, status.WriteNeeded)
	}

	gatekeeper := gptsync.NewGatekeeper(dev,
		gptsync.WithWritesAllowed(writeEnabled),
		gptsync.WithGatekeeperLogger(logger),
	)

	result, err := gatekeeper.Commit(pending)
	if err != nil {
		return err
	}

	if len(result.Applied) > 0 {
		fmt.Printf("rewritten: %v\n", result.Applied)
	}

	if len(result.Withheld) > 0 {
		names := xslices.Map(result.Withheld, func(pw gptsync.PendingWrite) string {
			return pw.Structure.String()
		})

		fmt.Printf("withheld by policy (re-run with --write to apply): %v\n", names)
	}

	return nil
}

func buildLogger() (*zap.Logger, error) {
	if !verbose {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)

		return cfg.Build()
	}

	return zap.NewDevelopment()
}

func printSummary(state *gptsync.State) {
	for _, p := range state.MBRSummary() {
		name := "(unknown)"
		if p.TypeName != nil {
			name = *p.TypeName
		}

		extra := ""
		if p.OpticalFS {
			extra = " [optical-media filesystem]"
		}

		fmt.Printf("mbr  #%d  nick=%s  start=%-10d sectors=%-10d %s%s\n",
			p.Index, p.Nick, p.FirstLBA, p.Sectors, name, extra)
	}

	for _, p := range state.GPTSummary() {
		name := "(unknown)"
		if p.TypeName != nil {
			name = *p.TypeName
		}

		fmt.Printf("gpt  #%d  nick=%-4s start=%-10d sectors=%-10d %s  %q\n",
			p.Index, p.Nick, p.FirstLBA, p.Sectors, name, p.Label)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
