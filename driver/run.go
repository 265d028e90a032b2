// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/Fantom-foundation/Panoptes/batch"
	"github.com/Fantom-foundation/Panoptes/fixture"
	"github.com/Fantom-foundation/Panoptes/panoptes"
	"github.com/dsnet/golib/unitconv"
	"github.com/urfave/cli/v2"
)

var RunCmd = cli.Command{
	Action:    doRun,
	Name:      "run",
	Usage:     "Run all instances of a state-test fixture and render their traces",
	ArgsUsage: "<fixture.json>",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "jobs",
			Usage: "number of instances executed simultaneously",
			Value: runtime.NumCPU(),
		},
		&cli.Int64Flag{
			Name:  "step-budget",
			Usage: "maximum number of instructions per instance, 0 for unlimited",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "wall-clock limit for the whole batch, 0 for unlimited",
		},
		&cli.StringFlag{
			Name:  "output",
			Usage: "directory receiving one trace document per instance; stdout if empty",
		},
	},
}

// hardFailureCodes are the per-instance outcomes that fail the driver.
var hardFailureCodes = map[panoptes.ErrorCode]bool{
	panoptes.ErrInvalidOpcode: true,
	panoptes.ErrDepthExceeded: true,
	panoptes.ErrAborted:       true,
}

func doRun(cliCtx *cli.Context) error {
	if cliCtx.Args().Len() != 1 {
		return fmt.Errorf("expected exactly one fixture path")
	}
	path := cliCtx.Args().Get(0)

	fix, err := fixture.Load(path)
	if err != nil {
		return err
	}
	world, err := fix.World()
	if err != nil {
		return err
	}
	messages, err := fix.Messages()
	if err != nil {
		return err
	}

	b, err := batch.New(world, messages)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if timeout := cliCtx.Duration("timeout"); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err = b.Run(ctx, batch.RunConfig{
		Jobs:       cliCtx.Int("jobs"),
		StepBudget: cliCtx.Int64("step-budget"),
	})
	if err != nil {
		return err
	}
	duration := time.Since(start)

	rate := float64(b.Steps()) / duration.Seconds()
	fmt.Printf("%d instances, %d steps, %s instructions/second\n",
		len(b.Instances), b.Steps(),
		unitconv.FormatPrefix(rate, unitconv.SI, 1))

	if err := writeTraces(b, cliCtx.String("output")); err != nil {
		return err
	}

	failures := 0
	for i, instance := range b.Instances {
		code := instance.ErrorCode()
		if hardFailureCodes[code] {
			fmt.Fprintf(os.Stderr, "instance %d failed: %v\n", i, code)
			failures++
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d instances failed", failures, len(b.Instances))
	}
	return nil
}

func writeTraces(b *batch.Batch, outputDir string) error {
	for i, instance := range b.Instances {
		document, err := instance.Trace.Render()
		if err != nil {
			return fmt.Errorf("failed to render trace of instance %d: %w", i, err)
		}
		if outputDir == "" {
			fmt.Printf("%s\n", document)
			continue
		}
		if err := os.MkdirAll(outputDir, 0755); err != nil {
			return err
		}
		name := filepath.Join(outputDir, fmt.Sprintf("trace_%04d.json", i))
		if err := os.WriteFile(name, document, 0644); err != nil {
			return err
		}
	}
	return nil
}
