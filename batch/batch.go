// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package batch

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"

	"github.com/Fantom-foundation/Panoptes/interpreter/pvm"
	"github.com/Fantom-foundation/Panoptes/journal"
	"github.com/Fantom-foundation/Panoptes/panoptes"
	"github.com/Fantom-foundation/Panoptes/tracer"
	"golang.org/x/sync/errgroup"
)

// analyzerCacheSize is the number of code analyses shared by the instances
// of one batch. Batches typically execute one or very few distinct codes.
const analyzerCacheSize = 1024

// Batch is a set of independent instances executed over a shared, read-only
// base world. Instances do not share any mutable state; faults in one
// instance never affect another.
type Batch struct {
	World     journal.World
	Instances []*Instance

	analyzer *pvm.Analyzer
	steps    atomic.Int64
}

// New creates a batch of one instance per message over the given world.
func New(world journal.World, messages []Message) (*Batch, error) {
	analyzer, err := pvm.NewAnalyzer(analyzerCacheSize)
	if err != nil {
		return nil, err
	}
	instances := make([]*Instance, 0, len(messages))
	for _, message := range messages {
		instances = append(instances, &Instance{Message: message})
	}
	return &Batch{
		World:     world,
		Instances: instances,
		analyzer:  analyzer,
	}, nil
}

// RunConfig tunes a batch execution.
type RunConfig struct {
	// Jobs is the number of instances executed simultaneously. Values < 1
	// select the number of CPUs.
	Jobs int
	// StepBudget bounds the number of instructions per instance; on exceed
	// the instance halts with an aborted error code. Zero disables the
	// bound.
	StepBudget int64
}

// Run executes all instances of the batch, each by exactly one worker.
// Cancelling the context halts the remaining instances cleanly at their next
// instruction boundary; their partial traces remain valid.
func (b *Batch) Run(ctx context.Context, config RunConfig) error {
	jobs := config.Jobs
	if jobs < 1 {
		jobs = runtime.NumCPU()
	}

	abort := &atomic.Bool{}
	stop := context.AfterFunc(ctx, func() { abort.Store(true) })
	defer stop()

	group := errgroup.Group{}
	group.SetLimit(jobs)
	for _, instance := range b.Instances {
		instance := instance
		group.Go(func() error {
			b.runInstance(instance, abort, config)
			return nil
		})
	}
	return group.Wait()
}

// Steps returns the total number of instructions retired by the batch so
// far. Safe for concurrent use.
func (b *Batch) Steps() int64 {
	return b.steps.Load()
}

// runInstance executes one transaction against a fresh journal over the
// shared base world and leaves journal, trace, and result on the instance.
func (b *Batch) runInstance(instance *Instance, abort *atomic.Bool, config RunConfig) {
	message := instance.Message

	jnl := journal.New(b.World)
	trace := tracer.New()
	instance.Journal = jnl
	instance.Trace = trace

	var budget *pvm.StepBudget
	if config.StepBudget > 0 {
		budget = &pvm.StepBudget{Remaining: config.StepBudget}
	}
	interpreterConfig := pvm.Config{
		Analyzer: b.analyzer,
		Observer: trace,
		Abort:    abort,
		Budget:   budget,
	}

	if !canTransferValue(jnl, message.Value, message.Sender) {
		instance.Result = panoptes.Result{Error: panoptes.ErrInsufficientBalance}
		return
	}

	rc := runContext{
		TransactionContext: jnl,
		config:             interpreterConfig,
		transactionParameters: panoptes.TransactionParameters{
			Origin:   message.Sender,
			GasPrice: message.GasPrice,
		},
	}

	parameters := panoptes.CallParameters{
		Sender: message.Sender,
		Value:  message.Value,
		Input:  message.Input,
		Gas:    message.GasLimit,
	}

	var result panoptes.CallResult
	var err error
	if message.To == nil {
		result, err = rc.Call(panoptes.Create, parameters)
	} else {
		incrementNonce(jnl, message.Sender)
		parameters.Recipient = *message.To
		result, err = rc.Call(panoptes.Call, parameters)
	}
	b.steps.Add(int64(trace.Len()))
	if err != nil {
		code := panoptes.ErrAborted
		if errors.Is(err, panoptes.ErrMaxCallDepthReached) {
			code = panoptes.ErrDepthExceeded
		}
		instance.Result = panoptes.Result{Error: code}
		return
	}

	if result.Success {
		jnl.Settle()
	}

	instance.Result = panoptes.Result{
		Success:   result.Success,
		Output:    result.Output,
		GasLeft:   result.GasLeft,
		GasRefund: result.GasRefund,
		Error:     trace.LastError(),
	}
}
