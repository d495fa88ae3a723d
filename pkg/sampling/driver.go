// Package sampling generates structures for a whole dataset with the
// generative model and checkpoints the structures generated so far after
// every batch.
package sampling

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/kpotier/crystalgen/pkg/dataset"
	"github.com/kpotier/crystalgen/pkg/metrics"
	"github.com/kpotier/crystalgen/pkg/model"
	"github.com/kpotier/crystalgen/pkg/structure"
)

// MaxAttempts is the default number of times a batch is sampled before the
// run is aborted.
const MaxAttempts = 3

// ErrExhausted is matched by the error returned when a batch couldn't be
// sampled.
var ErrExhausted = errors.New("sampling attempts exhausted")

// ExhaustedError is returned when every attempt to sample a batch failed. Err
// is the error of the last attempt.
type ExhaustedError struct {
	Batch    int
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("fail to sample batch %d after %d attempts: %v", e.Batch, e.Attempts, e.Err)
}

// Unwrap makes the error match both ErrExhausted and the last failure.
func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhausted, e.Err}
}

// Driver samples the batches of a dataset one after the other. Every failure
// of the sampler is treated as transient and retried, up to Attempts times
// per batch. An output with the wrong shape, a malformed lattice or a
// non-finite coordinate counts as a failure. If a batch still fails, the whole
// run is aborted. After every successful batch, Export receives every
// structure generated so far.
type Driver struct {
	Sampler  model.Sampler
	Attempts int // MaxAttempts if <= 0
	Export   func(structure.Batch) error
	// Evaluate logs the errors of every batch that has a reference.
	Evaluate bool
	Log      *log.Logger
}

// Result is the outcome of a run. Reference is set when every batch had a
// reference.
type Result struct {
	Pred      structure.Batch
	Reference *structure.Batch
	Batches   int
}

// Run samples every batch of ds, in the order of the dataset. Batch b+1 is
// only requested once batch b has been accumulated and exported. On error,
// the structures of the batches already completed remain exported.
func (d *Driver) Run(ctx context.Context, ds dataset.Dataset) (Result, error) {
	if d.Sampler == nil {
		return Result{}, errors.New("no sampler")
	}

	var (
		preds    []structure.Batch
		refs     []structure.Batch
		noRef    bool
		total    = -1
		attempts = d.Attempts
	)
	if attempts <= 0 {
		attempts = MaxAttempts
	}
	if c, ok := ds.(interface{ Batches() int }); ok {
		total = c.Batches()
	}

	for idx := 0; ; idx++ {
		batch, err := ds.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("Next (batch %d): %w", idx, err)
		}

		err = batch.Validate()
		if err != nil {
			return Result{}, fmt.Errorf("batch %d: %w", idx, err)
		}

		pred, err := d.sample(ctx, idx, attempts, batch)
		if err != nil {
			return Result{}, err
		}

		preds = append(preds, pred)
		if batch.Reference != nil {
			refs = append(refs, *batch.Reference)
			d.evaluate(idx, pred, *batch.Reference)
		} else {
			noRef = true
		}

		all, err := structure.Concat(preds...)
		if err != nil {
			return Result{}, fmt.Errorf("Concat (batch %d): %w", idx, err)
		}

		if d.Export != nil {
			err = d.Export(all)
			if err != nil {
				return Result{}, fmt.Errorf("Export (batch %d): %w", idx, err)
			}
		}

		d.printf("batch %d/%d: %d structures sampled (%d in total)", idx+1, total, len(batch.NumAtoms), all.Len())
	}

	var res Result
	var err error
	res.Batches = len(preds)
	res.Pred, err = structure.Concat(preds...)
	if err != nil {
		return Result{}, fmt.Errorf("Concat: %w", err)
	}

	if !noRef && len(refs) > 0 {
		ref, err := structure.Concat(refs...)
		if err != nil {
			return Result{}, fmt.Errorf("Concat: %w", err)
		}
		res.Reference = &ref
	}
	return res, nil
}

// sample calls the sampler until it succeeds or has failed attempts times.
func (d *Driver) sample(ctx context.Context, idx, attempts int, batch dataset.Batch) (structure.Batch, error) {
	var last error
	for n := 1; n <= attempts; n++ {
		if err := ctx.Err(); err != nil {
			return structure.Batch{}, fmt.Errorf("batch %d: %w", idx, err)
		}

		lattices, frac, err := d.Sampler.Sample(ctx, batch.Species, batch.NumAtoms)
		if err == nil {
			pred := structure.Batch{
				NumAtoms: append([]int(nil), batch.NumAtoms...),
				Species:  append([]int(nil), batch.Species...),
				Frac:     frac,
				Lattices: lattices,
			}
			err = pred.Validate()
			if err == nil {
				err = pred.ValidateGeometry()
			}
			if err == nil {
				return pred, nil
			}
		}

		last = err
		d.printf("Warning: generation fail (batch %d, attempt %d/%d): %v, restart!", idx, n, attempts, err)
	}

	return structure.Batch{}, &ExhaustedError{Batch: idx, Attempts: attempts, Err: last}
}

func (d *Driver) evaluate(idx int, pred, ref structure.Batch) {
	if !d.Evaluate {
		return
	}

	res, err := metrics.Compare(pred, ref, false)
	if err != nil {
		d.printf("Warning: batch %d: Compare: %v", idx, err)
		return
	}
	d.printf("batch %d: %s %g, %s %g, %s %g", idx,
		metrics.MAEPos, res.Pos[0], metrics.MAELengths, res.Lengths[0], metrics.MAEAngles, res.Angles[0])
}

func (d *Driver) printf(format string, v ...interface{}) {
	if d.Log != nil {
		d.Log.Printf(format, v...)
	}
}
