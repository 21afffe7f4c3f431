package output

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Ramsey-B/clover/pkg/tracing"
)

// ErrNothingStaged is returned when promoting without a staged output
var ErrNothingStaged = errors.New("nothing was staged")

// Promote replaces the output root with the staging root. The previous root is moved
// aside, the staging root is moved into place, then the previous root is removed. When
// the second move fails the previous root is restored. Cancellation is only honored
// before the first move; the staging root is removed whenever promotion fails.
func (w *Writer) Promote(ctx context.Context, staged *Staged) error {
	ctx, span := tracing.StartSpan(ctx, "output.Writer.Promote")
	defer span.End()

	if staged == nil {
		return ErrNothingStaged
	}

	promote := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return w.swap(ctx)
	}

	var err error
	if w.locker != nil {
		err = w.locker.WithLock(ctx, w.outputRoot, promote)
	} else {
		err = promote()
	}

	if err != nil {
		w.Discard(ctx)
		return err
	}

	w.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":      w.runID,
		"output_root": w.outputRoot,
		"documents":   staged.Documents,
	}).Info("Published output")

	return nil
}

// swap performs the rename sequence. It never honors cancellation.
func (w *Writer) swap(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(w.outputRoot), 0o755); err != nil {
		return &WriteError{Op: "create parent of", Path: w.outputRoot, Err: err}
	}

	aside := w.outputRoot + ".previous-" + w.runID
	hadPrevious := true
	if err := os.Rename(w.outputRoot, aside); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return &WriteError{Op: "move aside", Path: w.outputRoot, Err: err}
		}
		hadPrevious = false
	}

	if err := os.Rename(w.stagingRoot, w.outputRoot); err != nil {
		if hadPrevious {
			if restoreErr := os.Rename(aside, w.outputRoot); restoreErr != nil {
				return fmt.Errorf("%w; previous output left at %s: %v",
					&WriteError{Op: "promote", Path: w.stagingRoot, Err: err}, aside, restoreErr)
			}
		}
		return &WriteError{Op: "promote", Path: w.stagingRoot, Err: err}
	}

	if hadPrevious {
		if err := os.RemoveAll(aside); err != nil {
			w.logger.WithContext(ctx).WithError(err).Warnf("Failed to remove previous output %s", aside)
		}
	}
	return nil
}
