package pipeline

import (
	"context"
	"sync"

	"github.com/judacas/AutoDJ/internal/recognition"
	"github.com/judacas/AutoDJ/pkg/models"
)

// IndexUnit fingerprints one song. It is safe to rerun: an identical asset
// is reused from the store. With a batch the catalog entry is collected for
// the caller to publish; without one it is published immediately.
type IndexUnit struct {
	p      *Pipeline
	in     models.AssetInput
	report *RunReport
	batch  *entryBatch
}

func (u *IndexUnit) Key() string { return "song:" + u.in.Label() }

func (u *IndexUnit) Run(ctx context.Context) error {
	res, entry, err := u.p.indexSong(ctx, u.in)
	if err != nil {
		return err
	}
	if u.batch != nil {
		u.batch.add(entry)
	} else {
		u.p.publish(entry)
	}
	if u.report != nil {
		u.report.indexed(res.Reused)
	}
	return nil
}

// entryBatch collects catalog entries from concurrent index units.
type entryBatch struct {
	mu      sync.Mutex
	entries []recognition.Entry
}

func (b *entryBatch) add(e recognition.Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, e)
}

func (b *entryBatch) take() []recognition.Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.entries
	b.entries = nil
	return out
}

// MixUnit processes one mix end to end. Its graph edges are committed in a
// single batch at the very end, so a canceled or retried unit never leaves
// a partial mix behind.
type MixUnit struct {
	p      *Pipeline
	in     models.AssetInput
	runID  string
	report *RunReport
}

func (u *MixUnit) Key() string { return "mix:" + u.in.Label() }

func (u *MixUnit) Run(ctx context.Context) error {
	summary, err := u.p.ProcessMix(ctx, u.runID, u.in)
	if err != nil {
		return err
	}
	if u.report != nil {
		u.report.addMix(summary)
	}
	return nil
}
