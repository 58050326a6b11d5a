// Package archive periodically exports newly ingested events as compressed
// JSONL objects to one or more destinations.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/alfredjeanlab/traceql/internal/model"
	"github.com/alfredjeanlab/traceql/internal/store"
)

const (
	// DefaultBatch is the page size used when reading events.
	DefaultBatch = 500

	// settleLag keeps the newest events out of a run so that inserts
	// stamped just before it but committed after it are not skipped.
	settleLag = 2 * time.Second
)

// Destination is the interface for an archive target (S3, a directory).
type Destination interface {
	// Write stores data under key.
	Write(ctx context.Context, key string, data []byte) error
}

// Scheduler runs periodic archives to one or more destinations.
type Scheduler struct {
	store        store.Store
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger
	encoder      *zstd.Encoder

	// Batch and Now may be changed before Start. Batch is the most events
	// written to one object; values below 1 are treated as 1.
	Batch int
	Now   func() time.Time

	mu        sync.Mutex
	watermark store.Cursor

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler that archives from the store to the given
// destinations at the specified interval.
func NewScheduler(s store.Store, destinations []Destination, interval time.Duration, logger *slog.Logger) (*Scheduler, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:        s,
		destinations: destinations,
		interval:     interval,
		logger:       logger,
		encoder:      enc,
		Batch:        DefaultBatch,
		Now:          time.Now,
	}, nil
}

// Start begins periodic archiving. It runs an initial archive immediately,
// then on each tick.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for the current archive (if any) to
// finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Watermark returns the position of the newest archived event.
func (s *Scheduler) Watermark() store.Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermark
}

func (s *Scheduler) run(ctx context.Context) {
	s.archiveLogged(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.archiveLogged(ctx)
		}
	}
}

func (s *Scheduler) archiveLogged(ctx context.Context) {
	win, err := s.ArchiveOnce(ctx)
	if err != nil {
		s.logger.Error("archive failed", "err", err)
		return
	}
	if win.Count == 0 {
		s.logger.Debug("archive skipped, no new events")
		return
	}
	s.logger.Info("archive completed",
		"objects", win.Objects,
		"events", win.Count,
		"last_ts", win.To,
		"destinations", len(s.destinations),
	)
}

// ArchiveOnce exports the events newer than the watermark to every
// destination, one compressed object per page of Batch events. The
// watermark moves past a page only when all destinations accept its object,
// so a failure stops the run and the next one resumes at that page. The
// returned Window covers the objects written; it is zero when nothing was
// new.
func (s *Scheduler) ArchiveOnce(ctx context.Context) (Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := max(s.Batch, 1)
	until := s.Now().Add(-settleLag).UnixMilli()

	var total Window
	for {
		page, err := s.store.ScanRange(ctx, s.watermark, until, batch)
		if err != nil {
			return total, fmt.Errorf("scan from %d/%s: %w", s.watermark.TS, s.watermark.ID, err)
		}
		if len(page) == 0 {
			return total, nil
		}

		win, err := s.writePage(ctx, page)
		if err != nil {
			return total, err
		}
		s.watermark = win.Last
		total = total.extend(win)

		if len(page) < batch {
			return total, nil
		}
	}
}

// writePage encodes one page of events and writes it to every destination.
func (s *Scheduler) writePage(ctx context.Context, page []*model.Event) (Window, error) {
	var buf bytes.Buffer
	win, err := ExportJSONL(&buf, page)
	if err != nil {
		return Window{}, err
	}
	data := s.encoder.EncodeAll(buf.Bytes(), make([]byte, 0, buf.Len()/4))

	var failed int
	for i, dest := range s.destinations {
		if err := dest.Write(ctx, win.Key(), data); err != nil {
			s.logger.Error("archive destination write failed", "destination", fmt.Sprintf("%d", i), "key", win.Key(), "err", err)
			failed++
		}
	}
	if failed > 0 {
		return Window{}, fmt.Errorf("%d of %d destinations failed for %s", failed, len(s.destinations), win.Key())
	}
	return win, nil
}
