package implementation

import (
	"context"
	"sync"
	"time"

	logger "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Logger"
	hardware_models "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Models/hardware"
	interfaces "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Repository/Interfaces"
)

// ArchiveWriter batches readings and flushes them to a ReadingArchive when the
// batch is full or the window elapses, whichever comes first.
type ArchiveWriter struct {
	archive   interfaces.ReadingArchive
	log       *logger.Logger
	batchSize int
	window    time.Duration

	mu     sync.Mutex
	ch     chan hardware_models.Reading
	lastTs map[int]time.Time
	closed bool
	wg     sync.WaitGroup
}

func NewArchiveWriter(archive interfaces.ReadingArchive, batchSize int, window time.Duration, log *logger.Logger) *ArchiveWriter {
	if batchSize <= 0 {
		batchSize = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &ArchiveWriter{
		archive:   archive,
		log:       log.WithComponent("archive"),
		batchSize: batchSize,
		window:    window,
		ch:        make(chan hardware_models.Reading, 4096),
		lastTs:    make(map[int]time.Time),
	}
}

func (w *ArchiveWriter) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.batchWriter(ctx)
	}()
}

// Enqueue queues the readings newer than anything already queued for their device.
// series must be sorted ascending by timestamp. Returns how many were queued.
func (w *ArchiveWriter) Enqueue(series []hardware_models.Reading) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0
	}

	queued := 0
	for _, r := range series {
		if last, ok := w.lastTs[r.DeviceID]; ok && !r.Ts.After(last) {
			continue
		}
		select {
		case w.ch <- r:
			w.lastTs[r.DeviceID] = r.Ts
			queued++
		default:
			w.log.WithDevice(r.DeviceID).Warn("archive queue full, dropping reading")
			return queued
		}
	}
	return queued
}

// Stop flushes what is queued and waits for the writer to exit
func (w *ArchiveWriter) Stop() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.ch)
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *ArchiveWriter) batchWriter(ctx context.Context) {
	batch := make([]hardware_models.Reading, 0, w.batchSize)
	timer := time.NewTimer(w.window)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// ctx may already be cancelled on the final flush
		fctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := w.archive.Archive(fctx, batch); err != nil {
			w.log.WithError(err).WithField("count", len(batch)).Error("failed to archive readings")
		} else {
			w.log.WithField("count", len(batch)).Debug("archived readings")
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case rd, ok := <-w.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rd)
			if len(batch) >= w.batchSize {
				flush()
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.window)
			}
		case <-timer.C:
			flush()
			timer.Reset(w.window)
		}
	}
}
