package storage

import (
	"github.com/rcrowley/go-metrics"

	"github.com/tchardonnens/vibe-torrent-client/internal/semaphore"
)

// WriteRequest is a verified piece's bytes, ready for disk.
type WriteRequest struct {
	Index   uint32
	Data    []byte
	Release func()
}

// Written reports the outcome of one WriteRequest.
type Written struct {
	Index uint32
	Err   error
}

// Writer drains a bounded queue of verified pieces across a small fixed
// pool of goroutines, writing each through a Layout and reporting back
// on Results. Matches rain's PieceWriter.Run, ported from a per-piece
// goroutine-per-write model to a fixed worker pool bounded by a
// semaphore, since a one-shot leecher has no session-wide disk I/O
// budget to share with other torrents the way rain's client does.
type Writer struct {
	layout  *Layout
	queue   chan WriteRequest
	Results chan Written

	WritesPerSecond     metrics.Meter
	WriteBytesPerSecond metrics.Meter

	sem *semaphore.Semaphore

	stopC chan struct{}
	doneC chan struct{}
}

// NewWriter starts workers workers (4 if zero) draining requests into layout.
func NewWriter(layout *Layout, workers int) *Writer {
	if workers <= 0 {
		workers = 4
	}
	w := &Writer{
		layout:              layout,
		queue:               make(chan WriteRequest, workers*2),
		Results:             make(chan Written, workers*2),
		WritesPerSecond:     metrics.NewMeter(),
		WriteBytesPerSecond: metrics.NewMeter(),
		sem:                 semaphore.New(workers),
		stopC:               make(chan struct{}),
		doneC:               make(chan struct{}),
	}
	w.sem.Start()
	go w.run(workers)
	return w
}

// Enqueue queues req for writing. Does not block past the queue's buffer.
func (w *Writer) Enqueue(req WriteRequest) {
	select {
	case w.queue <- req:
	case <-w.stopC:
	}
}

// Stop signals every worker to exit once its current write finishes.
func (w *Writer) Stop() { close(w.stopC) }

// Done reports when every worker has exited.
func (w *Writer) Done() <-chan struct{} { return w.doneC }

func (w *Writer) run(workers int) {
	defer close(w.doneC)
	done := make(chan struct{})
	for i := 0; i < workers; i++ {
		go w.worker(done)
	}
	for i := 0; i < workers; i++ {
		<-done
	}
}

func (w *Writer) worker(done chan struct{}) {
	defer func() { done <- struct{}{} }()
	for {
		select {
		case req := <-w.queue:
			w.writeOne(req)
		case <-w.stopC:
			return
		}
	}
}

func (w *Writer) writeOne(req WriteRequest) {
	<-w.sem.Wait
	err := w.layout.Write(req.Index, req.Data)
	w.sem.Signal(1)
	if req.Release != nil {
		req.Release()
	}
	if err == nil {
		w.WritesPerSecond.Mark(1)
		w.WriteBytesPerSecond.Mark(int64(len(req.Data)))
	}
	select {
	case w.Results <- Written{Index: req.Index, Err: err}:
	case <-w.stopC:
	}
}
