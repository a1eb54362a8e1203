package download

import (
	"context"
	"io"
	"os"

	"mediabridge/internal/coreerr"
	"mediabridge/internal/domain"
	"mediabridge/internal/provider"
)

// FetchStream joins (or starts) the single-flight download for externalID
// and returns a reader that tails the growing output file: it serves bytes
// as they are written and blocks for more until the download reaches a
// terminal state. If the track is already local, it returns a plain file
// reader over the finished file instead.
//
// The returned ReadCloser's Close must always be called by the caller
// (the stream server, per §4.9): it deregisters this reader as a waiter
// and, only if no other waiter remains on the same in-flight download,
// cancels that download so an abandoned connection does not pin a
// pointless transfer open forever.
func (c *Coordinator) FetchStream(ctx context.Context, p provider.Provider, externalID string) (io.ReadCloser, error) {
	if cached, err := c.index.Lookup(p.Name(), externalID); err == nil && cached != "" {
		touch(cached)
		f, err := os.Open(cached)
		if err != nil {
			return nil, err
		}
		return f, nil
	}

	r, created := c.admit(p, externalID)
	if created {
		go c.run(context.Background(), p, externalID, r)
	}

	path, err := c.waitForPartial(ctx, r)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.waiters++
	r.mu.Unlock()

	return &tailReader{record: r, file: f, coord: c}, nil
}

// waitForPartial blocks until r has a partial (or final) path to open, or
// terminates with an error before ever creating one.
func (c *Coordinator) waitForPartial(ctx context.Context, r *record) (string, error) {
	done := make(chan struct{})
	var path string
	var err error

	go func() {
		r.mu.Lock()
		for r.partial == "" && r.local == "" && r.state != domain.DownloadFailed {
			r.cond.Wait()
		}
		switch {
		case r.state == domain.DownloadFailed:
			err = r.err
		case r.local != "":
			path = r.local
		default:
			path = r.partial
		}
		r.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return path, err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// tailReader reads a record's output file as it grows, blocking for more
// data until the record reaches a terminal state.
type tailReader struct {
	record   *record
	file     *os.File
	coord    *Coordinator
	released bool
}

// Name returns the underlying file's path, letting callers infer a
// content type from its extension before the download (and thus its
// resolved mimeType) necessarily completes.
func (t *tailReader) Name() string { return t.file.Name() }

func (t *tailReader) Read(p []byte) (int, error) {
	for {
		n, err := t.file.Read(p)
		if n > 0 {
			return n, nil
		}
		if err != nil && err != io.EOF {
			return 0, err
		}

		// err == io.EOF or n == 0: no new bytes yet. If the download has
		// already reached a terminal state, this EOF is final (or a
		// failure); otherwise wait for the *next* progress broadcast —
		// every countingWriter.Write call broadcasts, not just the
		// terminal transition — and retry the read. Waiting for the whole
		// download to finish before ever re-reading would turn this into
		// "buffer everything, then dump it", defeating §4.8/§5's
		// progressive-streaming and backpressure model.
		t.record.mu.Lock()
		if t.record.state == domain.DownloadCompleted || t.record.state == domain.DownloadFailed {
			state := t.record.state
			recErr := t.record.err
			t.record.mu.Unlock()

			// One more read attempt: a broadcast may have raced with the
			// writer's final flush, so the file may have grown since our
			// last Read above.
			n2, err2 := t.file.Read(p)
			if n2 > 0 {
				return n2, nil
			}
			if state == domain.DownloadFailed {
				if recErr != nil {
					return 0, recErr
				}
				return 0, coreerr.ErrTransient
			}
			if err2 != nil && err2 != io.EOF {
				return 0, err2
			}
			return 0, io.EOF
		}
		t.record.cond.Wait()
		t.record.mu.Unlock()
		// Loop back around and retry the file read: a broadcast just
		// woke us, either because more bytes landed or because the
		// download reached a terminal state.
	}
}

// Close deregisters this reader as a waiter on the in-flight download and,
// only when it was the last remaining waiter, cancels the download.
func (t *tailReader) Close() error {
	if t.released {
		return t.file.Close()
	}
	t.released = true

	t.record.mu.Lock()
	t.record.waiters--
	waiters := t.record.waiters
	cancel := t.record.cancel
	t.record.mu.Unlock()

	if waiters <= 0 && cancel != nil {
		cancel()
	}

	return t.file.Close()
}
