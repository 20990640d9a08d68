package logger

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

const (
	sinkBufferSize    = 32 * 1024
	sinkFlushInterval = 5 * time.Second
)

// fileSink is an append-only log file behind a buffer that is flushed
// periodically and on Close.
type fileSink struct {
	mu     sync.Mutex
	file   *os.File
	buf    *bufio.Writer
	stop   chan struct{}
	done   chan struct{}
	closed bool
}

func openFileSink(path string) (*fileSink, error) {
	if err := ensureFileDirectory(path); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, LogFilePermissions) //nolint:gosec // path from config
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	s := &fileSink{
		file: f,
		buf:  bufio.NewWriterSize(f, sinkBufferSize),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.flushLoop()
	return s, nil
}

func (s *fileSink) flushLoop() {
	defer close(s.done)
	ticker := time.NewTicker(sinkFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			// errors surface on the next write
			_ = s.Flush()
		}
	}
}

// Write implements io.Writer.
func (s *fileSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, os.ErrClosed
	}
	return s.buf.Write(p)
}

// Flush writes the buffer to the OS without fsync.
func (s *fileSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.buf.Flush()
}

// Close flushes, syncs and closes the file. It is idempotent.
func (s *fileSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stop)
	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.buf.Flush(), s.file.Sync(), s.file.Close())
}
