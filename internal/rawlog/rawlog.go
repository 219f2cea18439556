// Package rawlog is the durable daily raw log: every RawPassing is appended
// verbatim, one JSON line per datagram, to a file rotated at UTC midnight and
// gzip-compressed once rotated out.
package rawlog

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/signalsfoundry/velotrain/internal/types"
)

// Logger appends raw passings to a daily file and rotates/compresses it at
// UTC midnight.
type Logger struct {
	dir         string
	mu          sync.RWMutex
	currentFile *os.File
	currentDate string
}

// New creates a Logger writing under dir, creating dir if missing.
func New(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("rawlog: create dir: %w", err)
	}
	l := &Logger{dir: dir}
	if err := l.rotateFile(time.Now().UTC()); err != nil {
		return nil, err
	}
	return l, nil
}

// Write appends one raw passing as a JSON line, rotating the file first if
// UTC midnight has passed since the last write.
func (l *Logger) Write(rp types.RawPassing) error {
	now := time.Now().UTC()

	l.mu.RLock()
	stale := l.currentDate != now.Format("2006-01-02")
	l.mu.RUnlock()

	if stale {
		if err := l.rotateAndCompress(now); err != nil {
			return fmt.Errorf("rawlog: rotate: %w", err)
		}
	}

	line, err := json.Marshal(rp)
	if err != nil {
		return fmt.Errorf("rawlog: marshal: %w", err)
	}
	line = append(line, '\n')

	l.mu.RLock()
	defer l.mu.RUnlock()
	_, err = l.currentFile.Write(line)
	return err
}

// rotateAndCompress closes the current file, gzips the day it just finished,
// and opens a fresh file for now.
func (l *Logger) rotateAndCompress(now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	prevDate := l.currentDate
	if l.currentFile != nil {
		if err := l.currentFile.Close(); err != nil {
			return fmt.Errorf("failed to close current file: %w", err)
		}
	}

	if prevDate != "" {
		prevPath := l.pathFor(prevDate)
		if err := compressFile(prevPath); err != nil {
			return fmt.Errorf("failed to compress previous log: %w", err)
		}
	}

	return l.rotateFileLocked(now)
}

func (l *Logger) rotateFile(now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rotateFileLocked(now)
}

func (l *Logger) rotateFileLocked(now time.Time) error {
	date := now.Format("2006-01-02")
	path := l.pathFor(date)

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	l.currentFile = file
	l.currentDate = date
	return nil
}

func (l *Logger) pathFor(date string) string {
	return filepath.Join(l.dir, fmt.Sprintf("rawpass_%s.log", date))
}

// compressFile gzips filePath into filePath+".gz" and removes the original.
func compressFile(filePath string) error {
	src, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer src.Close()

	dstPath := filePath + ".gz"
	dst, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("failed to create compressed file: %w", err)
	}

	gw := gzip.NewWriter(dst)
	if _, err := io.Copy(gw, src); err != nil {
		gw.Close()
		dst.Close()
		return fmt.Errorf("failed to write compressed data: %w", err)
	}
	if err := gw.Close(); err != nil {
		dst.Close()
		return fmt.Errorf("failed to flush gzip writer: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("failed to close compressed file: %w", err)
	}

	return os.Remove(filePath)
}

// Close closes the current file without rotating it.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.currentFile == nil {
		return nil
	}
	return l.currentFile.Close()
}

// CurrentDate returns the date of the currently open file, thread-safe.
func (l *Logger) CurrentDate() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.currentDate
}
