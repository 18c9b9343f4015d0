package datalog

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	jsonlFile = "registers.jsonl"
	csvFile   = "registers.csv"
)

var csvHeader = []string{"timestamp", "batch", "servo", "port", "register", "value"}

// FileSink appends rows to JSONL and/or CSV files from a background writer.
// The CSV file holds one line per register.
type FileSink struct {
	dir string
	q   chan Row
	log Logger

	mu     sync.RWMutex
	closed bool

	jsonFile   *os.File
	jsonWriter *bufio.Writer
	csvFile    *os.File
	csvWriter  *csv.Writer

	done chan struct{}
}

// NewFileSink ensures dir exists, opens the outputs selected by fileType
// (jsonl, csv or both) and starts the writer.
func NewFileSink(dir, fileType string, queueSize int, log Logger) (*FileSink, error) {
	if dir == "" {
		dir = "data"
	}
	if log == nil {
		log = noopLogger{}
	}
	var enableJSON, enableCSV bool
	switch strings.ToLower(strings.TrimSpace(fileType)) {
	case "json", "jsonl":
		enableJSON = true
	case "csv":
		enableCSV = true
	case "both", "":
		enableJSON, enableCSV = true, true
	default:
		return nil, fmt.Errorf("%w: %q", ErrFileType, fileType)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	if queueSize <= 0 {
		queueSize = 1024
	}

	s := &FileSink{
		dir:  dir,
		q:    make(chan Row, queueSize),
		log:  log,
		done: make(chan struct{}),
	}
	if enableJSON {
		f, err := os.OpenFile(filepath.Join(dir, jsonlFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open json output: %w", err)
		}
		s.jsonFile = f
		s.jsonWriter = bufio.NewWriterSize(f, 64*1024)
	}
	if enableCSV {
		if err := s.openCSV(); err != nil {
			s.closeFiles()
			return nil, err
		}
	}

	go s.run()
	return s, nil
}

func (s *FileSink) openCSV() error {
	f, err := os.OpenFile(filepath.Join(s.dir, csvFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open csv output: %w", err)
	}
	s.csvFile = f
	s.csvWriter = csv.NewWriter(f)
	if off, _ := f.Seek(0, io.SeekEnd); off == 0 {
		if err := s.csvWriter.Write(csvHeader); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
		s.csvWriter.Flush()
		if err := s.csvWriter.Error(); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
	}
	return nil
}

func (s *FileSink) Name() string { return "file:" + s.dir }

// Write enqueues the row without blocking.
func (s *FileSink) Write(_ context.Context, r Row) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.q <- r:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *FileSink) run() {
	defer close(s.done)
	for r := range s.q {
		if err := s.writeJSONL(r); err != nil {
			s.log.Error("writing jsonl row failed", "servo", r.Servo, "error", err)
		}
		if err := s.writeCSV(r); err != nil {
			s.log.Error("writing csv row failed", "servo", r.Servo, "error", err)
		}
		if len(s.q) == 0 {
			s.flush()
		}
	}
	s.flush()
}

func (s *FileSink) flush() {
	if s.jsonWriter != nil {
		if err := s.jsonWriter.Flush(); err != nil {
			s.log.Error("flushing jsonl output failed", "error", err)
		}
	}
	if s.csvWriter != nil {
		s.csvWriter.Flush()
		if err := s.csvWriter.Error(); err != nil {
			s.log.Error("flushing csv output failed", "error", err)
		}
	}
}

// Close drains the queue and closes the files.
func (s *FileSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.q)
	s.mu.Unlock()

	<-s.done
	return s.closeFiles()
}

func (s *FileSink) closeFiles() error {
	var errs []error
	if s.jsonFile != nil {
		errs = append(errs, s.jsonFile.Close())
	}
	if s.csvFile != nil {
		errs = append(errs, s.csvFile.Close())
	}
	return errors.Join(errs...)
}

func (s *FileSink) writeJSONL(r Row) error {
	if s.jsonWriter == nil {
		return nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if _, err := s.jsonWriter.Write(b); err != nil {
		return err
	}
	return s.jsonWriter.WriteByte('\n')
}

func (s *FileSink) writeCSV(r Row) error {
	if s.csvWriter == nil {
		return nil
	}
	ts := r.Timestamp.Format(time.RFC3339Nano)
	servoID := strconv.Itoa(r.Servo)
	for _, k := range r.sortedRegisters() {
		rec := []string{ts, r.Batch, servoID, r.Port, string(k), strconv.FormatInt(r.Registers[k], 10)}
		if err := s.csvWriter.Write(rec); err != nil {
			return err
		}
	}
	return nil
}
