// Package runlog appends one JSON line per export run to date-organized,
// size-rotated files and reads recent runs back.
package runlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

const fileName = "runs.jsonl"

// Run statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Record is one finished export run.
type Record struct {
	ID                string    `json:"id"`
	Portal            string    `json:"portal"`
	Strategy          string    `json:"strategy"`
	Range             string    `json:"range,omitempty"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
	Status            string    `json:"status"`
	ErrorCode         string    `json:"error_code,omitempty"`
	Error             string    `json:"error,omitempty"`
	ArtifactPath      string    `json:"artifact_path,omitempty"`
	SuggestedFilename string    `json:"suggested_filename,omitempty"`
	Refresh           string    `json:"refresh,omitempty"`
	Table             string    `json:"table,omitempty"`
	RowsIngested      int       `json:"rows_ingested"`
	EvidenceID        string    `json:"evidence_id,omitempty"`
}

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("runlog: writer is closed")

// Writer queues records and writes them from one goroutine.
type Writer struct {
	baseDir   string
	maxSizeMB int
	writeCh   chan Record
	done      chan struct{}
	wg        sync.WaitGroup

	mu          sync.Mutex
	closed      bool
	currentDate string
	logger      *lumberjack.Logger
}

func NewWriter(baseDir string, bufferSize, maxSizeMB int) *Writer {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	w := &Writer{
		baseDir:   baseDir,
		maxSizeMB: maxSizeMB,
		writeCh:   make(chan Record, bufferSize),
		done:      make(chan struct{}),
	}
	w.wg.Add(1)
	go w.writeLoop()
	return w
}

// Write queues rec without blocking.
func (w *Writer) Write(rec Record) error {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return ErrClosed
	}
	select {
	case w.writeCh <- rec:
		return nil
	default:
		slog.Warn("runlog buffer full, dropping record", "run_id", rec.ID)
		return errors.New("runlog: buffer full")
	}
}

// Close stops the writer after flushing queued records.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.done)
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.logger != nil {
		return w.logger.Close()
	}
	return nil
}

func (w *Writer) writeLoop() {
	defer w.wg.Done()
	for {
		select {
		case rec := <-w.writeCh:
			w.writeRecord(rec)
		case <-w.done:
			for {
				select {
				case rec := <-w.writeCh:
					w.writeRecord(rec)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) writeRecord(rec Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		slog.Error("runlog marshal failed", "run_id", rec.ID, "error", err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	date := rec.StartedAt.UTC().Format("2006-01-02")
	if rec.StartedAt.IsZero() {
		date = time.Now().UTC().Format("2006-01-02")
	}
	if w.logger == nil || date != w.currentDate {
		if err := w.rotateForDate(date); err != nil {
			slog.Error("runlog open failed", "date", date, "error", err)
			return
		}
	}
	if _, err := w.logger.Write(append(data, '\n')); err != nil {
		slog.Error("runlog write failed", "run_id", rec.ID, "error", err)
	}
}

func (w *Writer) rotateForDate(date string) error {
	if w.logger != nil {
		_ = w.logger.Close()
		w.logger = nil
	}
	dir := filepath.Join(w.baseDir, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	w.logger = &lumberjack.Logger{
		Filename:   filepath.Join(dir, fileName),
		MaxSize:    w.maxSizeMB,
		MaxBackups: 30,
		MaxAge:     90,
	}
	w.currentDate = date
	slog.Debug("runlog file opened", "file", w.logger.Filename)
	return nil
}

// ReadRecent returns up to limit records from baseDir, newest first.
// Unreadable lines are skipped.
func ReadRecent(baseDir string, limit int) ([]Record, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var dates []string
	for _, e := range entries {
		if e.IsDir() {
			if _, err := time.Parse("2006-01-02", e.Name()); err == nil {
				dates = append(dates, e.Name())
			}
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	var out []Record
	for _, date := range dates {
		files, _ := filepath.Glob(filepath.Join(baseDir, date, "runs*.jsonl"))
		for _, f := range files {
			recs, err := readFile(f)
			if err != nil {
				slog.Debug("runlog read failed", "file", f, "error", err)
				continue
			}
			out = append(out, recs...)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func readFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}
