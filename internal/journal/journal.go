// Package journal implements the append-only, CRC-guarded record log
// used by the log-structured backend. One record per line: the JSON
// payload, a tab, and the lower-case hex CRC-32 (IEEE) of the payload
// bytes. A write is acknowledged only after the record reaches durable
// media. Records that fail the CRC or cannot be framed are moved to a
// quarantine directory and skipped; scanning resumes on the next line.
package journal

import (
	"bufio"
	"bytes"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"

	"memcore/internal/errs"
	"memcore/internal/logging"
)

// QuarantinedRecord describes one record that failed verification.
type QuarantinedRecord struct {
	File   string `json:"file"`   // journal file name
	Offset int64  `json:"offset"` // byte offset of the bad line
	Reason string `json:"reason"` // crc mismatch, missing frame, ...
}

// IntegrityReport enumerates the damage found while scanning journals.
type IntegrityReport struct {
	ValidRecords int                 `json:"valid_records"`
	Quarantined  []QuarantinedRecord `json:"quarantined"`
}

// QuarantinedCount returns the number of quarantined records.
func (r *IntegrityReport) QuarantinedCount() int { return len(r.Quarantined) }

// Log is a single append-only journal file plus its quarantine area.
// Appends are serialized internally; concurrent readers must scan a
// separate handle (Scan opens its own).
type Log struct {
	mu       sync.Mutex
	path     string
	quarDir  string
	file     *os.File
	appended int64
}

// Open opens (or creates) a journal file for appending. quarDir is the
// directory that receives bad records on Scan; it is created lazily.
func Open(path, quarDir string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}
	return &Log{path: path, quarDir: quarDir, file: f}, nil
}

// Append frames payload as a record and flushes it to durable media
// before returning. The payload must not contain newlines; canonical
// JSON never does.
func (l *Log) Append(payload []byte) error {
	if bytes.ContainsRune(payload, '\n') {
		return errs.Validationf("journal payload contains newline")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	crc := crc32.ChecksumIEEE(payload)
	record := fmt.Sprintf("%s\t%08x\n", payload, crc)
	if _, err := l.file.WriteString(record); err != nil {
		return fmt.Errorf("failed to append journal record: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync journal: %w", err)
	}
	l.appended++
	return nil
}

// Close flushes and closes the journal file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync journal on close: %w", err)
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Path returns the journal file path.
func (l *Log) Path() string { return l.path }

// Scan reads every record in the journal, calling fn with each valid
// payload. Records failing CRC or framing are copied verbatim to
// quarantine/<offset>.bad and reported; scanning continues on the next
// line. Scan never surfaces Corruption to the caller as an error.
func (l *Log) Scan(fn func(payload []byte) error) (*IntegrityReport, error) {
	timer := logging.StartTimer(logging.CategoryJournal, "Scan")
	defer timer.Stop()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &IntegrityReport{}, nil
		}
		return nil, fmt.Errorf("failed to open journal for scan: %w", err)
	}
	defer f.Close()

	report := &IntegrityReport{}
	reader := bufio.NewReaderSize(f, 1<<20)
	var offset int64

	for {
		line, err := reader.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			break
		}
		lineStart := offset
		offset += int64(len(line))
		line = bytes.TrimRight(line, "\n")
		if len(line) == 0 {
			continue
		}

		payload, reason := verify(line)
		if reason != "" {
			l.quarantine(report, lineStart, line, reason)
			continue
		}

		if err := fn(payload); err != nil {
			if errs.IsCorruption(err) {
				l.quarantine(report, lineStart, line, err.Error())
				continue
			}
			return report, err
		}
		report.ValidRecords++

		if err != nil {
			break
		}
	}

	if report.QuarantinedCount() > 0 {
		logging.Get(logging.CategoryJournal).Warnf(
			"journal scan quarantined %d record(s) in %s", report.QuarantinedCount(), l.path)
	}
	logging.JournalDebug("scanned %s: %d valid, %d quarantined",
		l.path, report.ValidRecords, report.QuarantinedCount())
	return report, nil
}

// verify splits a framed line into its payload, checking the CRC.
// Returns a non-empty reason on failure.
func verify(line []byte) (payload []byte, reason string) {
	tab := bytes.LastIndexByte(line, '\t')
	if tab < 0 {
		return nil, "missing CRC frame"
	}
	payload = line[:tab]
	suffix := line[tab+1:]
	if len(suffix) != 8 {
		return nil, "malformed CRC suffix"
	}
	var want uint32
	if _, err := fmt.Sscanf(string(suffix), "%08x", &want); err != nil {
		return nil, "unparseable CRC suffix"
	}
	if crc32.ChecksumIEEE(payload) != want {
		return nil, "CRC mismatch"
	}
	return payload, ""
}

// quarantine copies a bad line into the quarantine directory. The
// writer never touches quarantined files afterward.
func (l *Log) quarantine(report *IntegrityReport, offset int64, line []byte, reason string) {
	report.Quarantined = append(report.Quarantined, QuarantinedRecord{
		File:   filepath.Base(l.path),
		Offset: offset,
		Reason: reason,
	})

	if err := os.MkdirAll(l.quarDir, 0o755); err != nil {
		logging.Get(logging.CategoryJournal).Errorf("failed to create quarantine dir: %v", err)
		return
	}
	name := fmt.Sprintf("%s.%d.bad", filepath.Base(l.path), offset)
	dest := filepath.Join(l.quarDir, name)
	if err := os.WriteFile(dest, append(line, '\n'), 0o644); err != nil {
		logging.Get(logging.CategoryJournal).Errorf("failed to write quarantine file %s: %v", dest, err)
	}
	logging.Journal("quarantined record at offset %d of %s: %s", offset, l.path, reason)
}
