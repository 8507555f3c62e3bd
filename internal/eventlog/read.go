package eventlog

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// maxRecordSize bounds one JSONL record.
const maxRecordSize = 4 << 20

// record is the wire form of one input log record.
// SequenceIndex is a pointer so an omitted index can be told apart from 0.
type record struct {
	TraceID       string `json:"trace_id"`
	SequenceIndex *int64 `json:"sequence_index"`
	ComponentID   string `json:"component_id"`
	Label         string `json:"label"`
	RawTimestamp  string `json:"raw_timestamp,omitempty"`
}

// ReadFile loads a log from path. Files ending in .csv are read as CSV,
// everything else as JSON Lines.
func ReadFile(path string) (*GlobalLog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return ReadCSV(f)
	}
	return ReadJSONL(f)
}

// ReadJSONL reads one JSON record per line. Blank lines are skipped.
// A record without sequence_index gets its 1-based record ordinal.
func ReadJSONL(r io.Reader) (*GlobalLog, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxRecordSize)

	var events []Event
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, &MalformedLogError{
				Code:    ErrCodeMalformedLog,
				Message: "invalid JSON record",
				Line:    line,
				Err:     err,
			}
		}
		seq := int64(len(events) + 1)
		if rec.SequenceIndex != nil {
			seq = *rec.SequenceIndex
		}
		events = append(events, Event{
			TraceID:      rec.TraceID,
			Seq:          seq,
			ComponentID:  rec.ComponentID,
			Label:        rec.Label,
			RawTimestamp: rec.RawTimestamp,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	return New(events)
}

// csvColumns lists the mandatory CSV header fields.
var csvColumns = []string{"trace_id", "sequence_index", "component_id", "label"}

// ReadCSV reads a headed CSV log. Column order is free; raw_timestamp is optional.
func ReadCSV(r io.Reader) (*GlobalLog, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return New(nil)
	}
	if err != nil {
		return nil, &MalformedLogError{Code: ErrCodeMalformedLog, Message: "invalid CSV header", Line: 1, Err: err}
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(strings.ToLower(h))] = i
	}
	for _, c := range csvColumns {
		if _, ok := cols[c]; !ok {
			return nil, &MalformedLogError{
				Code:    ErrCodeMalformedLog,
				Message: fmt.Sprintf("CSV header missing column %q", c),
				Line:    1,
			}
		}
	}
	tsCol, hasTS := cols["raw_timestamp"]

	var events []Event
	line := 1
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, &MalformedLogError{Code: ErrCodeMalformedLog, Message: "invalid CSV row", Line: line, Err: err}
		}
		seq, err := strconv.ParseInt(strings.TrimSpace(row[cols["sequence_index"]]), 10, 64)
		if err != nil {
			return nil, &MalformedLogError{Code: ErrCodeMalformedLog, Message: "invalid sequence_index", Line: line, Err: err}
		}
		ev := Event{
			TraceID:     row[cols["trace_id"]],
			Seq:         seq,
			ComponentID: row[cols["component_id"]],
			Label:       row[cols["label"]],
		}
		if hasTS {
			ev.RawTimestamp = row[tsCol]
		}
		events = append(events, ev)
	}
	return New(events)
}

// WriteJSONL writes the log in sequence order, one record per line.
func WriteJSONL(w io.Writer, l *GlobalLog) error {
	enc := json.NewEncoder(w)
	for _, e := range l.Events() {
		seq := e.Seq
		rec := record{
			TraceID:       e.TraceID,
			SequenceIndex: &seq,
			ComponentID:   e.ComponentID,
			Label:         e.Label,
			RawTimestamp:  e.RawTimestamp,
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("write log: %w", err)
		}
	}
	return nil
}
