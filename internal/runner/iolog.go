package runner

import (
	"bufio"
	"io"
	"sync"
	"time"
)

// Stream names recorded in the I/O log.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// IOLogRecord is one captured line of job output. Delay is the wall-clock
// gap in seconds since the previous record; the first record measures from
// command invocation. Data keeps the raw bytes, newline stripped.
type IOLogRecord struct {
	Delay  float64 `json:"delay"`
	Stream string  `json:"stream"`
	Data   []byte  `json:"data"`
}

// ioLogRecorder accumulates IOLogRecords from concurrently-scanned output
// streams. Delays are measured against the single shared last-record
// timestamp, so they reconstruct the interleaved pacing, not a per-stream
// one.
type ioLogRecorder struct {
	mu      sync.Mutex
	now     func() time.Time
	last    time.Time
	records []IOLogRecord
	sink    func(IOLogRecord)
}

func newIOLogRecorder(now func() time.Time, sink func(IOLogRecord)) *ioLogRecorder {
	return &ioLogRecorder{now: now, last: now(), sink: sink}
}

func (r *ioLogRecorder) onLine(stream string, data []byte) {
	r.mu.Lock()
	ts := r.now()
	record := IOLogRecord{
		Delay:  ts.Sub(r.last).Seconds(),
		Stream: stream,
		Data:   data,
	}
	r.last = ts
	r.records = append(r.records, record)
	sink := r.sink
	r.mu.Unlock()

	if sink != nil {
		sink(record)
	}
}

func (r *ioLogRecorder) snapshot() []IOLogRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]IOLogRecord, len(r.records))
	copy(out, r.records)
	return out
}

// scanLines reads stream output line by line and feeds the recorder.
// Lines longer than the scanner limit are split rather than dropped.
func (r *ioLogRecorder) scanLines(stream string, src io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	reader := bufio.NewReader(src)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
				line = line[:len(line)-1]
			}
			r.onLine(stream, line)
		}
		if err != nil {
			return
		}
	}
}

// ReplayIOLog writes the captured records to w, reproducing the original
// pacing through sleep. Pass a nil sleep to replay at full speed.
func ReplayIOLog(w io.Writer, records []IOLogRecord, sleep func(time.Duration)) error {
	for _, record := range records {
		if sleep != nil && record.Delay > 0 {
			sleep(time.Duration(record.Delay * float64(time.Second)))
		}
		if _, err := w.Write(append(record.Data, '\n')); err != nil {
			return err
		}
	}
	return nil
}
