package report

import (
	"encoding/csv"
	"os"
	"sync"

	"github.com/adammck/biped"
	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

// TimestampFormat is the format of the first column of the audit log.
const TimestampFormat = "2006-01-02 15:04:05.000000"

// Audit is an append-only CSV of every parameter set which was committed.
type Audit struct {
	mu     sync.Mutex
	fields []string
	file   *os.File
	w      *csv.Writer
	clock  clock.Clock
}

// OpenAudit opens the audit log at path for appending, creating it (with a
// header) if it doesn't exist yet.
func OpenAudit(path string, fields []string, clk clock.Clock) (*Audit, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "while opening audit log")
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	a := &Audit{
		fields: fields,
		file:   f,
		w:      csv.NewWriter(f),
		clock:  clk,
	}

	if st.Size() == 0 {
		h := []string{colTimestamp}
		for _, fl := range fields {
			h = append(h, biped.Label(fl))
		}

		err = a.write(h)
		if err != nil {
			f.Close()
			return nil, err
		}
	}

	return a, nil
}

// Record appends a row with the current time and every field of p.
func (a *Audit) Record(p biped.Parameters) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec := []string{a.clock.Now().Format(TimestampFormat)}
	for _, v := range p.Values(a.fields) {
		rec = append(rec, formatFloat(v))
	}

	return a.write(rec)
}

func (a *Audit) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}

func (a *Audit) write(rec []string) error {
	err := a.w.Write(rec)
	if err != nil {
		return err
	}

	a.w.Flush()
	return a.w.Error()
}
