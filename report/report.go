package report

import (
	"encoding/csv"
	"os"
	"strconv"
	"sync"

	"github.com/adammck/biped"
	"github.com/adammck/biped/search"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	colIteration = "Iteration"
	colDistance  = "Distance"
	colTimestamp = "Timestamp"
)

var log = logrus.WithFields(logrus.Fields{
	"pkg": "report",
})

// Header returns the column headers of a results CSV for the given fields.
func Header(fields []string) []string {
	h := make([]string, 0, len(fields)+2)
	h = append(h, colIteration)
	for _, f := range fields {
		h = append(h, biped.Label(f))
	}

	return append(h, colDistance)
}

func row(fields []string, r search.Result) []string {
	out := make([]string, 0, len(fields)+2)
	out = append(out, strconv.Itoa(r.Index))
	for _, v := range r.Parameters.Values(fields) {
		out = append(out, formatFloat(v))
	}

	return append(out, formatFloat(r.Distance))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// RunLog is a CSV of every trial in a run, written as the run progresses.
type RunLog struct {
	mu     sync.Mutex
	fields []string
	file   *os.File
	w      *csv.Writer
}

// CreateRunLog creates (or truncates) the file at path, and writes the header.
func CreateRunLog(path string, fields []string) (*RunLog, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "while creating run log")
	}

	l := &RunLog{
		fields: fields,
		file:   f,
		w:      csv.NewWriter(f),
	}

	err = l.write(Header(fields))
	if err != nil {
		f.Close()
		return nil, err
	}

	log.Infof("logging trials to %s", path)
	return l, nil
}

// Record appends a single result, and flushes it to disk.
func (l *RunLog) Record(r search.Result) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.write(row(l.fields, r))
}

func (l *RunLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

func (l *RunLog) write(rec []string) error {
	err := l.w.Write(rec)
	if err != nil {
		return err
	}

	l.w.Flush()
	return l.w.Error()
}

// WriteResults writes a complete results CSV, e.g. the top-K leaderboard.
func WriteResults(path string, fields []string, results []search.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "while creating results file")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	err = w.Write(Header(fields))
	if err != nil {
		return err
	}

	for _, r := range results {
		err = w.Write(row(fields, r))
		if err != nil {
			return err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	return f.Close()
}
