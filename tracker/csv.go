package tracker

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// CSVHeader is the column layout of an exported session.
var CSVHeader = []string{"timestamp", "x", "y", "dx", "dy", "speed"}

// RawCSVHeader is the column layout accepted by ParseRawCSV.
var RawCSVHeader = []string{"timestamp", "x", "y"}

// ExportCSV renders s as CSV text: the header line followed by one line per
// sample, every line terminated by "\n". An empty session renders as the
// header line alone.
func ExportCSV(s Session) string {
	var sb strings.Builder
	// strings.Builder never fails to write.
	_ = WriteCSV(&sb, s)
	return sb.String()
}

// WriteCSV streams the CSV rendering of s to w.
func WriteCSV(w io.Writer, s Session) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("write CSV header: %w", err)
	}

	row := make([]string, len(CSVHeader))
	for _, smp := range s.samples {
		row[0] = formatFloat(smp.Timestamp)
		row[1] = formatFloat(smp.X)
		row[2] = formatFloat(smp.Y)
		row[3] = formatFloat(smp.DX)
		row[4] = formatFloat(smp.DY)
		row[5] = formatFloat(smp.Speed)
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write CSV row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// formatFloat renders v in the shortest decimal form that parses back to
// exactly v, without exponent notation.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ErrBadHeader is returned by the parsers when the first record does not
// match the expected column layout.
var ErrBadHeader = errors.New("unexpected CSV header")

// ParseCSV reads an exported session back into samples.
func ParseCSV(r io.Reader) ([]Sample, error) {
	records, err := readRecords(r, CSVHeader)
	if err != nil {
		return nil, err
	}

	out := make([]Sample, 0, len(records))
	for i, rec := range records {
		var vals [6]float64
		for j := range vals {
			v, err := strconv.ParseFloat(rec[j], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", i+2, CSVHeader[j], err)
			}
			vals[j] = v
		}
		out = append(out, Sample{
			Timestamp: vals[0],
			X:         vals[1],
			Y:         vals[2],
			DX:        vals[3],
			DY:        vals[4],
			Speed:     vals[5],
		})
	}
	return out, nil
}

// ParseRawCSV reads a "timestamp,x,y" recording of raw touch samples,
// e.g. one captured on a device and replayed offline.
func ParseRawCSV(r io.Reader) ([]RawSample, error) {
	records, err := readRecords(r, RawCSVHeader)
	if err != nil {
		return nil, err
	}

	out := make([]RawSample, 0, len(records))
	for i, rec := range records {
		var vals [3]float64
		for j := range vals {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[j]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", i+2, RawCSVHeader[j], err)
			}
			vals[j] = v
		}
		out = append(out, RawSample{Timestamp: vals[0], X: vals[1], Y: vals[2]})
	}
	return out, nil
}

// readRecords reads all records, checks the header and returns the data rows.
func readRecords(r io.Reader, header []string) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(header)
	cr.ReuseRecord = false

	head, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty input", ErrBadHeader)
		}
		return nil, fmt.Errorf("read CSV header: %w", err)
	}
	for i, name := range header {
		if strings.TrimSpace(head[i]) != name {
			return nil, fmt.Errorf("%w: column %d is %q, want %q", ErrBadHeader, i+1, head[i], name)
		}
	}

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read CSV records: %w", err)
	}
	return records, nil
}
