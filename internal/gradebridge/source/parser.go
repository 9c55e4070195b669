package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/types"
)

// DefaultMarker is the prefix every accepted magic cell must start with.
const DefaultMarker = "magic"

var ErrParse = errors.New("malformed intake table")

// Columns holds the zero-based positions of the three intake columns.
type Columns struct {
	Date    int
	Magic   int
	Payload int
}

// DetectColumns locates the magic and payload columns by header content;
// the date column is whichever of the first three remains.  Upstream
// forms have swapped magic and payload before, so position alone is not
// trusted.
func DetectColumns(header []string) (Columns, error) {
	if len(header) < 3 {
		return Columns{}, fmt.Errorf("%w: header has %d columns, want 3", ErrParse, len(header))
	}

	magic, payload := -1, -1
	for i, cell := range header[:3] {
		name := strings.ToLower(strings.TrimSpace(cell))
		switch {
		case strings.Contains(name, "magic"):
			if magic >= 0 {
				return Columns{}, fmt.Errorf("%w: duplicate magic column", ErrParse)
			}
			magic = i
		case strings.Contains(name, "payload"):
			if payload >= 0 {
				return Columns{}, fmt.Errorf("%w: duplicate payload column", ErrParse)
			}
			payload = i
		}
	}
	if magic < 0 || payload < 0 {
		return Columns{}, fmt.Errorf("%w: header %q lacks magic or payload column", ErrParse, header)
	}

	// 0+1+2 == 3
	return Columns{Date: 3 - magic - payload, Magic: magic, Payload: payload}, nil
}

// Parse turns the exported table into records, in source order.  Rows
// that do not have exactly three non-empty cells, or whose magic cell
// lacks marker, are dropped.
func Parse(text, marker string) ([]types.Record, error) {
	if marker == "" {
		marker = DefaultMarker
	}

	r := newReader(text)

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty table", ErrParse)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrParse, err)
	}
	cols, err := DetectColumns(header)
	if err != nil {
		return nil, err
	}

	var out []types.Record
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// A single mangled row is dropped like any other invalid row.
			continue
		}
		if !wellFormed(row) {
			continue
		}
		if !strings.HasPrefix(strings.TrimSpace(row[cols.Magic]), marker) {
			continue
		}
		out = append(out, types.Record{
			Date:    strings.TrimSpace(row[cols.Date]),
			Payload: strings.TrimSpace(row[cols.Payload]),
		})
	}
	return out, nil
}

func wellFormed(row []string) bool {
	if len(row) != 3 {
		return false
	}
	for _, cell := range row {
		if strings.TrimSpace(cell) == "" {
			return false
		}
	}
	return true
}

// validHeader reports whether text starts with a header DetectColumns
// accepts.
func validHeader(text string) error {
	r := newReader(text)
	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("%w: read header: %v", ErrParse, err)
	}
	_, err = DetectColumns(header)
	return err
}

func newReader(text string) *csv.Reader {
	r := csv.NewReader(strings.NewReader(strings.TrimPrefix(text, "\ufeff")))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	return r
}
