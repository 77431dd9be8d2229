package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"image-labeler-be/pkg/oracle"
)

// ContentType is the MIME type of the export artifact.
const ContentType = "text/csv; charset=utf-8"

var header = []string{"label", "score"}

var ErrMalformed = errors.New("malformed export")

// WriteCSV writes a header row followed by one row per result. Scores use
// the shortest decimal form that parses back to the same float64.
func WriteCSV(w io.Writer, rows []oracle.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range rows {
		rec := []string{r.Label, strconv.FormatFloat(r.Score, 'f', -1, 64)}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row %q: %w", r.Label, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses an artifact produced by WriteCSV.
func ReadCSV(r io.Reader) ([]oracle.Result, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(header)

	head, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrMalformed, err)
	}
	if !strings.EqualFold(head[0], header[0]) || !strings.EqualFold(head[1], header[1]) {
		return nil, fmt.Errorf("%w: unexpected header %v", ErrMalformed, head)
	}

	out := []oracle.Result{}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		score, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: score for %q: %v", ErrMalformed, rec[0], err)
		}
		out = append(out, oracle.Result{Label: rec[0], Score: score})
	}
	return out, nil
}
