package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter  rune            // default ','
	HasHeader  bool            // if true, first row is skipped but sent to HeaderCh
	HeaderCh   chan<- []string // optional: receives the header row
	Comment    rune            // comment character (0 = none)
	LazyQuotes bool
	TrimSpace  bool
}

// StreamCSV reads CSV rows from r and delivers them on the returned
// channel, so bulk parcel files can be registered without buffering the
// whole file. The caller must drain the row channel; at most one error
// is sent on the error channel. Both channels close when parsing ends.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)
	go streamCSV(ctx, r, opts, rowCh, errCh)
	return rowCh, errCh
}

func streamCSV(ctx context.Context, r io.Reader, opts CSVOptions, rowCh chan<- []string, errCh chan<- error) {
	defer close(rowCh)
	defer close(errCh)

	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	if opts.Comment != 0 {
		reader.Comment = opts.Comment
	}
	reader.LazyQuotes = opts.LazyQuotes
	// Exported registries pad optional columns, so row widths vary.
	reader.FieldsPerRecord = -1

	for first := true; ; first = false {
		record, err := reader.Read()
		if err == io.EOF {
			return
		}
		if err != nil {
			errCh <- eris.Wrap(err, "csv: read row")
			return
		}

		if opts.TrimSpace {
			for i, field := range record {
				record[i] = strings.TrimSpace(field)
			}
		}

		dest := rowCh
		if first && opts.HasHeader {
			if opts.HeaderCh == nil {
				continue
			}
			dest = opts.HeaderCh
		}
		select {
		case dest <- record:
		case <-ctx.Done():
			errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
			return
		}
	}
}
