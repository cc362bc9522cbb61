package fetcher

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// DecodeJSONArray streams the elements of a JSON array to a channel
// without materializing the whole document; bulk parcel files can be
// large. Input must be of the form [{...},{...}]. Both channels are
// closed when processing completes.
func DecodeJSONArray[T any](ctx context.Context, r io.Reader) (<-chan T, <-chan error) {
	outCh := make(chan T, 64)
	errCh := make(chan error, 1)
	go decodeArray(ctx, r, outCh, errCh)
	return outCh, errCh
}

func decodeArray[T any](ctx context.Context, r io.Reader, outCh chan<- T, errCh chan<- error) {
	defer close(outCh)
	defer close(errCh)

	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err == io.EOF {
		return
	}
	if err != nil {
		errCh <- eris.Wrap(err, "json: read opening token")
		return
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		errCh <- eris.Errorf("json: expected '[', got %v", tok)
		return
	}

	for dec.More() {
		var item T
		if err := dec.Decode(&item); err != nil {
			errCh <- eris.Wrap(err, "json: decode element")
			return
		}
		select {
		case outCh <- item:
		case <-ctx.Done():
			errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
			return
		}
	}

	if _, err := dec.Token(); err != nil && err != io.EOF {
		errCh <- eris.Wrap(err, "json: read closing token")
	}
}
