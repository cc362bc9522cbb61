package fetcher

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectRows(t *testing.T, rowCh <-chan []string, errCh <-chan error) ([][]string, error) {
	t.Helper()
	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	for err := range errCh {
		if err != nil {
			return rows, err
		}
	}
	return rows, nil
}

func TestStreamCSV_Basic(t *testing.T) {
	t.Parallel()
	input := "name,crop,owner\nla esperanza,coffee,maria\nel mirador,avocado,jorge\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"name", "crop", "owner"}, rows[0])
	assert.Equal(t, []string{"la esperanza", "coffee", "maria"}, rows[1])
	assert.Equal(t, []string{"el mirador", "avocado", "jorge"}, rows[2])
}

func TestStreamCSV_PipeDelimited(t *testing.T) {
	t.Parallel()
	input := "name|crop\nla esperanza|coffee\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		Delimiter: '|',
	})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"la esperanza", "coffee"}, rows[1])
}

func TestStreamCSV_WithHeader(t *testing.T) {
	t.Parallel()
	input := "name,crop\nla esperanza,coffee\nel mirador,avocado\n"
	headerCh := make(chan []string, 1)

	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
	})

	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"la esperanza", "coffee"}, rows[0])
	assert.Equal(t, []string{"el mirador", "avocado"}, rows[1])
	assert.Equal(t, []string{"name", "crop"}, <-headerCh)
}

func TestStreamCSV_HasHeaderNoHeaderCh(t *testing.T) {
	t.Parallel()
	// Without a HeaderCh the header row is simply dropped.
	input := "name,crop\nla esperanza,coffee\nel mirador,avocado\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		HasHeader: true,
	})

	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"la esperanza", "coffee"}, rows[0])
}

func TestStreamCSV_Empty(t *testing.T) {
	t.Parallel()
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(""), CSVOptions{})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestStreamCSV_LazyQuotes(t *testing.T) {
	t.Parallel()
	input := "name,note\nlote 3,\"finca \"la union\"\"\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		LazyQuotes: true,
	})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestStreamCSV_TrimSpace(t *testing.T) {
	t.Parallel()
	input := " Name , Crop \n La Esperanza , Coffee \n"
	headerCh := make(chan []string, 1)
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		TrimSpace: true,
		HasHeader: true,
		HeaderCh:  headerCh,
	})

	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"La Esperanza", "Coffee"}, rows[0])
	assert.Equal(t, []string{"Name", "Crop"}, <-headerCh)
}

func TestStreamCSV_Comment(t *testing.T) {
	t.Parallel()
	input := "# exported 2025-06-01\nname,crop\nla esperanza,coffee\n# trailing note\nel mirador,avocado\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		Comment: '#',
	})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"name", "crop"}, rows[0])
}

func TestStreamCSV_VariableFields(t *testing.T) {
	t.Parallel()
	// Registry exports pad optional columns unevenly.
	input := "a,b,c\n1,2\n3,4,5,6\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{})

	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Len(t, rows[1], 2)
	assert.Len(t, rows[2], 4)
}

func TestStreamCSV_ReadError(t *testing.T) {
	t.Parallel()
	r := &failingReader{
		data:    "name,crop\nla esperanza,coffee\n",
		failAt:  10,
		failErr: io.ErrUnexpectedEOF,
	}

	rowCh, errCh := StreamCSV(context.Background(), r, CSVOptions{})
	_, err := collectRows(t, rowCh, errCh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "csv: read row")
}

func TestStreamCSV_RowSendContextCancelled(t *testing.T) {
	t.Parallel()
	var sb strings.Builder
	for range 10000 {
		sb.WriteString("la esperanza,coffee,maria\n")
	}

	ctx, cancel := context.WithCancel(context.Background())
	rowCh, errCh := StreamCSV(ctx, strings.NewReader(sb.String()), CSVOptions{})

	<-rowCh
	cancel()
	for range rowCh { //nolint:revive // drain
	}

	var gotErr error
	for err := range errCh {
		if err != nil {
			gotErr = err
		}
	}
	// The parser may finish a buffered batch before noticing the cancel.
	if gotErr != nil {
		assert.Contains(t, gotErr.Error(), "context cancelled")
	}
}

func TestStreamCSV_HeaderSendContextCancelled(t *testing.T) {
	t.Parallel()
	input := "name,crop\nla esperanza,coffee\n"
	headerCh := make(chan []string) // unbuffered, never read

	ctx, cancel := context.WithCancel(context.Background())
	rowCh, errCh := StreamCSV(ctx, strings.NewReader(input), CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
	})
	cancel()

	for range rowCh { //nolint:revive // drain
	}
	var gotErr error
	for err := range errCh {
		if err != nil {
			gotErr = err
		}
	}
	require.Error(t, gotErr)
	assert.Contains(t, gotErr.Error(), "context cancelled")
}

// failingReader returns failErr after reading failAt bytes.
type failingReader struct {
	data    string
	pos     int
	failAt  int
	failErr error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.pos >= r.failAt {
		return 0, r.failErr
	}
	remaining := r.data[r.pos:]
	n := copy(p, remaining)
	if r.pos+n >= r.failAt {
		n = r.failAt - r.pos
		r.pos = r.failAt
		return n, nil
	}
	r.pos += n
	return n, nil
}
