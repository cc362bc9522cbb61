package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrovista/satreport/internal/model"
)

func TestParseIndices(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     []string
		want    []model.IndexName
		wantErr bool
	}{
		{name: "empty defaults to ndvi", raw: nil, want: []model.IndexName{model.IndexNDVI}},
		{name: "lowercase accepted", raw: []string{"ndvi", "ndmi"}, want: []model.IndexName{model.IndexNDVI, model.IndexNDMI}},
		{name: "whitespace trimmed", raw: []string{" SAVI "}, want: []model.IndexName{model.IndexSAVI}},
		{name: "unknown index", raw: []string{"EVI"}, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseIndices(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePeriod(t *testing.T) {
	t.Parallel()

	t.Run("explicit bounds", func(t *testing.T) {
		t.Parallel()
		start, end, err := parsePeriod("2025-01-01", "2025-06-30")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), start)
		assert.Equal(t, time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC), end)
	})

	t.Run("empty defaults to six months back", func(t *testing.T) {
		t.Parallel()
		start, end, err := parsePeriod("", "")
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().UTC(), end, time.Minute)
		assert.WithinDuration(t, end.AddDate(0, -6, 0), start, time.Minute)
	})

	t.Run("single bound rejected", func(t *testing.T) {
		t.Parallel()
		_, _, err := parsePeriod("2025-01-01", "")
		require.Error(t, err)
	})

	t.Run("inverted bounds rejected", func(t *testing.T) {
		t.Parallel()
		_, _, err := parsePeriod("2025-06-01", "2025-01-01")
		require.Error(t, err)
	})
}
