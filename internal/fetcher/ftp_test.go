package fetcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFTPURL(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		url      string
		wantHost string
		wantPath string
		wantErr  bool
	}{
		"default port": {
			url:      "ftp://geodata.igac.gov.co/capas/runap.zip",
			wantHost: "geodata.igac.gov.co:21",
			wantPath: "/capas/runap.zip",
		},
		"explicit port": {
			url:      "ftp://geodata.igac.gov.co:2121/capas/paramos.zip",
			wantHost: "geodata.igac.gov.co:2121",
			wantPath: "/capas/paramos.zip",
		},
		"nested path": {
			url:      "ftp://geodata.igac.gov.co/cartografia/hidrografia/2024/drenajes.zip",
			wantHost: "geodata.igac.gov.co:21",
			wantPath: "/cartografia/hidrografia/2024/drenajes.zip",
		},
		"http scheme rejected": {
			url:     "http://www.datos.gov.co/resguardos.zip",
			wantErr: true,
		},
		"missing path": {
			url:     "ftp://geodata.igac.gov.co",
			wantErr: true,
		},
		"garbage": {
			url:     "://bad",
			wantErr: true,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			host, path, err := parseFTPURL(tt.url)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantPath, path)
		})
	}
}

func TestNewFTPFetcher_DefaultTimeout(t *testing.T) {
	t.Parallel()
	f := NewFTPFetcher(FTPOptions{})
	assert.Equal(t, 30*time.Second, f.opts.Timeout)
}
