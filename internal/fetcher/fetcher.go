// Package fetcher downloads geodata layer archives over HTTP and FTP
// and parses the CSV, JSON, XLSX and ZIP payloads they come in.
package fetcher

import (
	"context"
	"io"
)

// Fetcher downloads remote resources, typically geodata layer archives
// published by government portals. HTTPFetcher and FTPFetcher implement
// it; the evaluator picks one by URL scheme.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL into path and returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)

	// HeadETag returns the resource's ETag, or "" when the server does
	// not expose one.
	HeadETag(ctx context.Context, url string) (string, error)

	// DownloadIfChanged fetches the URL only when its ETag differs from
	// the given one. Returns (body, newETag, changed, error); body is
	// nil when unchanged. Layer archives change a few times a year, so
	// this avoids re-downloading hundreds of megabytes.
	DownloadIfChanged(ctx context.Context, url string, etag string) (io.ReadCloser, string, bool, error)
}
