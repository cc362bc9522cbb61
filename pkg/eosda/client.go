// Package eosda is the low-level adapter to the geospatial analytics
// provider: field registration, asynchronous statistics tasks, weather
// history and index imagery. Raw provider payloads never travel past this
// package; responses are normalized into internal/model shapes at the
// boundary.
package eosda

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/agrovista/satreport/internal/model"
	"github.com/agrovista/satreport/internal/resilience"
)

const defaultBaseURL = "https://api-connect.eos.com"

const (
	syncTimeout   = 30 * time.Second
	submitTimeout = 60 * time.Second
)

// Client defines the provider API operations.
type Client interface {
	RegisterField(ctx context.Context, req RegisterFieldRequest) (*RegisterFieldResponse, error)
	SubmitStatsTask(ctx context.Context, req StatsTaskRequest) (string, error)
	GetTask(ctx context.Context, taskID string) (*TaskStatus, error)
	WaitForTask(ctx context.Context, taskID string, policy PollPolicy) ([]model.Scene, error)
	WeatherHistory(ctx context.Context, fieldID string, dateStart, dateEnd time.Time) ([]model.WeatherRecord, error)
	RequestImage(ctx context.Context, fieldID, viewID string, index model.IndexName) (string, error)
	DownloadImage(ctx context.Context, fieldID, requestID string) ([]byte, error)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithCircuitBreaker guards every provider request with the breaker, so a
// provider outage fails fast instead of burning the poll budget.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *httpClient) { c.breaker = cb }
}

// withClock and withSleep exist for deterministic poll-loop tests.
func withClock(now func() time.Time) Option {
	return func(c *httpClient) { c.clock = now }
}

func withSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(c *httpClient) { c.sleep = sleep }
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	breaker *resilience.CircuitBreaker
	clock   func() time.Time
	sleep   func(context.Context, time.Duration) error
}

// NewClient creates a provider client. The API key travels as a query
// parameter on every request.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: submitTimeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		clock: time.Now,
		sleep: sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) RegisterField(ctx context.Context, req RegisterFieldRequest) (*RegisterFieldResponse, error) {
	sowing := ""
	if !req.SowingDate.IsZero() {
		sowing = req.SowingDate.UTC().Format("2006-01-02")
	}
	body := fieldFeature{
		Type: "Feature",
		Properties: fieldProperties{
			Name:  req.Name,
			Group: req.Group,
			YearsData: []yearsDataEntry{{
				CropType:   CanonicalCrop(req.CropType),
				Year:       req.Year,
				SowingDate: sowing,
			}},
		},
		Geometry: req.Geometry,
	}

	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	var resp RegisterFieldResponse
	if err := c.post(ctx, "/field-management", body, &resp); err != nil {
		return nil, eris.Wrap(err, "eosda: register field")
	}
	return &resp, nil
}

func (c *httpClient) SubmitStatsTask(ctx context.Context, req StatsTaskRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	var resp submitResponse
	if err := c.post(ctx, "/api/gdw/api", req.body(), &resp); err != nil {
		return "", eris.Wrap(err, "eosda: submit stats task")
	}
	if resp.TaskID == "" {
		return "", eris.New("eosda: stats task response carries no task_id")
	}
	return resp.TaskID, nil
}

func (c *httpClient) GetTask(ctx context.Context, taskID string) (*TaskStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	var resp taskResponse
	if err := c.get(ctx, "/api/gdw/api/"+url.PathEscape(taskID), &resp); err != nil {
		return nil, err
	}

	st := &TaskStatus{TaskID: taskID, Status: resp.Status}
	for _, raw := range resp.Errors {
		st.Errors = append(st.Errors, rawToString(raw))
	}
	for _, raw := range resp.Result {
		sc, err := decodeScene(raw)
		if err != nil {
			return nil, eris.Wrapf(err, "eosda: task %s", taskID)
		}
		st.Scenes = append(st.Scenes, sc)
	}
	return st, nil
}

func (c *httpClient) WeatherHistory(ctx context.Context, fieldID string, dateStart, dateEnd time.Time) ([]model.WeatherRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	body := weatherRequest{
		DateStart: dateStart.UTC().Format("2006-01-02"),
		DateEnd:   dateEnd.UTC().Format("2006-01-02"),
	}
	var raw []weatherRecordRaw
	path := "/weather/historical-high-accuracy/" + url.PathEscape(fieldID)
	if err := c.post(ctx, path, body, &raw); err != nil {
		return nil, eris.Wrapf(err, "eosda: weather history %s", fieldID)
	}

	out := make([]model.WeatherRecord, 0, len(raw))
	for _, r := range raw {
		rec, err := r.toModel()
		if err != nil {
			return nil, eris.Wrapf(err, "eosda: weather history %s", fieldID)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (c *httpClient) RequestImage(ctx context.Context, fieldID, viewID string, index model.IndexName) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	body := imageRequestBody{
		ViewID: viewID,
		Index:  strings.ToUpper(string(index)),
		Format: "png",
	}
	var resp imageRequestResponse
	path := "/field-imagery/indicies/" + url.PathEscape(fieldID)
	if err := c.post(ctx, path, body, &resp); err != nil {
		return "", eris.Wrapf(err, "eosda: request image %s", fieldID)
	}
	if resp.RequestID == "" {
		return "", eris.New("eosda: image request response carries no request_id")
	}
	return resp.RequestID, nil
}

func (c *httpClient) DownloadImage(ctx context.Context, fieldID, requestID string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	path := fmt.Sprintf("/field-imagery/%s/%s", url.PathEscape(fieldID), url.PathEscape(requestID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(path), nil)
	if err != nil {
		return nil, eris.Wrap(err, "eosda: create image request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "eosda: download image")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "eosda: read image body")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{Status: resp.StatusCode, BodyExcerpt: excerpt(data)}
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "image/png") {
		return nil, eris.Errorf("eosda: image not ready, content type %q", ct)
	}
	return data, nil
}

func (c *httpClient) requestURL(path string) string {
	return c.baseURL + path + "?api_key=" + url.QueryEscape(c.apiKey)
}

func (c *httpClient) post(ctx context.Context, path string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.requestURL(path), bytes.NewReader(buf))
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *httpClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(path), nil)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	return c.do(req, out)
}

func (c *httpClient) do(req *http.Request, out any) error {
	if c.breaker == nil {
		return c.doOnce(req, out)
	}
	return c.breaker.Execute(req.Context(), func(ctx context.Context) error {
		return c.doOnce(req.WithContext(ctx), out)
	})
}

func (c *httpClient) doOnce(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{Status: resp.StatusCode, BodyExcerpt: excerpt(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}
