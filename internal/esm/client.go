// Package esm is a thin client for the ESM v2 REST API. It covers exactly
// the surface the health monitor consumes: session login, triggered-alarm
// and event queries, the appliance clock and timezone, and the device tree.
// Queries are never retried; a failed call surfaces to the caller, which
// degrades the affected source to UNKNOWN.
package esm

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/marcus-qen/esmhealth/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	apiPrefix      = "/rs/esm/v2/"
	requestTimeout = 30 * time.Second

	// Event queries execute asynchronously on the appliance; status is
	// polled a bounded number of times before the query is abandoned.
	queryPollInterval = 500 * time.Millisecond
	queryPollLimit    = 20
)

// AuthError reports rejected credentials or an expired session.
type AuthError struct {
	StatusCode int
	Body       string
}

func (e *AuthError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ESM rejected credentials (status=%d)", e.StatusCode)
	}
	return fmt.Sprintf("ESM rejected credentials (status=%d): %s", e.StatusCode, e.Body)
}

// Client talks to one ESM appliance. Safe for concurrent use.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
	limiter  *ratelimit.Limiter
	logger   *zap.Logger

	mu      sync.Mutex
	session string
	xsrf    string
}

// NewClient creates an ESM client. The session is established lazily on
// the first request.
func NewClient(serverURL, username, password string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:  serverURL,
		username: username,
		password: password,
		http:     &http.Client{Timeout: requestTimeout},
		limiter:  ratelimit.NewLimiter(ratelimit.DefaultConfig()),
		logger:   logger,
	}
}

// AllowInsecureTLS disables certificate verification. ESM appliances
// commonly ship self-signed certificates.
func (c *Client) AllowInsecureTLS() {
	c.http.Transport = &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}
}

// SetLimiter replaces the default request pacing.
func (c *Client) SetLimiter(l *ratelimit.Limiter) {
	if l != nil {
		c.limiter = l
	}
}

// Login establishes a session. Credentials are sent base64-encoded in the
// login body, matching the v2 API contract.
func (c *Client) Login(ctx context.Context) error {
	payload := map[string]string{
		"username": base64.StdEncoding.EncodeToString([]byte(c.username)),
		"password": base64.StdEncoding.EncodeToString([]byte(c.password)),
		"locale":   "en_US",
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiPrefix+"login", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &AuthError{StatusCode: resp.StatusCode, Body: readSnippet(resp.Body)}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("login returned %d: %s", resp.StatusCode, readSnippet(resp.Body))
	}

	c.mu.Lock()
	c.xsrf = resp.Header.Get("Xsrf-Token")
	for _, cookie := range resp.Cookies() {
		if cookie.Name == "JSESSIONID" {
			c.session = cookie.Value
		}
	}
	c.mu.Unlock()

	c.logger.Debug("ESM session established", zap.String("server", c.baseURL))
	return nil
}

// Logout tears the session down.
func (c *Client) Logout(ctx context.Context) {
	c.mu.Lock()
	active := c.session != ""
	c.mu.Unlock()
	if !active {
		return
	}
	if err := c.call(ctx, "logout", nil, nil); err != nil {
		c.logger.Debug("logout failed", zap.Error(err))
	}
	c.mu.Lock()
	c.session, c.xsrf = "", ""
	c.mu.Unlock()
}

// TriggeredAlarms returns triggered alarms within the window, most recent
// first. One record is enough for a staleness check.
func (c *Client) TriggeredAlarms(ctx context.Context, window string) ([]Record, error) {
	var raw []map[string]any
	path := fmt.Sprintf("alarmGetTriggeredAlarms?triggeredTimeRange=%s&pageSize=1&pageNumber=1", window)
	if err := c.call(ctx, path, nil, &raw); err != nil {
		return nil, fmt.Errorf("query alarms: %w", err)
	}

	records := make([]Record, 0, len(raw))
	for _, item := range raw {
		records = append(records, Record{Fields: flatten(item)})
	}
	return records, nil
}

type queryRequest struct {
	Config queryConfig `json:"config"`
}

type queryConfig struct {
	TimeRange string        `json:"timeRange"`
	Fields    []queryField  `json:"fields"`
	Filters   []queryFilter `json:"filters"`
	Order     []queryOrder  `json:"order"`
	Limit     int           `json:"limit"`
}

type queryField struct {
	Name string `json:"name"`
}

type queryFilter struct {
	Type     string       `json:"type"`
	Field    queryField   `json:"field"`
	Operator string       `json:"operator"`
	Values   []queryValue `json:"values"`
}

type queryValue struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type queryOrder struct {
	Field     queryField `json:"field"`
	Direction string     `json:"direction"`
}

type queryHandle struct {
	ResultID int `json:"resultID"`
}

type queryStatus struct {
	Complete bool `json:"complete"`
}

type queryResults struct {
	Columns []queryField `json:"columns"`
	Rows    []struct {
		Values []string `json:"values"`
	} `json:"rows"`
}

// EventsForDatasource returns the most recent event rows for the masked
// datasource ID within the window, ordered newest first.
func (c *Client) EventsForDatasource(ctx context.Context, ipsID, window string) ([]Record, error) {
	req := queryRequest{Config: queryConfig{
		TimeRange: window,
		Fields:    []queryField{{Name: FieldLastTime}, {Name: "Alert.IPSIDAlertID"}},
		Filters: []queryFilter{{
			Type:     "EsmFieldFilter",
			Field:    queryField{Name: "IPSID"},
			Operator: "EQUALS",
			Values:   []queryValue{{Type: "EsmBasicValue", Value: ipsID}},
		}},
		Order: []queryOrder{{Field: queryField{Name: "LastTime"}, Direction: "DESCENDING"}},
		Limit: 1,
	}}

	var handle queryHandle
	if err := c.call(ctx, "qryExecuteDetail?type=EVENT&reverse=false", req, &handle); err != nil {
		return nil, fmt.Errorf("execute event query: %w", err)
	}

	if err := c.awaitQuery(ctx, handle); err != nil {
		return nil, err
	}

	var results queryResults
	path := fmt.Sprintf("qryGetResults?startPos=0&numRows=1&reverse=false&resultID=%d", handle.ResultID)
	if err := c.call(ctx, path, nil, &results); err != nil {
		return nil, fmt.Errorf("fetch event results: %w", err)
	}

	records := make([]Record, 0, len(results.Rows))
	for _, row := range results.Rows {
		fields := make(map[string]string, len(results.Columns))
		for i, col := range results.Columns {
			if i < len(row.Values) {
				fields[col.Name] = row.Values[i]
			}
		}
		records = append(records, Record{Fields: fields})
	}
	return records, nil
}

func (c *Client) awaitQuery(ctx context.Context, handle queryHandle) error {
	for attempt := 0; attempt < queryPollLimit; attempt++ {
		var status queryStatus
		path := fmt.Sprintf("qryGetStatus?resultID=%d", handle.ResultID)
		if err := c.call(ctx, path, nil, &status); err != nil {
			return fmt.Errorf("poll event query: %w", err)
		}
		if status.Complete {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(queryPollInterval):
		}
	}
	return fmt.Errorf("event query %d did not complete", handle.ResultID)
}

type valueResponse struct {
	Value string `json:"value"`
}

// CurrentTime returns the appliance's current time as a raw timestamp
// string, in the appliance's local zone.
func (c *Client) CurrentTime(ctx context.Context) (string, error) {
	var out valueResponse
	if err := c.call(ctx, "essmgtGetESSTime", nil, &out); err != nil {
		return "", fmt.Errorf("query ESM time: %w", err)
	}
	return out.Value, nil
}

// TimezoneID returns the appliance's configured zone code.
func (c *Client) TimezoneID(ctx context.Context) (string, error) {
	var out valueResponse
	if err := c.call(ctx, "essmgtGetESSTimeZone", nil, &out); err != nil {
		return "", fmt.Errorf("query ESM timezone: %w", err)
	}
	return out.Value, nil
}

type deviceTreeResponse struct {
	DeviceList []Device `json:"deviceList"`
}

// DeviceTree returns the full datasource tree.
func (c *Client) DeviceTree(ctx context.Context) ([]Device, error) {
	var out deviceTreeResponse
	if err := c.call(ctx, "devTreeGetDeviceList?filterByRights=false", nil, &out); err != nil {
		return nil, fmt.Errorf("query device tree: %w", err)
	}
	return out.DeviceList, nil
}

// call performs one paced, authenticated API request. A session is
// established lazily before the first call.
func (c *Client) call(ctx context.Context, path string, payload, out any) error {
	c.mu.Lock()
	haveSession := c.session != ""
	c.mu.Unlock()
	if !haveSession && path != "logout" {
		if err := c.Login(ctx); err != nil {
			return err
		}
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiPrefix+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.mu.Lock()
	if c.xsrf != "" {
		req.Header.Set("X-Xsrf-Token", c.xsrf)
	}
	if c.session != "" {
		req.AddCookie(&http.Cookie{Name: "JSESSIONID", Value: c.session})
	}
	c.mu.Unlock()

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ESM request %s: %w", path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("ESM request",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &AuthError{StatusCode: resp.StatusCode, Body: readSnippet(resp.Body)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ESM %s returned %d: %s", path, resp.StatusCode, readSnippet(resp.Body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func readSnippet(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 256))
	return string(bytes.TrimSpace(data))
}

// flatten stringifies a decoded JSON object one level deep. Alarm records
// arrive as loosely-typed maps; only scalar fields are of interest.
func flatten(item map[string]any) map[string]string {
	fields := make(map[string]string, len(item))
	for k, v := range item {
		switch val := v.(type) {
		case string:
			fields[k] = val
		case float64:
			fields[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			fields[k] = strconv.FormatBool(val)
		}
	}
	return fields
}
