// Package adsplatform is a client for the ads platform's Graph-style
// marketing API: adset insights, adset budgets and budget updates.
package adsplatform

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/theirongolddev/cplpilot/internal/config"
)

const (
	defaultBaseURL    = "https://graph.facebook.com"
	defaultAPIVersion = "v19.0"
	defaultTimeout    = 30 * time.Second
	defaultPageSize   = 500
	maxBodySize       = 8 << 20 // 8 MB
	maxPages          = 200
)

var (
	// ErrUnauthorized indicates the access token is expired, invalid or lacks permission.
	ErrUnauthorized = errors.New("adsplatform: unauthorized")
	// ErrRateLimited indicates an application, account or user throttle was hit.
	ErrRateLimited = errors.New("adsplatform: rate limited")
	// ErrNotFound indicates the account or adset does not exist or is not visible.
	ErrNotFound = errors.New("adsplatform: object not found")
)

// APIError is the platform's error envelope. It unwraps to one of the
// sentinel errors when the code maps to one.
type APIError struct {
	Status  int
	Code    int
	Subcode int
	Type    string
	Message string
	TraceID string
	kind    error
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("adsplatform: %s (status %d, code %d", e.Message, e.Status, e.Code)
	if e.Subcode != 0 {
		msg += fmt.Sprintf(", subcode %d", e.Subcode)
	}
	if e.TraceID != "" {
		msg += ", trace " + e.TraceID
	}
	return msg + ")"
}

func (e *APIError) Unwrap() error { return e.kind }

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	BaseURL    string
	APIVersion string
	Timeout    time.Duration
	PageSize   int
	HTTPClient *http.Client
}

// Client talks to the marketing API with one access token.
type Client struct {
	token     string
	proof     string
	baseURL   string
	version   string
	timeout   time.Duration
	pageSize  int
	http      *http.Client
	userAgent string
}

// NewClient creates a client for the given credentials.
// Returns nil if the access token is empty.
func NewClient(creds config.Credentials, opts Options) *Client {
	token := strings.TrimSpace(creds.AccessToken)
	if token == "" {
		return nil
	}
	c := &Client{
		token:     token,
		proof:     AppSecretProof(token, creds.AppSecret),
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		version:   opts.APIVersion,
		timeout:   opts.Timeout,
		pageSize:  opts.PageSize,
		http:      opts.HTTPClient,
		userAgent: "cplpilot/1.0 (app " + creds.AppID + ")",
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.version == "" {
		c.version = defaultAPIVersion
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.pageSize <= 0 {
		c.pageSize = defaultPageSize
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	return c
}

// AppSecretProof is the hex HMAC-SHA256 of the access token keyed by the app
// secret. Empty when no secret is configured.
func AppSecretProof(token, secret string) string {
	if secret == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// InsightsQuery selects the insights window and filters.
type InsightsQuery struct {
	Fields     []string
	Days       int       // trailing window length
	Until      time.Time // last day of a custom window; zero means yesterday
	ActiveOnly bool
}

// DefaultInsightsQuery asks for daily adset rows of active adsets over the
// trailing window.
func DefaultInsightsQuery(days int) InsightsQuery {
	return InsightsQuery{Fields: InsightFields, Days: days, ActiveOnly: true}
}

// presetDays are the trailing windows the API exposes as date presets.
var presetDays = map[int]bool{7: true, 14: true, 28: true, 30: true, 90: true}

func (q InsightsQuery) values(limit int) url.Values {
	v := url.Values{}
	fields := q.Fields
	if len(fields) == 0 {
		fields = InsightFields
	}
	v.Set("fields", strings.Join(fields, ","))
	v.Set("level", "adset")
	v.Set("time_increment", "1")
	v.Set("limit", strconv.Itoa(limit))

	days := q.Days
	if days <= 0 {
		days = 30
	}
	if q.Until.IsZero() && presetDays[days] {
		v.Set("date_preset", fmt.Sprintf("last_%dd", days))
	} else {
		until := q.Until
		if until.IsZero() {
			until = time.Now().AddDate(0, 0, -1)
		}
		since := until.AddDate(0, 0, -(days - 1))
		tr, _ := json.Marshal(map[string]string{
			"since": since.Format("2006-01-02"),
			"until": until.Format("2006-01-02"),
		})
		v.Set("time_range", string(tr))
	}

	if q.ActiveOnly {
		filter, _ := json.Marshal([]map[string]any{{
			"field":    "adset.effective_status",
			"operator": "IN",
			"value":    []string{"ACTIVE"},
		}})
		v.Set("filtering", string(filter))
	}
	return v
}

// FetchInsights returns every daily adset row for the account, following
// pagination until the last page.
func (c *Client) FetchInsights(ctx context.Context, accountID string, q InsightsQuery) ([]InsightRow, error) {
	if !strings.HasPrefix(accountID, "act_") {
		accountID = "act_" + accountID
	}
	next := c.endpoint(accountID+"/insights", q.values(c.pageSize))

	var rows []InsightRow
	for page := 0; next != ""; page++ {
		if page >= maxPages {
			return rows, fmt.Errorf("adsplatform: insights for %s exceeded %d pages", accountID, maxPages)
		}
		body, err := c.do(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, err
		}
		var p insightsPage
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("adsplatform: parsing insights: %w", err)
		}
		rows = append(rows, p.Data...)
		next = c.stripAuth(p.Paging.Next)
	}
	return rows, nil
}

// GetAdSet reads an adset's name, status and daily budget.
func (c *Client) GetAdSet(ctx context.Context, adsetID string) (AdSet, error) {
	v := url.Values{}
	v.Set("fields", "id,name,daily_budget,effective_status")
	body, err := c.do(ctx, http.MethodGet, c.endpoint(adsetID, v), nil)
	if err != nil {
		return AdSet{}, err
	}
	var a AdSet
	if err := json.Unmarshal(body, &a); err != nil {
		return AdSet{}, fmt.Errorf("adsplatform: parsing adset: %w", err)
	}
	return a, nil
}

// UpdateDailyBudget sets the adset's daily budget in minor units.
func (c *Client) UpdateDailyBudget(ctx context.Context, adsetID string, minor int64) error {
	if minor <= 0 {
		return fmt.Errorf("adsplatform: refusing non-positive daily budget %d", minor)
	}
	form := url.Values{}
	form.Set("daily_budget", strconv.FormatInt(minor, 10))
	body, err := c.do(ctx, http.MethodPost, c.endpoint(adsetID, nil), form)
	if err != nil {
		return err
	}
	var r updateResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return fmt.Errorf("adsplatform: parsing update response: %w", err)
	}
	if !r.Success {
		return fmt.Errorf("adsplatform: update of adset %s not acknowledged", adsetID)
	}
	return nil
}

func (c *Client) endpoint(path string, v url.Values) string {
	u := c.baseURL + "/" + c.version + "/" + strings.TrimLeft(path, "/")
	if len(v) > 0 {
		u += "?" + v.Encode()
	}
	return u
}

// stripAuth drops credentials echoed back in a pagination URL; do signs
// every request itself.
func (c *Client) stripAuth(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Del("access_token")
	q.Del("appsecret_proof")
	u.RawQuery = q.Encode()
	return u.String()
}

// do sends one authenticated request and returns the response body.
// GET requests carry credentials in the query, POSTs in the form.
func (c *Client) do(ctx context.Context, method, rawURL string, form url.Values) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("adsplatform: invalid url: %w", err)
	}

	var body io.Reader
	if method == http.MethodPost {
		if form == nil {
			form = url.Values{}
		}
		c.sign(form)
		body = strings.NewReader(form.Encode())
	} else {
		q := u.Query()
		c.sign(q)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("adsplatform: creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("adsplatform: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("adsplatform: reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseError(resp.StatusCode, data)
	}
	return data, nil
}

func (c *Client) sign(v url.Values) {
	v.Set("access_token", c.token)
	if c.proof != "" {
		v.Set("appsecret_proof", c.proof)
	}
}

// parseError maps a non-2xx response to an *APIError.
func parseError(status int, body []byte) error {
	apiErr := &APIError{Status: status, Message: http.StatusText(status)}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil {
		apiErr.Code = env.Error.Code
		apiErr.Subcode = env.Error.ErrorSubcode
		apiErr.Type = env.Error.Type
		apiErr.Message = env.Error.Message
		apiErr.TraceID = env.Error.FBTraceID
	}
	apiErr.kind = classify(status, apiErr.Code, apiErr.Subcode)
	return apiErr
}

func classify(status, code, subcode int) error {
	switch code {
	case 190, 102:
		return ErrUnauthorized
	case 4, 17, 32, 613, 80000, 80003, 80004:
		return ErrRateLimited
	case 100:
		if subcode == 33 {
			return ErrNotFound
		}
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusNotFound:
		return ErrNotFound
	}
	return nil
}
