package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

const (
	searchPath = "/api/v2/search/"
	tocPath    = "/nest/epub/toc/"
	loginPath  = "/accounts/login/"
)

// ErrAuthFailed indicates the catalog rejected the supplied credentials.
// It is never retried; callers surface it and stop.
var ErrAuthFailed = errors.New("catalog authentication failed")

// Credentials carries either a session cookie or a user/password pair.
// Exactly one of the two forms must be provided.
type Credentials struct {
	User     string
	Password string
	Cookie   string
}

// Validate enforces the cookie-xor-credentials rule.
func (c Credentials) Validate() error {
	hasCookie := c.Cookie != ""
	hasUser := c.User != "" && c.Password != ""
	switch {
	case hasCookie && (c.User != "" || c.Password != ""):
		return fmt.Errorf("supply either a cookie or a user/password pair, not both")
	case !hasCookie && !hasUser:
		return fmt.Errorf("either a cookie or a user/password pair is required")
	}
	return nil
}

// Client is the catalog operations surface consumed by the walker and the
// crawl orchestrator.
type Client interface {
	// Login authenticates the session using the configured credentials.
	Login(ctx context.Context) error
	// Search requests one page of results for the query.
	Search(ctx context.Context, query string, page int) (*SearchPage, error)
	// TOC fetches and decodes the table of contents for a book.
	TOC(ctx context.Context, bookID string) (*TOC, error)
	// PageDescriptor fetches and decodes one entry descriptor.
	PageDescriptor(ctx context.Context, rawURL string) (*PageDescriptor, error)
	// Fetch retrieves raw bytes (content documents, stylesheets, images).
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
	// AbsoluteURL resolves a possibly relative catalog path.
	AbsoluteURL(ref string) string
}

// Config controls the colly-backed client.
type Config struct {
	Host       string
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
}

// CollyClient implements Client using a colly collector. All fetches clone
// one base collector so the session cookie jar is shared.
type CollyClient struct {
	cfg    Config
	creds  Credentials
	base   *colly.Collector
	logger *zap.Logger
}

// NewCollyClient builds a client. The credentials are validated here so a
// misconfigured caller fails before any network traffic.
func NewCollyClient(cfg Config, creds Credentials, logger *zap.Logger) (*CollyClient, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("catalog host is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = 250 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	base := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.IgnoreRobotsTxt(),
		colly.AllowURLRevisit(),
	)
	base.SetRequestTimeout(cfg.Timeout)

	return &CollyClient{cfg: cfg, creds: creds, base: base, logger: logger}, nil
}

// Login establishes the session. With a cookie the pairs are installed into
// the shared jar; with a user/password pair a form login is posted.
func (c *CollyClient) Login(ctx context.Context) error {
	if c.creds.Cookie != "" {
		cookies, err := parseCookieHeader(c.creds.Cookie)
		if err != nil {
			return fmt.Errorf("parse session cookie: %w", err)
		}
		if err := c.base.SetCookies(c.cfg.Host, cookies); err != nil {
			return fmt.Errorf("install session cookie: %w", err)
		}
		c.logger.Debug("Session cookie installed", zap.Int("cookies", len(cookies)))
		return nil
	}

	form := map[string]string{
		"email":     c.creds.User,
		"password1": c.creds.Password,
	}
	status, err := c.post(ctx, c.AbsoluteURL(loginPath), form)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && (se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden) {
			return fmt.Errorf("%w: status %d", ErrAuthFailed, se.Code)
		}
		return fmt.Errorf("login request: %w", err)
	}
	c.logger.Debug("Form login accepted", zap.Int("status", status))
	return nil
}

// Search posts the query body the catalog expects and decodes one page.
func (c *CollyClient) Search(ctx context.Context, query string, page int) (*SearchPage, error) {
	body := map[string]any{
		"query":                           query,
		"extended_publisher_data":         "true",
		"highlight":                       "true",
		"is_academic_institution_account": "false",
		"source":                          "user",
		"include_assessments":             "false",
		"include_case_studies":            "true",
		"include_courses":                 "true",
		"include_orioles":                 "true",
		"include_playlists":               "true",
		"formats":                         []string{"book"},
		"topics":                          []string{},
		"publishers":                      []string{},
		"languages":                       []string{},
		"sort":                            "report_score",
		"page":                            page,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	data, err := c.do(ctx, func(col *colly.Collector) error {
		return col.PostRaw(c.AbsoluteURL(searchPath), payload)
	}, "application/json")
	if err != nil {
		return nil, fmt.Errorf("search %q page %d: %w", query, page, err)
	}

	var result SearchPage
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return &result, nil
}

// TOC fetches the table of contents for the identifier.
func (c *CollyClient) TOC(ctx context.Context, bookID string) (*TOC, error) {
	data, err := c.Fetch(ctx, c.AbsoluteURL(tocPath)+"?book_id="+url.QueryEscape(bookID))
	if err != nil {
		return nil, fmt.Errorf("fetch toc for %s: %w", bookID, err)
	}
	var toc TOC
	if err := json.Unmarshal(data, &toc); err != nil {
		return nil, fmt.Errorf("decode toc for %s: %w", bookID, err)
	}
	if toc.BookID == "" {
		toc.BookID = bookID
	}
	return &toc, nil
}

// PageDescriptor fetches and decodes one entry descriptor.
func (c *CollyClient) PageDescriptor(ctx context.Context, rawURL string) (*PageDescriptor, error) {
	data, err := c.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	var desc PageDescriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("decode page descriptor %s: %w", rawURL, err)
	}
	return &desc, nil
}

// Fetch retrieves raw bytes from the catalog.
func (c *CollyClient) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	data, err := c.do(ctx, func(col *colly.Collector) error {
		return col.Visit(rawURL)
	}, "")
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	return data, nil
}

// AbsoluteURL resolves a possibly relative catalog path against the host.
func (c *CollyClient) AbsoluteURL(ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	return strings.TrimSuffix(c.cfg.Host, "/") + "/" + strings.TrimPrefix(ref, "/")
}

func (c *CollyClient) post(ctx context.Context, rawURL string, form map[string]string) (int, error) {
	var status int
	_, err := c.do(ctx, func(col *colly.Collector) error {
		col.OnResponse(func(r *colly.Response) {
			status = r.StatusCode
		})
		return col.Post(rawURL, form)
	}, "")
	return status, err
}

// do runs one request through a collector clone, retrying transient
// failures. Visits run in a goroutine so context cancellation is honored.
func (c *CollyClient) do(ctx context.Context, visit func(*colly.Collector) error, contentType string) ([]byte, error) {
	var body []byte
	attempt := func() error {
		col := c.base.Clone()
		var (
			reqErr     error
			reqURL     string
			statusCode int
		)
		if contentType != "" {
			col.OnRequest(func(r *colly.Request) {
				r.Headers.Set("Content-Type", contentType)
			})
		}
		col.OnResponse(func(r *colly.Response) {
			statusCode = r.StatusCode
			body = append([]byte(nil), r.Body...)
		})
		col.OnError(func(r *colly.Response, err error) {
			if r != nil {
				statusCode = r.StatusCode
				if r.Request != nil && r.Request.URL != nil {
					reqURL = r.Request.URL.String()
				}
			}
			reqErr = err
		})

		done := make(chan error, 1)
		go func() {
			done <- visit(col)
		}()
		select {
		case <-ctx.Done():
			return retry.Unrecoverable(fmt.Errorf("catalog fetch canceled: %w", ctx.Err()))
		case err := <-done:
			if err == nil && reqErr == nil {
				return nil
			}
			if statusCode != 0 && (statusCode < 200 || statusCode > 299) {
				return &StatusError{Code: statusCode, URL: reqURL}
			}
			if reqErr != nil {
				return reqErr
			}
			return err
		}
	}

	err := retry.Do(
		attempt,
		retry.Context(ctx),
		retry.Attempts(uint(c.cfg.MaxRetries)),
		retry.Delay(c.cfg.Backoff),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("Retrying catalog request", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// isTransient treats network errors, 429 and 5xx as retryable; auth and
// client errors are surfaced immediately.
func isTransient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return true
}

func parseCookieHeader(raw string) ([]*http.Cookie, error) {
	var cookies []*http.Cookie
	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, found := strings.Cut(pair, "=")
		if !found || name == "" {
			return nil, fmt.Errorf("malformed cookie pair %q", pair)
		}
		cookies = append(cookies, &http.Cookie{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
	}
	if len(cookies) == 0 {
		return nil, fmt.Errorf("cookie string contained no pairs")
	}
	return cookies, nil
}
