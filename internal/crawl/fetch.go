package crawl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
)

// FailureKind classifies fetch failures.
type FailureKind string

// Failure kinds. All but FailInvalidSeed are materialized as error nodes
// in the tree; an invalid seed fails the run with ErrInvalidSeed instead.
const (
	FailTimeout     FailureKind = "timeout"
	FailTransport   FailureKind = "transport"
	FailHTTPStatus  FailureKind = "http_status"
	FailNonHTML     FailureKind = "non_html"
	FailParse       FailureKind = "parse"
	FailRobotsDeny  FailureKind = "robots_denied"
	FailInvalidSeed FailureKind = "invalid_seed"
)

// FetchError is the typed failure a fetch resolves to.
type FetchError struct {
	Kind   FailureKind
	Status int
	Err    error
}

// Error implements error.
func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason(), e.Err)
	}
	return e.Reason()
}

// Unwrap exposes the underlying cause.
func (e *FetchError) Unwrap() error { return e.Err }

// Reason renders the failure kind for error-node names.
func (e *FetchError) Reason() string {
	if e.Kind == FailHTTPStatus {
		return fmt.Sprintf("http_status(%d)", e.Status)
	}
	return string(e.Kind)
}

// Page is a successfully fetched and parsed HTML document.
type Page struct {
	URL   string
	Title string
	Links []string
}

// FetcherConfig controls collector behavior.
type FetcherConfig struct {
	UserAgent string
	Timeout   time.Duration
	Transport http.RoundTripper
}

// Fetcher issues single paced GETs through a cloned Colly collector and
// parses the response into a Page.
type Fetcher struct {
	cfg           FetcherConfig
	pacer         *Pacer
	baseCollector *colly.Collector
}

// NewFetcher builds a Fetcher. The pacer may be nil to disable per-host
// pacing.
func NewFetcher(cfg FetcherConfig, pacer *Pacer) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	if cfg.Transport == nil {
		cfg.Transport = newHTTPTransport()
	}
	c.WithTransport(cfg.Transport)
	return &Fetcher{
		cfg:           cfg,
		pacer:         pacer,
		baseCollector: c,
	}
}

// Fetch executes one HTTP GET and parses the document. Failures come
// back as *FetchError; context cancellation is returned as-is.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	if f.pacer != nil {
		if err := f.pacer.Wait(ctx, rawURL); err != nil {
			return nil, err
		}
	}

	var (
		body     []byte
		finalURL string
		ctype    string
		fetchErr error
		status   int
	)
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
		finalURL = r.Request.URL.String()
		ctype = r.Headers.Get("Content-Type")
		status = r.StatusCode
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			status = r.StatusCode
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case visitErr := <-done:
		println("DEBUG visitErr:", fmt.Sprint(visitErr))
		if fetchErr == nil {
			fetchErr = visitErr
		}
	}
	println("DEBUG fetchErr:", fmt.Sprint(fetchErr), "status:", status, "ctype:", ctype, "bodylen:", len(body))
	if fetchErr != nil {
		return nil, classify(fetchErr, status)
	}
	if status >= 400 {
		return nil, &FetchError{Kind: FailHTTPStatus, Status: status}
	}
	if !strings.Contains(strings.ToLower(ctype), "text/html") {
		return nil, &FetchError{Kind: FailNonHTML, Err: fmt.Errorf("content type %q", ctype)}
	}
	return parsePage(finalURL, body)
}

func classify(err error, status int) *FetchError {
	if status >= 400 {
		return &FetchError{Kind: FailHTTPStatus, Status: status, Err: err}
	}
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &FetchError{Kind: FailTimeout, Err: err}
	case errors.As(err, &netErr) && netErr.Timeout():
		return &FetchError{Kind: FailTimeout, Err: err}
	default:
		return &FetchError{Kind: FailTransport, Err: err}
	}
}

func parsePage(finalURL string, body []byte) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &FetchError{Kind: FailParse, Err: err}
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = finalURL
	}
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok {
			links = append(links, href)
		}
	})
	return &Page{URL: finalURL, Title: title, Links: links}, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
