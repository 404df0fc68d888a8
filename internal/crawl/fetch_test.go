package crawl

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFetcher_ParsesTitleAndLinks(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title> Example Page </title></head>
<body><a href="/first">one</a><p><a href="second.html">two</a></p><a name="anchor">no href</a></body></html>`))
	}))
	defer server.Close()

	fetcher := NewFetcher(FetcherConfig{UserAgent: "livegraph-test", Timeout: time.Second}, nil)
	page, err := fetcher.Fetch(context.Background(), server.URL+"/")
	require.NoError(t, err)
	require.Equal(t, "Example Page", page.Title)
	require.Equal(t, []string{"/first", "second.html"}, page.Links)
	require.Equal(t, server.URL+"/", page.URL)
}

func TestFetcher_MissingTitleFallsBackToURL(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body>untitled</body></html>`))
	}))
	defer server.Close()

	fetcher := NewFetcher(FetcherConfig{Timeout: time.Second}, nil)
	page, err := fetcher.Fetch(context.Background(), server.URL+"/page")
	require.NoError(t, err)
	require.Equal(t, server.URL+"/page", page.Title)
}

func TestFetcher_HTTPStatusFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	fetcher := NewFetcher(FetcherConfig{Timeout: time.Second}, nil)
	_, err := fetcher.Fetch(context.Background(), server.URL+"/missing")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, FailHTTPStatus, fe.Kind)
	require.Equal(t, "http_status(404)", fe.Reason())
}

func TestFetcher_NonHTMLFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	defer server.Close()

	fetcher := NewFetcher(FetcherConfig{Timeout: time.Second}, nil)
	_, err := fetcher.Fetch(context.Background(), server.URL+"/doc.html")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, FailNonHTML, fe.Kind)
}

func TestFetcher_TimeoutFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	fetcher := NewFetcher(FetcherConfig{Timeout: 50 * time.Millisecond}, nil)
	_, err := fetcher.Fetch(context.Background(), server.URL+"/slow")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, FailTimeout, fe.Kind)
}

func TestFetcher_TransportFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	fetcher := NewFetcher(FetcherConfig{Timeout: time.Second}, nil)
	_, err := fetcher.Fetch(context.Background(), server.URL+"/")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, FailTransport, fe.Kind)
}

func TestFetcher_CancelledContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	fetcher := NewFetcher(FetcherConfig{Timeout: 10 * time.Second}, nil)
	_, err := fetcher.Fetch(ctx, server.URL+"/held")
	require.ErrorIs(t, err, context.Canceled)
	var fe *FetchError
	require.False(t, errors.As(err, &fe))
}
