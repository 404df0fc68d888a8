// Package tor provides SOCKS5 connectivity to a local Tor daemon: a
// handshake-level endpoint probe and an onion-capable HTTP transport.
package tor

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/proxy"
)

// ErrNoProxy marks a SOCKS endpoint that did not answer or did not speak
// SOCKS5.
var ErrNoProxy = errors.New("tor socks proxy unavailable")

const probeTimeout = 2 * time.Second

const (
	socks5Version      = 0x05
	socks5AuthNone     = 0x00
	socks5AuthNoAccept = 0xFF
	socks5CmdConnect   = 0x01
	socks5AddrDomain   = 0x03

	// A non-existent onion address: the probe only needs the proxy to
	// answer the CONNECT, not to reach anything.
	probeOnion = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa.onion"
)

// Client wraps one SOCKS5 endpoint.
type Client struct {
	address string
	dialer  proxy.Dialer
	timeout time.Duration
}

// NewClient builds a client for the SOCKS endpoint at host:port. The
// timeout applies to HTTP clients derived from it. The endpoint is not
// contacted here; call Probe to verify it.
func NewClient(host string, port int, timeout time.Duration) (*Client, error) {
	if host == "" || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid socks endpoint %s:%d", host, port)
	}
	address := fmt.Sprintf("%s:%d", host, port)
	dialer, err := proxy.SOCKS5("tcp", address, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("create socks5 dialer: %w", err)
	}
	return &Client{
		address: address,
		dialer:  dialer,
		timeout: timeout,
	}, nil
}

// Address returns the configured SOCKS endpoint.
func (c *Client) Address() string { return c.address }

// Probe verifies the endpoint speaks SOCKS5 by completing the version
// negotiation and issuing one CONNECT to a synthetic onion address. Any
// well-formed reply, success or failure, proves the proxy works.
func (c *Client) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrNoProxy, c.address, err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.SetDeadline(time.Now().Add(probeTimeout)); err != nil {
		return fmt.Errorf("%w: set deadline: %v", ErrNoProxy, err)
	}

	if _, err := conn.Write([]byte{socks5Version, 0x01, socks5AuthNone}); err != nil {
		return fmt.Errorf("%w: auth offer: %v", ErrNoProxy, err)
	}
	authResp := make([]byte, 2)
	if _, err := io.ReadFull(conn, authResp); err != nil {
		return fmt.Errorf("%w: auth reply: %v", ErrNoProxy, err)
	}
	if authResp[0] != socks5Version || authResp[1] == socks5AuthNoAccept || authResp[1] != socks5AuthNone {
		return fmt.Errorf("%w: endpoint is not an unauthenticated socks5 proxy", ErrNoProxy)
	}

	connectReq := []byte{socks5Version, socks5CmdConnect, 0x00, socks5AddrDomain, byte(len(probeOnion))}
	connectReq = append(connectReq, []byte(probeOnion)...)
	connectReq = append(connectReq, 0x00, 0x50)
	if _, err := conn.Write(connectReq); err != nil {
		return fmt.Errorf("%w: connect request: %v", ErrNoProxy, err)
	}
	connectResp := make([]byte, 4)
	if _, err := io.ReadFull(conn, connectResp); err != nil {
		return fmt.Errorf("%w: connect reply: %v", ErrNoProxy, err)
	}
	if connectResp[0] != socks5Version {
		return fmt.Errorf("%w: connect reply version %d", ErrNoProxy, connectResp[0])
	}
	return nil
}

// Transport returns an http.RoundTripper that routes every connection
// through the SOCKS endpoint. Hidden services use self-signed certs, so
// TLS verification is skipped; the onion address itself authenticates
// the service.
func (c *Client) Transport() http.RoundTripper {
	return &http.Transport{
		DialContext: func(_ context.Context, network, addr string) (net.Conn, error) {
			return c.dialer.Dial(network, addr)
		},
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // onion services use self-signed certs
		},
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,
		DisableCompression:  true,
	}
}

// HTTPClient returns an HTTP client routed through the Tor endpoint.
func (c *Client) HTTPClient() *http.Client {
	return &http.Client{
		Transport: c.Transport(),
		Timeout:   c.timeout,
	}
}
