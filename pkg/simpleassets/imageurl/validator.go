// Package imageurl checks that external links resolve to images.
package imageurl

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/tendant/simple-assets/pkg/simpleassets"
)

var errNonPublicAddress = errors.New("non-public address")

// carrierGradeNAT is 100.64.0.0/10, shared address space not covered by
// net.IP.IsPrivate.
var carrierGradeNAT = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

// Validator implements simpleassets.ImageValidator over HTTP. Links run
// server-side, so by default only public unicast addresses are dialed.
type Validator struct {
	client       *http.Client
	timeout      time.Duration
	allowPrivate bool
}

// Option configures a Validator
type Option func(*Validator)

// WithHTTPClient replaces the default client. The caller's transport decides
// which addresses are reachable.
func WithHTTPClient(client *http.Client) Option {
	return func(v *Validator) {
		v.client = client
	}
}

// WithTimeout sets the per-check timeout of the default client (10s)
func WithTimeout(d time.Duration) Option {
	return func(v *Validator) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// AllowPrivateNetworks lets links resolve to loopback and private ranges
func AllowPrivateNetworks() Option {
	return func(v *Validator) {
		v.allowPrivate = true
	}
}

func New(opts ...Option) *Validator {
	v := &Validator{timeout: 10 * time.Second}
	for _, opt := range opts {
		opt(v)
	}
	if v.client == nil {
		dialer := &net.Dialer{Timeout: v.timeout}
		if !v.allowPrivate {
			dialer.Control = rejectNonPublic
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.DialContext = dialer.DialContext
		transport.Proxy = nil
		v.client = &http.Client{Timeout: v.timeout, Transport: transport}
	}
	return v
}

// rejectNonPublic runs after name resolution, so hostnames pointing at
// internal addresses are caught too.
func rejectNonPublic(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	if ip := net.ParseIP(host); ip == nil || !isPublic(ip) {
		return fmt.Errorf("%w: %s", errNonPublicAddress, host)
	}
	return nil
}

func isPublic(ip net.IP) bool {
	return !(ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() || ip.IsMulticast() ||
		carrierGradeNAT.Contains(ip))
}

// ValidateImageURL issues a HEAD request, falling back to a one-byte ranged
// GET for servers that refuse HEAD. The final response must be 2xx with an
// image/* content type. Rejections are *simpleassets.ValidationError;
// transport failures are returned as plain errors.
func (v *Validator) ValidateImageURL(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("link must be an absolute http(s) url")
	}
	if ip := net.ParseIP(u.Hostname()); ip != nil && !v.allowPrivate && !isPublic(ip) {
		return invalid("link must point to a public address")
	}

	resp, err := v.do(ctx, http.MethodHead, u.String())
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		resp, err = v.do(ctx, http.MethodGet, u.String())
		if err != nil {
			return err
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return invalid(fmt.Sprintf("link responded with status %d", resp.StatusCode))
	}
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		return invalid("link does not point to an image")
	}
	return nil
}

func (v *Validator) do(ctx context.Context, method, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, invalid(err.Error())
	}
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}
	resp, err := v.client.Do(req)
	if err != nil {
		if errors.Is(err, errNonPublicAddress) {
			return nil, invalid("link must point to a public address")
		}
		return nil, fmt.Errorf("failed to fetch %s: %w", target, err)
	}
	resp.Body.Close()
	return resp, nil
}

func invalid(reason string) error {
	return &simpleassets.ValidationError{Field: "link_url", Reason: reason}
}
