package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenk/backoff"
	"github.com/google/renameio"
	"github.com/rs/dnscache"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/oshokin/xbps-builder/internal/domain/pkgerr"
	"github.com/oshokin/xbps-builder/internal/logger"
	"github.com/oshokin/xbps-builder/internal/version"
)

const (
	defaultBaseDelay = 500 * time.Millisecond
	sourceMode       = 0o644
)

var (
	// ErrNotFound is returned when the server does not have the source.
	ErrNotFound = errors.New("source not found")
	// errUpstream marks responses worth retrying.
	errUpstream = errors.New("upstream unavailable")
	// errDialFailed is returned when none of the resolved addresses accepted a connection.
	errDialFailed = errors.New("failed to dial any resolved address")
)

// Options configures a Fetcher.
type Options struct {
	// Retries is the number of additional attempts after a retryable failure.
	Retries int
	// Timeout bounds a single attempt; zero means no limit.
	Timeout time.Duration
	// UserAgent is sent with every request.
	UserAgent string
	// BaseDelay is the first retry delay.
	BaseDelay time.Duration
	// Progress receives a progress bar; when nil one is drawn on stderr if it is a terminal.
	Progress io.Writer
	// Client replaces the default HTTP client.
	Client *http.Client
}

// Fetcher downloads build sources into the source cache.
type Fetcher struct {
	client    *http.Client
	userAgent string
	retries   int
	baseDelay time.Duration
	progress  io.Writer
}

// New creates a Fetcher whose client resolves host names through a DNS cache.
func New(opts Options) *Fetcher {
	f := &Fetcher{
		client:    opts.Client,
		userAgent: opts.UserAgent,
		retries:   opts.Retries,
		baseDelay: opts.BaseDelay,
		progress:  opts.Progress,
	}

	if f.client == nil {
		f.client = newClient(opts.Timeout)
	}

	if f.userAgent == "" {
		f.userAgent = version.UserAgent()
	}

	if f.baseDelay <= 0 {
		f.baseDelay = defaultBaseDelay
	}

	if f.progress == nil && term.IsTerminal(int(os.Stderr.Fd())) { //nolint:gosec // File descriptors fit in int.
		f.progress = os.Stderr
	}

	return f
}

func newClient(timeout time.Duration) *http.Client {
	resolver := new(dnscache.Resolver)

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				host, port, err := net.SplitHostPort(addr)
				if err != nil {
					return nil, err
				}

				ips, err := resolver.LookupHost(ctx, host)
				if err != nil {
					return nil, err
				}

				for _, ip := range ips {
					conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
					if err == nil {
						return conn, nil
					}
				}

				return nil, fmt.Errorf("%w: %s", errDialFailed, host)
			},
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
		},
	}
}

// Fetch downloads href to dest unless dest already exists.
// It reports whether a download took place. A failed download leaves no file at dest.
func (f *Fetcher) Fetch(ctx context.Context, href, dest string) (bool, error) {
	ctx = logger.WithKV(logger.WithName(ctx, "fetcher"), "href", href)

	if _, err := os.Stat(dest); err == nil {
		logger.InfoKV(ctx, "Source already downloaded", "path", dest)

		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, pkgerr.IO("stat "+dest, err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = f.baseDelay
	policy.MaxElapsedTime = 0

	//nolint:gosec // Retries is validated to be non-negative.
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(f.retries)), ctx)

	attempt := 0
	operation := func() error {
		attempt++

		err := f.download(ctx, href, dest)
		if err == nil || errors.Is(err, errUpstream) {
			return err
		}

		return backoff.Permanent(err)
	}

	notify := func(err error, delay time.Duration) {
		logger.WarnKV(ctx, "Download failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	}

	if err := backoff.RetryNotify(operation, retry, notify); err != nil {
		return false, fmt.Errorf("download %s: %w", href, err)
	}

	logger.InfoKV(ctx, "Source downloaded", "path", dest, "attempts", attempt)

	return true, nil
}

// download performs one attempt, writing through a pending file next to dest.
func (f *Fetcher) download(ctx context.Context, href, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, href, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}

		return fmt.Errorf("%w: %w", errUpstream, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s", errUpstream, resp.Status)
	default:
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	pending, err := renameio.TempFile(filepath.Dir(dest), dest)
	if err != nil {
		return pkgerr.IO("create pending source", err)
	}

	defer func() {
		_ = pending.Cleanup()
	}()

	var bar *progressbar.ProgressBar
	if f.progress != nil {
		bar = progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetWriter(f.progress),
			progressbar.OptionSetDescription(filepath.Base(dest)),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(40),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
	} else {
		bar = progressbar.DefaultBytesSilent(resp.ContentLength)
	}

	if _, err = io.Copy(io.MultiWriter(pending, bar), resp.Body); err != nil {
		if ctx.Err() != nil {
			return err
		}

		return fmt.Errorf("%w: read body: %w", errUpstream, err)
	}

	_ = bar.Finish()

	if err = pending.Chmod(sourceMode); err != nil {
		return pkgerr.IO("set source mode", err)
	}

	if err = pending.CloseAtomicallyReplace(); err != nil {
		return pkgerr.IO("store source", err)
	}

	return nil
}
