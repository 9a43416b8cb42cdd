/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package webchannel implements the authenticated web channel (spec.md
// 4.9): a per-host HTTP request executor built directly on
// net/http, the way the teacher's client.Client is (client/client.go),
// rather than reaching for a REST framework the teacher never uses.
package webchannel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/net/publicsuffix"

	"github.com/gravwell/sessiontrace/internal/slog"
)

// State names a position in the channel's connection state machine
// (spec.md 4.9/5).
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateTransferingData
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateTransferingData:
		return "TransferingData"
	}
	return "Unknown"
}

const (
	defaultTimeout      = 120 * time.Second
	headerTimestamp     = "X-Request-Timestamp"
	headerAppProtocol   = "X-Request-App-Protocol"
	headerRequestMethod = "X-Request-Method"
)

// CredentialProvider is the slice of credentials.AuthProvider the
// channel needs: whether a request should carry authorization, how to
// attach it, and how to trigger an interactive/background login. It is
// declared here rather than imported from the credentials package so
// webchannel has no dependency on credentials (nor does credentials
// import webchannel), matching the teacher's layering where
// client.Client owns the transport and auth is layered on top.
type CredentialProvider interface {
	// RequiresAuthentication reports whether req should carry this
	// provider's authorization header.
	RequiresAuthentication(req *http.Request) bool
	// Authenticate attaches authorization headers to req.
	Authenticate(req *http.Request) error
	// Authenticated reports whether the provider currently holds a
	// usable credential (e.g. a prior Login succeeded).
	Authenticated() bool
	// Login performs whatever handshake the provider needs before its
	// first Authenticate call.
	Login(ctx context.Context) error
}

// Config configures a Channel at construction.
type Config struct {
	Scheme             string // "http" or "https"
	Host               string
	Port               int
	BaseDir            string // path prefix, e.g. "Hub"
	Timeout            time.Duration
	AppProtocolVersion string
	Logger             *slog.Logger
	Credentials        CredentialProvider
}

// Channel is a per-host HTTP request executor (spec.md 4.9).
// One Channel should be reused for every request to a given host: it
// owns the host's cookie jar, connection pool, and quirk memoization.
// Execute does not serialize requests: concurrent calls on one Channel
// run in parallel.
type Channel struct {
	cfg    Config
	base   string // scheme://host[:port]/base_dir/
	client *http.Client
	log    *slog.Tagged
	quirks *quirkRegistry

	mu    sync.Mutex
	state State

	cancelMu sync.Mutex
	cancel   context.CancelFunc
	cancelCh <-chan struct{}

	stateListeners []func(from, to State)
}

// New builds a Channel per Config, wiring a cookie jar with the public
// suffix list the same way client.NewOpts does in client/client.go.
func New(cfg Config) (*Channel, error) {
	if cfg.Host == "" {
		return nil, errors.New("webchannel: host required")
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "https"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Nop()
	}

	hostport := cfg.Host
	if cfg.Port != 0 {
		hostport = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}
	base := fmt.Sprintf("%s://%s/", cfg.Scheme, hostport)
	if cfg.BaseDir != "" {
		base = fmt.Sprintf("%s://%s/%s/", cfg.Scheme, hostport, strings.Trim(cfg.BaseDir, "/"))
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	tr := &http.Transport{
		// Go's Transport negotiates gzip/deflate and transparently
		// decompresses as long as the caller doesn't set its own
		// Accept-Encoding, so leaving DisableCompression false here is
		// the whole of the "gzip/deflate decompression" requirement.
		DisableCompression: false,
	}
	client := &http.Client{
		Transport: tr,
		Jar:       jar,
		Timeout:   cfg.Timeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch := &Channel{
		cfg:      cfg,
		base:     base,
		client:   client,
		log:      cfg.Logger.WithMsgID("webchannel"),
		quirks:   newQuirkRegistry(),
		state:    StateDisconnected,
		cancel:   cancel,
		cancelCh: ctx.Done(),
	}
	return ch, nil
}

func normalizeHost(host string) string { return strings.ToLower(host) }

// Cancel fires the channel's cancellation signal: every Execute call
// already running observes it, aborting the attempt in flight and making
// no further retry, and fails with ErrCanceled (spec.md 5). Calls started
// after Cancel use a fresh signal.
func (c *Channel) Cancel() {
	c.cancelMu.Lock()
	defer c.cancelMu.Unlock()
	c.cancel()
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.cancelCh = ctx.Done()
}

func (c *Channel) cancelSignal() <-chan struct{} {
	c.cancelMu.Lock()
	defer c.cancelMu.Unlock()
	return c.cancelCh
}

// OnStateChange registers a listener invoked on every state transition
// (spec.md 4.9). Listeners are invoked synchronously on the request's
// own goroutine.
func (c *Channel) OnStateChange(fn func(from, to State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateListeners = append(c.stateListeners, fn)
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	from := c.state
	c.state = s
	listeners := append([]func(State, State){}, c.stateListeners...)
	c.mu.Unlock()
	if from == s {
		return
	}
	for _, fn := range listeners {
		fn(from, s)
	}
}

// State returns the channel's current connection-state-machine position.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Host returns the channel's target host, for quirk-flag and
// credential-cache keying by callers.
func (c *Channel) Host() string { return c.cfg.Host }

// RequestOptions customizes a single request beyond the channel's
// defaults (spec.md 4.9: "each takes a relative URL and optional
// additional headers and timeout").
type RequestOptions struct {
	Headers     http.Header
	Timeout     time.Duration
	RequireAuth bool
	MaxRetries  int
}

func (o RequestOptions) withDefaults() RequestOptions {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	return o
}

// resolve builds the absolute URL for a relative path under the
// channel's base address.
func (c *Channel) resolve(relURL string) string {
	return c.base + strings.TrimPrefix(relURL, "/")
}

// preprocess attaches the standard per-request headers spec.md 4.9
// calls for: timestamp, optional app-protocol version, and (if bound)
// the credential provider's authorization.
func (c *Channel) preprocess(req *http.Request, opts RequestOptions) error {
	for k, vs := range opts.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set(headerTimestamp, time.Now().UTC().Format(time.RFC3339))
	if c.cfg.AppProtocolVersion != "" {
		req.Header.Set(headerAppProtocol, c.cfg.AppProtocolVersion)
	}
	if c.cfg.Credentials != nil && c.cfg.Credentials.RequiresAuthentication(req) {
		if err := c.cfg.Credentials.Authenticate(req); err != nil {
			return err
		}
	}
	return nil
}

// applyQuirks rewrites the outbound method per this host's memoized
// compatibility flags (spec.md 4.8 405/417 rows): a PUT/DELETE becomes
// a POST carrying X-Request-Method once this host is known to choke on
// the real verb, and HTTP/1.0 semantics are requested once the host is
// known to choke on chunked/expect-continue behavior.
func (c *Channel) applyQuirks(req *http.Request) {
	q := c.quirks.get(req.URL.Hostname())
	if q.compatMethods && (req.Method == http.MethodPut || req.Method == http.MethodDelete) {
		req.Header.Set(headerRequestMethod, req.Method)
		req.Method = http.MethodPost
	}
	if q.http10 {
		// net/http's client always writes the request line as
		// HTTP/1.1; the best a client-side caller can do to request
		// the simpler handshake a quirky server wants is disable
		// persistent connections so each request starts clean.
		req.Close = true
		req.ProtoMajor, req.ProtoMinor = 1, 0
	}
}

// do executes req, classifying the response per spec.md 4.8/7's failure
// taxonomy and returning the drained body alongside any classification
// error. The caller owns retry policy.
func (c *Channel) do(ctx context.Context, req *http.Request) ([]byte, *http.Response, error) {
	c.setState(StateConnecting)
	req = req.WithContext(ctx)
	c.applyQuirks(req)

	c.setState(StateTransferingData)
	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() == context.Canceled {
			c.setState(StateConnected)
			return nil, nil, ErrCanceled
		}
		if ctx.Err() == context.DeadlineExceeded {
			c.setState(StateConnected)
			return nil, nil, ErrTimeout
		}
		c.setState(StateDisconnected)
		return nil, nil, fmt.Errorf("%w: %v", ErrConnectFailure, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	c.setState(StateConnected)

	if resp.StatusCode == http.StatusMethodNotAllowed {
		c.quirks.setCompatMethods(req.URL.Hostname())
	}
	if resp.StatusCode == http.StatusExpectationFailed {
		c.quirks.setHTTP10(req.URL.Hostname())
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, resp, nil
	}
	return body, resp, classify(req.URL.String(), resp, string(body))
}

// Execute runs method against relURL with body, applying the outer
// retry loop of spec.md 4.9: authenticate first if required, dispatch,
// and classify/retry per the spec.md 4.8 failure table. It returns the
// final response body on success.
func (c *Channel) Execute(ctx context.Context, method, relURL string, body io.Reader, opts RequestOptions) ([]byte, error) {
	opts = opts.withDefaults()
	to := opts.Timeout
	if to <= 0 {
		to = c.cfg.Timeout
	}

	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = io.ReadAll(body)
		if err != nil {
			return nil, err
		}
	}

	if opts.RequireAuth && c.cfg.Credentials != nil && !c.cfg.Credentials.Authenticated() {
		if err := c.cfg.Credentials.Login(ctx); err != nil {
			return nil, err
		}
	}

	lastCallWasAuth := false
	var result []byte

	// sig is the cancellation signal in force when this call starts;
	// Cancel closes it, aborting the attempt in flight and any retry.
	sig := c.cancelSignal()

	// attempt runs one dispatch and classifies the outcome. quirkRetry
	// is true for a 405/417 that just flipped this host's quirk flags:
	// the next attempt should fire immediately, not after a backoff
	// sleep, since the fix is the method/protocol rewrite applying, not
	// the passage of time (spec.md S4 - "retry arrives... and
	// succeeds", no interval implied).
	attempt := func() (quirkRetry bool, err error) {
		select {
		case <-sig:
			return false, backoff.Permanent(ErrCanceled)
		default:
		}

		reqCtx, cancel := context.WithTimeout(ctx, to)
		defer cancel()
		go func() {
			select {
			case <-sig:
				cancel()
			case <-reqCtx.Done():
			}
		}()

		var rdr io.Reader
		if bodyBytes != nil {
			rdr = newBytesReader(bodyBytes)
		}
		req, err := http.NewRequest(method, c.resolve(relURL), rdr)
		if err != nil {
			return false, backoff.Permanent(err)
		}
		if err := c.preprocess(req, opts); err != nil {
			return false, backoff.Permanent(err)
		}

		respBody, _, err := c.do(reqCtx, req)
		if err == nil {
			result = respBody
			lastCallWasAuth = false
			return false, nil
		}

		switch {
		case errors.Is(err, ErrUnauthorized):
			if lastCallWasAuth || c.cfg.Credentials == nil {
				return false, backoff.Permanent(err)
			}
			lastCallWasAuth = true
			if lerr := c.cfg.Credentials.Login(ctx); lerr != nil {
				return false, backoff.Permanent(err)
			}
			return true, err
		case errors.Is(err, ErrNotFound):
			return false, backoff.Permanent(err)
		case errors.Is(err, ErrBadRequest):
			// 400 is the upload engine's signal to DELETE server-side
			// partial state and restart from byte zero (spec.md 4.8) —
			// that policy belongs one layer up, not in this generic
			// retry loop, so surface it immediately.
			return false, backoff.Permanent(err)
		case errors.Is(err, ErrMethodNotAllowed), errors.Is(err, ErrExpectationFailed):
			return true, err
		case errors.Is(err, ErrCanceled):
			return false, backoff.Permanent(err)
		default:
			return false, err
		}
	}

	op := func() error {
		// A quirk flip or a 401 re-auth is good for exactly one
		// immediate re-attempt before falling back to the transport
		// backoff schedule for anything that still fails.
		quirkRetry, err := attempt()
		if err == nil || !quirkRetry {
			return err
		}
		_, err = attempt()
		return err
	}

	bo := backoff.WithMaxRetries(transportBackoff(), uint64(opts.MaxRetries))
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return result, nil
}

// transportBackoff is the transport-failure retry schedule: the first
// interval is 1s and each later one doubles (with the backoff package's
// default jitter) up to a 120s maximum interval; the growth from one
// interval to the next is not otherwise limited.
func transportBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.Multiplier = 2
	b.MaxInterval = 120 * time.Second
	b.MaxElapsedTime = 0
	return b
}
