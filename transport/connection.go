package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/http2"

	"github.com/bloomberg/pushiko-sub000/errs"
	"github.com/bloomberg/pushiko-sub000/internal/xlog"
)

// Request is the wire-agnostic request pushiko design §3 calls HttpRequest:
// method, path and headers are peer-specific (peer.Preset fills in the
// :authority and default headers), Body is the already-serialized payload.
type Request struct {
	Method  string
	Path    string
	Header  http.Header
	Body    []byte
	Timeout time.Duration
}

// Response is pushiko design's HttpResponse.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Continuation is pushiko design's HttpRequestContinuation: a one-shot
// completion slot a ConnectionHandler resolves exactly once, from whichever
// goroutine first learns the outcome (response arrival, stream reset,
// response timeout, or connection teardown).
type Continuation struct {
	done chan struct{}
	once sync.Once
	resp Response
	err  error
}

func newContinuation() *Continuation {
	return &Continuation{done: make(chan struct{})}
}

func (c *Continuation) complete(resp Response, err error) {
	c.once.Do(func() {
		c.resp = resp
		c.err = err
		close(c.done)
	})
}

// Wait blocks until the continuation resolves or ctx is cancelled first.
func (c *Continuation) Wait(ctx context.Context) (Response, error) {
	select {
	case <-c.done:
		return c.resp, c.err
	case <-ctx.Done():
		return Response{}, errs.ErrCancelled
	}
}

// ConnectionHandler is the per-channel HTTP/2 state machine (pushiko design
// §4.4, "ConnectionHandler"). It is a thin, stateful wrapper around
// golang.org/x/net/http2's *http2.ClientConn: ClientConn already multiplexes
// concurrent RoundTrips over one connection and handles HEADERS/DATA/
// SETTINGS/PING/GOAWAY framing internally, so this type's job is bookkeeping
// the design asks for on top of that — per-stream continuations keyed by a
// locally assigned sequence number (ClientConn does not expose raw HTTP/2
// stream ids before a round trip starts), per-request response timeouts,
// and the sticky sentinel that reports the channel dead after its first
// connection-level error. Idle-liveness pings are not run here: Factory
// configures them on the http2.Transport (ReadIdleTimeout/PingTimeout).
type ConnectionHandler struct {
	log xlog.Logger
	id  string

	conn      net.Conn
	cc        *http2.ClientConn
	authority string

	streamSeq atomic.Int64

	mu            sync.Mutex
	continuations map[int64]*Continuation
	stickyErr     error
	closed        bool

	activatedAt time.Time
	maxAge      time.Duration
	ageTimer    *time.Timer
}

// newConnectionHandler wraps an already-established HTTP/2 client
// connection. authority is the :authority value peers expect on every
// request (pushiko design §6, peer presets).
func newConnectionHandler(id string, conn net.Conn, cc *http2.ClientConn, authority string, maxAge time.Duration) *ConnectionHandler {
	h := &ConnectionHandler{
		log:           xlog.For("transport"),
		id:            id,
		conn:          conn,
		cc:            cc,
		authority:     authority,
		continuations: make(map[int64]*Continuation),
		activatedAt:   time.Now(),
		maxAge:        maxAge,
	}
	if maxAge > 0 {
		h.ageTimer = time.AfterFunc(maxAge, h.onMaxAgeExceeded)
	}
	return h
}

func (h *ConnectionHandler) onMaxAgeExceeded() {
	h.log.Info(h.id, "maximum connection age exceeded, closing")
	_ = h.Close()
}

// IsActive reports whether this handler can still accept new requests: the
// sticky error is unset, the ClientConn is not closing/closed, and it still
// reports room for another stream (pushiko design §4.4, "connection_error").
func (h *ConnectionHandler) IsActive() bool {
	h.mu.Lock()
	dead := h.closed || h.stickyErr != nil
	h.mu.Unlock()
	if dead {
		return false
	}
	return h.cc.CanTakeNewRequest()
}

// MaxConcurrentStreams reports ClientConn.State()'s MaxConcurrentStreams:
// the peer-advertised SETTINGS_MAX_CONCURRENT_STREAMS value once the peer's
// SETTINGS frame has been processed, and the library's own placeholder
// before that (Factory.attempt waits for SETTINGS before reading it).
func (h *ConnectionHandler) MaxConcurrentStreams() int {
	st := h.cc.State()
	return int(st.MaxConcurrentStreams)
}

// ActiveStreams reports the ClientConn's own count of in-flight streams.
func (h *ConnectionHandler) ActiveStreams() int {
	st := h.cc.State()
	return int(st.StreamsActive)
}

// Write issues req as an HTTP/2 request over this connection and returns a
// Continuation the caller awaits independently (pushiko design §4.4,
// "write"). Write itself never blocks on the response — it hands the round
// trip to its own goroutine, matching ConnectionHandler's role as a
// non-blocking per-stream dispatcher in front of a blocking library call.
func (h *ConnectionHandler) Write(ctx context.Context, req Request) (*Continuation, error) {
	if !h.IsActive() {
		return nil, errs.ErrChannelInactive
	}

	seq := h.streamSeq.Add(1)
	if seq > maxStreamsPerConnection {
		// RFC 7540 §5.1.1: client-initiated stream ids are odd and
		// bounded by 2^31-1; once this connection's share of that space
		// is exhausted, no further stream can be opened on it (pushiko
		// design §4.4, "allocate next outbound stream id ... if
		// negative, fail with ChannelStreamQuota and close the
		// channel"). streamSeq already stands in for the wire stream id
		// (see ConnectionHandler's doc comment), so it is the right
		// counter to gate this on.
		_ = h.Close()
		return nil, errs.ErrChannelStreamQuota
	}

	httpReq, err := h.buildHTTPRequest(req)
	if err != nil {
		return nil, err
	}

	cont := newContinuation()
	h.mu.Lock()
	h.continuations[seq] = cont
	h.mu.Unlock()

	reqCtx := ctx
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, req.Timeout)
	}
	httpReq = httpReq.WithContext(reqCtx)

	go func() {
		if cancel != nil {
			defer cancel()
		}
		defer h.forgetContinuation(seq)

		resp, rtErr := h.cc.RoundTrip(httpReq)
		if rtErr != nil {
			cont.complete(Response{}, h.classifyRoundTripError(rtErr))
			return
		}
		defer resp.Body.Close()
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			cont.complete(Response{}, &errs.IOError{Cause: readErr})
			return
		}
		cont.complete(Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil)
	}()

	return cont, nil
}

func (h *ConnectionHandler) forgetContinuation(seq int64) {
	h.mu.Lock()
	delete(h.continuations, seq)
	h.mu.Unlock()
}

// maxStreamsPerConnection bounds the number of streams a single connection
// may issue before its local HTTP/2 stream-id space is exhausted (RFC 7540
// §5.1.1: client-initiated stream ids are odd, up to 2^31-1).
const maxStreamsPerConnection = (1 << 31) / 2

// classifyRoundTripError maps an http2.ClientConn.RoundTrip failure onto the
// pushiko design's error taxonomy (§7). A GOAWAY or connection-level error
// additionally marks the handler sticky-dead so the pool retires it rather
// than routing more writes at it.
func (h *ConnectionHandler) classifyRoundTripError(err error) error {
	switch se := err.(type) {
	case http2.StreamError:
		return &errs.StreamError{StreamID: se.StreamID, Code: se.Code.String()}
	case http2.GoAwayError:
		// The channel is unusable for new work the same way a plain
		// inactive channel is (design §4.4, "GOAWAY read: immediately
		// close the channel"), so the in-flight request the GOAWAY
		// orphaned gets the one cause the retry policy already admits
		// for a dead channel (§8 property 7 / §4.7's retry policy),
		// letting the client re-issue it on a freshly created channel.
		h.markSticky(err)
		return fmt.Errorf("%w: %v", errs.ErrChannelInactive, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.ErrSocketTimeout
	}
	if errors.Is(err, context.Canceled) {
		return errs.ErrCancelled
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "write" {
		h.markSticky(err)
		return fmt.Errorf("%w: %v", errs.ErrChannelWriteFailed, err)
	}
	if h.cc.State().Closing {
		// A GOAWAY with NO_ERROR aborts the streams above its last stream
		// id with an unexported ClientConn error rather than a
		// http2.GoAwayError; the ClientConn reports itself closing either
		// way, so treat it like the GoAwayError case above.
		h.markSticky(err)
		return fmt.Errorf("%w: %v", errs.ErrChannelInactive, err)
	}
	h.markSticky(err)
	return &errs.ConnectionError{Cause: err}
}

func (h *ConnectionHandler) markSticky(err error) {
	h.mu.Lock()
	if h.stickyErr == nil {
		h.stickyErr = err
	}
	h.mu.Unlock()
}

func (h *ConnectionHandler) buildHTTPRequest(req Request) (*http.Request, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = &byteReader{b: req.Body}
	}
	httpReq, err := http.NewRequest(req.Method, "https://"+h.authority+req.Path, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Host = h.authority
	return httpReq, nil
}

// byteReader is a minimal io.Reader over a fixed byte slice, avoiding a
// bytes.Reader import purely for this one allocation site.
type byteReader struct {
	b   []byte
	off int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.off >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.off:])
	r.off += n
	return n, nil
}

// Ping issues an HTTP/2 PING and reports whether the peer answered before
// ctx expired (pushiko design §4.5, "Idle / liveness pings").
func (h *ConnectionHandler) Ping(ctx context.Context) error {
	if err := h.cc.Ping(ctx); err != nil {
		h.markSticky(err)
		return &errs.ConnectionError{Cause: err}
	}
	return nil
}

// Close tears down the connection, failing every outstanding continuation
// with the sticky connection error (as *errs.ConnectionError) if one was
// recorded, or errs.ErrStreamClosedBeforeReply otherwise, and is idempotent.
func (h *ConnectionHandler) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	pending := h.continuations
	h.continuations = nil
	var cause error = errs.ErrStreamClosedBeforeReply
	if h.stickyErr != nil {
		cause = &errs.ConnectionError{Cause: h.stickyErr}
	}
	h.mu.Unlock()

	if h.ageTimer != nil {
		h.ageTimer.Stop()
	}
	for _, c := range pending {
		c.complete(Response{}, cause)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = h.cc.Shutdown(shutdownCtx)
	return h.conn.Close()
}
