package client_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bloomberg/pushiko-sub000/client"
	"github.com/bloomberg/pushiko-sub000/errs"
	"github.com/bloomberg/pushiko-sub000/mockserver"
	"github.com/bloomberg/pushiko-sub000/peer"
	"github.com/bloomberg/pushiko-sub000/pool"
	"github.com/bloomberg/pushiko-sub000/transport"
)

func newTestClient(t *testing.T, srv *mockserver.Server, maxSize int) *client.Client {
	t.Helper()
	return newTestClientAgainst(t, srv.Address, maxSize, time.Second)
}

func newTestClientAgainst(t *testing.T, address string, maxSize int, acquisitionTimeout time.Duration) *client.Client {
	t.Helper()
	p := peer.Preset{
		Name:                    "mock",
		Address:                 address,
		WantsALPN:               true,
		MonitorConnectionHealth: false,
		HighWatermark:           150,
	}
	cfg := client.Config{
		Pool: pool.Config{
			Name:                         "mock",
			AcquisitionAttemptsThreshold: 4,
			MaximumPendingAcquisitions:   256,
			MinimumSize:                  0,
			MaximumSize:                  maxSize,
		},
		Properties: transport.Properties{
			ConnectTimeout:               2 * time.Second,
			ConnectionAcquisitionTimeout: acquisitionTimeout,
			MaximumConnectRetries:        3,
			DefaultMaxConcurrentStreams:  150,
			MinRetryDelay:                10 * time.Millisecond,
			MaxRetryDelay:                100 * time.Millisecond,
			InsecureSkipVerify:           true,
		},
	}
	c, err := client.New(context.Background(), p, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// TestSingleConnectionManyOKRequests is scenario S1: one client,
// maximum_connections=1, many requests to /ok on concurrent callers; all
// succeed and the connection count stays at 1.
func TestSingleConnectionManyOKRequests(t *testing.T) {
	srv, err := mockserver.New()
	require.NoError(t, err)
	defer srv.Close()

	c := newTestClient(t, srv, 1)
	ctx := context.Background()

	const callers = 4
	const perCaller = 50
	errsCh := make(chan error, callers*perCaller)
	for i := 0; i < callers; i++ {
		go func() {
			for j := 0; j < perCaller; j++ {
				resp, err := c.Send(ctx, client.Request{Method: "GET", Path: "/ok"})
				if err == nil && resp.StatusCode != 200 {
					err = errs.ErrChannelWriteFailed
				}
				errsCh <- err
			}
		}()
	}
	for i := 0; i < callers*perCaller; i++ {
		require.NoError(t, <-errsCh)
	}
	require.Equal(t, 1, c.ConnectionCount(ctx))
}

// TestSilenceTimeoutThenOKReusesConnection is scenario S2.
func TestSilenceTimeoutThenOKReusesConnection(t *testing.T) {
	srv, err := mockserver.New()
	require.NoError(t, err)
	defer srv.Close()

	c := newTestClient(t, srv, 4)
	ctx := context.Background()

	_, err = c.Send(ctx, client.Request{Method: "GET", Path: "/silence", Timeout: 100 * time.Millisecond})
	require.ErrorIs(t, err, errs.ErrSocketTimeout)

	resp, err := c.Send(ctx, client.Request{Method: "GET", Path: "/ok"})
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
}

// TestCrashThenOKSucceeds is scenario S3.
func TestCrashThenOKSucceeds(t *testing.T) {
	srv, err := mockserver.New()
	require.NoError(t, err)
	defer srv.Close()

	c := newTestClient(t, srv, 4)
	ctx := context.Background()

	_, err = c.Send(ctx, client.Request{Method: "GET", Path: "/crash"})
	require.Error(t, err)

	resp, err := c.Send(ctx, client.Request{Method: "GET", Path: "/ok"})
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
}

// TestSilenceFloodHitsAcquisitionTimeout is scenario S4: maximum_connections
// = 1, watermark high = 150; 151 concurrent /silence requests against a
// connection_acquisition_timeout of 300ms must leave at least one caller
// with AcquisitionTimeout, since only 150 of the 151 can ever be admitted
// onto the single channel.
func TestSilenceFloodHitsAcquisitionTimeout(t *testing.T) {
	srv, err := mockserver.NewWithMaxConcurrentStreams(150)
	require.NoError(t, err)
	defer srv.Close()

	c := newTestClientAgainst(t, srv.Address, 1, 300*time.Millisecond)

	// Bounds the /silence calls that do acquire a permit: once this
	// deadline fires they unblock with ErrCancelled rather than hanging
	// for the life of the test.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	const callers = 151
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			_, sendErr := c.Send(ctx, client.Request{Method: "GET", Path: "/silence"})
			results <- sendErr
		}()
	}

	sawAcquisitionTimeout := false
	for i := 0; i < callers; i++ {
		if errors.Is(<-results, errs.ErrAcquisitionTimeout) {
			sawAcquisitionTimeout = true
		}
	}
	require.True(t, sawAcquisitionTimeout, "expected at least one caller to observe ErrAcquisitionTimeout")
}

// TestCloseMidFlightCompletesWithClientClosed is scenario S5: closing the
// client while requests are outstanding completes every pending Send with
// ClientClosed, and Close itself returns cleanly (no leaked channels).
func TestCloseMidFlightCompletesWithClientClosed(t *testing.T) {
	srv, err := mockserver.New()
	require.NoError(t, err)
	defer srv.Close()

	c := newTestClientAgainst(t, srv.Address, 2, time.Second)
	ctx := context.Background()

	// Warm a connection so the in-flight /silence calls below land on an
	// already-acquired channel rather than racing a fresh dial.
	_, err = c.Send(ctx, client.Request{Method: "GET", Path: "/ok"})
	require.NoError(t, err)
	require.Equal(t, 1, c.ConnectionCount(ctx))

	const callers = 8
	var ready sync.WaitGroup
	ready.Add(callers)
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			ready.Done()
			_, sendErr := c.Send(ctx, client.Request{Method: "GET", Path: "/silence"})
			results <- sendErr
		}()
	}
	ready.Wait()
	time.Sleep(50 * time.Millisecond) // let the calls reach the pool/channel

	require.NoError(t, c.Close())

	for i := 0; i < callers; i++ {
		require.ErrorIs(t, <-results, errs.ErrClientClosed)
	}
}

// TestGoAwayMidRequestRetrySucceeds is scenario S6: the peer closes the
// channel via GOAWAY mid-request; the request fails with an error the
// retry policy admits, and one retry succeeds once the client has
// re-established a channel.
func TestGoAwayMidRequestRetrySucceeds(t *testing.T) {
	peerSrv, err := mockserver.NewGoAwayPeer()
	require.NoError(t, err)
	defer peerSrv.Close()

	c := newTestClientAgainst(t, peerSrv.Address, 1, time.Second)
	ctx := context.Background()

	// The first physical attempt dials GoAwayPeer's first connection,
	// which answers the request's HEADERS with GOAWAY instead of a
	// response; classifyRoundTripError maps that to ErrChannelInactive,
	// which DefaultRetryPolicy admits, so Client.Send retries in place
	// (pushiko design §4.7's bounded retry budget). The retry dials a
	// fresh channel — GoAwayPeer's second connection, answered normally —
	// so this single call observes "one retry succeeds" directly.
	resp, err := c.Send(ctx, client.Request{Method: "GET", Path: "/ok"})
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
}
