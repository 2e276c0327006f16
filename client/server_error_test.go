package client

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bloomberg/pushiko-sub000/peer"
)

func TestServerErrorDelayHonorsRetryAfterOn503(t *testing.T) {
	c := &Client{peer: peer.FCM}
	resp := Response{StatusCode: http.StatusServiceUnavailable, Header: http.Header{"Retry-After": []string{"5"}}}
	d, retry := c.serverErrorDelay(resp, time.Second)
	require.True(t, retry)
	require.Equal(t, 5*time.Second, d)
}

func TestServerErrorDelayDefaults30sOn502WithoutRetryAfter(t *testing.T) {
	c := &Client{peer: peer.FCM}
	resp := Response{StatusCode: http.StatusBadGateway, Header: http.Header{}}
	d, retry := c.serverErrorDelay(resp, time.Second)
	require.True(t, retry)
	require.Equal(t, 30*time.Second, d)
}

func TestServerErrorDelayNotAppliedOutsidePeerWithRetryPolicy(t *testing.T) {
	c := &Client{peer: peer.APNsProduction}
	resp := Response{StatusCode: http.StatusServiceUnavailable, Header: http.Header{}}
	_, retry := c.serverErrorDelay(resp, time.Second)
	require.False(t, retry)
}

func TestServerErrorDelayIgnoresSuccessResponses(t *testing.T) {
	c := &Client{peer: peer.FCM}
	resp := Response{StatusCode: http.StatusOK}
	_, retry := c.serverErrorDelay(resp, time.Second)
	require.False(t, retry)
}
