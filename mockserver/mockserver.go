// Package mockserver is the fake HTTP/2 server test collaborator (pushiko
// design §2, "Fake HTTP/2 server" / §8 scenarios S1-S6): it answers
// canonical paths with canned behavior so client/transport tests can
// exercise real HTTP/2 framing without a production peer. Grounded on
// apns2/test_harness.go's mustNewMockServer shape (a helper that stands up
// a self-signed TLS server and hands back its root certificate for the
// client under test to trust) but built directly against
// golang.org/x/net/http2 and net/http rather than the
// apns2mock.Server dependency that shape originally wrapped, since that
// package is not part of this module's dependency surface.
package mockserver

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/net/http2"
)

// Server is the fake HTTP/2 peer.
type Server struct {
	Address         string
	RootCertificate *tls.Certificate

	listener net.Listener
	httpSrv  *http.Server
	crashes  atomic.Int64
}

// New starts a TLS+HTTP/2 listener on an ephemeral local port using a
// freshly generated self-signed certificate.
func New() (*Server, error) {
	return NewWithMaxConcurrentStreams(0)
}

// NewWithMaxConcurrentStreams is like New, but advertises maxStreams as
// SETTINGS_MAX_CONCURRENT_STREAMS (0 leaves golang.org/x/net/http2's own
// default in place). Scenario S4 needs this to make the client's watermarks
// (pushiko design §4.4/§6.1) actually bind at a known value instead of
// whatever this package's http2.Server would otherwise advertise.
func NewWithMaxConcurrentStreams(maxStreams int) (*Server, error) {
	cert, err := generateSelfSigned()
	if err != nil {
		return nil, fmt.Errorf("mockserver: generating certificate: %w", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("mockserver: listen: %w", err)
	}

	s := &Server{Address: ln.Addr().String(), RootCertificate: cert, listener: ln}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.route)

	tlsCfg := &tls.Config{Certificates: []tls.Certificate{*cert}, NextProtos: []string{"h2"}}
	httpSrv := &http.Server{Handler: mux, TLSConfig: tlsCfg}
	h2srv := &http2.Server{}
	if maxStreams > 0 {
		h2srv.MaxConcurrentStreams = uint32(maxStreams)
	}
	if err := http2.ConfigureServer(httpSrv, h2srv); err != nil {
		return nil, fmt.Errorf("mockserver: configuring http2: %w", err)
	}
	s.httpSrv = httpSrv

	go httpSrv.ServeTLS(ln, "", "")
	return s, nil
}

// route dispatches on path per pushiko design §8: /ok -> 200 immediately,
// /crash -> simulated server exception (panics with http.ErrAbortHandler,
// which net/http's HTTP/2 server turns into a stream error instead of a
// response, same as a real handler panic would), /silence -> never
// responds, /sleep/N -> 200 after N seconds, else -> 404.
func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/ok":
		w.WriteHeader(http.StatusOK)
	case r.URL.Path == "/crash":
		s.crashes.Add(1)
		panic(http.ErrAbortHandler)
	case r.URL.Path == "/silence":
		<-r.Context().Done()
	case strings.HasPrefix(r.URL.Path, "/sleep/"):
		secs, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/sleep/"))
		if err != nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		select {
		case <-time.After(time.Duration(secs) * time.Second):
			w.WriteHeader(http.StatusOK)
		case <-r.Context().Done():
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// Crashes reports how many times /crash has been hit, for assertions.
func (s *Server) Crashes() int64 { return s.crashes.Load() }

// TLSConfig returns a client-side tls.Config that trusts this server's
// self-signed root, for tests that want to exercise real certificate
// verification rather than InsecureSkipVerify.
func (s *Server) TLSConfig() *tls.Config {
	pool := x509.NewCertPool()
	pool.AddCert(s.RootCertificate.Leaf)
	return &tls.Config{RootCAs: pool}
}

// Close stops accepting connections.
func (s *Server) Close() error {
	return s.httpSrv.Close()
}
