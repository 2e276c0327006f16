package mockserver

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"

	"golang.org/x/net/http2"
)

// GoAwayPeer is a minimal hand-rolled HTTP/2 responder used only to
// reproduce S6 (the peer closes the channel via GOAWAY mid-request): unlike
// Server, which lets net/http's http2.Server answer every route, no
// net/http handler can emit a GOAWAY instead of a response on a single
// accepted connection without shutting the whole server down. Its first
// connection answers the first HEADERS frame with GOAWAY and closes, driving
// golang.org/x/net/http2's Framer directly — the pack's only precedent for
// working below the http.Handler level (golang.org/x/net/http2 itself, used
// client-side throughout transport). Every connection after the first is
// handed off to a real http2.Server, so a client that re-dials after the
// GOAWAY gets ordinary responses, reproducing "one retry succeeds once a
// channel is re-established" (pushiko design §8, S6) against a single
// address.
type GoAwayPeer struct {
	Address         string
	RootCertificate *tls.Certificate

	listener net.Listener
	tripped  atomic.Bool
}

// NewGoAwayPeer starts a TLS listener on an ephemeral local port.
func NewGoAwayPeer() (*GoAwayPeer, error) {
	cert, err := generateSelfSigned()
	if err != nil {
		return nil, fmt.Errorf("mockserver: generating certificate: %w", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("mockserver: listen: %w", err)
	}
	s := &GoAwayPeer{Address: ln.Addr().String(), RootCertificate: cert, listener: ln}
	go s.acceptLoop()
	return s, nil
}

func (s *GoAwayPeer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.serveOne(conn)
	}
}

func (s *GoAwayPeer) serveOne(rawConn net.Conn) {
	tlsConn := tls.Server(rawConn, &tls.Config{
		Certificates: []tls.Certificate{*s.RootCertificate},
		NextProtos:   []string{"h2"},
	})
	if err := tlsConn.Handshake(); err != nil {
		tlsConn.Close()
		return
	}

	if s.tripped.CompareAndSwap(false, true) {
		s.serveGoAway(tlsConn)
		return
	}

	// Every connection after the first GOAWAY is served normally, via the
	// same http2.Server type net/http itself wires up for h2 — there is no
	// reason to hand-roll framing once the GOAWAY case is out of the way.
	h2srv := &http2.Server{}
	h2srv.ServeConn(tlsConn, &http2.ServeConnOpts{Handler: http.HandlerFunc(okHandler)})
}

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// serveGoAway reads the client connection preface, writes this peer's own
// SETTINGS, then acts as a frame-level no-op for everything except the
// client's SETTINGS (acknowledged), the readiness PING
// (transport.Factory.attempt's settings wait) and the first
// HEADERS frame, which it answers with GOAWAY instead of a response
// (pushiko design §4.4, "GOAWAY read: immediately close the channel; do not
// attempt new streams").
func (s *GoAwayPeer) serveGoAway(tlsConn *tls.Conn) {
	defer tlsConn.Close()

	preface := make([]byte, len(http2.ClientPreface))
	if _, err := io.ReadFull(tlsConn, preface); err != nil {
		return
	}

	framer := http2.NewFramer(tlsConn, tlsConn)
	if err := framer.WriteSettings(); err != nil {
		return
	}

	for {
		f, err := framer.ReadFrame()
		if err != nil {
			return
		}
		switch fr := f.(type) {
		case *http2.SettingsFrame:
			if !fr.IsAck() {
				_ = framer.WriteSettingsAck()
			}
		case *http2.PingFrame:
			if !fr.IsAck() {
				_ = framer.WritePing(true, fr.Data)
			}
		case *http2.HeadersFrame:
			_ = framer.WriteGoAway(0, http2.ErrCodeNo, nil)
			return
		}
	}
}

// Close stops accepting new connections.
func (s *GoAwayPeer) Close() error {
	return s.listener.Close()
}
