package proxy

import (
	"bytes"
	"context"
	"net"
	"time"

	"github.com/boltproxy/boltproxy/internal/httpparse"
)

// MaxHeaderBytes is the bound on the initial client read.
const MaxHeaderBytes = 64 * 1024

// Handler dispatches one freshly accepted connection: it reads a
// bounded header block, parses it, and branches into the forwarder or
// the tunnel.
type Handler struct {
	Forwarder *Forwarder
	Tunnel    *Tunnel

	ClientReadTimeout time.Duration
}

// NewHandler wires a Handler to its forwarder and tunnel.
func NewHandler(forwarder *Forwarder, tunnel *Tunnel, clientReadTimeout time.Duration) *Handler {
	return &Handler{Forwarder: forwarder, Tunnel: tunnel, ClientReadTimeout: clientReadTimeout}
}

// Serve reads, parses, and dispatches one connection. It always closes
// conn before returning.
func (h *Handler) Serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	clientAddr := conn.RemoteAddr().String()

	buf, ok := h.readHeaderBlock(conn)
	if !ok {
		return
	}

	req, ok := httpparse.Parse(buf)
	if !ok {
		return
	}

	if req.Method == "CONNECT" {
		h.Tunnel.Handle(ctx, conn, clientAddr, req)
		return
	}
	h.Forwarder.Handle(ctx, conn, clientAddr, req)
}

// readHeaderBlock accumulates bytes from conn until it observes
// "\r\n\r\n" or reaches MaxHeaderBytes, whichever is first, with an
// idle read timeout reset before every read. It returns ok=false on
// timeout or a zero-byte read, in which case the caller must close
// without logging.
func (h *Handler) readHeaderBlock(conn net.Conn) ([]byte, bool) {
	var buf bytes.Buffer
	chunk := make([]byte, 4096)

	for buf.Len() < MaxHeaderBytes {
		conn.SetReadDeadline(time.Now().Add(h.ClientReadTimeout))
		n, err := conn.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if bytes.Contains(buf.Bytes(), []byte("\r\n\r\n")) {
				return buf.Bytes(), true
			}
		}
		if err != nil || n == 0 {
			return nil, false
		}
	}
	// A header block that never terminates is treated like an idle
	// timeout: close with no log entry.
	return nil, false
}
