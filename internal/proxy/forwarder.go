package proxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/boltproxy/boltproxy/internal/httpparse"
	"github.com/boltproxy/boltproxy/internal/store"
)

// upstreamChunkSize is the read chunk size used when relaying the
// upstream response back to the client.
const upstreamChunkSize = 4096

// Forwarder executes the plain-HTTP path: policy check, cache check,
// upstream fetch, cache fill.
type Forwarder struct {
	Cache    *store.Cache
	Denylist *store.Denylist
	Log      *store.Log
	Dialer   *Dialer

	UpstreamReadTimeout time.Duration

	logger *zap.Logger
}

// NewForwarder wires a Forwarder to its three shared stores. logger may
// be nil, in which case a no-op logger is used.
func NewForwarder(cache *store.Cache, denylist *store.Denylist, log *store.Log, dialer *Dialer, upstreamReadTimeout time.Duration, logger *zap.Logger) *Forwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Forwarder{
		Cache:               cache,
		Denylist:            denylist,
		Log:                 log,
		Dialer:              dialer,
		UpstreamReadTimeout: upstreamReadTimeout,
		logger:              logger.Named("forwarder"),
	}
}

// Handle runs the full forward path for req over client, the already
// accepted client connection. clientAddr is the "ip:port" identity
// logged with every event.
func (f *Forwarder) Handle(ctx context.Context, client net.Conn, clientAddr string, req httpparse.Request) {
	u := Reconstruct(req)
	host := u.LowercaseHost()

	// 1. Policy.
	if f.Denylist.Contains(host) {
		client.Write(ForbiddenResponse())
		f.Log.Append(clientAddr, u.Raw, store.ActionBlocked)
		return
	}

	// 2. Cache (GET only).
	if req.Method == "GET" {
		if body, ok := f.Cache.Lookup(u.Raw); ok {
			client.Write(body)
			f.Log.Append(clientAddr, u.Raw, store.ActionCached)
			return
		}
	}

	// 3. Upstream dial.
	upstream, err := f.Dialer.Dial(ctx, u.Host, u.DialPort())
	if err != nil {
		f.logger.Debug("upstream dial failed", zap.String("url", u.Raw), zap.Error(err))
		client.Write(BadGatewayResponse())
		f.Log.Append(clientAddr, u.Raw, store.ActionErrorUpstreamConnect)
		return
	}
	defer upstream.Close()

	// 4. Arrival log, before the response is known, so operators see
	// in-flight requests.
	f.Log.Append(clientAddr, u.Raw, store.ActionRequestHTTP)

	// 5. Upstream request.
	if err := f.sendUpstreamRequest(upstream, req, u); err != nil {
		client.Write(BadGatewayResponse())
		f.Log.Append(clientAddr, u.Raw, store.ActionErrorUpstreamSend)
		return
	}

	// 6. Response relay.
	buf := f.relay(client, upstream)

	// 7. Post-processing.
	if req.Method == "GET" {
		if len(buf) > 0 {
			if err := f.Cache.Insert(u.Raw, buf); err != nil {
				f.Log.Append(clientAddr, u.Raw, store.ActionFetchedNoCache)
			} else {
				f.Log.Append(clientAddr, u.Raw, store.ActionFetched)
			}
		} else {
			f.Log.Append(clientAddr, u.Raw, store.ActionForwarded)
		}
	} else {
		f.Log.Append(clientAddr, u.Raw, store.ActionForwarded)
	}
	// 8. Close happens via defer / caller closing client.
}

// sendUpstreamRequest emits the rewritten request line, the original
// headers minus Host/Connection/Proxy-Connection, a fresh Host and
// Connection: close, and any leftover body bytes from parsing. No
// further body is read from the client.
func (f *Forwarder) sendUpstreamRequest(upstream net.Conn, req httpparse.Request, u ReconstructedURL) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\r\n", req.Method, u.Path, req.Version)

	req.Headers.Each(func(name, value string) {
		lower := strings.ToLower(name)
		if lower == "host" || lower == "connection" || lower == "proxy-connection" {
			return
		}
		fmt.Fprintf(&b, "%s: %s\r\n", name, value)
	})

	netloc := u.Host
	if u.Port != 0 {
		netloc = fmt.Sprintf("%s:%d", u.Host, u.Port)
	}
	fmt.Fprintf(&b, "Host: %s\r\n", netloc)
	b.WriteString("Connection: close\r\n\r\n")

	if _, err := io.WriteString(upstream, b.String()); err != nil {
		return err
	}
	if len(req.Body) > 0 {
		if _, err := upstream.Write(req.Body); err != nil {
			return err
		}
	}
	return nil
}

// relay reads from upstream in 4 KiB chunks with an idle read timeout,
// writing each chunk to client and accumulating it into the returned
// buffer. A read error terminates the loop but is not fatal; whatever
// was already streamed stands.
func (f *Forwarder) relay(client, upstream net.Conn) []byte {
	var buf []byte
	chunk := make([]byte, upstreamChunkSize)
	for {
		upstream.SetReadDeadline(time.Now().Add(f.UpstreamReadTimeout))
		n, err := upstream.Read(chunk)
		if n > 0 {
			client.Write(chunk[:n])
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}
	return buf
}
