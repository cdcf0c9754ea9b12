// Package proxy implements the connection handler: dispatch between the
// HTTP forwarder and the CONNECT tunnel, synthetic error responses, and
// the shared upstream-dial helpers both paths use.
package proxy

import "fmt"

// BuildSyntheticResponse produces the wire form of every synthesized
// response: HTTP/1.1, an HTML content type, a correct Content-Length,
// Connection: close, and the literal body appended verbatim.
func BuildSyntheticResponse(status int, reason string, body []byte) []byte {
	head := fmt.Sprintf(
		"HTTP/1.1 %d %s\r\nContent-Type: text/html; charset=utf-8\r\nContent-Length: %d\r\nConnection: close\r\n\r\n",
		status, reason, len(body),
	)
	out := make([]byte, 0, len(head)+len(body))
	out = append(out, head...)
	out = append(out, body...)
	return out
}

var (
	forbiddenBody  = []byte("<h1>Access Denied</h1>")
	badGatewayBody = []byte("<h1>Bad Gateway</h1>")
	badConnectBody = []byte("<h1>Bad CONNECT request</h1>")
)

// ForbiddenResponse is the synthetic 403 for denylisted hosts.
func ForbiddenResponse() []byte { return BuildSyntheticResponse(403, "Forbidden", forbiddenBody) }

// BadGatewayResponse is the synthetic 502 for upstream dial/send failures.
func BadGatewayResponse() []byte { return BuildSyntheticResponse(502, "Bad Gateway", badGatewayBody) }

// BadConnectResponse is the synthetic 400 for a malformed CONNECT target.
func BadConnectResponse() []byte {
	return BuildSyntheticResponse(400, "Bad Request", badConnectBody)
}

// ConnectionEstablished is the literal CONNECT acknowledgement line,
// with no headers at all.
const ConnectionEstablished = "HTTP/1.1 200 Connection Established\r\n\r\n"
