package webview

import "strings"

// Chromium net error codes for the failures a document load commonly hits.
var netErrorCodes = map[string]int{
	"net::ERR_FAILED":                      -2,
	"net::ERR_ABORTED":                     -3,
	"net::ERR_TIMED_OUT":                   -7,
	"net::ERR_ACCESS_DENIED":               -10,
	"net::ERR_BLOCKED_BY_CLIENT":           -20,
	"net::ERR_CONNECTION_CLOSED":           -100,
	"net::ERR_CONNECTION_RESET":            -101,
	"net::ERR_CONNECTION_REFUSED":          -102,
	"net::ERR_CONNECTION_ABORTED":          -103,
	"net::ERR_CONNECTION_FAILED":           -104,
	"net::ERR_NAME_NOT_RESOLVED":           -105,
	"net::ERR_INTERNET_DISCONNECTED":       -106,
	"net::ERR_ADDRESS_UNREACHABLE":         -109,
	"net::ERR_CONNECTION_TIMED_OUT":        -118,
	"net::ERR_TOO_MANY_REDIRECTS":          -310,
	"net::ERR_EMPTY_RESPONSE":              -324,
	"net::ERR_HTTP2_PROTOCOL_ERROR":        -337,
	"net::ERR_INVALID_RESPONSE":            -320,
	"net::ERR_NAME_RESOLUTION_FAILED":      -137,
	"net::ERR_PROXY_CONNECTION_FAILED":     -130,
	"net::ERR_UNSAFE_REDIRECT":             -311,
	"net::ERR_DISALLOWED_URL_SCHEME":       -301,
	"net::ERR_UNKNOWN_URL_SCHEME":          -302,
	"net::ERR_CACHE_MISS":                  -400,
	"net::ERR_NETWORK_CHANGED":             -21,
	"net::ERR_NETWORK_ACCESS_DENIED":       -138,
	"net::ERR_SOCKET_NOT_CONNECTED":        -15,
	"net::ERR_BLOCKED_BY_RESPONSE":         -27,
	"net::ERR_CONTENT_LENGTH_MISMATCH":     -354,
	"net::ERR_INCOMPLETE_CHUNKED_ENCODING": -355,
}

// netErrorCode maps a CDP error text to its Chromium code.
func netErrorCode(text string) (int, bool) {
	code, ok := netErrorCodes[strings.TrimSpace(text)]
	return code, ok
}

// isTLSError reports whether a CDP error text is a certificate or TLS
// handshake failure.
func isTLSError(text string) bool {
	return strings.HasPrefix(text, "net::ERR_CERT_") || strings.HasPrefix(text, "net::ERR_SSL_")
}
