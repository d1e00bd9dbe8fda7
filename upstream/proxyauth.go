package upstream

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/impostorkeanu/redsocks-go/xrand"
)

// buildProxyAuthorization computes the Proxy-Authorization header value
// for challenge (the stored last_auth_query) against the given method
// and request-URI. nc is the attempt count already incremented by the
// caller's AuthState.Begin (spec §4.7, "Increment last_auth_count
// first"). Shared between HTTP CONNECT (§4.7) and HTTP Relay (§4.8),
// which apply the identical algorithm with different method/uri inputs.
func buildProxyAuthorization(challenge string, nc int, creds Credentials, method, uri string) (string, error) {
	switch {
	case strings.HasPrefix(challenge, "Basic"):
		token := base64.StdEncoding.EncodeToString([]byte(creds.Login + ":" + creds.Password))
		return "Proxy-Authorization: Basic " + token + "\r\n", nil

	case strings.HasPrefix(challenge, "Digest"):
		return buildDigestHeader(challenge, nc, creds, method, uri)

	default:
		return "", fmt.Errorf("proxyauth: unsupported challenge scheme: %q", challenge)
	}
}

// buildDigestHeader computes an RFC 2617 MD5 Digest response.
func buildDigestHeader(challenge string, nc int, creds Credentials, method, uri string) (string, error) {
	params := parseDigestParams(challenge)
	realm := params["realm"]
	nonce := params["nonce"]
	qopOffered := params["qop"]
	opaque := params["opaque"]

	cnonce, err := xrand.Hex(16) // 16 hex digits, per spec §4.7
	if err != nil {
		return "", fmt.Errorf("proxyauth: failed to generate cnonce: %w", err)
	}
	ncStr := fmt.Sprintf("%08x", nc)

	ha1 := md5Hex(creds.Login + ":" + realm + ":" + creds.Password)
	ha2 := md5Hex(method + ":" + uri)

	useQop := strings.Contains(qopOffered, "auth")

	var response string
	if useQop {
		response = md5Hex(strings.Join([]string{ha1, nonce, ncStr, cnonce, "auth", ha2}, ":"))
	} else {
		response = md5Hex(ha1 + ":" + nonce + ":" + ha2)
	}

	var b strings.Builder
	b.WriteString("Proxy-Authorization: Digest ")
	fmt.Fprintf(&b, `username=%q, realm=%q, nonce=%q, uri=%q, response=%q`,
		creds.Login, realm, nonce, uri, response)
	if useQop {
		fmt.Fprintf(&b, `, qop=auth, nc=%s, cnonce=%q`, ncStr, cnonce)
	}
	if opaque != "" {
		fmt.Fprintf(&b, `, opaque=%q`, opaque)
	}
	b.WriteString("\r\n")
	return b.String(), nil
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// parseDigestParams pulls the comma-separated key=value (optionally
// quoted) pairs out of a `Digest ...` challenge value.
func parseDigestParams(challenge string) map[string]string {
	out := map[string]string{}
	rest := strings.TrimSpace(strings.TrimPrefix(challenge, "Digest"))
	for _, part := range splitDigestParams(rest) {
		part = strings.TrimSpace(part)
		eq := strings.IndexByte(part, '=')
		if eq < 0 {
			continue
		}
		key := strings.TrimSpace(part[:eq])
		val := strings.TrimSpace(part[eq+1:])
		if unquoted, err := strconv.Unquote(val); err == nil {
			val = unquoted
		}
		out[strings.ToLower(key)] = val
	}
	return out
}

// splitDigestParams splits on commas that are not inside a quoted
// string, since quoted values (e.g. domain lists) may themselves
// contain commas.
func splitDigestParams(s string) []string {
	var parts []string
	var cur strings.Builder
	inQuotes := false
	for _, r := range s {
		switch r {
		case '"':
			inQuotes = !inQuotes
			cur.WriteRune(r)
		case ',':
			if inQuotes {
				cur.WriteRune(r)
			} else {
				parts = append(parts, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}
