package upstream

import (
	"strings"
	"testing"
)

func TestBuildProxyAuthorizationBasic(t *testing.T) {
	creds := Credentials{Login: "alice", Password: "hunter2"}

	hdr, err := buildProxyAuthorization("Basic realm=\"proxy\"", 1, creds, "CONNECT", "example.com:443")
	if err != nil {
		t.Fatalf("buildProxyAuthorization() error = %v", err)
	}
	if !strings.HasPrefix(hdr, "Proxy-Authorization: Basic ") {
		t.Errorf("unexpected header: %q", hdr)
	}
}

func TestBuildProxyAuthorizationDigest(t *testing.T) {
	challenge := `Digest realm="proxy", nonce="abc123", qop="auth", opaque="xyz"`
	creds := Credentials{Login: "alice", Password: "hunter2"}

	hdr, err := buildProxyAuthorization(challenge, 1, creds, "CONNECT", "example.com:443")
	if err != nil {
		t.Fatalf("buildProxyAuthorization() error = %v", err)
	}

	for _, want := range []string{`username="alice"`, `realm="proxy"`, `nonce="abc123"`, `qop=auth`, `nc=00000001`, `opaque="xyz"`} {
		if !strings.Contains(hdr, want) {
			t.Errorf("header %q missing %q", hdr, want)
		}
	}
}

func TestBuildProxyAuthorizationUnknownScheme(t *testing.T) {
	if _, err := buildProxyAuthorization("Negotiate abc", 1, Credentials{}, "CONNECT", "x"); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}

func TestParseDigestParams(t *testing.T) {
	got := parseDigestParams(`Digest realm="proxy, with comma", nonce="n1", qop="auth"`)
	if got["realm"] != "proxy, with comma" {
		t.Errorf("realm = %q, want %q", got["realm"], "proxy, with comma")
	}
	if got["nonce"] != "n1" {
		t.Errorf("nonce = %q, want n1", got["nonce"])
	}
	if got["qop"] != "auth" {
		t.Errorf("qop = %q, want auth", got["qop"])
	}
}

func TestMD5Hex(t *testing.T) {
	if got, want := md5Hex(""), "d41d8cd98f00b204e9800998ecf8427e"; got != want {
		t.Errorf("md5Hex(\"\") = %q, want %q", got, want)
	}
}
