package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func discoveryServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != discoveryPath {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewOIDCProvider_ParsesDiscoveryDocument(t *testing.T) {
	srv := discoveryServer(t, http.StatusOK, `{
		"issuer": "https://idp.example.com",
		"token_endpoint": "https://idp.example.com/token",
		"jwks_uri": "https://idp.example.com/keys",
		"scopes_supported": ["openid", "profile"]
	}`)

	// Trailing slash on the issuer must not produce a double-slash URL.
	provider, err := NewOIDCProvider(srv.URL + "/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.JWKSURI != "https://idp.example.com/keys" {
		t.Errorf("JWKSURI = %q", provider.JWKSURI)
	}
	if !provider.SupportsScope("openid") || provider.SupportsScope("admin") {
		t.Errorf("unexpected scope support: %v", provider.ScopesSupported)
	}
}

func TestNewOIDCProvider_MissingJWKSURI(t *testing.T) {
	srv := discoveryServer(t, http.StatusOK, `{"issuer": "https://idp.example.com"}`)
	if _, err := NewOIDCProvider(srv.URL); err == nil {
		t.Fatal("expected error for a document without jwks_uri")
	}
}

func TestNewOIDCProvider_Non200Discovery(t *testing.T) {
	srv := discoveryServer(t, http.StatusInternalServerError, "")
	if _, err := NewOIDCProvider(srv.URL); err == nil {
		t.Fatal("expected error for a failing discovery endpoint")
	}
}
