package httpclient_test

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nimbusid/authgateway/pkg/httpclient"
)

func TestNewHTTPClientPlainRequest(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "hello")
	}))
	defer ts.Close()

	client, err := httpclient.NewHTTPClient(nil, false)
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}

	res, err := client.Get(ts.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if got := string(body); got != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}
}

func TestNewHTTPClientInvalidCA(t *testing.T) {
	if _, err := httpclient.NewHTTPClient([]string{"not a pem certificate"}, false); err == nil {
		t.Fatal("expected error for malformed root CA, got nil")
	}
}
