package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSwaggerHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	SwaggerHandler()(rr, httptest.NewRequest(http.MethodGet, DocsPath, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("content type %q", ct)
	}
	if !strings.Contains(rr.Body.String(), "url: '/openapi.json'") {
		t.Fatalf("page does not reference the document")
	}
}
