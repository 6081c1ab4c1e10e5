package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAssertStatusCode(t *testing.T) {
	t.Parallel()

	AssertStatusCode(t, http.StatusOK, http.StatusOK)
	AssertStatusCode(t, http.StatusNotFound, http.StatusNotFound)
}

func TestAssertNoError(t *testing.T) {
	t.Parallel()

	AssertNoError(t, nil)
}

func TestNewTestRequest(t *testing.T) {
	t.Parallel()

	req := NewTestRequest("GET", "/test")
	if req.Method != "GET" {
		t.Errorf("method = %s, want GET", req.Method)
	}
	if req.URL.Path != "/test" {
		t.Errorf("path = %s, want /test", req.URL.Path)
	}
}

func TestNewJSONRequest(t *testing.T) {
	t.Parallel()

	req := NewJSONRequest(t, http.MethodPost, "/api/connect", map[string]string{"port": "SIM0"})
	body, err := io.ReadAll(req.Body)
	AssertNoError(t, err)
	if got := string(body); got != `{"port":"SIM0"}` {
		t.Errorf("body = %s, want {\"port\":\"SIM0\"}", got)
	}
	if ct := req.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %s, want application/json", ct)
	}

	raw := NewJSONRequest(t, http.MethodPost, "/", "{bad")
	body, _ = io.ReadAll(raw.Body)
	if string(body) != "{bad" {
		t.Errorf("raw body = %s, want {bad", body)
	}
}

func TestLocalRequest(t *testing.T) {
	t.Parallel()

	req := LocalRequest(http.MethodGet, "/debug/")
	if req.RemoteAddr != "127.0.0.1:12345" {
		t.Errorf("remote addr = %s, want loopback", req.RemoteAddr)
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	rec.Header().Set("Content-Type", "application/json")
	rec.WriteString(`{"count":3}`)

	var got struct {
		Count int `json:"count"`
	}
	DecodeJSON(t, rec, &got)
	if got.Count != 3 {
		t.Errorf("count = %d, want 3", got.Count)
	}
}
