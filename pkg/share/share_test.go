package share

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPClientCreate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/share_create" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["sessionID"] != "ses_abc" {
			t.Errorf("sessionID = %q", body["sessionID"])
		}
		_ = json.NewEncoder(w).Encode(Info{Secret: "s3cret", URL: "https://share.test/ses_abc"})
	}))
	defer srv.Close()

	info, err := NewHTTPClient(srv.URL).Create(context.Background(), "ses_abc")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if info.Secret != "s3cret" || info.URL != "https://share.test/ses_abc" {
		t.Errorf("info = %+v", info)
	}
}

func TestHTTPClientSync(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/share_sync" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}))
	defer srv.Close()

	err := NewHTTPClient(srv.URL).Sync(context.Background(), "s3cret", "session/prj/ses_abc", map[string]string{"title": "x"})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if got["secret"] != "s3cret" || got["key"] != "session/prj/ses_abc" {
		t.Errorf("body = %+v", got)
	}
}

func TestHTTPClientDelete(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if r.URL.Path != "/share_delete" {
			t.Errorf("path = %q", r.URL.Path)
		}
	}))
	defer srv.Close()

	if err := NewHTTPClient(srv.URL).Delete(context.Background(), "ses_abc", "s3cret"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !called {
		t.Error("sink never called")
	}
}

func TestHTTPClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	if _, err := NewHTTPClient(srv.URL).Create(context.Background(), "ses_abc"); err == nil {
		t.Error("Create succeeded on 403")
	}
}
