package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newClient(t *testing.T, url string, timeout time.Duration) *Client {
	t.Helper()
	c, err := New(Options{BaseURL: url, Timeout: timeout})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestRequest_SendsJSONAndDecodes(t *testing.T) {
	var gotMethod, gotPath, gotType string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath, gotType = r.Method, r.URL.Path, r.Header.Get("Content-Type")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newClient(t, srv.URL+"/", 0)
	var out struct {
		OK bool `json:"ok"`
	}
	if err := c.PostJSON(context.Background(), "/orders", map[string]any{"qty": 2}, &out); err != nil {
		t.Fatalf("PostJSON: %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/orders" || gotType != "application/json" {
		t.Fatalf("unexpected request %s %s %s", gotMethod, gotPath, gotType)
	}
	if gotBody["qty"] != float64(2) {
		t.Fatalf("unexpected body %v", gotBody)
	}
	if !out.OK {
		t.Fatalf("expected ok")
	}
}

func TestRequest_StatusErrorKeepsResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"nope","code":"PENDING_VERIFICATION"}`))
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, 0)
	resp, err := c.Request(context.Background(), http.MethodGet, "/x", nil)
	var he *HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if he.Kind != KindStatus || he.StatusCode != http.StatusForbidden {
		t.Fatalf("unexpected error %+v", he)
	}
	if he.ServerMessage() != "nope" || he.ServerCode() != "PENDING_VERIFICATION" {
		t.Fatalf("unexpected server fields %q %q", he.ServerMessage(), he.ServerCode())
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected response alongside error")
	}
	if !IsStatus(err, http.StatusForbidden) {
		t.Fatalf("IsStatus should match")
	}
}

func TestRequest_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := newClient(t, srv.URL, 50*time.Millisecond)
	_, err := c.Request(context.Background(), http.MethodGet, "/slow", nil)
	var he *HTTPError
	if !errors.As(err, &he) || he.Kind != KindTimeout {
		t.Fatalf("expected timeout HTTPError, got %v", err)
	}
}

func TestRequest_NetworkError(t *testing.T) {
	c := newClient(t, "http://127.0.0.1:1", time.Second)
	_, err := c.Request(context.Background(), http.MethodGet, "/", nil)
	var he *HTTPError
	if !errors.As(err, &he) || he.Kind == KindStatus {
		t.Fatalf("expected transport HTTPError, got %v", err)
	}
}

func TestHooks_OrderAndReplacement(t *testing.T) {
	var sawHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawHeader = r.Header.Get("X-Trace")
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, 0)
	c.OnRequest(func(req *http.Request, call Call) error {
		req.Header.Set("X-Trace", call.Method+" "+call.Path)
		return nil
	})
	var order []string
	c.OnResponse(func(_ context.Context, _ Call, resp *Response, err error) (*Response, error) {
		order = append(order, "first")
		return &Response{StatusCode: http.StatusOK}, nil
	})
	c.OnResponse(func(_ context.Context, _ Call, resp *Response, err error) (*Response, error) {
		order = append(order, "second")
		if err != nil || resp.StatusCode != http.StatusOK {
			t.Errorf("second hook should see replaced outcome")
		}
		return resp, err
	})

	resp, err := c.Request(context.Background(), http.MethodGet, "/me", nil)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("expected replaced response, got %v %v", resp, err)
	}
	if sawHeader != "GET /me" {
		t.Fatalf("request hook not applied: %q", sawHeader)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("unexpected hook order %v", order)
	}
}

func TestRequestHookErrorAborts(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { hits++ }))
	defer srv.Close()

	c := newClient(t, srv.URL, 0)
	boom := errors.New("boom")
	c.OnRequest(func(*http.Request, Call) error { return boom })
	if _, err := c.Request(context.Background(), http.MethodGet, "/", nil); !errors.Is(err, boom) {
		t.Fatalf("expected hook error, got %v", err)
	}
	if hits != 0 {
		t.Fatalf("request should not be sent")
	}
}

func TestCookiesAreResent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			http.SetCookie(w, &http.Cookie{Name: "access_token", Value: "abc", Path: "/"})
			return
		}
		if ck, err := r.Cookie("access_token"); err != nil || ck.Value != "abc" {
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, 0)
	if _, err := c.Request(context.Background(), http.MethodPost, "/login", nil); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := c.Request(context.Background(), http.MethodGet, "/profile", nil); err != nil {
		t.Fatalf("profile should carry cookie: %v", err)
	}
}

func TestCallMarkRetriedCopies(t *testing.T) {
	orig := Call{Method: http.MethodGet, Path: "/a"}
	retry := orig.MarkRetried()
	if orig.Retried || !retry.Retried {
		t.Fatalf("MarkRetried must not mutate the original")
	}
}
