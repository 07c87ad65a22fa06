package platform

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/rflorenc/treeops/internal/models"
)

func newTestClient(ts *httptest.Server) *Client {
	return NewClient(&models.Profile{ServerURL: ts.URL, APIKey: "secret"}, WithHTTPClient(ts.Client()))
}

func TestClient_Get_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/users/current/" {
			t.Errorf("path = %s, want /api/v1/users/current/", r.URL.Path)
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	body, err := c.Get(t.Context(), "/users/current/", nil)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if string(body) != `{"status":"ok"}` {
		t.Errorf("body = %q, want {\"status\":\"ok\"}", string(body))
	}
}

func TestClient_Get_AuthHeader(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Api-Key secret" {
			t.Errorf("Authorization = %q, want Api-Key secret", got)
		}
		w.Write([]byte("{}"))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	if _, err := c.Get(t.Context(), "/test", nil); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
}

func TestClient_Get_Unauthorized(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"Invalid API key."}`))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	_, err := c.Get(t.Context(), "/users/current/", nil)
	var ae *AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("Get error = %v, want *AuthError", err)
	}
	if ae.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", ae.StatusCode)
	}
}

func TestClient_Get_NotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	c := newTestClient(ts)
	_, err := c.Get(t.Context(), "/environments/x/", nil)
	if !IsNotFound(err) {
		t.Errorf("IsNotFound(%v) = false, want true", err)
	}
}

func TestClient_URL(t *testing.T) {
	c := NewClient(&models.Profile{ServerURL: "https://ct.example.com"})
	tests := []struct {
		in, want string
	}{
		{"/projects/", "https://ct.example.com/api/v1/projects/"},
		{"/api/v1/projects/?page=2", "https://ct.example.com/api/v1/projects/?page=2"},
		{"https://other.example.com/api/v1/x/", "https://other.example.com/api/v1/x/"},
	}
	for _, tt := range tests {
		if got := c.URL(tt.in); got != tt.want {
			t.Errorf("URL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestClient_GetAll_Pagination(t *testing.T) {
	page := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page++
		var resp map[string]interface{}
		if page == 1 {
			if got := r.URL.Query().Get("page_size"); got != "100" {
				t.Errorf("page_size = %q, want 100", got)
			}
			resp = map[string]interface{}{
				"count":   3,
				"next":    "/api/v1/projects/?page=2",
				"results": []interface{}{map[string]interface{}{"id": "p1", "name": "alpha"}},
			}
		} else {
			if got := r.URL.Query().Get("page"); got != "2" {
				t.Errorf("page = %q, want 2", got)
			}
			resp = map[string]interface{}{
				"count":   3,
				"next":    nil,
				"results": []interface{}{map[string]interface{}{"id": "p2", "name": "beta"}, map[string]interface{}{"id": "p3", "name": "gamma"}},
			}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer ts.Close()

	c := newTestClient(ts)
	results, err := c.GetAll(t.Context(), "/projects/", nil, DefaultPageSize)
	if err != nil {
		t.Fatalf("GetAll returned error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("GetAll returned %d results, want 3", len(results))
	}
	if results[0].Name() != "alpha" || results[2].ID() != "p3" {
		t.Errorf("results = %v", results)
	}
}

func TestClient_GetAll_FailedPage(t *testing.T) {
	page := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page++
		if page == 2 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("boom"))
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"next":    "/api/v1/environments/?page=2",
			"results": []interface{}{map[string]interface{}{"id": "e1", "name": "dev"}},
		})
	}))
	defer ts.Close()

	c := newTestClient(ts)
	results, err := c.GetAll(t.Context(), "/environments/", nil, DefaultPageSize)
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("GetAll error = %v, want *FetchError", err)
	}
	if fe.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", fe.StatusCode)
	}
	if results != nil {
		t.Errorf("partial results returned: %v", results)
	}
}

func TestClient_GetAll_Unparsable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>maintenance</html>"))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	_, err := c.GetAll(t.Context(), "/projects/", nil, 0)
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("GetAll error = %v, want *FetchError", err)
	}
}

func TestClient_GetAll_PaginationLoop(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"next":    "/api/v1/projects/?page=1",
			"results": []interface{}{},
		})
	}))
	defer ts.Close()

	c := newTestClient(ts)
	if _, err := c.GetAll(t.Context(), "/projects/", url.Values{"page": {"1"}}, 0); err == nil {
		t.Fatal("GetAll should fail when next repeats a page")
	}
}

func TestClient_Do_Post(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %s, want application/json", r.Header.Get("Content-Type"))
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["name"] != "staging" {
			t.Errorf("body name = %q, want staging", body["name"])
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"e9"}`))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	resp, err := c.Do(t.Context(), http.MethodPost, "/environments/", map[string]string{"name": "staging"})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if resp.StatusCode != http.StatusCreated || !resp.OK() {
		t.Errorf("status = %d, want 201", resp.StatusCode)
	}
	if string(resp.Body) != `{"id":"e9"}` {
		t.Errorf("body = %q", string(resp.Body))
	}
}

func TestClient_Do_NonSuccessIsNotAnError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer ts.Close()

	c := newTestClient(ts)
	resp, err := c.Do(t.Context(), http.MethodDelete, "/environments/e1/", nil)
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if resp.OK() {
		t.Error("409 response reported as OK")
	}
}
