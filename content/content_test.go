package content

import (
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"slices"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestFetch(t *testing.T) {
	from := time.Date(2013, 1, 7, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if r.URL.Path != "/api/v1/notifications" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("X-Edx-Api-Key"); got != "sekrit" {
			t.Errorf("api key = %q", got)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if got := r.PostForm.Get("user_ids"); got != "9,10,11" {
			t.Errorf("user_ids = %q, want numerically sorted %q", got, "9,10,11")
		}
		if got := r.PostForm.Get("from"); got != "2013-01-07 00:00:00+0000" {
			t.Errorf("from = %q", got)
		}
		if got := r.PostForm.Get("to"); got != "2013-01-08 00:00:00+0000" {
			t.Errorf("to = %q", got)
		}

		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(samplePayload)); err != nil {
			t.Error(err)
		}
	}))
	defer srv.Close()

	client := New(srv.Client(), srv.URL, "sekrit", nil, testLogger())
	payload, err := client.Fetch(t.Context(), []string{"11", "9", "10"}, from, to)
	if err != nil {
		t.Fatalf("Fetch error = %v", err)
	}
	if _, ok := payload["10"]; !ok {
		t.Error("parsed payload missing user 10")
	}
}

func TestFetchNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := New(srv.Client(), srv.URL, "sekrit", nil, testLogger())
	_, err := client.Fetch(t.Context(), []string{"10"}, time.Now(), time.Now())
	if !IsServiceError(err) {
		t.Fatalf("error = %v, want ServiceError", err)
	}
	var se *ServiceError
	if !errors.As(err, &se) || se.Status != http.StatusInternalServerError {
		t.Errorf("service error = %+v, want status 500", se)
	}
}

func TestFetchTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // refuse connections

	client := New(&http.Client{}, srv.URL, "sekrit", nil, testLogger())
	_, err := client.Fetch(t.Context(), []string{"10"}, time.Now(), time.Now())
	if !IsServiceError(err) {
		t.Fatalf("error = %v, want ServiceError", err)
	}
	var se *ServiceError
	if !errors.As(err, &se) || se.Status != 0 {
		t.Errorf("service error = %+v, want transport failure (status 0)", se)
	}
}

func TestFetchMalformedPayloadIsNotServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if _, err := w.Write([]byte(`{"10": {"c": {"t": {"content": []}}}}`)); err != nil {
			t.Error(err)
		}
	}))
	defer srv.Close()

	client := New(srv.Client(), srv.URL, "sekrit", nil, testLogger())
	_, err := client.Fetch(t.Context(), []string{"10"}, time.Now(), time.Now())
	if err == nil {
		t.Fatal("expected parse error")
	}
	if IsServiceError(err) {
		t.Errorf("parse failure classified as retryable ServiceError: %v", err)
	}
}

func TestCompareIDsSortsNumerically(t *testing.T) {
	tests := []struct {
		name string
		ids  []string
		want []string
	}{
		{"single digits", []string{"3", "1", "2"}, []string{"1", "2", "3"}},
		{"mixed widths", []string{"10", "9", "2"}, []string{"2", "9", "10"}},
		{"large gaps", []string{"100", "20", "3"}, []string{"3", "20", "100"}},
		{"non-numeric falls back to string order", []string{"abc", "10", "2"}, []string{"2", "10", "abc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids := slices.Clone(tt.ids)
			slices.SortFunc(ids, compareIDs)
			if !slices.Equal(ids, tt.want) {
				t.Errorf("sorted ids = %v, want %v", ids, tt.want)
			}
		})
	}
}
