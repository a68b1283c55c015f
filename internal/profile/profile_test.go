package profile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-intake/internal/config"
)

func TestFetchReturnsProfileOnFifthAttempt(t *testing.T) {
	calls := 0
	src := SourceFunc(func(context.Context, string) (Profile, bool, error) {
		calls++
		if calls < 5 {
			return Profile{}, false, nil
		}
		return Profile{ID: "p1", Name: "Jane Doe", Age: "29"}, true, nil
	})
	f := newTestFetcher(src)

	got := f.Fetch(context.Background(), "room-1")
	if calls != 5 {
		t.Fatalf("expected 5 lookups, got %d", calls)
	}
	if got.ID != "p1" || got.Name != "Jane Doe" || got.Age != "29" {
		t.Fatalf("unexpected profile %+v", got)
	}
	if got.Gender != UnknownValue || got.Notes != "" {
		t.Fatalf("expected missing fields to be defaulted, got %+v", got)
	}
}

func TestFetchDegradesWhenAllAttemptsMiss(t *testing.T) {
	calls := 0
	src := SourceFunc(func(context.Context, string) (Profile, bool, error) {
		calls++
		if calls%2 == 0 {
			return Profile{}, false, errors.New("connection refused")
		}
		return Profile{}, false, nil
	})
	f := newTestFetcher(src)

	got := f.Fetch(context.Background(), "room-1")
	if calls != 5 {
		t.Fatalf("expected 5 lookups, got %d", calls)
	}
	if !got.IsUnknown() {
		t.Fatalf("expected fully defaulted profile, got %+v", got)
	}
}

func TestFetchSleepsBetweenAttemptsOnly(t *testing.T) {
	var slept []time.Duration
	f := newTestFetcher(SourceFunc(func(context.Context, string) (Profile, bool, error) {
		return Profile{}, false, nil
	}))
	f.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	f.Fetch(context.Background(), "room-1")
	if len(slept) != 4 {
		t.Fatalf("expected 4 sleeps between 5 attempts, got %d", len(slept))
	}
	for _, d := range slept {
		if d != 500*time.Millisecond {
			t.Fatalf("unexpected interval %s", d)
		}
	}
}

func TestFetchZeroIntervalUsesDefault(t *testing.T) {
	var slept []time.Duration
	f := NewFetcher(SourceFunc(func(context.Context, string) (Profile, bool, error) {
		return Profile{}, false, nil
	}), config.ProfileConfig{Attempts: 2}, discardLogger())
	f.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	f.Fetch(context.Background(), "room-1")
	if len(slept) != 1 || slept[0] != defaultInterval {
		t.Fatalf("expected one default pause, got %v", slept)
	}
}

func TestFetchStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	f := newTestFetcher(SourceFunc(func(context.Context, string) (Profile, bool, error) {
		calls++
		cancel()
		return Profile{}, false, nil
	}))
	f.sleep = sleepContext

	if got := f.Fetch(ctx, "room-1"); !got.IsUnknown() {
		t.Fatalf("expected defaulted profile, got %+v", got)
	}
	if calls != 1 {
		t.Fatalf("expected polling to stop after cancellation, got %d calls", calls)
	}
}

func TestHTTPSourceParsesPopulatedUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/getProfile" || r.URL.Query().Get("room") != "room 7" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"profile":{"_id":"prof-1","user_id":{"_id":"u-42","name":"Jane","last_name":"Doe"},"age":29,"gender":"female","occupation":"employed","education_level":"master","marital_status":"single","notes":"prefers mornings"}}`)
	}))
	defer srv.Close()

	p, ok, err := NewHTTPSource(srv.URL+"/", nil).Lookup(context.Background(), "room 7")
	if err != nil || !ok {
		t.Fatalf("lookup: ok=%v err=%v", ok, err)
	}
	want := Profile{
		ID:             "u-42",
		Name:           "Jane Doe",
		Age:            "29",
		Gender:         "female",
		Occupation:     "employed",
		EducationLevel: "master",
		MaritalStatus:  "single",
		Notes:          "prefers mornings",
	}
	if p != want {
		t.Fatalf("unexpected profile %+v", p)
	}
}

func TestHTTPSourceAcceptsBareUserID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"profile":{"user_id":"u-9","age":"31"}}`)
	}))
	defer srv.Close()

	p, ok, err := NewHTTPSource(srv.URL, nil).Lookup(context.Background(), "r")
	if err != nil || !ok {
		t.Fatalf("lookup: ok=%v err=%v", ok, err)
	}
	if p.ID != "u-9" || p.Age != "31" || p.Name != "" {
		t.Fatalf("unexpected profile %+v", p)
	}
}

func TestHTTPSourceTreatsNotFoundAsMiss(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"profile not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, ok, err := NewHTTPSource(srv.URL, nil).Lookup(context.Background(), "r")
	if err != nil || ok {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}
}

func TestHTTPSourceReportsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, ok, err := NewHTTPSource(srv.URL, nil).Lookup(context.Background(), "r")
	if ok || err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected status error, got ok=%v err=%v", ok, err)
	}
}

func TestPersonaText(t *testing.T) {
	text := Unknown().PersonaText()
	for _, want := range []string{"Patient profile:", "- Name: unknown", "- Marital Status: unknown", "- Notes: \n"} {
		if !strings.Contains(text, want) {
			t.Fatalf("persona missing %q:\n%s", want, text)
		}
	}
}

func newTestFetcher(src Source) *Fetcher {
	f := NewFetcher(src, config.ProfileConfig{Attempts: 5, IntervalMS: 500}, discardLogger())
	f.sleep = func(context.Context, time.Duration) error { return nil }
	return f
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
