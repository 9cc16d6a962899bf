package catalog

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestDeezer(t *testing.T, handler http.HandlerFunc) *Deezer {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewDeezer(srv.URL+"/", time.Second, rand.New(rand.NewPCG(1, 2)))
}

func TestFetchRandomTrackSkipsUnplayable(t *testing.T) {
	var gotPath, gotLimit string
	deezer := newTestDeezer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotLimit = r.URL.Query().Get("limit")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[
			{"title":"No Preview","preview":"","artist":{"name":"Nobody"},"album":{"cover":"x"}},
			{"title":"Blinding Lights","preview":"https://cdn/preview.mp3","link":"https://deezer/track/1",
			 "artist":{"name":"The Weeknd"},"album":{"cover":"https://cdn/small.jpg","cover_big":"https://cdn/big.jpg"}}
		]}`))
	})

	track, err := deezer.FetchRandomTrack(context.Background(), "1306931615")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotPath != "/playlist/1306931615/tracks" || gotLimit != "100" {
		t.Fatalf("unexpected request path=%s limit=%s", gotPath, gotLimit)
	}
	if track.Title != "Blinding Lights" || track.Artist != "The Weeknd" {
		t.Fatalf("unexpected track: %+v", track)
	}
	if track.CoverURL != "https://cdn/big.jpg" || track.ExternalURL != "https://deezer/track/1" {
		t.Fatalf("unexpected urls: %+v", track)
	}
}

func TestFetchRandomTrackEmptyPlaylist(t *testing.T) {
	deezer := newTestDeezer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	_, err := deezer.FetchRandomTrack(context.Background(), "42")
	if !errors.Is(err, ErrEmptyPlaylist) {
		t.Fatalf("expected ErrEmptyPlaylist, got %v", err)
	}
}

func TestFetchRandomTrackErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		payload string
	}{
		{name: "http status", status: http.StatusBadGateway, payload: `{}`},
		{name: "api error", status: http.StatusOK, payload: `{"error":{"type":"DataException","message":"no data"}}`},
		{name: "bad json", status: http.StatusOK, payload: `{"data":`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			deezer := newTestDeezer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.payload))
			})
			if _, err := deezer.FetchRandomTrack(context.Background(), "42"); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestFetchRandomTrackRequiresTheme(t *testing.T) {
	deezer := NewDeezer("http://127.0.0.1:0", time.Second, nil)
	if _, err := deezer.FetchRandomTrack(context.Background(), " "); err == nil {
		t.Fatalf("expected error for blank theme")
	}
}
