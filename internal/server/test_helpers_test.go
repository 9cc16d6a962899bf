package server

import (
	"context"
	"math/rand/v2"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"blindtest/internal/catalog"
	"blindtest/internal/config"
	"blindtest/internal/db"
	"blindtest/internal/game"
	"blindtest/internal/scheduler"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

var testThemes = []config.Theme{
	{ID: "A", Name: "Theme A"},
	{ID: "B", Name: "Theme B"},
}

type stubCatalog struct{}

func (stubCatalog) FetchRandomTrack(_ context.Context, themeID string) (catalog.Track, error) {
	return catalog.Track{
		Title:       "Blinding Lights",
		Artist:      "The Weeknd",
		PreviewURL:  "https://cdn/preview-" + themeID + ".mp3",
		CoverURL:    "https://cdn/cover.jpg",
		ExternalURL: "https://deezer/track/1",
	}, nil
}

type testEnv struct {
	ts     *httptest.Server
	store  *db.Store
	timers *scheduler.Manual
	hub    *Hub
	cfg    config.Config
}

func newTestEnv(t *testing.T, configure func(cfg *config.Config)) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.DBDriver = "sqlite"
	cfg.DatabaseURL = filepath.Join(t.TempDir(), "blindtest.db")
	cfg.DBMaxOpenConns = 1
	cfg.DBMaxIdleConns = 1
	cfg.JWTSecret = testSecret
	cfg.Themes = testThemes
	if configure != nil {
		configure(&cfg)
	}
	conn, err := db.Open(cfg)
	if err != nil {
		t.Skipf("skipping test; sqlite unavailable: %v", err)
	}
	if err := db.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	store := db.NewStore(conn)
	timers := scheduler.NewManual()
	hub := NewHub()
	opts := game.OptionsFromConfig(cfg)
	opts.Rand = rand.New(rand.NewPCG(7, 7))
	ctrl := game.New(store, stubCatalog{}, hub, timers, opts)
	srv := New(store, ctrl, hub, cfg)

	ts := newTestServer(t, srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, store: store, timers: timers, hub: hub, cfg: cfg}
}

func newTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test; listen unavailable: %v", err)
	}
	ts := &httptest.Server{
		Listener: listener,
		Config:   &http.Server{Handler: handler},
	}
	ts.Start()
	return ts
}

func tokenFor(t *testing.T, userID, username string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ID:       userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
