package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func doRequest(t *testing.T, env *testEnv, method, path, token string, payload any) *http.Response {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, env.ts.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() {
		_ = resp.Body.Close()
	})
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func decodeList(t *testing.T, resp *http.Response) []map[string]any {
	t.Helper()
	var body []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func expectStatus(t *testing.T, resp *http.Response, status int) {
	t.Helper()
	if resp.StatusCode != status {
		t.Fatalf("expected status %d, got %d", status, resp.StatusCode)
	}
}

// createGame creates a game hosted by userID and returns its id and code.
func createGame(t *testing.T, env *testEnv, userID string, payload any) (string, string) {
	t.Helper()
	resp := doRequest(t, env, http.MethodPost, "/api/games", tokenFor(t, userID, strings.ToUpper(userID[:1])+userID[1:]), payload)
	expectStatus(t, resp, http.StatusCreated)
	body := decodeBody(t, resp)
	return body["id"].(string), body["code"].(string)
}

func joinGame(t *testing.T, env *testEnv, userID, code string) *http.Response {
	t.Helper()
	return doRequest(t, env, http.MethodPost, "/api/games/join", tokenFor(t, userID, userID), map[string]string{"code": code})
}

func dialWS(t *testing.T, env *testEnv, query url.Values) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws"
	if len(query) > 0 {
		wsURL += "?" + query.Encode()
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Skipf("skipping test; websocket dial unavailable: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func dialGame(t *testing.T, env *testEnv, gameID, userID string) *websocket.Conn {
	t.Helper()
	conn := dialWS(t, env, url.Values{"gameId": {gameID}, "token": {tokenFor(t, userID, userID)}})
	waitForEvent(t, conn, 5*time.Second, "game:synced")
	return conn
}

type wsEvent struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

func readEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) wsEvent {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read websocket message: %v", err)
	}
	var event wsEvent
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("decode websocket message %q: %v", data, err)
	}
	return event
}

// waitForEvent skips other events until one of the given type arrives.
func waitForEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration, eventType string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(timeout)
	seen := make([]string, 0)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("timed out waiting for %s; seen=%v", eventType, seen)
		}
		event := readEvent(t, conn, remaining)
		if event.Type == eventType {
			return event.Payload
		}
		seen = append(seen, event.Type)
	}
}

func sendEvent(t *testing.T, conn *websocket.Conn, eventType string, payload any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": eventType, "payload": payload}); err != nil {
		t.Fatalf("write websocket message: %v", err)
	}
}
