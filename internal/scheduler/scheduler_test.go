package scheduler

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduleReplacesPending(t *testing.T) {
	timers := New()
	defer timers.Stop()
	key := Key{GameID: "g1", Kind: KindVote}

	var first, second atomic.Int32
	done := make(chan Token, 2)
	timers.Schedule(key, 20*time.Millisecond, func(tok Token) {
		if timers.Claim(key, tok) {
			first.Add(1)
		}
		done <- tok
	})
	tok := timers.Schedule(key, 30*time.Millisecond, func(tok Token) {
		if timers.Claim(key, tok) {
			second.Add(1)
		}
		done <- tok
	})

	select {
	case got := <-done:
		if got != tok {
			t.Fatalf("expected only the replacement to fire, got token %d", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timer did not fire")
	}
	if first.Load() != 0 || second.Load() != 1 {
		t.Fatalf("expected one claimed callback, got first=%d second=%d", first.Load(), second.Load())
	}
	if timers.Pending(key) {
		t.Fatalf("expected key cleared after claim")
	}
}

func TestCancelGameStopsAllKinds(t *testing.T) {
	timers := New()
	defer timers.Stop()
	fired := make(chan Key, 3)
	for _, kind := range []Kind{KindVote, KindReveal, KindPause} {
		key := Key{GameID: "g1", Kind: kind}
		timers.Schedule(key, 20*time.Millisecond, func(tok Token) {
			if timers.Claim(key, tok) {
				fired <- key
			}
		})
	}
	other := Key{GameID: "g2", Kind: KindReveal}
	timers.Schedule(other, 20*time.Millisecond, func(tok Token) {
		if timers.Claim(other, tok) {
			fired <- other
		}
	})
	timers.CancelGame("g1")

	select {
	case key := <-fired:
		if key != other {
			t.Fatalf("cancelled timer fired: %+v", key)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected g2 timer to fire")
	}
	select {
	case key := <-fired:
		t.Fatalf("unexpected extra fire: %+v", key)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestClaimRefusesStaleToken(t *testing.T) {
	manual := NewManual()
	key := Key{GameID: "g1", Kind: KindReveal}
	stale := manual.Schedule(key, time.Second, func(Token) {})
	current := manual.Schedule(key, 2*time.Second, func(Token) {})
	if manual.Claim(key, stale) {
		t.Fatalf("stale token must not claim")
	}
	if !manual.Claim(key, current) {
		t.Fatalf("current token must claim")
	}
	if manual.Claim(key, current) {
		t.Fatalf("token must claim only once")
	}
}

func TestManualFire(t *testing.T) {
	manual := NewManual()
	key := Key{GameID: "g1", Kind: KindPause}
	if manual.Fire(key) {
		t.Fatalf("expected nothing to fire")
	}
	calls := 0
	manual.Schedule(key, 10*time.Second, func(tok Token) {
		if manual.Claim(key, tok) {
			calls++
		}
	})
	if after, ok := manual.After(key); !ok || after != 10*time.Second {
		t.Fatalf("unexpected delay %s ok=%v", after, ok)
	}
	if !manual.Fire(key) {
		t.Fatalf("expected fire")
	}
	if manual.Fire(key) {
		t.Fatalf("expected claimed callback to be gone")
	}
	if calls != 1 {
		t.Fatalf("expected one call, got %d", calls)
	}

	manual.Schedule(key, time.Second, func(tok Token) {
		if manual.Claim(key, tok) {
			calls++
		}
	})
	fn, tok, ok := manual.Callback(key)
	if !ok {
		t.Fatalf("expected pending callback")
	}
	manual.CancelGame("g1")
	fn(tok)
	if calls != 1 {
		t.Fatalf("cancelled callback must not claim, calls=%d", calls)
	}
}
