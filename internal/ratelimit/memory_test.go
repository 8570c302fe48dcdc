package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

// testClock はテスト用に手動で進められる時計。
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// neverSweep は掃除を発生させない乱数源。
func neverSweep() float64 { return 1 }

// alwaysSweep は毎回掃除を発生させる乱数源。
func alwaysSweep() float64 { return 0 }

func mustAllow(t *testing.T, l Limiter, id string) bool {
	t.Helper()

	ok, err := l.Allow(context.Background(), id)
	if err != nil {
		t.Fatalf("Allow()でエラーが発生: %v", err)
	}
	return ok
}

// TestFixedWindow_Allow は固定ウィンドウの判定を検証する。
func TestFixedWindow_Allow(t *testing.T) {
	t.Parallel()

	t.Run("最初の10回は許可され11回目は拒否されること", func(t *testing.T) {
		t.Parallel()

		clock := newTestClock()
		l := NewFixedWindow(10, time.Minute, WithClock(clock.Now), WithSweep(0.01, neverSweep))

		for i := 1; i <= 10; i++ {
			if !mustAllow(t, l, "1.2.3.4") {
				t.Fatalf("%d回目が拒否された", i)
			}
		}
		if mustAllow(t, l, "1.2.3.4") {
			t.Error("11回目が許可された")
		}

		rec, ok := l.snapshot("1.2.3.4")
		if !ok {
			t.Fatal("レコードが存在しない")
		}
		if rec.Count != 10 {
			t.Errorf("Count = %d, want 10", rec.Count)
		}
	})

	t.Run("ウィンドウ経過後はカウンタがリセットされること", func(t *testing.T) {
		t.Parallel()

		clock := newTestClock()
		l := NewFixedWindow(10, time.Minute, WithClock(clock.Now), WithSweep(0.01, neverSweep))

		for i := 0; i < 11; i++ {
			mustAllow(t, l, "c")
		}

		// ちょうどウィンドウ長の時点ではまだ同じウィンドウ
		clock.Advance(time.Minute)
		if mustAllow(t, l, "c") {
			t.Error("ウィンドウ境界ちょうどで許可された")
		}

		clock.Advance(time.Millisecond)
		if !mustAllow(t, l, "c") {
			t.Fatal("ウィンドウ経過後の1回目が拒否された")
		}
		rec, _ := l.snapshot("c")
		if rec.Count != 1 {
			t.Errorf("Count = %d, want 1", rec.Count)
		}
		if !rec.WindowStart.Equal(clock.Now()) {
			t.Errorf("WindowStart = %v, want %v", rec.WindowStart, clock.Now())
		}
	})

	t.Run("クライアントごとに独立してカウントされること", func(t *testing.T) {
		t.Parallel()

		l := NewFixedWindow(1, time.Minute, WithSweep(0.01, neverSweep))

		if !mustAllow(t, l, "a") {
			t.Error("aの1回目が拒否された")
		}
		if !mustAllow(t, l, "b") {
			t.Error("bの1回目が拒否された")
		}
		if mustAllow(t, l, "a") {
			t.Error("aの2回目が許可された")
		}
	})

	t.Run("空の識別子はunknownバケットを共有すること", func(t *testing.T) {
		t.Parallel()

		l := NewFixedWindow(1, time.Minute, WithSweep(0.01, neverSweep))

		if !mustAllow(t, l, "") {
			t.Error("1回目が拒否された")
		}
		if mustAllow(t, l, UnknownClient) {
			t.Error("unknownバケットが共有されていない")
		}
	})

	t.Run("0以下の設定値は既定値になること", func(t *testing.T) {
		t.Parallel()

		l := NewFixedWindow(0, 0)
		if l.limit != DefaultLimit {
			t.Errorf("limit = %d, want %d", l.limit, DefaultLimit)
		}
		if l.window != DefaultWindow {
			t.Errorf("window = %v, want %v", l.window, DefaultWindow)
		}
	})
}

// TestFixedWindow_Sweep は期限切れレコードの掃除を検証する。
func TestFixedWindow_Sweep(t *testing.T) {
	t.Parallel()

	t.Run("掃除が発生すると期限切れレコードが削除されること", func(t *testing.T) {
		t.Parallel()

		clock := newTestClock()
		l := NewFixedWindow(10, time.Minute, WithClock(clock.Now), WithSweep(0.01, neverSweep))

		mustAllow(t, l, "old-1")
		mustAllow(t, l, "old-2")
		clock.Advance(2 * time.Minute)
		mustAllow(t, l, "fresh")

		if l.Len() != 3 {
			t.Fatalf("Len() = %d, want 3", l.Len())
		}

		l.sweepProb = 0.01
		l.randFloat = alwaysSweep
		mustAllow(t, l, "fresh")

		if l.Len() != 1 {
			t.Errorf("掃除後のLen() = %d, want 1", l.Len())
		}
		if _, ok := l.snapshot("old-1"); ok {
			t.Error("期限切れレコードが残っている")
		}
	})

	t.Run("掃除が発生しなければ期限切れレコードは残ること", func(t *testing.T) {
		t.Parallel()

		clock := newTestClock()
		l := NewFixedWindow(10, time.Minute, WithClock(clock.Now), WithSweep(0.01, neverSweep))

		mustAllow(t, l, "old")
		clock.Advance(2 * time.Minute)
		mustAllow(t, l, "fresh")

		if l.Len() != 2 {
			t.Errorf("Len() = %d, want 2", l.Len())
		}
	})

	t.Run("一括掃除は削除件数を返すこと", func(t *testing.T) {
		t.Parallel()

		clock := newTestClock()
		l := NewFixedWindow(10, time.Minute, WithClock(clock.Now), WithSweep(0.01, neverSweep))

		mustAllow(t, l, "a")
		mustAllow(t, l, "b")
		clock.Advance(61 * time.Second)

		if n := l.sweep(); n != 2 {
			t.Errorf("sweep() = %d, want 2", n)
		}
	})
}

// TestFixedWindow_Concurrent は並行呼び出しでも上限を超えないことを検証する。
func TestFixedWindow_Concurrent(t *testing.T) {
	t.Parallel()

	l := NewFixedWindow(10, time.Minute)

	const workers = 100
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _ := l.Allow(context.Background(), "shared")
			if ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 10 {
		t.Errorf("許可数 = %d, want 10", allowed)
	}
}
