package timer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"prism-focus/clock"
	"prism-focus/domain"
	"prism-focus/storage"
)

type expiryRecorder struct {
	mu    sync.Mutex
	modes []domain.Mode
}

func (r *expiryRecorder) Expired(mode domain.Mode, _ time.Time) {
	r.mu.Lock()
	r.modes = append(r.modes, mode)
	r.mu.Unlock()
}

func (r *expiryRecorder) got() []domain.Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Mode(nil), r.modes...)
}

type harness struct {
	mr  *miniredis.Miniredis
	kv  *storage.Redis
	clk *clock.Fake
	rec *expiryRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &harness{mr: mr, kv: storage.NewRedis(client, "focus"), clk: clock.NewFake(t0), rec: &expiryRecorder{}}
}

func (h *harness) open(t *testing.T, settings domain.TimerSettings) *Machine {
	t.Helper()
	m, err := Open(context.Background(), h.kv, h.clk, settings, WithExpiryHandler(h.rec))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func (h *harness) raw(t *testing.T, key string) string {
	t.Helper()
	v, err := h.mr.Get("focus:" + key)
	if err != nil {
		t.Fatalf("read %s: %v", key, err)
	}
	return v
}

func TestOpenWithoutSnapshotIsIdleWork(t *testing.T) {
	h := newHarness(t)
	m := h.open(t, domain.DefaultTimerSettings())

	st := m.Status()
	if st.Mode != domain.Work || st.State != domain.Idle || st.RemainingSeconds != 1500 || st.Display != "25:00" {
		t.Fatalf("unexpected initial status %+v", st)
	}
	if h.raw(t, KeyTimeLeft) != "1500" || h.raw(t, KeyIsRunning) != "false" {
		t.Fatal("initial state not persisted")
	}
}

func TestStartTicksAndPersists(t *testing.T) {
	h := newHarness(t)
	m := h.open(t, domain.DefaultTimerSettings())
	ctx := context.Background()

	if _, err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if h.raw(t, KeyIsRunning) != "true" || h.raw(t, KeyTotalTime) != "1500" {
		t.Fatal("start not persisted")
	}
	h.clk.Advance(3 * time.Second)

	st := m.Status()
	if st.RemainingSeconds != 1497 || !st.Running {
		t.Fatalf("unexpected status after 3 ticks %+v", st)
	}
	if h.raw(t, KeyTimeLeft) != "1497" {
		t.Fatalf("tick not persisted, timeLeft=%s", h.raw(t, KeyTimeLeft))
	}
	if got, want := h.raw(t, KeyStartTime), "1710061203000"; got != want {
		t.Fatalf("tick should re-anchor start time: got %s want %s", got, want)
	}
}

func TestStartTwiceSchedulesOneTick(t *testing.T) {
	h := newHarness(t)
	m := h.open(t, domain.DefaultTimerSettings())
	ctx := context.Background()

	_, _ = m.Start(ctx)
	_, _ = m.Start(ctx)
	if n := h.clk.Pending(); n != 1 {
		t.Fatalf("expected one pending tick, got %d", n)
	}
	h.clk.Advance(time.Second)
	if st := m.Status(); st.RemainingSeconds != 1499 {
		t.Fatalf("double start double counted: %+v", st)
	}
}

func TestAtMostOneTickAcrossTransitions(t *testing.T) {
	h := newHarness(t)
	m := h.open(t, domain.DefaultTimerSettings())
	ctx := context.Background()

	steps := []func(){
		func() { _, _ = m.Start(ctx) },
		func() { _, _ = m.Pause(ctx) },
		func() { _, _ = m.Pause(ctx) },
		func() { _, _ = m.Start(ctx) },
		func() { _, _ = m.SwitchMode(ctx, domain.Break) },
		func() { _, _ = m.Start(ctx) },
		func() { _, _ = m.Start(ctx) },
		func() { _, _ = m.Reset(ctx) },
		func() { _, _ = m.Reset(ctx) },
		func() { _, _ = m.Start(ctx) },
		func() { _, _ = m.SwitchMode(ctx, domain.Work) },
	}
	for i, step := range steps {
		step()
		if n := h.clk.Pending(); n > 1 {
			t.Fatalf("step %d: %d ticks pending", i, n)
		}
		h.clk.Advance(500 * time.Millisecond)
	}
	if n := h.clk.Pending(); n != 0 {
		t.Fatalf("expected no tick after switch, got %d", n)
	}
}

func TestPauseKeepsRemaining(t *testing.T) {
	h := newHarness(t)
	m := h.open(t, domain.DefaultTimerSettings())
	ctx := context.Background()

	_, _ = m.Start(ctx)
	h.clk.Advance(10 * time.Second)
	st, err := m.Pause(ctx)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if st.State != domain.Paused || st.RemainingSeconds != 1490 {
		t.Fatalf("unexpected paused status %+v", st)
	}
	if h.raw(t, KeyIsRunning) != "false" || h.raw(t, KeyTimeLeft) != "1490" {
		t.Fatal("pause not persisted")
	}
	h.clk.Advance(time.Minute)
	if m.Status().RemainingSeconds != 1490 {
		t.Fatal("paused timer kept counting")
	}
}

func TestResetAndSwitchMode(t *testing.T) {
	h := newHarness(t)
	m := h.open(t, domain.DefaultTimerSettings())
	ctx := context.Background()

	_, _ = m.Start(ctx)
	h.clk.Advance(5 * time.Second)
	st, _ := m.Reset(ctx)
	if st.State != domain.Idle || st.RemainingSeconds != 1500 || st.Mode != domain.Work {
		t.Fatalf("unexpected reset status %+v", st)
	}

	st, _ = m.SwitchMode(ctx, domain.Break)
	if st.Mode != domain.Break || st.RemainingSeconds != 300 || st.State != domain.Idle {
		t.Fatalf("unexpected switch status %+v", st)
	}
	if h.raw(t, KeyIsWorkMode) != "false" {
		t.Fatal("mode switch not persisted")
	}

	if _, err := m.SwitchMode(ctx, domain.Mode("nap")); !errors.Is(err, domain.ErrInvalidMode) {
		t.Fatalf("expected ErrInvalidMode, got %v", err)
	}
}

func TestSetRemaining(t *testing.T) {
	h := newHarness(t)
	m := h.open(t, domain.DefaultTimerSettings())
	ctx := context.Background()

	st, err := m.SetRemaining(ctx, "12:34")
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if st.RemainingSeconds != 754 || st.State != domain.Paused || st.Display != "12:34" {
		t.Fatalf("unexpected status %+v", st)
	}
	if h.raw(t, KeyTimeLeft) != "754" {
		t.Fatal("edit not persisted")
	}

	for _, bad := range []string{"100:00", "10:60", "abc", "", "5"} {
		st, err := m.SetRemaining(ctx, bad)
		if !errors.Is(err, domain.ErrInvalidDuration) {
			t.Fatalf("%q: expected ErrInvalidDuration, got %v", bad, err)
		}
		if st.RemainingSeconds != 754 {
			t.Fatalf("%q: rejected edit changed remaining to %d", bad, st.RemainingSeconds)
		}
	}

	st, _ = m.SetRemaining(ctx, "25:00")
	if st.State != domain.Idle {
		t.Fatalf("default length should rest idle, got %s", st.State)
	}
}

func TestSetRemainingRejectedWhileRunning(t *testing.T) {
	h := newHarness(t)
	m := h.open(t, domain.DefaultTimerSettings())
	ctx := context.Background()

	_, _ = m.Start(ctx)
	h.clk.Advance(2 * time.Second)
	st, err := m.SetRemaining(ctx, "01:00")
	if !errors.Is(err, domain.ErrTimerRunning) {
		t.Fatalf("expected ErrTimerRunning, got %v", err)
	}
	if st.RemainingSeconds != 1498 || st.Mode != domain.Work || !st.Running {
		t.Fatalf("running edit changed state %+v", st)
	}
}

func TestExpirationSwitchesModeOnce(t *testing.T) {
	h := newHarness(t)
	m := h.open(t, domain.DefaultTimerSettings())
	ctx := context.Background()

	_, _ = m.SetRemaining(ctx, "00:03")
	_, _ = m.Start(ctx)
	h.clk.Advance(10 * time.Second)

	st := m.Status()
	if st.Mode != domain.Break || st.State != domain.Idle || st.RemainingSeconds != 300 {
		t.Fatalf("unexpected status after expiry %+v", st)
	}
	if got := h.rec.got(); len(got) != 1 || got[0] != domain.Work {
		t.Fatalf("expected one work expiration, got %v", got)
	}
	if h.clk.Pending() != 0 {
		t.Fatal("tick still scheduled after expiry")
	}
	if h.raw(t, KeyIsRunning) != "false" || h.raw(t, KeyIsWorkMode) != "false" || h.raw(t, KeyTimeLeft) != "300" {
		t.Fatal("expiry not persisted")
	}
}

func TestStartAtZeroExpiresOnFirstTick(t *testing.T) {
	h := newHarness(t)
	m := h.open(t, domain.DefaultTimerSettings())
	ctx := context.Background()

	_, _ = m.SetRemaining(ctx, "00:00")
	_, _ = m.Start(ctx)
	h.clk.Advance(time.Second)
	if got := h.rec.got(); len(got) != 1 {
		t.Fatalf("expected expiry, got %v", got)
	}
}

func TestAutoContinueStartsNextInterval(t *testing.T) {
	h := newHarness(t)
	settings := domain.DefaultTimerSettings()
	settings.AutoContinue = true
	m := h.open(t, settings)
	ctx := context.Background()

	_, _ = m.SetRemaining(ctx, "00:02")
	_, _ = m.Start(ctx)
	h.clk.Advance(5 * time.Second)

	st := m.Status()
	if st.Mode != domain.Break || !st.Running || st.RemainingSeconds != 297 {
		t.Fatalf("unexpected status %+v", st)
	}
	if h.clk.Pending() != 1 {
		t.Fatalf("expected one tick, got %d", h.clk.Pending())
	}
}

func TestStaleTickIsIgnored(t *testing.T) {
	h := newHarness(t)
	m := h.open(t, domain.DefaultTimerSettings())
	ctx := context.Background()

	_, _ = m.Start(ctx)
	m.mu.Lock()
	stale := m.gen
	m.mu.Unlock()
	_, _ = m.Pause(ctx)
	_, _ = m.Start(ctx)

	m.onTick(stale)
	if st := m.Status(); st.RemainingSeconds != 1500 {
		t.Fatalf("stale tick decremented: %+v", st)
	}
}

func TestReopenWhileRunningCatchesUp(t *testing.T) {
	h := newHarness(t)
	first := h.open(t, domain.DefaultTimerSettings())
	ctx := context.Background()

	_, _ = first.Start(ctx)
	h.clk.Advance(10 * time.Second)
	first.Close()
	if h.clk.Pending() != 0 {
		t.Fatal("close left a tick behind")
	}

	h.clk.Set(h.clk.Now().Add(30 * time.Second))
	second := h.open(t, domain.DefaultTimerSettings())
	st := second.Status()
	if st.RemainingSeconds != 1460 || !st.Running {
		t.Fatalf("unexpected resumed status %+v", st)
	}
	if h.clk.Pending() != 1 {
		t.Fatal("resumed timer is not ticking")
	}
	if h.raw(t, KeyStartTime) != "1710061240000" {
		t.Fatalf("resume should re-anchor start, got %s", h.raw(t, KeyStartTime))
	}
}

func TestReopenAfterExpiryIsSilent(t *testing.T) {
	h := newHarness(t)
	first := h.open(t, domain.DefaultTimerSettings())
	ctx := context.Background()

	_, _ = first.SetRemaining(ctx, "01:40")
	_, _ = first.Start(ctx)
	first.Close()

	h.clk.Set(t0.Add(150 * time.Second))
	second := h.open(t, domain.DefaultTimerSettings())
	st := second.Status()
	if st.State != domain.Idle || st.Running || st.RemainingSeconds != 1500 || st.Mode != domain.Work {
		t.Fatalf("unexpected status %+v", st)
	}
	if len(h.rec.got()) != 0 {
		t.Fatal("expiry while away must not notify")
	}
	if h.raw(t, KeyIsRunning) != "false" {
		t.Fatal("running flag not cleared")
	}
}

func TestMalformedSnapshotOpensDefault(t *testing.T) {
	h := newHarness(t)
	_ = h.mr.Set("focus:"+KeyTimeLeft, "soon")
	_ = h.mr.Set("focus:"+KeyIsRunning, "true")
	m := h.open(t, domain.DefaultTimerSettings())
	if st := m.Status(); st.State != domain.Idle || st.RemainingSeconds != 1500 {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestConcurrentTransitionsPersistLatestState(t *testing.T) {
	h := newHarness(t)
	m := h.open(t, domain.DefaultTimerSettings())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = m.Start(ctx)
			} else {
				_, _ = m.SwitchMode(ctx, domain.Break)
			}
		}(i)
	}
	wg.Wait()

	snap, err := LoadSnapshot(ctx, h.kv)
	if err != nil || snap == nil {
		t.Fatalf("load: %v", err)
	}
	st := m.Status()
	if snap.Mode != st.Mode || snap.Running != st.Running || snap.RemainingSeconds != st.RemainingSeconds {
		t.Fatalf("persisted %+v does not match status %+v", snap, st)
	}
}

func TestOnChangeSeesEveryCommit(t *testing.T) {
	h := newHarness(t)
	var mu sync.Mutex
	var seen []domain.TimerState
	m, err := Open(context.Background(), h.kv, h.clk, domain.DefaultTimerSettings(), WithOnChange(func(st domain.TimerStatus) {
		mu.Lock()
		seen = append(seen, st.State)
		mu.Unlock()
	}))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer m.Close()

	ctx := context.Background()
	_, _ = m.Start(ctx)
	h.clk.Advance(time.Second)
	_, _ = m.Pause(ctx)

	mu.Lock()
	defer mu.Unlock()
	want := []domain.TimerState{domain.Idle, domain.Running, domain.Running, domain.Paused}
	if len(seen) != len(want) {
		t.Fatalf("got %v want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("got %v want %v", seen, want)
		}
	}
}
