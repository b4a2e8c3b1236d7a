package timer

import (
	"context"
	"fmt"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"prism-focus/domain"
	"prism-focus/storage"
)

// Storage keys forming the persisted snapshot.
const (
	KeyTimeLeft   = "timeLeft"
	KeyIsWorkMode = "isWorkMode"
	KeyIsRunning  = "isRunning"
	KeyStartTime  = "startTime"
	KeyTotalTime  = "totalTime"
)

var snapshotKeys = []string{KeyTimeLeft, KeyIsWorkMode, KeyIsRunning, KeyStartTime, KeyTotalTime}

var maxSeconds = int(domain.MaxDuration / time.Second)

// LoadSnapshot reads the snapshot. A missing or malformed snapshot is
// reported as nil without error; only storage failures are returned.
func LoadSnapshot(ctx context.Context, kv storage.KV) (*domain.TimerSnapshot, error) {
	rec, err := kv.Get(ctx, snapshotKeys...)
	if err != nil {
		return nil, fmt.Errorf("load timer snapshot: %w", err)
	}
	snap, err := decodeSnapshot(rec)
	if err != nil {
		if len(rec) > 0 {
			log.WithError(err).Warn("ignoring malformed timer snapshot")
		}
		return nil, nil
	}
	return snap, nil
}

// SaveSnapshot writes every snapshot key in one storage call.
func SaveSnapshot(ctx context.Context, kv storage.KV, snap domain.TimerSnapshot) error {
	if err := kv.Set(ctx, encodeSnapshot(snap)); err != nil {
		return fmt.Errorf("save timer snapshot: %w", err)
	}
	return nil
}

func encodeSnapshot(snap domain.TimerSnapshot) map[string][]byte {
	var started int64
	if snap.Running && !snap.StartedAt.IsZero() {
		started = snap.StartedAt.UnixMilli()
	}
	return map[string][]byte{
		KeyTimeLeft:   []byte(strconv.Itoa(snap.RemainingSeconds)),
		KeyIsWorkMode: []byte(strconv.FormatBool(snap.Mode != domain.Break)),
		KeyIsRunning:  []byte(strconv.FormatBool(snap.Running)),
		KeyStartTime:  []byte(strconv.FormatInt(started, 10)),
		KeyTotalTime:  []byte(strconv.Itoa(snap.TotalSeconds)),
	}
}

// decodeSnapshot requires timeLeft, isWorkMode and isRunning, and startTime
// when running. totalTime falls back to timeLeft.
func decodeSnapshot(rec map[string][]byte) (*domain.TimerSnapshot, error) {
	raw := func(k string) (string, error) {
		v, ok := rec[k]
		if !ok {
			return "", fmt.Errorf("missing %s", k)
		}
		return string(v), nil
	}

	s, err := raw(KeyTimeLeft)
	if err != nil {
		return nil, err
	}
	left, err := strconv.Atoi(s)
	if err != nil || left < 0 || left > maxSeconds {
		return nil, fmt.Errorf("bad %s %q", KeyTimeLeft, s)
	}

	if s, err = raw(KeyIsWorkMode); err != nil {
		return nil, err
	}
	work, err := strconv.ParseBool(s)
	if err != nil {
		return nil, fmt.Errorf("bad %s %q", KeyIsWorkMode, s)
	}

	if s, err = raw(KeyIsRunning); err != nil {
		return nil, err
	}
	running, err := strconv.ParseBool(s)
	if err != nil {
		return nil, fmt.Errorf("bad %s %q", KeyIsRunning, s)
	}

	snap := &domain.TimerSnapshot{Mode: domain.Break, RemainingSeconds: left, Running: running, TotalSeconds: left}
	if work {
		snap.Mode = domain.Work
	}

	if running {
		if s, err = raw(KeyStartTime); err != nil {
			return nil, err
		}
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("bad %s %q", KeyStartTime, s)
		}
		snap.StartedAt = time.UnixMilli(ms)
	}

	if v, ok := rec[KeyTotalTime]; ok {
		if total, err := strconv.Atoi(string(v)); err == nil && total >= 0 {
			snap.TotalSeconds = total
		}
	}
	return snap, nil
}
