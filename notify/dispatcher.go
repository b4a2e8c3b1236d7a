package notify

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"prism-focus/domain"
)

// DispatcherConfig sizes the worker pool.
type DispatcherConfig struct {
	Workers        int
	Buffer         int
	Timeout        time.Duration
	HandoffTimeout time.Duration
}

// Dispatcher runs notifications and audio cues off the caller's goroutine.
// When the buffer is full a job waits at most HandoffTimeout for room and is
// dropped after that.
type Dispatcher struct {
	notifier Notifier
	audio    AudioCue
	timeout  time.Duration
	handoff  time.Duration
	jobs     chan Expiration
	wg       sync.WaitGroup
	once     sync.Once
}

func NewDispatcher(n Notifier, audio AudioCue, cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	d := &Dispatcher{
		notifier: n,
		audio:    audio,
		timeout:  cfg.Timeout,
		handoff:  cfg.HandoffTimeout,
		jobs:     make(chan Expiration, cfg.Buffer),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	log.Infof("notification dispatcher started, workers: %d, buffer: %d, timeout: %v, handoff: %v", cfg.Workers, cfg.Buffer, cfg.Timeout, cfg.HandoffTimeout)
	return d
}

// Expired queues the side effects for an expired interval.
func (d *Dispatcher) Expired(mode domain.Mode, at time.Time) {
	ev := NewExpiration(mode, at)
	if !d.Submit(ev) {
		log.WithFields(log.Fields{"id": ev.ID, "mode": mode}).Warn("expiration notification dropped")
	}
}

// Submit hands ev to a worker. It returns false when the pool is saturated
// or closed.
func (d *Dispatcher) Submit(ev Expiration) bool {
	if ok, closed := trySendNonBlocking(d.jobs, ev); closed {
		return false
	} else if ok {
		return true
	}
	if d.handoff <= 0 {
		return false
	}
	timer := time.NewTimer(d.handoff)
	defer timer.Stop()
	ok, _ := sendWithTimer(d.jobs, ev, timer.C)
	return ok
}

// Close stops accepting work and waits for queued jobs to finish.
func (d *Dispatcher) Close() {
	d.once.Do(func() { close(d.jobs) })
	d.wg.Wait()
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for ev := range d.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if d.notifier != nil {
			if err := d.notifier.Notify(ctx, ev); err != nil {
				log.WithError(err).WithFields(log.Fields{"id": ev.ID, "mode": ev.Mode, "worker": id}).Warn("notification failed")
			}
		}
		if d.audio != nil {
			if err := d.audio.Play(ctx); err != nil {
				log.WithError(err).WithField("worker", id).Warn("audio cue failed")
			}
		}
		cancel()
	}
}

func trySendNonBlocking(ch chan Expiration, ev Expiration) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- ev:
		return true, false
	default:
		return false, false
	}
}

func sendWithTimer(ch chan Expiration, ev Expiration, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- ev:
		return true, false
	case <-timer:
		return false, false
	}
}
