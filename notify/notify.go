// Package notify delivers timer expiration events to the outside world.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-focus/domain"
)

// Expiration describes one interval running out.
type Expiration struct {
	ID   string      `json:"id"`
	Mode domain.Mode `json:"mode"`
	Next domain.Mode `json:"next"`
	At   time.Time   `json:"at"`
}

// NewExpiration stamps a fresh event id.
func NewExpiration(mode domain.Mode, at time.Time) Expiration {
	return Expiration{ID: uuid.NewString(), Mode: mode, Next: mode.Other(), At: at}
}

// Message is the user facing text for the event.
func (e Expiration) Message() string {
	if e.Mode == domain.Break {
		return "Break is over. Time to focus."
	}
	return "Work session complete. Take a break."
}

// Notifier delivers an expiration. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, ev Expiration) error
}

// AudioCue plays the expiration sound.
type AudioCue interface {
	Play(ctx context.Context) error
}

// Log writes expirations to the application log.
type Log struct{}

func (Log) Notify(_ context.Context, ev Expiration) error {
	log.WithFields(log.Fields{"id": ev.ID, "mode": ev.Mode, "next": ev.Next}).Info(ev.Message())
	return nil
}

// Redis publishes expirations as JSON on a pub/sub channel.
type Redis struct {
	client  *redis.Client
	channel string
}

func NewRedis(client *redis.Client, channel string) *Redis {
	return &Redis{client: client, channel: channel}
}

func (r *Redis) Notify(ctx context.Context, ev Expiration) error {
	payload, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", r.channel, err)
	}
	return nil
}

type queueAPI interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// Queue enqueues expirations on an Azure storage queue.
type Queue struct {
	client queueAPI
}

func NewQueue(connStr, name string) (*Queue, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    30 * time.Second,
				RetryDelay:    time.Second,
				MaxRetryDelay: 10 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	qc, err := azqueue.NewQueueClientFromConnectionString(connStr, name, &opts)
	if err != nil {
		return nil, err
	}
	return &Queue{client: qc}, nil
}

func (q *Queue) Notify(ctx context.Context, ev Expiration) error {
	payload, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := q.client.EnqueueMessage(ctx, string(payload), nil); err != nil {
		return fmt.Errorf("enqueue expiration: %w", err)
	}
	return nil
}

// Multi fans an expiration out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Expiration) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Bell rings the terminal bell.
type Bell struct {
	mu sync.Mutex
	w  io.Writer
}

// NewBell returns a bell writing to w, or to stdout when w is nil.
func NewBell(w io.Writer) *Bell {
	if w == nil {
		w = os.Stdout
	}
	return &Bell{w: w}
}

func (b *Bell) Play(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := io.WriteString(b.w, "\a")
	return err
}
