package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"prism-focus/domain"
)

const (
	// valueProperty holds the first chunk; further chunks go to Value1,
	// Value2 and so on.
	valueProperty = "Value"
	// chunkBytes keeps each string property under the 64 KiB limit even when
	// every byte widens to two UTF-16 bytes.
	chunkBytes = 32000
	// maxChunks keeps the entity under the 1 MiB entity limit.
	maxChunks = 15
	// maxFilterKeys leaves room for the PartitionKey clause within the 15
	// comparisons a table filter may contain.
	maxFilterKeys = 14
)

// tableAPI is the subset of *aztables.Client used by Table.
type tableAPI interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	NewListEntitiesPager(listOptions *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	SubmitTransaction(ctx context.Context, transactionActions []aztables.TransactionAction, tso *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error)
}

// Table stores each key as one entity in an Azure table. All keys share the
// namespace partition so multi-key writes go through a single batch and
// multi-key reads through a single partition query.
type Table struct {
	client    tableAPI
	partition string
}

// NewTable creates a table backed store from the given connection string.
func NewTable(connStr, tableName, namespace string) (*Table, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return newTable(svc.NewClient(tableName), namespace), nil
}

func newTable(client tableAPI, namespace string) *Table {
	if namespace == "" {
		namespace = "default"
	}
	return &Table{client: client, partition: namespace}
}

// encodeEntity lays value out over as many string properties as it needs.
func encodeEntity(partition, key string, value []byte) ([]byte, error) {
	chunks := splitChunks(string(value))
	if len(chunks) > maxChunks {
		return nil, fmt.Errorf("%s is %d bytes: %w", key, len(value), domain.ErrValueTooLarge)
	}
	ent := map[string]any{"PartitionKey": partition, "RowKey": key}
	for i, c := range chunks {
		ent[chunkProperty(i)] = c
	}
	return json.Marshal(ent)
}

func chunkProperty(i int) string {
	if i == 0 {
		return valueProperty
	}
	return valueProperty + strconv.Itoa(i)
}

// splitChunks cuts s into pieces of at most chunkBytes on rune boundaries.
// The empty string is a single empty chunk.
func splitChunks(s string) []string {
	chunks := []string{}
	for len(s) > chunkBytes {
		cut := chunkBytes
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		if cut == 0 {
			cut = chunkBytes
		}
		chunks = append(chunks, s[:cut])
		s = s[cut:]
	}
	return append(chunks, s)
}

// decodeEntity returns the row key and the reassembled value.
func decodeEntity(raw []byte) (string, []byte, error) {
	var ent map[string]any
	if err := json.Unmarshal(raw, &ent); err != nil {
		return "", nil, err
	}
	key, _ := ent["RowKey"].(string)
	var b strings.Builder
	for i := 0; ; i++ {
		c, ok := ent[chunkProperty(i)].(string)
		if !ok {
			break
		}
		b.WriteString(c)
	}
	return key, []byte(b.String()), nil
}

// get returns the value and ETag for key, or nil when the entity is missing.
func (t *Table) get(ctx context.Context, key string) ([]byte, *azcore.ETag, error) {
	resp, err := t.client.GetEntity(ctx, t.partition, key, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 404 {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	_, value, err := decodeEntity(resp.Value)
	if err != nil {
		return nil, nil, err
	}
	etag := resp.ETag
	return value, &etag, nil
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// filter selects keys in the partition. Too many keys for one filter fall
// back to the whole partition.
func (t *Table) filter(keys []string) string {
	f := "PartitionKey eq " + quote(t.partition)
	if len(keys) > maxFilterKeys {
		return f
	}
	rows := make([]string, len(keys))
	for i, k := range keys {
		rows[i] = "RowKey eq " + quote(k)
	}
	return f + " and (" + strings.Join(rows, " or ") + ")"
}

// Get reads all keys with one partition query so a batch written by Set is
// seen whole or not at all.
func (t *Table) Get(ctx context.Context, keys ...string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	wanted := make(map[string]bool, len(keys))
	for _, k := range keys {
		wanted[k] = true
	}
	f := t.filter(keys)
	pager := t.client.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &f})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("table get %s: %w", strings.Join(keys, ","), err)
		}
		for _, raw := range page.Entities {
			key, value, err := decodeEntity(raw)
			if err != nil {
				return nil, fmt.Errorf("table get: %w", err)
			}
			if wanted[key] {
				out[key] = value
			}
		}
	}
	return out, nil
}

func (t *Table) Set(ctx context.Context, record map[string][]byte) error {
	if len(record) == 0 {
		return nil
	}
	actions := make([]aztables.TransactionAction, 0, len(record))
	for k, v := range record {
		payload, err := encodeEntity(t.partition, k, v)
		if err != nil {
			return err
		}
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeInsertReplace,
			Entity:     payload,
		})
	}
	if _, err := t.client.SubmitTransaction(ctx, actions, nil); err != nil {
		return fmt.Errorf("table set: %w", err)
	}
	return nil
}

// Update reads the entity with its ETag and writes back with If-Match.
// A missing entity is added; a 409 or 412 means someone else won and the
// update is retried against the fresh value. Replace mode drops chunk
// properties a shorter value no longer uses.
func (t *Table) Update(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		cur, etag, err := t.get(ctx, key)
		if err != nil {
			return fmt.Errorf("table get %s: %w", key, err)
		}
		next, err := fn(cur)
		if err != nil {
			return err
		}
		payload, err := encodeEntity(t.partition, key, next)
		if err != nil {
			return err
		}
		if etag == nil {
			_, err = t.client.AddEntity(ctx, payload, nil)
		} else {
			_, err = t.client.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: etag, UpdateMode: aztables.UpdateModeReplace})
		}
		if err == nil {
			return nil
		}
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && (respErr.StatusCode == 409 || respErr.StatusCode == 412) {
			continue
		}
		return fmt.Errorf("table update %s: %w", key, err)
	}
	return fmt.Errorf("table update %s: %w", key, domain.ErrConcurrencyConflict)
}
