// Command storage-init provisions the Azure table and queue used by the
// table backend and the expiry queue notifier.
package main

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"
)

const queueAlreadyExists = "QueueAlreadyExists"

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	if connStr == "" {
		log.Fatal("missing STORAGE_CONNECTION_STRING")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if table := os.Getenv("STATE_TABLE"); table != "" {
		svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
		if err != nil {
			log.Fatalf("table client: %v", err)
		}
		if err := ensure(func() error {
			_, err := svc.NewClient(table).CreateTable(ctx, nil)
			return err
		}, string(aztables.TableAlreadyExists)); err != nil {
			log.Fatalf("create table %s: %v", table, err)
		}
		log.WithField("table", table).Info("table ready")
	}

	if queue := os.Getenv("NOTIFY_QUEUE"); queue != "" {
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, queue, nil)
		if err != nil {
			log.Fatalf("queue client: %v", err)
		}
		if err := ensure(func() error {
			_, err := q.Create(ctx, nil)
			return err
		}, queueAlreadyExists); err != nil {
			log.Fatalf("create queue %s: %v", queue, err)
		}
		log.WithField("queue", queue).Info("queue ready")
	}

	log.Info("storage init complete")
}

// ensure runs create and treats the given service error code as success.
func ensure(create func() error, existsCode string) error {
	err := create()
	if err == nil {
		return nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.ErrorCode == existsCode {
		return nil
	}
	return err
}
