// (expansion) Cold archive: when RingStore trims messages that are still
// within a configured archive window, batches the evicted messages as one
// JSON object per channel per minute and uploads it to object storage.
// Grounded on the teacher's internal/adapters/database.MinIOClient
// (bucket-exists-or-create bootstrap, PutObject upload), adapted from
// ad hoc image uploads to periodic message-history batch uploads.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Archiver batches evicted messages per channel and flushes each
// channel's batch to object storage once a minute.
type Archiver struct {
	client *minio.Client
	bucket string
	window time.Duration
	log    *slog.Logger

	mu      sync.Mutex
	batches map[string][]Message
	stop    chan struct{}
	once    sync.Once
}

// NewMinioArchiver connects to a MinIO (or any S3-compatible) endpoint
// and ensures bucket exists, creating it if necessary.
func NewMinioArchiver(ctx context.Context, endpoint, accessKey, secretKey, bucket string, secure bool, archiveWindow time.Duration, log *slog.Logger) (*Archiver, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("history: create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("history: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("history: create bucket: %w", err)
		}
	}

	if log == nil {
		log = slog.Default()
	}
	a := &Archiver{
		client:  client,
		bucket:  bucket,
		window:  archiveWindow,
		log:     log,
		batches: make(map[string][]Message),
		stop:    make(chan struct{}),
	}
	go a.flushLoop()
	return a, nil
}

// OnEvicted is an EvictedFn that queues msg for archiving if it falls
// within the configured archive window; older evictions are dropped.
func (a *Archiver) OnEvicted(msg Message) {
	if a.window > 0 && time.Since(msg.Timestamp) > a.window {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.batches[msg.Channel] = append(a.batches[msg.Channel], msg)
}

func (a *Archiver) flushLoop() {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			a.flushAll(context.Background())
		case <-a.stop:
			a.flushAll(context.Background())
			return
		}
	}
}

func (a *Archiver) flushAll(ctx context.Context) {
	a.mu.Lock()
	batches := a.batches
	a.batches = make(map[string][]Message)
	a.mu.Unlock()

	for channel, msgs := range batches {
		if len(msgs) == 0 {
			continue
		}
		if err := a.upload(ctx, channel, msgs); err != nil {
			a.log.Error("history archive upload failed", "channel", channel, "count", len(msgs), "error", err)
		}
	}
}

func (a *Archiver) upload(ctx context.Context, channel string, msgs []Message) error {
	payload, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	objectName := fmt.Sprintf("history/%s/%d.json", channel, time.Now().Unix())
	_, err = a.client.PutObject(ctx, a.bucket, objectName, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	return err
}

// Close stops the flush loop, flushing any remaining batches first.
func (a *Archiver) Close() {
	a.once.Do(func() { close(a.stop) })
}
