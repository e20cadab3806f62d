// Package batch implements the batch gateway (spec.md §4.Q):
// batchSubscribe/batchUnsubscribe/batchBroadcast over a list of channels,
// capped at maxBatchSize, collecting per-channel successes and failures
// rather than failing the whole call on one bad channel. BatchBroadcast's
// per-channel error aggregation uses github.com/hashicorp/go-multierror,
// since the fan-out call can legitimately fail on more than one channel
// at once and the caller wants all of them, not just the first.
package batch

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Result is the outcome of a batch subscribe/unsubscribe call: partial
// success is the normal outcome, not an error (spec.md §4.Q).
type Result struct {
	Succeeded []string
	Failed    map[string]string // channel -> reason
}

// SubscribeFn subscribes socketID to one channel.
type SubscribeFn func(ctx context.Context, channel string) error

// BroadcastFn broadcasts to one channel.
type BroadcastFn func(ctx context.Context, channel string) error

// Subscribe iterates channels (already capped at maxBatchSize by the
// caller) and applies fn to each, collecting per-channel outcomes.
func Subscribe(ctx context.Context, channels []string, fn SubscribeFn) Result {
	res := Result{Failed: make(map[string]string)}
	for _, ch := range channels {
		if err := fn(ctx, ch); err != nil {
			res.Failed[ch] = err.Error()
			continue
		}
		res.Succeeded = append(res.Succeeded, ch)
	}
	return res
}

// Unsubscribe is the unsubscribe analogue of Subscribe.
func Unsubscribe(ctx context.Context, channels []string, fn SubscribeFn) Result {
	return Subscribe(ctx, channels, fn)
}

// Cap truncates channels to maxBatchSize, reporting how many were
// dropped so the caller can surface that in its response.
func Cap(channels []string, maxBatchSize int) (kept []string, dropped int) {
	if maxBatchSize <= 0 || len(channels) <= maxBatchSize {
		return channels, 0
	}
	return channels[:maxBatchSize], len(channels) - maxBatchSize
}

// Broadcast fans a broadcast out across channels, aggregating every
// per-channel failure into one error via go-multierror rather than
// stopping at the first.
func Broadcast(ctx context.Context, channels []string, fn BroadcastFn) error {
	var result *multierror.Error
	for _, ch := range channels {
		if err := fn(ctx, ch); err != nil {
			result = multierror.Append(result, fmt.Errorf("channel %q: %w", ch, err))
		}
	}
	return result.ErrorOrNil()
}
