package backend

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisTransport moves descriptors and results over two Redis lists shared
// with the compute service: it pushes descriptors onto the jobs list and
// pops results off the results list.
type RedisTransport struct {
	client     redis.Cmdable
	jobsKey    string
	resultsKey string
}

var _ Transport = (*RedisTransport)(nil)

// NewRedisTransport creates a transport over the given Redis client. The
// caller owns the client lifecycle. keyPrefix namespaces the two lists
// (e.g. "asyncjobs" yields asyncjobs:jobs and asyncjobs:results).
func NewRedisTransport(client redis.Cmdable, keyPrefix string) *RedisTransport {
	if keyPrefix == "" {
		keyPrefix = "asyncjobs"
	}
	return &RedisTransport{
		client:     client,
		jobsKey:    keyPrefix + ":jobs",
		resultsKey: keyPrefix + ":results",
	}
}

// SubmitJob pushes a descriptor onto the jobs list.
func (t *RedisTransport) SubmitJob(ctx context.Context, payload []byte) error {
	return t.client.LPush(ctx, t.jobsKey, payload).Err()
}

// CollectResult pops one result off the results list, or returns nil, nil
// when the list is empty.
func (t *RedisTransport) CollectResult(ctx context.Context) ([]byte, error) {
	payload, err := t.client.RPop(ctx, t.resultsKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// ChanTransport is an in-process Transport for tests: descriptors land on
// Jobs, and the test plays the compute service by pushing onto Results.
type ChanTransport struct {
	Jobs    chan []byte
	Results chan []byte
}

var _ Transport = (*ChanTransport)(nil)

// NewChanTransport creates a channel transport with the given buffer size.
func NewChanTransport(buffer int) *ChanTransport {
	return &ChanTransport{
		Jobs:    make(chan []byte, buffer),
		Results: make(chan []byte, buffer),
	}
}

func (t *ChanTransport) SubmitJob(ctx context.Context, payload []byte) error {
	select {
	case t.Jobs <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *ChanTransport) CollectResult(ctx context.Context) ([]byte, error) {
	select {
	case payload := <-t.Results:
		return payload, nil
	default:
		return nil, nil
	}
}
