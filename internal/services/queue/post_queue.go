package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// PostQueue is the per-session inbox of player posts in service mode. The
// client pushes posts; the worker blocks on the head and feeds each post
// through a full round before taking the next.
type PostQueue struct {
	client *Client
}

func NewPostQueue(client *Client) *PostQueue {
	return &PostQueue{
		client: client,
	}
}

func queueKey(sessionID uuid.UUID) string {
	return fmt.Sprintf("posts:%s", sessionID.String())
}

// Enqueue adds a player post to the end of a session's inbox.
func (q *PostQueue) Enqueue(ctx context.Context, sessionID uuid.UUID, post string) error {
	key := queueKey(sessionID)
	if err := q.client.rdb.RPush(ctx, key, post).Err(); err != nil {
		return fmt.Errorf("failed to enqueue post: %w", err)
	}
	return nil
}

// DequeueBlocking pops the oldest post, waiting up to timeout for one to
// arrive. A timeout returns empty with no error so the worker can poll
// its shutdown signal.
func (q *PostQueue) DequeueBlocking(ctx context.Context, sessionID uuid.UUID, timeout time.Duration) (string, error) {
	key := queueKey(sessionID)
	res, err := q.client.rdb.BLPop(ctx, timeout, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("failed to dequeue post: %w", err)
	}
	// BLPop returns [key, value].
	if len(res) < 2 {
		return "", nil
	}
	return res[1], nil
}

// Depth returns the number of posts waiting for a session.
func (q *PostQueue) Depth(ctx context.Context, sessionID uuid.UUID) (int, error) {
	count, err := q.client.rdb.LLen(ctx, queueKey(sessionID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue depth: %w", err)
	}
	return int(count), nil
}

// Clear drops all pending posts for a session.
func (q *PostQueue) Clear(ctx context.Context, sessionID uuid.UUID) error {
	if err := q.client.rdb.Del(ctx, queueKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to clear post queue: %w", err)
	}
	return nil
}

// ListSessions scans for sessions that currently have queued posts.
func (q *PostQueue) ListSessions(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	iter := q.client.rdb.Scan(ctx, 0, "posts:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		id, err := uuid.Parse(key[len("posts:"):])
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan post queues: %w", err)
	}
	return ids, nil
}
