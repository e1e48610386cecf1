package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/NewbiksCube/ChatBotRPG-sub001/internal/engine"
	"github.com/NewbiksCube/ChatBotRPG-sub001/internal/logger"
	"github.com/NewbiksCube/ChatBotRPG-sub001/internal/services"
	"github.com/NewbiksCube/ChatBotRPG-sub001/internal/services/queue"
	"github.com/NewbiksCube/ChatBotRPG-sub001/internal/storage"
	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/session"
	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/world"
)

const (
	pollTimeout = 5 * time.Second
	lockTTL     = 5 * time.Minute
)

// Worker drains session inboxes in service mode: it pops one player post
// at a time, runs the full round through an orchestrator, and moves on.
// A per-session Redis lock keeps two workers off the same session.
type Worker struct {
	id          string
	posts       *queue.PostQueue
	store       storage.Store
	gateway     services.InferenceGateway
	geo         world.Lookup
	engineCfg   engine.Config
	redisClient *redis.Client
	log         *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	runners map[uuid.UUID]*sessionRunner
}

// sessionRunner is one live orchestrator with its settle notification.
type sessionRunner struct {
	orch    *engine.Orchestrator
	settled chan struct{}
	cancel  context.CancelFunc
}

func New(posts *queue.PostQueue, store storage.Store, gateway services.InferenceGateway, geo world.Lookup, engineCfg engine.Config, redisClient *redis.Client, log *slog.Logger, workerID string) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	if workerID == "" {
		workerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}

	return &Worker{
		id:          workerID,
		posts:       posts,
		store:       store,
		gateway:     gateway,
		geo:         geo,
		engineCfg:   engineCfg,
		redisClient: redisClient,
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
		runners:     make(map[uuid.UUID]*sessionRunner),
	}
}

// Start begins draining inboxes. It blocks until Stop is called.
func (w *Worker) Start() error {
	w.log.Info("Worker starting", "worker_id", w.id)

	for {
		select {
		case <-w.ctx.Done():
			w.log.Info("Worker shutting down", "worker_id", w.id)
			w.stopRunners()
			return nil
		default:
			if err := w.drainOnce(); err != nil {
				logger.WithError(w.log, err).Error("Error draining inboxes", "worker_id", w.id)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

// Stop gracefully shuts down the worker.
func (w *Worker) Stop() {
	w.log.Info("Worker stop requested", "worker_id", w.id)
	w.cancel()
}

// drainOnce serves one post from one session, or idles briefly when
// nothing is queued.
func (w *Worker) drainOnce() error {
	ids, err := w.posts.ListSessions(w.ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		time.Sleep(pollTimeout)
		return nil
	}

	for _, id := range ids {
		locked, err := w.acquireSessionLock(id)
		if err != nil {
			return fmt.Errorf("failed to acquire session lock: %w", err)
		}
		if !locked {
			continue
		}
		err = w.serveSession(id)
		w.releaseSessionLock(id)
		if err != nil {
			return err
		}
	}
	return nil
}

// serveSession pops one post for a locked session and runs it through a
// full round, blocking until the round settles.
func (w *Worker) serveSession(id uuid.UUID) error {
	post, err := w.posts.DequeueBlocking(w.ctx, id, time.Second)
	if err != nil {
		return err
	}
	if post == "" {
		return nil
	}

	runner, err := w.runnerFor(id)
	if err != nil {
		return err
	}

	w.log.Info("Processing post",
		"worker_id", w.id,
		"session_id", id.String(),
		"post_length", len(post))
	start := time.Now()

	runner.orch.SubmitUserMessage(post)
	select {
	case <-runner.settled:
	case <-w.ctx.Done():
		return nil
	}

	w.log.Info("Round settled",
		"worker_id", w.id,
		"session_id", id.String(),
		"duration", time.Since(start))
	return nil
}

// runnerFor returns the live orchestrator for a session, creating one
// from persisted state on first use.
func (w *Worker) runnerFor(id uuid.UUID) (*sessionRunner, error) {
	if r, ok := w.runners[id]; ok {
		return r, nil
	}

	sess, err := w.store.LoadSession(w.ctx, id)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("failed to load session: %w", err)
		}
		sess = session.New()
		sess.ID = id
	}

	msgs, err := w.store.LoadContext(w.ctx, id)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to load context: %w", err)
	}

	runCtx, cancel := context.WithCancel(w.ctx)
	orch := engine.NewOrchestrator(runCtx, w.engineCfg, sess, w.geo, w.gateway, w.store, &engine.NoopSink{}, logger.WithSessionID(w.log, id.String()))
	orch.SetContext(msgs)

	settled := make(chan struct{}, 1)
	orch.OnSettled(func() {
		select {
		case settled <- struct{}{}:
		default:
		}
	})
	go orch.Run()

	r := &sessionRunner{orch: orch, settled: settled, cancel: cancel}
	w.runners[id] = r
	return r, nil
}

func (w *Worker) stopRunners() {
	for id, r := range w.runners {
		r.cancel()
		delete(w.runners, id)
	}
}

// acquireSessionLock attempts to acquire the per-session lock.
// Returns true if the lock was acquired, false if already held.
func (w *Worker) acquireSessionLock(id uuid.UUID) (bool, error) {
	lockKey := fmt.Sprintf("session-lock:%s", id.String())
	return w.redisClient.SetNX(w.ctx, lockKey, w.id, lockTTL).Result()
}

// releaseSessionLock releases the lock only if this worker still owns it.
func (w *Worker) releaseSessionLock(id uuid.UUID) {
	lockKey := fmt.Sprintf("session-lock:%s", id.String())

	script := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)

	if err := script.Run(w.ctx, w.redisClient, []string{lockKey}, w.id).Err(); err != nil {
		w.log.Error("Failed to release session lock", "error", err, "session_id", id.String())
	}
}
