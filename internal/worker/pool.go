// Package worker runs the two-priority queue: a single scheduling loop
// claims items, spawns scrape tasks under per-task contexts, and preempts
// LOW work whenever HIGH work is pending.
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/viralscope/viralscope/internal/config"
	"github.com/viralscope/viralscope/internal/model"
	"github.com/viralscope/viralscope/internal/pipeline"
	"github.com/viralscope/viralscope/internal/store"
)

// Runner executes one scrape per queue item. HIGH items get the complete
// scrape, LOW items the cheaper discovery scrape.
type Runner interface {
	RunComplete(ctx context.Context, username string) (*pipeline.Result, error)
	RunLowPriority(ctx context.Context, username string) (*pipeline.Result, error)
}

// Queue is the persistence surface the pool needs.
type Queue interface {
	ClaimNext(ctx context.Context, priority model.QueuePriority) (*model.QueueItem, error)
	UpdateQueueStatus(ctx context.Context, requestID string, status model.QueueStatus, errorMessage string) error
	HasHighPending(ctx context.Context) (bool, error)
	QueueStats(ctx context.Context) (*model.QueueStats, error)
	RecoverStuck(ctx context.Context, olderThan time.Duration) (int, error)
	RequeuePaused(ctx context.Context) (int, error)
}

const (
	defaultTick     = time.Second
	statusTimeout   = 10 * time.Second
	shutdownTimeout = 30 * time.Second
)

// Pool is the worker pool. One Pool runs per process.
type Pool struct {
	cfg    config.QueueConfig
	queue  Queue
	runner Runner
	shadow *store.CSVShadow

	// tick and statsEvery are shortened by tests.
	tick       time.Duration
	statsEvery time.Duration

	mu    sync.Mutex
	tasks map[string]*task

	events chan statEvent
	wg     sync.WaitGroup
}

type task struct {
	item   *model.QueueItem
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Pool. shadow may be nil.
func New(cfg config.QueueConfig, queue Queue, runner Runner, shadow *store.CSVShadow) *Pool {
	if cfg.MaxConcurrentHigh <= 0 {
		cfg.MaxConcurrentHigh = 3
	}
	if cfg.MaxConcurrentLow <= 0 {
		cfg.MaxConcurrentLow = 2
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Pool{
		cfg:        cfg,
		queue:      queue,
		runner:     runner,
		shadow:     shadow,
		tick:       defaultTick,
		statsEvery: time.Minute,
		tasks:      make(map[string]*task),
		events:     make(chan statEvent, 64),
	}
}

// Run drives the scheduling loop until ctx is cancelled, then shuts down
// gracefully: no new claims, running tasks cancelled and awaited.
func (p *Pool) Run(ctx context.Context) error {
	p.recover(ctx)

	aggDone := make(chan struct{})
	go p.statsLoop(ctx, aggDone)

	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			err := p.shutdown()
			<-aggDone
			return err
		case <-ticker.C:
			p.tickOnce(ctx)
		}
	}
}

// recover runs the startup pass: stuck PROCESSING rows become claimable
// again and PAUSED rows re-enter PENDING.
func (p *Pool) recover(ctx context.Context) {
	threshold := p.cfg.StuckThreshold()
	if threshold <= 0 {
		threshold = time.Minute
	}
	if n, err := p.queue.RecoverStuck(ctx, threshold); err != nil {
		zap.L().Warn("worker: stuck recovery failed", zap.Error(err))
	} else if n > 0 {
		zap.L().Info("worker: recovered stuck items", zap.Int("count", n))
	}
	if n, err := p.queue.RequeuePaused(ctx); err != nil {
		zap.L().Warn("worker: paused requeue failed", zap.Error(err))
	} else if n > 0 {
		zap.L().Info("worker: requeued paused items", zap.Int("count", n))
	}
}

// tickOnce is one scheduler pass: reap, preempt, claim HIGH, then LOW.
func (p *Pool) tickOnce(ctx context.Context) {
	p.reap()

	high, err := p.queue.HasHighPending(ctx)
	if err != nil {
		zap.L().Warn("worker: high-pending check failed", zap.Error(err))
		return
	}

	if high && p.running(model.PriorityLow) > 0 {
		p.preemptLow()
	}

	if high {
		p.claimLoop(ctx, model.PriorityHigh, p.cfg.MaxConcurrentHigh)
		// LOW only starts when nothing HIGH is waiting.
		if stillHigh, err := p.queue.HasHighPending(ctx); err != nil || stillHigh {
			return
		}
	}
	p.claimLoop(ctx, model.PriorityLow, p.cfg.MaxConcurrentLow)
}

func (p *Pool) claimLoop(ctx context.Context, priority model.QueuePriority, limit int) {
	for p.running(priority) < limit {
		item, err := p.queue.ClaimNext(ctx, priority)
		if err != nil {
			zap.L().Warn("worker: claim failed",
				zap.String("priority", string(priority)), zap.Error(err))
			return
		}
		if item == nil {
			return
		}
		p.spawn(ctx, item)
	}
}

// spawn starts one scrape task under its own cancellable context.
func (p *Pool) spawn(ctx context.Context, item *model.QueueItem) {
	taskCtx, cancel := context.WithCancel(ctx)
	t := &task{item: item, cancel: cancel, done: make(chan struct{})}

	p.mu.Lock()
	p.tasks[item.RequestID] = t
	p.mu.Unlock()

	p.shadow.Record(item)
	zap.L().Info("worker: task started",
		zap.String("username", item.Username),
		zap.String("priority", string(item.Priority)),
		zap.Int("attempt", item.Attempts))

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(t.done)
		defer cancel()

		var err error
		if item.Priority == model.PriorityHigh {
			_, err = p.runner.RunComplete(taskCtx, item.Username)
		} else {
			_, err = p.runner.RunLowPriority(taskCtx, item.Username)
		}
		p.settle(taskCtx, item, err)
	}()
}

// settle records the task outcome. Status writes use a fresh context so a
// cancelled task can still persist its transition.
func (p *Pool) settle(taskCtx context.Context, item *model.QueueItem, runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()

	log := zap.L().With(
		zap.String("username", item.Username),
		zap.String("request_id", item.RequestID))

	var status model.QueueStatus
	var message string
	var event statEvent

	switch {
	case runErr == nil:
		status, event = model.StatusCompleted, statCompleted
		log.Info("worker: task completed")
	case taskCtx.Err() != nil:
		// Preemption or shutdown; the item resumes as PENDING next start.
		status, message, event = model.StatusPaused, "paused: "+taskCtx.Err().Error(), statPaused
		log.Info("worker: task paused")
	case item.Attempts >= p.cfg.MaxAttempts:
		status, message, event = model.StatusFailed, runErr.Error(), statFailed
		log.Error("worker: task failed permanently",
			zap.Int("attempts", item.Attempts), zap.Error(runErr))
	default:
		status, message, event = model.StatusPending, runErr.Error(), statRetried
		log.Warn("worker: task failed, will retry",
			zap.Int("attempts", item.Attempts), zap.Error(runErr))
	}

	if err := p.queue.UpdateQueueStatus(ctx, item.RequestID, status, message); err != nil {
		log.Error("worker: status update failed", zap.Error(err))
	}

	mirrored := *item
	mirrored.Status = status
	mirrored.ErrorMessage = message
	p.shadow.Record(&mirrored)

	p.emit(event)
}

// preemptLow cancels every running LOW task and waits for all of them.
func (p *Pool) preemptLow() {
	p.mu.Lock()
	var lows []*task
	for _, t := range p.tasks {
		if t.item.Priority == model.PriorityLow {
			lows = append(lows, t)
		}
	}
	p.mu.Unlock()
	if len(lows) == 0 {
		return
	}

	zap.L().Info("worker: preempting low-priority tasks", zap.Int("count", len(lows)))
	for _, t := range lows {
		t.cancel()
	}
	for _, t := range lows {
		<-t.done
	}
	p.reap()
}

// reap drops finished tasks from the tracking map.
func (p *Pool) reap() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, t := range p.tasks {
		select {
		case <-t.done:
			delete(p.tasks, id)
		default:
		}
	}
}

// running counts active tasks of one priority.
func (p *Pool) running(priority model.QueuePriority) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, t := range p.tasks {
		select {
		case <-t.done:
		default:
			if t.item.Priority == priority {
				n++
			}
		}
	}
	return n
}

// shutdown cancels everything and waits up to the shutdown deadline.
func (p *Pool) shutdown() error {
	p.mu.Lock()
	for _, t := range p.tasks {
		t.cancel()
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		zap.L().Info("worker: shutdown complete")
	case <-time.After(shutdownTimeout):
		zap.L().Warn("worker: shutdown deadline exceeded, abandoning tasks")
	}
	return nil
}
