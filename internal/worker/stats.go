package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// statEvent is one task outcome fed to the aggregator.
type statEvent int

const (
	statCompleted statEvent = iota
	statFailed
	statRetried
	statPaused
)

// emit hands an outcome to the stats aggregator without ever blocking a
// task goroutine.
func (p *Pool) emit(e statEvent) {
	select {
	case p.events <- e:
	default:
	}
}

// statsLoop is the single consumer of task outcomes. Counters live only on
// this goroutine; tasks communicate through the events channel.
func (p *Pool) statsLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	var completed, failed, retried, paused int
	ticker := time.NewTicker(p.statsEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logStats(completed, failed, retried, paused)
			return
		case e := <-p.events:
			switch e {
			case statCompleted:
				completed++
			case statFailed:
				failed++
			case statRetried:
				retried++
			case statPaused:
				paused++
			}
		case <-ticker.C:
			p.logStats(completed, failed, retried, paused)
		}
	}
}

func (p *Pool) logStats(completed, failed, retried, paused int) {
	fields := []zap.Field{
		zap.Int("completed", completed),
		zap.Int("failed", failed),
		zap.Int("retried", retried),
		zap.Int("paused", paused),
		zap.Int("active_high", p.running("HIGH")),
		zap.Int("active_low", p.running("LOW")),
	}

	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()
	if stats, err := p.queue.QueueStats(ctx); err == nil && stats != nil {
		fields = append(fields,
			zap.Int("queue_pending", stats.Pending),
			zap.Int("queue_processing", stats.Processing),
			zap.Int("queue_total", stats.Total()))
	}

	zap.L().Info("worker: stats", fields...)
}
