// Package batch 实现写后 (write-behind) 批量处理器：
// 变更记录按命名队列累积，达到批量大小或时间间隔先到者触发冲刷，
// 冲刷失败按指数退避重试，重试耗尽的记录计入失败计数（绝不静默丢弃）。
package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// FlushFunc 把一批记录写入持久化存储。记录顺序与入队顺序一致。
type FlushFunc func(ctx context.Context, records []interface{}) error

// Config 是单个队列的冲刷配置。
type Config struct {
	BatchSize     int           // 达到该长度立即冲刷
	FlushInterval time.Duration // 时间触发的冲刷间隔
	MaxRetries    int           // 单批最大重试次数
	RetryBackoff  time.Duration // 退避基数：base * 2^attempt
	FlushTimeout  time.Duration // 单次冲刷的超时上限
}

// 队列配置默认值。
const (
	DefaultBatchSize     = 50
	DefaultFlushInterval = 5 * time.Second
	DefaultMaxRetries    = 3
	DefaultRetryBackoff  = 200 * time.Millisecond
	DefaultFlushTimeout  = 10 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = DefaultFlushTimeout
	}
	return c
}

// QueueStats 是单个队列的可观测计数。
type QueueStats struct {
	Queued    int64 `json:"queued"`    // 当前在队记录数
	Processed int64 `json:"processed"` // 成功落库的记录数
	Retried   int64 `json:"retried"`   // 重试的批次数
	Failed    int64 `json:"failed"`    // 重试耗尽被放弃的记录数
}

// queue 是一个命名队列。pending 由 mu 保护；
// add() 会被多个空间 worker 并发调用，这是处理器中唯一需要显式互斥的状态。
type queue struct {
	name    string
	cfg     Config
	flush   FlushFunc
	mu      sync.Mutex
	pending []interface{}
	stats   QueueStats
	kick    chan struct{} // 提醒 worker 批量大小已到
	log     *logrus.Entry
}

// Processor 管理全部命名队列。
type Processor struct {
	mu      sync.RWMutex
	queues  map[string]*queue
	wg      sync.WaitGroup
	stop    chan struct{}
	stopped bool
	log     *logrus.Entry
}

// ErrUnknownQueue 表示向未注册的队列入队。
var ErrUnknownQueue = errors.New("batch: unknown queue")

// ErrProcessorStopped 表示处理器已关停：worker 已退出、队列已做过
// 最终排空，此后接受的记录没有人冲刷。
var ErrProcessorStopped = errors.New("batch: processor stopped")

// NewProcessor 创建处理器。队列需要在 Start 前通过 Register 注册。
func NewProcessor() *Processor {
	return &Processor{
		queues: make(map[string]*queue),
		stop:   make(chan struct{}),
		log:    logrus.WithField("component", "batch_processor"),
	}
}

// Register 注册一个命名队列及其冲刷函数。
func (p *Processor) Register(name string, cfg Config, flush FlushFunc) {
	if flush == nil {
		panic("batch: flush func cannot be nil for queue " + name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.queues[name]; exists {
		panic("batch: queue already registered: " + name)
	}
	p.queues[name] = &queue{
		name:  name,
		cfg:   cfg.withDefaults(),
		flush: flush,
		kick:  make(chan struct{}, 1),
		log:   p.log.WithField("queue", name),
	}
}

// Start 为每个队列启动冲刷 worker。
func (p *Processor) Start() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, q := range p.queues {
		p.wg.Add(1)
		go p.runQueue(q)
	}
	p.log.WithField("queues", len(p.queues)).Info("Batch processor started")
}

// Add 把一条记录放入命名队列。并发安全，绝不阻塞在 IO 上。
// 处理器关停后返回 ErrProcessorStopped：最终排空已经完成，
// 此后入队的记录不会再被冲刷。整个追加在读锁内进行，
// Shutdown 的写锁必须等它完成，记录因此要么被最终排空带走、要么被拒。
func (p *Processor) Add(queueName string, record interface{}) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrProcessorStopped
	}
	q, ok := p.queues[queueName]
	if !ok {
		return ErrUnknownQueue
	}

	q.mu.Lock()
	q.pending = append(q.pending, record)
	q.stats.Queued++
	reached := len(q.pending) >= q.cfg.BatchSize
	q.mu.Unlock()

	if reached {
		// 非阻塞提醒：worker 稍后醒来时会把积压一次性取走。
		select {
		case q.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// Stats 返回每个队列计数的快照。
func (p *Processor) Stats() map[string]QueueStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]QueueStats, len(p.queues))
	for name, q := range p.queues {
		q.mu.Lock()
		out[name] = q.stats
		q.mu.Unlock()
	}
	return out
}

// Shutdown 停止全部 worker 并同步冲刷每个非空队列。
// 返回后不再有已接受的记录停留在内存中。
func (p *Processor) Shutdown(ctx context.Context) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.stop)
	p.mu.Unlock()

	p.wg.Wait()

	// 最终排空。worker 已全部退出，这里串行处理剩余积压。
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, q := range p.queues {
		p.drain(ctx, q)
	}
	p.log.Info("Batch processor shut down, all queues drained")
}

// runQueue 是单个队列的冲刷循环：时间触发或批量大小触发，先到者生效。
func (p *Processor) runQueue(q *queue) {
	defer p.wg.Done()
	ticker := time.NewTicker(q.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.drain(context.Background(), q)
		case <-q.kick:
			p.drain(context.Background(), q)
		case <-p.stop:
			return
		}
	}
}

// drain 取走当前全部积压并冲刷。
func (p *Processor) drain(ctx context.Context, q *queue) {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	p.flushWithRetry(ctx, q, batch)
}

// flushWithRetry 冲刷一批记录，失败时按指数退避重试。
// 超时的写入同样计入重试，从不静默丢弃；重试耗尽的记录计入 Failed。
func (p *Processor) flushWithRetry(ctx context.Context, q *queue, batch []interface{}) {
	var lastErr error
	for attempt := 0; attempt <= q.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := q.cfg.RetryBackoff << uint(attempt-1)
			q.log.WithFields(logrus.Fields{"attempt": attempt, "backoff": backoff.String(), "batch_size": len(batch)}).
				Warn("Retrying batch flush")
			q.mu.Lock()
			q.stats.Retried++
			q.mu.Unlock()

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				// 上层上下文取消（通常是关停超时）：按失败记账后返回。
				p.markFailed(q, batch, ctx.Err())
				return
			}
		}

		flushCtx, cancel := context.WithTimeout(ctx, q.cfg.FlushTimeout)
		lastErr = q.flush(flushCtx, batch)
		cancel()
		if lastErr == nil {
			q.mu.Lock()
			q.stats.Processed += int64(len(batch))
			q.stats.Queued -= int64(len(batch))
			q.mu.Unlock()
			q.log.WithField("batch_size", len(batch)).Debug("Batch flushed")
			return
		}
	}
	p.markFailed(q, batch, lastErr)
}

func (p *Processor) markFailed(q *queue, batch []interface{}, err error) {
	q.mu.Lock()
	q.stats.Failed += int64(len(batch))
	q.stats.Queued -= int64(len(batch))
	q.mu.Unlock()
	q.log.WithError(err).WithField("batch_size", len(batch)).
		Error("Batch flush failed permanently, records dropped after retries")
}
