package batch_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"my-room-spaces/internal/batch"
)

// collector 是记录冲刷调用的测试用 FlushFunc 载体。
type collector struct {
	mu      sync.Mutex
	batches [][]interface{}
	fail    int // 前 fail 次调用返回错误
	calls   int
}

func (c *collector) flush(ctx context.Context, records []interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls <= c.fail {
		return errors.New("simulated store failure")
	}
	batch := append([]interface{}(nil), records...)
	c.batches = append(c.batches, batch)
	return nil
}

func (c *collector) flushed() [][]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]interface{}(nil), c.batches...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestProcessor_FlushOnBatchSize(t *testing.T) {
	col := &collector{}
	p := batch.NewProcessor()
	p.Register("events", batch.Config{
		BatchSize:     3,
		FlushInterval: time.Hour, // 只允许批量大小触发
	}, col.flush)
	p.Start()
	defer shutdownProcessor(t, p)

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Add("events", i))
	}

	waitFor(t, 2*time.Second, func() bool { return len(col.flushed()) == 1 })
	flushed := col.flushed()
	require.Len(t, flushed[0], 3)
	// 记录顺序与入队顺序一致。
	assert.Equal(t, []interface{}{0, 1, 2}, flushed[0])
}

func TestProcessor_FlushOnInterval(t *testing.T) {
	col := &collector{}
	p := batch.NewProcessor()
	p.Register("events", batch.Config{
		BatchSize:     100, // 批量大小不会触发
		FlushInterval: 50 * time.Millisecond,
	}, col.flush)
	p.Start()
	defer shutdownProcessor(t, p)

	require.NoError(t, p.Add("events", "a"))

	waitFor(t, 2*time.Second, func() bool { return len(col.flushed()) == 1 })
	assert.Equal(t, []interface{}{"a"}, col.flushed()[0])
}

func TestProcessor_RetryThenSucceed(t *testing.T) {
	col := &collector{fail: 2}
	p := batch.NewProcessor()
	p.Register("events", batch.Config{
		BatchSize:     1,
		FlushInterval: time.Hour,
		MaxRetries:    3,
		RetryBackoff:  5 * time.Millisecond,
	}, col.flush)
	p.Start()
	defer shutdownProcessor(t, p)

	require.NoError(t, p.Add("events", "x"))

	waitFor(t, 2*time.Second, func() bool { return len(col.flushed()) == 1 })
	stats := p.Stats()["events"]
	assert.Equal(t, int64(1), stats.Processed)
	assert.Equal(t, int64(2), stats.Retried)
	assert.Equal(t, int64(0), stats.Failed)
	assert.Equal(t, int64(0), stats.Queued)
}

func TestProcessor_RetriesExhaustedCountsFailed(t *testing.T) {
	col := &collector{fail: 100}
	p := batch.NewProcessor()
	p.Register("events", batch.Config{
		BatchSize:     2,
		FlushInterval: time.Hour,
		MaxRetries:    1,
		RetryBackoff:  time.Millisecond,
	}, col.flush)
	p.Start()
	defer shutdownProcessor(t, p)

	require.NoError(t, p.Add("events", 1))
	require.NoError(t, p.Add("events", 2))

	waitFor(t, 2*time.Second, func() bool {
		return p.Stats()["events"].Failed == 2
	})
	stats := p.Stats()["events"]
	assert.Equal(t, int64(0), stats.Processed)
	assert.Equal(t, int64(0), stats.Queued, "失败的记录也要从在队计数里扣除")
}

func TestProcessor_UnknownQueue(t *testing.T) {
	p := batch.NewProcessor()
	err := p.Add("nope", 1)
	assert.ErrorIs(t, err, batch.ErrUnknownQueue)
}

func TestProcessor_ShutdownDrainsPending(t *testing.T) {
	col := &collector{}
	p := batch.NewProcessor()
	p.Register("events", batch.Config{
		BatchSize:     100,
		FlushInterval: time.Hour, // 任何自动触发都不会发生
	}, col.flush)
	p.Start()

	for i := 0; i < 7; i++ {
		require.NoError(t, p.Add("events", i))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p.Shutdown(ctx)

	flushed := col.flushed()
	require.Len(t, flushed, 1, "关停时必须排空积压")
	assert.Len(t, flushed[0], 7)
	assert.Equal(t, int64(7), p.Stats()["events"].Processed)

	// 重复 Shutdown 是无害的。
	p.Shutdown(ctx)
}

func TestProcessor_AddAfterShutdownRejected(t *testing.T) {
	col := &collector{}
	p := batch.NewProcessor()
	p.Register("events", batch.Config{BatchSize: 100, FlushInterval: time.Hour}, col.flush)
	p.Start()

	require.NoError(t, p.Add("events", 1))
	shutdownProcessor(t, p)

	// 最终排空之后的入队没有人冲刷，必须被拒而不是无声滞留。
	err := p.Add("events", 2)
	assert.ErrorIs(t, err, batch.ErrProcessorStopped)

	stats := p.Stats()["events"]
	assert.Equal(t, int64(1), stats.Processed)
	assert.Equal(t, int64(0), stats.Queued)
}

func TestProcessor_QueuesAreIndependent(t *testing.T) {
	colA := &collector{}
	colB := &collector{fail: 100}
	p := batch.NewProcessor()
	p.Register("a", batch.Config{BatchSize: 1, FlushInterval: time.Hour, MaxRetries: 0, RetryBackoff: time.Millisecond}, colA.flush)
	p.Register("b", batch.Config{BatchSize: 1, FlushInterval: time.Hour, MaxRetries: 0, RetryBackoff: time.Millisecond}, colB.flush)
	p.Start()
	defer shutdownProcessor(t, p)

	require.NoError(t, p.Add("b", "doomed"))
	require.NoError(t, p.Add("a", "fine"))

	// b 队列持续失败不阻碍 a 队列落库。
	waitFor(t, 2*time.Second, func() bool { return len(colA.flushed()) == 1 })
	assert.Equal(t, []interface{}{"fine"}, colA.flushed()[0])
}

func TestProcessor_ConcurrentAdd(t *testing.T) {
	col := &collector{}
	p := batch.NewProcessor()
	p.Register("events", batch.Config{BatchSize: 10, FlushInterval: 20 * time.Millisecond}, col.flush)
	p.Start()

	var wg sync.WaitGroup
	const total = 200
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			assert.NoError(t, p.Add("events", fmt.Sprintf("r%d", n)))
		}(i)
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p.Shutdown(ctx)

	var count int
	for _, b := range col.flushed() {
		count += len(b)
	}
	assert.Equal(t, total, count, "每条已接受的记录恰好冲刷一次")
	assert.Equal(t, int64(total), p.Stats()["events"].Processed)
}

func shutdownProcessor(t *testing.T, p *batch.Processor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p.Shutdown(ctx)
}
