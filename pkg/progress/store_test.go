package progress

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGet(t *testing.T) {
	s := NewStore()

	created := s.Create("t1", TaskIndex)
	assert.Equal(t, StatusPending, created.Status)
	assert.False(t, created.StartedAt.IsZero())

	got, ok := s.Get("t1")
	require.True(t, ok)
	assert.Equal(t, "t1", got.TaskID)
	assert.Equal(t, TaskIndex, got.TaskType)

	_, ok = s.Get("unknown")
	assert.False(t, ok)
}

func TestUpdateMutatesAndPublishes(t *testing.T) {
	s := NewStore()
	s.Create("t1", TaskScan)
	ch := s.Subscribe("t1")

	snapshot, ok := s.Update("t1", func(p *TaskProgress) {
		p.Status = StatusProcessing
		p.TotalFiles = 10
		p.FilesProcessed = 3
	})
	require.True(t, ok)
	assert.Equal(t, StatusProcessing, snapshot.Status)

	published := <-ch
	assert.Equal(t, 10, published.TotalFiles)
	assert.Equal(t, 3, published.FilesProcessed)
}

func TestUpdateUnknownTask(t *testing.T) {
	s := NewStore()
	_, ok := s.Update("missing", func(p *TaskProgress) { p.Status = StatusError })
	assert.False(t, ok)
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	s := NewStore()
	s.Create("t1", TaskScan)
	ch := s.Subscribe("t1")

	// Overflow the bounded buffer; Update must never block.
	for i := 0; i < subscriberBuffer*3; i++ {
		_, ok := s.Update("t1", func(p *TaskProgress) { p.FilesProcessed++ })
		require.True(t, ok)
	}
	assert.Len(t, ch, subscriberBuffer)

	// The polling fallback still observes the latest state.
	got, ok := s.Get("t1")
	require.True(t, ok)
	assert.Equal(t, subscriberBuffer*3, got.FilesProcessed)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s := NewStore()
	s.Create("t1", TaskScan)
	ch := s.Subscribe("t1")
	s.Unsubscribe("t1", ch)

	s.Update("t1", func(p *TaskProgress) { p.FilesProcessed = 1 })
	assert.Empty(t, ch)
}

func TestCancelLifecycle(t *testing.T) {
	s := NewStore()
	s.Create("t1", TaskIndex)

	assert.False(t, s.IsCancelled("t1"))
	assert.True(t, s.Cancel("t1"))
	assert.True(t, s.IsCancelled("t1"))

	got, ok := s.Get("t1")
	require.True(t, ok)
	assert.Equal(t, StatusCancelling, got.Status)

	s.Update("t1", func(p *TaskProgress) { p.Status = StatusCancelled })
	s.ClearCancelled("t1")
	assert.False(t, s.IsCancelled("t1"))

	got, _ = s.Get("t1")
	assert.True(t, got.Terminal())
}

func TestCancelUnknownTask(t *testing.T) {
	s := NewStore()
	assert.False(t, s.Cancel("missing"))
	assert.False(t, s.IsCancelled("missing"))
}

func TestCleanup(t *testing.T) {
	s := NewStore()
	s.Create("t1", TaskIndex)
	s.Cancel("t1")
	s.Cleanup("t1")

	_, ok := s.Get("t1")
	assert.False(t, ok)
	assert.False(t, s.IsCancelled("t1"))
	assert.Empty(t, s.Tasks())
}

func TestProgressPercentClamped(t *testing.T) {
	p := TaskProgress{}
	assert.Equal(t, 0.0, p.ProgressPercent())

	p = TaskProgress{TotalFiles: 4, FilesProcessed: 2}
	assert.Equal(t, 50.0, p.ProgressPercent())

	p = TaskProgress{TotalFiles: 4, FilesProcessed: 8}
	assert.Equal(t, 100.0, p.ProgressPercent())
}

func TestConcurrentPublishersAndSubscribers(t *testing.T) {
	s := NewStore()
	s.Create("t1", TaskScan)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				s.Update("t1", func(p *TaskProgress) { p.FilesProcessed++ })
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch := s.Subscribe("t1")
			for j := 0; j < 100; j++ {
				s.Get("t1")
			}
			s.Unsubscribe("t1", ch)
		}()
	}
	wg.Wait()

	got, ok := s.Get("t1")
	require.True(t, ok)
	assert.Equal(t, 2000, got.FilesProcessed)
}
