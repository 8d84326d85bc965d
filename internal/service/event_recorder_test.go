package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/latchctl/internal/hardware"
	"github.com/wfunc/latchctl/internal/models"
	"github.com/wfunc/latchctl/internal/repository"
)

// MockEventStore 模拟记录存储
type MockEventStore struct {
	mock.Mock
}

func (m *MockEventStore) CreateBatch(ctx context.Context, events []*models.OutputEvent) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}

func (m *MockEventStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

func newTestController(t *testing.T) *hardware.Controller {
	t.Helper()
	ctrl := hardware.NewController(hardware.NewMemoryDriver(), 8)
	require.NoError(t, ctrl.Initialize(hardware.ActiveLow))
	t.Cleanup(func() { ctrl.Close() })
	return ctrl
}

func TestRecorderWritesControllerChanges(t *testing.T) {
	repo := repository.NewOutputEventRepository(repository.SetupTestDB(t))
	recorder := NewEventRecorder(repo, RecorderOptions{FlushInterval: time.Hour})
	recorder.Start()

	ctrl := newTestController(t)
	recorder.Attach(ctrl)

	require.NoError(t, ctrl.SetChannel(3, true))
	require.NoError(t, ctrl.ToggleChannel(3))
	require.NoError(t, ctrl.SetAllOn())

	// Stop 会写入剩余记录
	recorder.Stop()

	events, err := repo.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 3)

	byOp := map[string]*models.OutputEvent{}
	for _, e := range events {
		byOp[e.Operation] = e
		assert.Equal(t, recorder.SessionID(), e.SessionID)
		assert.Equal(t, "active_low", e.Polarity)
	}

	set := byOp[string(hardware.OpSetChannel)]
	require.NotNil(t, set)
	assert.Equal(t, 3, set.Channel)
	assert.True(t, set.State)
	assert.Equal(t, uint32(0x08), set.NewMask)
	assert.Equal(t, uint32(0xF7), set.Physical)

	toggle := byOp[string(hardware.OpToggle)]
	require.NotNil(t, toggle)
	assert.False(t, toggle.State)
	assert.Equal(t, uint32(0x08), toggle.OldMask)

	all := byOp[string(hardware.OpSetAll)]
	require.NotNil(t, all)
	assert.Equal(t, -1, all.Channel)
	assert.False(t, all.State)
	assert.Equal(t, uint32(0xFF), all.NewMask)
	assert.Equal(t, uint32(0x00), all.Physical)
}

func TestRecorderFlushesOnBatchSize(t *testing.T) {
	store := new(MockEventStore)
	flushed := make(chan int, 4)
	store.On("CreateBatch", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { flushed <- len(args.Get(1).([]*models.OutputEvent)) }).
		Return(nil)

	recorder := NewEventRecorder(store, RecorderOptions{BatchSize: 2, FlushInterval: time.Hour})
	recorder.Start()
	defer recorder.Stop()

	recorder.Record(hardware.Change{Operation: hardware.OpSetChannel, Channel: 0, Time: time.Now()})
	recorder.Record(hardware.Change{Operation: hardware.OpSetChannel, Channel: 1, Time: time.Now()})

	select {
	case n := <-flushed:
		assert.Equal(t, 2, n)
	case <-time.After(2 * time.Second):
		t.Fatal("batch was not flushed")
	}
}

func TestRecorderStoreFailureDoesNotBlock(t *testing.T) {
	store := new(MockEventStore)
	store.On("CreateBatch", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	recorder := NewEventRecorder(store, RecorderOptions{FlushInterval: time.Hour})
	recorder.Start()

	recorder.Record(hardware.Change{Operation: hardware.OpSetAll, Channel: -1, Time: time.Now()})
	recorder.Stop()

	store.AssertNumberOfCalls(t, "CreateBatch", 1)
}

func TestRecorderDropsWhenQueueFull(t *testing.T) {
	store := new(MockEventStore)
	// 不启动写入协程，队列不会被消费
	recorder := NewEventRecorder(store, RecorderOptions{BufferSize: 1})

	recorder.Record(hardware.Change{Operation: hardware.OpSetChannel, Channel: 0})
	recorder.Record(hardware.Change{Operation: hardware.OpSetChannel, Channel: 1})
	recorder.Record(hardware.Change{Operation: hardware.OpSetChannel, Channel: 2})

	assert.Equal(t, uint64(2), recorder.Dropped())
	store.AssertNotCalled(t, "CreateBatch", mock.Anything, mock.Anything)
}

func TestRecorderPrunesOnStart(t *testing.T) {
	store := new(MockEventStore)
	store.On("Prune", mock.Anything, mock.AnythingOfType("time.Time")).Return(int64(5), nil).Once()

	recorder := NewEventRecorder(store, RecorderOptions{
		Retention:     24 * time.Hour,
		FlushInterval: time.Hour,
		PruneInterval: time.Hour,
	})
	recorder.Start()
	recorder.Stop()

	store.AssertExpectations(t)
	before := store.Calls[0].Arguments.Get(1).(time.Time)
	assert.WithinDuration(t, time.Now().Add(-24*time.Hour), before, 5*time.Second)
}
