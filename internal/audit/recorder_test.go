package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	mu      sync.Mutex
	entries []*Entry
	err     error
}

func (m *memoryRepo) Create(_ context.Context, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memoryRepo) List(context.Context, Filter) (*ListResult, error) {
	return &ListResult{}, nil
}

func (m *memoryRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

type errorLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *errorLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.msgs = append(l.msgs, msg)
	l.mu.Unlock()
}

func TestRecorder_WritesAsynchronously(t *testing.T) {
	repo := &memoryRepo{}
	rec := NewRecorder(repo, 4, nil)
	rec.Start(context.Background())

	require.NoError(t, rec.Record(&Entry{RequestID: "a", State: "confirmed"}))
	require.NoError(t, rec.Record(&Entry{RequestID: "b", State: "rejected"}))

	assert.Eventually(t, func() bool { return repo.count() == 2 }, time.Second, 5*time.Millisecond)
	rec.Stop()
	rec.Stop()
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	rec := NewRecorder(&memoryRepo{}, 1, nil)

	require.NoError(t, rec.Record(&Entry{RequestID: "a"}))
	assert.ErrorIs(t, rec.Record(&Entry{RequestID: "b"}), ErrDropped)
}

func TestRecorder_StopDrainsQueue(t *testing.T) {
	repo := &memoryRepo{}
	rec := NewRecorder(repo, 8, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, rec.Record(&Entry{RequestID: "x"}))
	}
	rec.Start(context.Background())
	rec.Stop()

	assert.Equal(t, 5, repo.count())
}

func TestRecorder_LogsInsertFailures(t *testing.T) {
	repo := &memoryRepo{err: errors.New("disk full")}
	logger := &errorLogger{}
	rec := NewRecorder(repo, 1, logger)
	rec.Start(context.Background())

	require.NoError(t, rec.Record(&Entry{RequestID: "a"}))
	rec.Stop()

	logger.mu.Lock()
	defer logger.mu.Unlock()
	assert.Equal(t, []string{"write audit insert failed"}, logger.msgs)
}
