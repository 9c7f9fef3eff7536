package paging

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestLoaderRunsTasksAndDeliversCompletions(t *testing.T) {
	gen := GeneratorFunc(func(ctx context.Context, req LoadRequest) (*PageContent, bool, error) {
		if req.X < 0 {
			return nil, false, nil
		}
		return &PageContent{Blocks: []BlockContent{{X: req.X, Z: req.Z}}}, true, nil
	})
	l := NewLoader(gen, 2, 8, quietLogger())
	require.NoError(t, l.Start(context.Background()))
	defer l.Close()

	found, err := l.Schedule(LoadRequest{X: 1, Z: 2})
	require.NoError(t, err)
	missing, err := l.Schedule(LoadRequest{X: -1})
	require.NoError(t, err)
	require.Equal(t, 2, l.Outstanding())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := found.Wait(ctx)
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Equal(t, 1, res.Content.Blocks[0].X)

	res, err = missing.Wait(ctx)
	require.NoError(t, err)
	require.False(t, res.OK)
	require.NoError(t, res.Err)

	var polled []*Task
	require.Eventually(t, func() bool {
		polled = append(polled, l.Poll(1)...)
		return len(polled) == 2
	}, 2*time.Second, time.Millisecond)
	require.ElementsMatch(t, []*Task{found, missing}, polled)
	require.Zero(t, l.Outstanding())
	require.Empty(t, l.Poll(0))
}

func TestLoaderScheduleNeverBlocks(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{}, 4)
	gen := GeneratorFunc(func(ctx context.Context, req LoadRequest) (*PageContent, bool, error) {
		started <- struct{}{}
		<-gate
		return &PageContent{}, true, nil
	})
	l := NewLoader(gen, 1, 1, quietLogger())
	require.NoError(t, l.Start(context.Background()))

	first, err := l.Schedule(LoadRequest{X: 0})
	require.NoError(t, err)
	<-started
	_, err = l.Schedule(LoadRequest{X: 1})
	require.NoError(t, err)
	_, err = l.Schedule(LoadRequest{X: 2})
	require.ErrorIs(t, err, ErrQueueFull)

	require.False(t, first.Done())
	_, ok := first.Result()
	require.False(t, ok)

	close(gate)
	require.NoError(t, l.Close())
	require.True(t, first.Done())

	_, err = l.Schedule(LoadRequest{X: 3})
	require.ErrorIs(t, err, ErrClosed)
	require.NoError(t, l.Close())
}

func TestLoaderReportsErrorsAndPanics(t *testing.T) {
	boom := errors.New("boom")
	gen := GeneratorFunc(func(ctx context.Context, req LoadRequest) (*PageContent, bool, error) {
		if req.X == 0 {
			return nil, false, boom
		}
		panic("generator bug")
	})
	l := NewLoader(gen, 1, 4, quietLogger())
	require.NoError(t, l.Start(context.Background()))
	defer l.Close()

	failing, err := l.Schedule(LoadRequest{X: 0})
	require.NoError(t, err)
	panicking, err := l.Schedule(LoadRequest{X: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := failing.Wait(ctx)
	require.NoError(t, err)
	require.ErrorIs(t, res.Err, boom)

	res, err = panicking.Wait(ctx)
	require.NoError(t, err)
	require.ErrorContains(t, res.Err, "panic: generator bug")
}

func TestTaskWaitHonoursContext(t *testing.T) {
	task := newTask(LoadRequest{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := task.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCompletionQueueDrain(t *testing.T) {
	var q completionQueue
	tasks := []*Task{newTask(LoadRequest{X: 1}), newTask(LoadRequest{X: 2}), newTask(LoadRequest{X: 3})}
	for _, task := range tasks {
		q.Enqueue(task)
	}
	batch := q.Drain(2)
	require.Equal(t, tasks[:2], batch)
	require.Equal(t, 1, q.Len())
	require.Equal(t, tasks[2:], q.Drain(0))
	require.Nil(t, q.pending)
	require.Nil(t, q.Drain(0))
}
