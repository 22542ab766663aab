package transcribe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/video-sub-transcriber/internal/retry"
	"github.com/MimeLyc/video-sub-transcriber/internal/subtitle"
)

func seg(startSec, endSec int, text string) subtitle.Segment {
	return subtitle.Segment{
		StartTime: time.Duration(startSec) * time.Second,
		EndTime:   time.Duration(endSec) * time.Second,
		Text:      text,
	}
}

func savePolicy() retry.Policy {
	return retry.Policy{MaxRetries: 2, BaseDelay: time.Millisecond}
}

func TestIncrementalSaver_AddDoesNotFlushBeforeInterval(t *testing.T) {
	var persisted int
	saver := NewIncrementalSaver(time.Hour, func(_ context.Context, segs []subtitle.Segment) error {
		persisted += len(segs)
		return nil
	}, savePolicy())

	saver.Add(context.Background(), []subtitle.Segment{seg(0, 1, "a")})
	saver.Add(context.Background(), []subtitle.Segment{seg(1, 2, "b")})

	assert.Zero(t, persisted)
	assert.Equal(t, 2, saver.Buffered())
}

func TestIncrementalSaver_AddFlushesAfterInterval(t *testing.T) {
	var persisted [][]subtitle.Segment
	saver := NewIncrementalSaver(10*time.Millisecond, func(_ context.Context, segs []subtitle.Segment) error {
		cp := make([]subtitle.Segment, len(segs))
		copy(cp, segs)
		persisted = append(persisted, cp)
		return nil
	}, savePolicy())

	saver.Add(context.Background(), []subtitle.Segment{seg(0, 1, "a")})
	time.Sleep(15 * time.Millisecond)
	saver.Add(context.Background(), []subtitle.Segment{seg(1, 2, "b")})

	require.Len(t, persisted, 1)
	assert.Len(t, persisted[0], 2, "both buffered segments persisted together")
	assert.Zero(t, saver.Buffered(), "buffer clears after successful persist")
}

func TestIncrementalSaver_AddFailureKeepsBuffer(t *testing.T) {
	var calls int
	saver := NewIncrementalSaver(time.Millisecond, func(_ context.Context, _ []subtitle.Segment) error {
		calls++
		if calls == 1 {
			return errors.New("sink down")
		}
		return nil
	}, savePolicy())

	time.Sleep(2 * time.Millisecond)
	saver.Add(context.Background(), []subtitle.Segment{seg(0, 1, "a")})
	assert.Equal(t, 1, saver.Buffered(), "failed persist keeps data buffered")

	time.Sleep(2 * time.Millisecond)
	saver.Add(context.Background(), []subtitle.Segment{seg(1, 2, "b")})
	assert.Zero(t, saver.Buffered(), "next add retries the persist")
	assert.Equal(t, 2, calls)
}

func TestIncrementalSaver_FlushPropagatesFailure(t *testing.T) {
	saver := NewIncrementalSaver(time.Hour, func(_ context.Context, _ []subtitle.Segment) error {
		return errors.New("sink down")
	}, savePolicy())

	saver.Add(context.Background(), []subtitle.Segment{seg(0, 1, "a")})

	err := saver.Flush(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, saver.Buffered(), "buffer survives a failed flush")
}

func TestIncrementalSaver_FlushRetriesThroughExecutor(t *testing.T) {
	var calls int
	saver := NewIncrementalSaver(time.Hour, func(_ context.Context, _ []subtitle.Segment) error {
		calls++
		if calls < 3 {
			return errors.New("flaky sink")
		}
		return nil
	}, savePolicy())

	saver.Add(context.Background(), []subtitle.Segment{seg(0, 1, "a")})

	require.NoError(t, saver.Flush(context.Background()))
	assert.Equal(t, 3, calls)
	assert.Zero(t, saver.Buffered())
}

func TestIncrementalSaver_FlushEmptyIsNoop(t *testing.T) {
	var calls int
	saver := NewIncrementalSaver(time.Hour, func(_ context.Context, _ []subtitle.Segment) error {
		calls++
		return nil
	}, savePolicy())

	require.NoError(t, saver.Flush(context.Background()))
	assert.Zero(t, calls)
}
