package eventlog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemory_AppendAssignsDensePositions(t *testing.T) {
	t.Parallel()

	c := NewInMemory()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		pos, err := c.Append(ctx, "agent:v0-t1", "UserMessageAdded", map[string]any{"n": i}, nil, NoExpectedVersion)
		require.NoError(t, err)
		assert.EqualValues(t, i, pos)
	}

	events, err := c.ReadStream(ctx, "agent:v0-t1", 0, 1000)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, evt := range events {
		assert.EqualValues(t, i, evt.StreamPosition)
	}
}

func TestInMemory_AppendExpectedVersionConflict(t *testing.T) {
	t.Parallel()

	c := NewInMemory()
	ctx := context.Background()

	_, err := c.Append(ctx, "agent:v0-t1", "UserMessageAdded", nil, nil, EmptyStreamVersion)
	require.NoError(t, err)

	_, err = c.Append(ctx, "agent:v0-t1", "UserMessageAdded", nil, nil, EmptyStreamVersion)
	var conflict *OptimisticConcurrencyError
	require.ErrorAs(t, err, &conflict)
	assert.EqualValues(t, -1, conflict.ExpectedVersion)
	assert.EqualValues(t, 0, conflict.ActualVersion)
}

func TestInMemory_EmptyStreamVersionSucceedsOnEmptyStream(t *testing.T) {
	t.Parallel()

	c := NewInMemory()
	ctx := context.Background()

	pos, err := c.Append(ctx, "agent:v0-t2", "SessionStarted", nil, nil, EmptyStreamVersion)
	require.NoError(t, err)
	assert.EqualValues(t, 0, pos)
}

func TestInMemory_LastStreamMessage(t *testing.T) {
	t.Parallel()

	c := NewInMemory()
	ctx := context.Background()

	_, ok, err := c.LastStreamMessage(ctx, "agent:v0-missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _ = c.Append(ctx, "agent:v0-t3", "UserMessageAdded", nil, nil, NoExpectedVersion)
	_, _ = c.Append(ctx, "agent:v0-t3", "LLMCallStarted", nil, nil, NoExpectedVersion)

	last, ok, err := c.LastStreamMessage(ctx, "agent:v0-t3")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "LLMCallStarted", last.Type)
	assert.EqualValues(t, 1, last.StreamPosition)
}

func TestInMemory_ReadCategoryOrdersByGlobalPositionAcrossStreams(t *testing.T) {
	t.Parallel()

	c := NewInMemory()
	ctx := context.Background()

	_, _ = c.Append(ctx, "agent:v0-a", "UserMessageAdded", nil, nil, NoExpectedVersion)
	_, _ = c.Append(ctx, "agent:v0-b", "UserMessageAdded", nil, nil, NoExpectedVersion)
	_, _ = c.Append(ctx, "other:v0-a", "UserMessageAdded", nil, nil, NoExpectedVersion)
	_, _ = c.Append(ctx, "agent:v0-a", "LLMCallStarted", nil, nil, NoExpectedVersion)

	events, err := c.ReadCategory(ctx, "agent:v0", 0, 1000, ReadCategoryOptions{})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "agent:v0-a", events[0].StreamName)
	assert.Equal(t, "agent:v0-b", events[1].StreamName)
	assert.Equal(t, "agent:v0-a", events[2].StreamName)
	assert.Less(t, events[0].GlobalPosition, events[1].GlobalPosition)
	assert.Less(t, events[1].GlobalPosition, events[2].GlobalPosition)
}

func TestInMemory_ReadCategoryConditionUnsupportedFailsLoudly(t *testing.T) {
	t.Parallel()

	c := NewInMemory()
	_, err := c.ReadCategory(context.Background(), "agent:v0", 0, 1000, ReadCategoryOptions{Condition: "position % 2 = 0"})
	assert.ErrorIs(t, err, ErrConditionUnsupported)
}

type validatingPayload struct{ valid bool }

func (p validatingPayload) Validate() error {
	if !p.valid {
		return assert.AnError
	}
	return nil
}

func TestInMemory_AppendRejectsInvalidPayloadBeforeWriting(t *testing.T) {
	t.Parallel()

	c := NewInMemory()
	ctx := context.Background()

	_, err := c.Append(ctx, "agent:v0-t1", "Whatever", validatingPayload{valid: false}, nil, NoExpectedVersion)
	require.Error(t, err)

	events, err := c.ReadStream(ctx, "agent:v0-t1", 0, 1000)
	require.NoError(t, err)
	assert.Empty(t, events, "a rejected payload must not be written")

	pos, err := c.Append(ctx, "agent:v0-t1", "Whatever", validatingPayload{valid: true}, nil, NoExpectedVersion)
	require.NoError(t, err)
	assert.EqualValues(t, 0, pos)
}

func TestInMemory_ConsumerGroupPartitionsByStreamNotByEvent(t *testing.T) {
	t.Parallel()

	c := NewInMemory()
	ctx := context.Background()

	streams := []string{"agent:v0-a", "agent:v0-b", "agent:v0-c", "agent:v0-d"}
	for _, s := range streams {
		_, _ = c.Append(ctx, s, "UserMessageAdded", nil, nil, NoExpectedVersion)
		_, _ = c.Append(ctx, s, "LLMCallStarted", nil, nil, NoExpectedVersion)
	}

	seen := map[string]int{}
	for member := 0; member < 2; member++ {
		events, err := c.ReadCategory(ctx, "agent:v0", 0, 1000, ReadCategoryOptions{
			ConsumerGroup: &ConsumerGroup{Member: member, Size: 2},
		})
		require.NoError(t, err)
		for _, evt := range events {
			seen[evt.StreamName]++
		}
	}
	// every stream's events were assigned to exactly one member (all-or-nothing per stream)
	for _, s := range streams {
		assert.Contains(t, []int{0, 2}, seen[s])
	}
}
