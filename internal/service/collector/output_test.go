package collector

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/krobus00/market-collector/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numberedEvent(i int) entity.MarketEvent {
	return entity.MarketEvent{ID: strconv.Itoa(i), Kind: entity.EventKindTrade, Exchange: entity.ExchangeCoinbase}
}

func TestOutput_DropOldestKeepsNewest(t *testing.T) {
	out := NewOutput(2, OverflowDropOldest)

	for i := 1; i <= 5; i++ {
		require.NoError(t, out.Publish(context.Background(), numberedEvent(i)))
	}
	out.Close()

	var ids []string
	for event := range out.Events() {
		ids = append(ids, event.ID)
	}

	assert.Equal(t, []string{"4", "5"}, ids)
	assert.Equal(t, uint64(3), out.Dropped())
}

func connStatus(id string, fatal bool) entity.MarketEvent {
	return entity.MarketEvent{
		ID:       id,
		Kind:     entity.EventKindConnectionStatus,
		Exchange: entity.ExchangeCoinbase,
		Status:   &entity.ConnectionStatus{State: entity.SessionStateClosed, Fatal: fatal},
	}
}

func drain(out *Output) []string {
	out.Close()

	var ids []string
	for event := range out.Events() {
		ids = append(ids, event.ID)
	}
	return ids
}

func TestOutput_DropOldestKeepsStatusEvents(t *testing.T) {
	ctx := context.Background()
	out := NewOutput(3, OverflowDropOldest)

	require.NoError(t, out.Publish(ctx, connStatus("s1", false)))
	require.NoError(t, out.Publish(ctx, numberedEvent(1)))
	require.NoError(t, out.Publish(ctx, connStatus("fatal", true)))
	for i := 2; i <= 4; i++ {
		require.NoError(t, out.Publish(ctx, numberedEvent(i)))
	}

	assert.Equal(t, []string{"s1", "fatal", "4"}, drain(out))
	assert.Equal(t, uint64(3), out.Dropped())
}

func TestOutput_DropOldestFullOfStatuses(t *testing.T) {
	ctx := context.Background()
	out := NewOutput(2, OverflowDropOldest)

	require.NoError(t, out.Publish(ctx, connStatus("s1", false)))
	require.NoError(t, out.Publish(ctx, connStatus("s2", true)))

	// market data gives way when nothing else can
	require.NoError(t, out.Publish(ctx, numberedEvent(1)))
	assert.Equal(t, uint64(1), out.Dropped())

	// a status waits for room instead
	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, out.Publish(waitCtx, connStatus("s3", false)), context.DeadlineExceeded)

	assert.Equal(t, "s1", (<-out.Events()).ID)
	require.NoError(t, out.Publish(ctx, connStatus("s3", false)))

	assert.Equal(t, []string{"s2", "s3"}, drain(out))
	assert.Equal(t, uint64(1), out.Dropped())
}

func TestOutput_BlockAppliesBackpressure(t *testing.T) {
	out := NewOutput(1, OverflowBlock)
	require.NoError(t, out.Publish(context.Background(), numberedEvent(1)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, out.Publish(ctx, numberedEvent(2)), context.DeadlineExceeded)

	assert.Equal(t, "1", (<-out.Events()).ID)
	require.NoError(t, out.Publish(context.Background(), numberedEvent(3)))
	assert.Equal(t, uint64(0), out.Dropped())

	out.Close()
	out.Close()
	assert.ErrorIs(t, out.Publish(context.Background(), numberedEvent(4)), ErrOutputClosed)
}

func TestParseOverflowPolicy(t *testing.T) {
	policy, err := ParseOverflowPolicy("")
	require.NoError(t, err)
	assert.Equal(t, OverflowBlock, policy)

	policy, err = ParseOverflowPolicy("DROP_OLDEST")
	require.NoError(t, err)
	assert.Equal(t, OverflowDropOldest, policy)

	_, err = ParseOverflowPolicy("drop_newest")
	assert.Error(t, err)
}
