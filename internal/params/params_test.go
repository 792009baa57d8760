package params_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"escrowd/internal/params"
)

func TestDefaultsAreSane(t *testing.T) {
	p := params.Defaults()
	assert.Equal(t, int64(100), p.FeeBps)
	assert.LessOrEqual(t, p.MinFee, p.MaxFee)
	assert.Less(t, p.MinTimeout, p.MaxTimeout)
	assert.Equal(t, 72*time.Hour, p.RefundWindow)
	assert.Positive(t, p.DailyVolumeCap)
	assert.Positive(t, p.ArbitrationFee)
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := params.NewMemoryStore()

	p, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, params.Defaults(), p)

	p.FeeBps = 250
	require.NoError(t, store.Update(ctx, p))
	got, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(250), got.FeeBps)
}
