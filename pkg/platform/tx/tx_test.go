package tx_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"

	"escrowd/pkg/platform/tx"
)

func TestFromEmptyContext(t *testing.T) {
	_, ok := tx.From(context.Background())
	assert.False(t, ok)
}

func TestWithNilTxIsNoop(t *testing.T) {
	ctx := tx.WithTx(context.Background(), nil)
	_, ok := tx.From(ctx)
	assert.False(t, ok)
}

func TestRoundTrip(t *testing.T) {
	stored := &sql.Tx{}
	ctx := tx.WithTx(context.Background(), stored)
	got, ok := tx.From(ctx)
	assert.True(t, ok)
	assert.Same(t, stored, got)
}
