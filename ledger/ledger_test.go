package ledger

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metartpay/chainpay/docstore"
	"github.com/metartpay/chainpay/types"
)

func newTestLedger(t *testing.T) (*Ledger, context.Context) {
	t.Helper()
	return New(docstore.NewMemoryStore(), nil, nil), context.Background()
}

func testTx(txHash, to string) types.Transaction {
	return types.Transaction{
		MerchantID:            "m1",
		TxHash:                txHash,
		ToAddress:             to,
		Amount:                decimal.NewFromInt(100),
		Token:                 "USDT",
		Network:               types.NetworkETH,
		BlockNumber:           10,
		Confirmations:         1,
		RequiredConfirmations: 3,
		Status:                types.TxConfirming,
	}
}

func TestRecord_AndFindByHash(t *testing.T) {
	led, ctx := newTestLedger(t)

	id, err := led.Record(ctx, testTx("0xh1", "0xto"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	tx, err := led.FindByHash(ctx, "0xh1", "0xto")
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, id, tx.ID)
	assert.True(t, tx.Amount.Equal(decimal.NewFromInt(100)))
	assert.False(t, tx.ObservedAt.IsZero())
}

func TestFindByHash_Missing(t *testing.T) {
	led, ctx := newTestLedger(t)

	tx, err := led.FindByHash(ctx, "0xnope", "0xto")
	require.NoError(t, err)
	assert.Nil(t, tx)
}

func TestRecord_DedupConflict(t *testing.T) {
	led, ctx := newTestLedger(t)

	_, err := led.Record(ctx, testTx("0xh1", "0xto"))
	require.NoError(t, err)

	_, err = led.Record(ctx, testTx("0xh1", "0xto"))
	require.Error(t, err)
	assert.Equal(t, types.ErrDedupConflict, types.CodeOf(err))

	// Same hash to a different address is a distinct transfer.
	_, err = led.Record(ctx, testTx("0xh1", "0xother"))
	require.NoError(t, err)
}

func TestUpdateConfirmation_Progresses(t *testing.T) {
	led, ctx := newTestLedger(t)

	id, err := led.Record(ctx, testTx("0xh1", "0xto"))
	require.NoError(t, err)

	tx, err := led.UpdateConfirmation(ctx, id, 3, types.TxConfirmed)
	require.NoError(t, err)
	assert.Equal(t, types.TxConfirmed, tx.Status)
	assert.Equal(t, uint64(3), tx.Confirmations)

	stored, err := led.FindByHash(ctx, "0xh1", "0xto")
	require.NoError(t, err)
	assert.Equal(t, types.TxConfirmed, stored.Status)
	require.NotNil(t, stored.ConfirmedAt)
}

func TestUpdateConfirmation_ConfirmedNeverRegresses(t *testing.T) {
	led, ctx := newTestLedger(t)

	id, err := led.Record(ctx, testTx("0xh1", "0xto"))
	require.NoError(t, err)

	_, err = led.UpdateConfirmation(ctx, id, 5, types.TxConfirmed)
	require.NoError(t, err)

	// A later receipt with fewer confirmations must not touch the entry.
	tx, err := led.UpdateConfirmation(ctx, id, 1, types.TxConfirming)
	require.NoError(t, err)
	assert.Equal(t, types.TxConfirmed, tx.Status)
	assert.Equal(t, uint64(5), tx.Confirmations)
}

func TestListByStatus(t *testing.T) {
	led, ctx := newTestLedger(t)

	_, err := led.Record(ctx, testTx("0xh1", "0xto"))
	require.NoError(t, err)

	pending := testTx("0xh2", "0xto")
	pending.Status = types.TxPending
	_, err = led.Record(ctx, pending)
	require.NoError(t, err)

	confirmed := testTx("0xh3", "0xto")
	confirmed.Status = types.TxConfirmed
	_, err = led.Record(ctx, confirmed)
	require.NoError(t, err)

	txs, err := led.ListByStatus(ctx,
		[]types.TxStatus{types.TxPending, types.TxConfirming}, 0)
	require.NoError(t, err)
	assert.Len(t, txs, 2)

	txs, err = led.ListByStatus(ctx,
		[]types.TxStatus{types.TxPending, types.TxConfirming}, 1)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}
