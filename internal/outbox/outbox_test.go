package outbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskforge/engine/internal/store"
)

func TestWriterEnqueueInTxInsertsUnpublishedRow(t *testing.T) {
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	w := NewWriter(db)
	tx, err := db.Conn().Begin()
	require.NoError(t, err)
	require.NoError(t, w.EnqueueInTx(tx, "ev-1", "stop.EXECUTED.t1.BTCUSDT", []byte(`{"event_id":"ev-1"}`)))
	require.NoError(t, tx.Commit())

	rows, err := db.Outbox.ListUnpublished(10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "ev-1", rows[0].EventID)
	assert.Equal(t, "stop.EXECUTED.t1.BTCUSDT", rows[0].RoutingKey)
}
