//go:build integration

package reconstruct_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/telhawk-systems/netwall-flow-analyzer/internal/config"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/logging"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/parser"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/reconstruct"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/store"
)

func setupTestStore(t *testing.T) (*store.Store, func()) {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("netwall_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, store.Migrate(connStr, filepath.Join("..", "..", "migrations")))

	db, err := store.Open(ctx, &config.Config{
		DatabaseURL: connStr,
		DBMaxConns:  5, DBMinConns: 1,
		DBMaxConnLifetime: time.Hour, DBMaxConnIdleTime: 15 * time.Minute,
	})
	require.NoError(t, err)

	return db, func() {
		db.Close()
		_ = container.Terminate(ctx)
	}
}

func insertRawLog(t *testing.T, tx *store.TxStore, device string, at time.Time, seq int64) int64 {
	t.Helper()
	ids, err := tx.RawLogs.InsertBatch(context.Background(), []store.RawLogRow{{
		DeviceKey: device, ReceivedAt: at, Sequence: seq, RawLine: "raw", ParseStatus: "ok",
	}})
	require.NoError(t, err)
	return ids[0]
}

func process(t *testing.T, db *store.Store, device string, at time.Time, seq int64, fields parser.ConnFields) {
	t.Helper()
	rc := reconstruct.New(db, logging.Default())
	err := reconstruct.WithTx(context.Background(), db, func(tx *store.TxStore) error {
		rawID := insertRawLog(t, tx, device, at, seq)
		rec := &parser.Record{ReceivedAt: at, Kind: parser.KindConn}
		_, err := rc.ProcessConn(context.Background(), tx, device, rec, fields, rawID)
		return err
	})
	require.NoError(t, err)
}

func tupleFields(conn parser.ConnKind) parser.ConnFields {
	return parser.ConnFields{
		Conn: conn, Proto: "6",
		SrcIP: "10.0.0.5", SrcPort: 54321,
		DstIP: "8.8.8.8", DstPort: 443,
	}
}

func selectFlows(t *testing.T, db *store.Store, device string, from, to time.Time) []store.FlowRow {
	t.Helper()
	flows, err := db.Flows.SelectWindow(context.Background(), []string{device}, from, to)
	require.NoError(t, err)
	return flows
}

func TestReconstruct_SimpleOpenClose(t *testing.T) {
	db, cleanup := setupTestStore(t)
	defer cleanup()

	openAt := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	closeAt := openAt.Add(5 * time.Second)

	process(t, db, "fw1", openAt, 1, tupleFields(parser.ConnOpen))

	closeFields := tupleFields(parser.ConnClose)
	closeFields.BytesOrig, closeFields.BytesTerm = 1000, 2000
	process(t, db, "fw1", closeAt, 2, closeFields)

	flows := selectFlows(t, db, "fw1", openAt.Add(-time.Minute), closeAt.Add(time.Minute))
	require.Len(t, flows, 1)
	f := flows[0]
	assert.EqualValues(t, 1000, f.BytesOrig)
	assert.EqualValues(t, 2000, f.BytesTerm)
	require.NotNil(t, f.CloseTS)
	assert.True(t, f.CloseTS.Equal(closeAt))
	assert.True(t, f.OpenTS.Equal(openAt))
}

func TestReconstruct_ReopenClosesPriorAtMinusOneMilli(t *testing.T) {
	db, cleanup := setupTestStore(t)
	defer cleanup()

	t0 := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	t10 := t0.Add(10 * time.Second)

	process(t, db, "fw1", t0, 1, tupleFields(parser.ConnOpen))
	process(t, db, "fw1", t10, 2, tupleFields(parser.ConnOpen))

	flows := selectFlows(t, db, "fw1", t0.Add(-time.Minute), t10.Add(time.Minute))
	require.Len(t, flows, 2)

	var first, second *store.FlowRow
	for i := range flows {
		switch {
		case flows[i].OpenTS.Equal(t0):
			first = &flows[i]
		case flows[i].OpenTS.Equal(t10):
			second = &flows[i]
		}
	}
	require.NotNil(t, first)
	require.NotNil(t, second)

	require.NotNil(t, first.CloseTS)
	assert.True(t, first.CloseTS.Equal(t10.Add(-time.Millisecond)))
	assert.EqualValues(t, 0, first.BytesOrig)
	assert.EqualValues(t, 0, first.BytesTerm)
	assert.Nil(t, second.CloseTS)
}

func TestReconstruct_CloseWithoutOpenSynthesizesFlow(t *testing.T) {
	db, cleanup := setupTestStore(t)
	defer cleanup()

	closeAt := time.Date(2026, 2, 10, 12, 0, 5, 0, time.UTC)
	fields := tupleFields(parser.ConnClose)
	fields.BytesOrig, fields.BytesTerm = 10, 20
	process(t, db, "fw1", closeAt, 1, fields)

	flows := selectFlows(t, db, "fw1", closeAt.Add(-time.Minute), closeAt.Add(time.Minute))
	require.Len(t, flows, 1)
	assert.True(t, flows[0].OpenTS.Equal(closeAt))
	require.NotNil(t, flows[0].CloseTS)
	assert.True(t, flows[0].CloseTS.Equal(closeAt))
	assert.EqualValues(t, 10, flows[0].BytesOrig)
}

func TestReconstruct_BlockedZeroesBytes(t *testing.T) {
	db, cleanup := setupTestStore(t)
	defer cleanup()

	at := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	fields := tupleFields(parser.ConnBlocked)
	fields.BytesOrig, fields.BytesTerm = 999, 999
	process(t, db, "fw1", at, 1, fields)

	flows := selectFlows(t, db, "fw1", at.Add(-time.Minute), at.Add(time.Minute))
	require.Len(t, flows, 1)
	assert.EqualValues(t, 0, flows[0].BytesOrig)
	assert.EqualValues(t, 0, flows[0].BytesTerm)
}

func TestReconstruct_DuplicateOpenSuppressed(t *testing.T) {
	db, cleanup := setupTestStore(t)
	defer cleanup()

	at := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	process(t, db, "fw1", at, 1, tupleFields(parser.ConnOpen))
	process(t, db, "fw1", at, 2, tupleFields(parser.ConnOpen))

	flows := selectFlows(t, db, "fw1", at.Add(-time.Minute), at.Add(time.Minute))
	assert.Len(t, flows, 1)
}
