package db

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfabric/mycelium/internal/agents/agenttest"
	"github.com/quantfabric/mycelium/internal/bus"
	"github.com/quantfabric/mycelium/internal/config"
	"github.com/quantfabric/mycelium/internal/exchange"
	"github.com/quantfabric/mycelium/internal/model"
)

func newMockDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewWithPool(mock), mock
}

func pattern(agentID uint64) *model.ArchivedPattern {
	return &model.ArchivedPattern{
		AgentID:      agentID,
		Timestamp:    1700000000,
		PatternValue: 62.5,
		RawFeatures:  `{"rsi":28}`,
		AgeMinutes:   10,
		DecayFactor:  0.95,
	}
}

func TestInsertPattern(t *testing.T) {
	database, mock := newMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO patterns")).
		WithArgs(uint64(7), 1700000000.0, 62.5, `{"rsi":28}`, 10.0, 0.95).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, database.InsertPattern(context.Background(), pattern(7)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPatternsCountsFailures(t *testing.T) {
	database, mock := newMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO patterns")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO patterns")).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO patterns")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	batch := []*model.ArchivedPattern{pattern(1), pattern(2), pattern(3)}
	persisted := database.InsertPatterns(context.Background(), batch)
	assert.Equal(t, 2, persisted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertTrade(t *testing.T) {
	database, mock := newMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO trades")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	row := &model.TradeRecord{
		TradeID:        "t-1",
		Pair:           "XXBTZUSD",
		StrategyType:   "synthesized",
		EntryTimestamp: time.Now().Add(-time.Minute),
		ExitTimestamp:  time.Now(),
		EntryPrice:     27000,
		ExitPrice:      28000,
		PnLPct:         2.98,
		Result:         "WIN",
	}
	require.NoError(t, database.InsertTrade(context.Background(), row))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertTradeDuplicateIsSilent(t *testing.T) {
	database, mock := newMockDB(t)

	// ON CONFLICT DO NOTHING reports zero rows; that is not an error.
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO trades")).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	require.NoError(t, database.InsertTrade(context.Background(), &model.TradeRecord{TradeID: "t-1"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func openConf(pair string, price float64, at time.Time) *model.Confirmation {
	return &model.Confirmation{
		TradeID:   "t-open",
		Pair:      pair,
		Direction: exchange.Buy,
		Amount:    0.001,
		Price:     price,
		Timestamp: at,
	}
}

func closeConf(pair string, price, pnlPct float64, at time.Time) *model.Confirmation {
	return &model.Confirmation{
		TradeID:   "t-close",
		Pair:      pair,
		Direction: exchange.Sell,
		Amount:    0.001,
		Price:     price,
		PnLPct:    pnlPct,
		Closed:    true,
		Timestamp: at,
	}
}

func TestTradeLoggerWritesCompletedRoundTrip(t *testing.T) {
	database, mock := newMockDB(t)
	fb := agenttest.NewFakeBus()
	tl, err := NewTradeLogger(fb, database)
	require.NoError(t, err)
	defer tl.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO trades")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	t0 := time.Now()
	require.NoError(t, fb.Publish("trader", bus.TopicTradeConfirmations, openConf("XXBTZUSD", 27000, t0)))
	require.NoError(t, fb.Publish("trader", bus.TopicTradeConfirmations, closeConf("XXBTZUSD", 28000, 2.98, t0.Add(time.Minute))))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTradeLoggerRowDerivation(t *testing.T) {
	database, mock := newMockDB(t)
	tl := &TradeLogger{db: database, log: config.NewLogger("trade_logger"), opens: make(map[string]*model.Confirmation)}

	t0 := time.Now()
	priceChange := (28000.0 - 27000.0) / 27000.0 * 100
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO trades")).
		WithArgs("t-close", "XXBTZUSD", "synthesized", uint64(0), (*int64)(nil),
			t0, t0.Add(time.Minute), 60.0,
			27000.0, 28000.0, priceChange, 2.98, 2.98/100*27000*0.001,
			"WIN", 0.0, 0.0, 0.0, "",
			(*float64)(nil), 0.0, true,
			0.001, 0.0, 0.0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ctx := context.Background()
	tl.Handle(ctx, openConf("XXBTZUSD", 27000, t0))
	tl.Handle(ctx, closeConf("XXBTZUSD", 28000, 2.98, t0.Add(time.Minute)))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTradeLoggerIgnoresCloseWithoutOpen(t *testing.T) {
	database, mock := newMockDB(t)
	tl := &TradeLogger{db: database, log: config.NewLogger("trade_logger"), opens: make(map[string]*model.Confirmation)}

	tl.Handle(context.Background(), closeConf("XXBTZUSD", 28000, 2.98, time.Now()))
	assert.NoError(t, mock.ExpectationsWereMet(), "no insert expected")
}

func TestTradeLoggerPairsAreIndependent(t *testing.T) {
	database, mock := newMockDB(t)
	tl := &TradeLogger{db: database, log: config.NewLogger("trade_logger"), opens: make(map[string]*model.Confirmation)}

	t0 := time.Now()
	tl.Handle(context.Background(), openConf("XXBTZUSD", 27000, t0))

	// A close on a different pair must not consume the bitcoin open.
	tl.Handle(context.Background(), closeConf("XETHZUSD", 1800, -1, t0.Add(time.Minute)))
	require.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO trades")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	tl.Handle(context.Background(), closeConf("XXBTZUSD", 28000, 2.98, t0.Add(2*time.Minute)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnectRejectsEmptyURL(t *testing.T) {
	_, err := Connect(context.Background(), "")
	assert.Error(t, err)
}
