package persistence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sop/backend/internal/domain/forecasting"
	"github.com/sop/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// newMockConsensusRepository creates a GormConsensusRepository with a mocked SQL connection
func newMockConsensusRepository(t *testing.T) (*GormConsensusRepository, sqlmock.Sqlmock, *sql.DB) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	return NewGormConsensusRepository(gormDB), mock, mockDB
}

func newPersistedConsensus(t *testing.T) *forecasting.ForecastConsensus {
	t.Helper()
	c, err := forecasting.NewForecastConsensus(
		uuid.New(),
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		decimal.NewFromInt(1000),
		decimal.Zero, decimal.Zero, decimal.Zero,
		nil,
		forecasting.ConsensusStatusDraft,
		"",
	)
	require.NoError(t, err)
	return c
}

func TestGormConsensusRepository_FindByID(t *testing.T) {
	t.Run("finds existing record", func(t *testing.T) {
		repo, mock, mockDB := newMockConsensusRepository(t)
		defer mockDB.Close()

		consensusID := uuid.New()
		productID := uuid.New()
		period := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

		rows := sqlmock.NewRows([]string{"id", "lock_version", "product_id", "period", "baseline_qty", "pre_consensus_qty", "final_consensus_qty", "status", "version"}).
			AddRow(consensusID, 1, productID, period, "1000", "1000", "1000", "draft", 2)

		mock.ExpectQuery(`SELECT \* FROM "forecast_consensus" WHERE id = \$1 ORDER BY .* LIMIT .*`).
			WithArgs(consensusID, 1).
			WillReturnRows(rows)

		consensus, err := repo.FindByID(context.Background(), consensusID)

		require.NoError(t, err)
		assert.Equal(t, consensusID, consensus.ID)
		assert.Equal(t, productID, consensus.ProductID)
		assert.Equal(t, 2, consensus.Version)
		assert.Equal(t, forecasting.ConsensusStatusDraft, consensus.Status)
		assert.True(t, consensus.BaselineQty.Equal(decimal.NewFromInt(1000)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns not found for missing record", func(t *testing.T) {
		repo, mock, mockDB := newMockConsensusRepository(t)
		defer mockDB.Close()

		consensusID := uuid.New()
		mock.ExpectQuery(`SELECT \* FROM "forecast_consensus" WHERE id = \$1 ORDER BY .* LIMIT .*`).
			WithArgs(consensusID, 1).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := repo.FindByID(context.Background(), consensusID)

		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestGormConsensusRepository_FindAll(t *testing.T) {
	t.Run("applies status and period filters", func(t *testing.T) {
		repo, mock, mockDB := newMockConsensusRepository(t)
		defer mockDB.Close()

		rows := sqlmock.NewRows([]string{"id", "lock_version", "product_id", "period", "baseline_qty", "status", "version"}).
			AddRow(uuid.New(), 1, uuid.New(), time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), "500", "draft", 1)

		mock.ExpectQuery(`SELECT \* FROM "forecast_consensus" WHERE status = \$1 AND period >= \$2 ORDER BY period ASC,version ASC LIMIT .*`).
			WillReturnRows(rows)

		filter := shared.DefaultFilter()
		filter.OrderBy = "period"
		filter.OrderDir = "asc"
		filter.Filters[forecasting.FilterStatus] = forecasting.ConsensusStatusDraft
		filter.Filters[forecasting.FilterPeriodFrom] = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

		records, err := repo.FindAll(context.Background(), filter)

		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, 1, records[0].Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("falls back to whitelisted sort field", func(t *testing.T) {
		repo, mock, mockDB := newMockConsensusRepository(t)
		defer mockDB.Close()

		mock.ExpectQuery(`SELECT \* FROM "forecast_consensus" ORDER BY period DESC,version ASC LIMIT .*`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		filter := shared.DefaultFilter()
		filter.OrderBy = "notes; DROP TABLE forecast_consensus"

		_, err := repo.FindAll(context.Background(), filter)

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormConsensusRepository_Count(t *testing.T) {
	t.Run("counts with filters applied", func(t *testing.T) {
		repo, mock, mockDB := newMockConsensusRepository(t)
		defer mockDB.Close()

		productID := uuid.New()
		mock.ExpectQuery(`SELECT count\(\*\) FROM "forecast_consensus" WHERE product_id = \$1`).
			WithArgs(productID).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

		filter := shared.DefaultFilter()
		filter.Filters[forecasting.FilterProductID] = productID

		count, err := repo.Count(context.Background(), filter)

		require.NoError(t, err)
		assert.Equal(t, int64(3), count)
	})
}

func TestGormConsensusRepository_Create(t *testing.T) {
	t.Run("allocates first version", func(t *testing.T) {
		repo, mock, mockDB := newMockConsensusRepository(t)
		defer mockDB.Close()

		consensus := newPersistedConsensus(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\) FROM "forecast_consensus" WHERE product_id = \$1 AND period = \$2`).
			WithArgs(consensus.ProductID, consensus.Period).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(0))
		mock.ExpectExec(`INSERT INTO "forecast_consensus"`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := repo.Create(context.Background(), consensus)

		require.NoError(t, err)
		assert.Equal(t, 1, consensus.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("allocates max plus one", func(t *testing.T) {
		repo, mock, mockDB := newMockConsensusRepository(t)
		defer mockDB.Close()

		consensus := newPersistedConsensus(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\) FROM "forecast_consensus"`).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(4))
		mock.ExpectExec(`INSERT INTO "forecast_consensus"`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := repo.Create(context.Background(), consensus)

		require.NoError(t, err)
		assert.Equal(t, 5, consensus.Version)
	})

	t.Run("maps duplicate version to concurrency conflict", func(t *testing.T) {
		repo, mock, mockDB := newMockConsensusRepository(t)
		defer mockDB.Close()

		consensus := newPersistedConsensus(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\) FROM "forecast_consensus"`).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(1))
		mock.ExpectExec(`INSERT INTO "forecast_consensus"`).
			WillReturnError(errDuplicateKey{})
		mock.ExpectRollback()

		err := repo.Create(context.Background(), consensus)

		assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)
	})
}

// errDuplicateKey mimics the driver error for a violated unique index
type errDuplicateKey struct{}

func (errDuplicateKey) Error() string {
	return `duplicate key value violates unique constraint "idx_consensus_product_period_version"`
}

func TestGormConsensusRepository_SaveWithLock(t *testing.T) {
	t.Run("updates when lock counter matches", func(t *testing.T) {
		repo, mock, mockDB := newMockConsensusRepository(t)
		defer mockDB.Close()

		consensus := newPersistedConsensus(t)

		mock.ExpectExec(`UPDATE "forecast_consensus" SET`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.SaveWithLock(context.Background(), consensus, 1)

		require.NoError(t, err)
		assert.Equal(t, 2, consensus.GetLockVersion())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reports conflict when another writer won", func(t *testing.T) {
		repo, mock, mockDB := newMockConsensusRepository(t)
		defer mockDB.Close()

		consensus := newPersistedConsensus(t)

		mock.ExpectExec(`UPDATE "forecast_consensus" SET`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT count\(\*\) FROM "forecast_consensus" WHERE id = \$1`).
			WithArgs(consensus.ID).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

		err := repo.SaveWithLock(context.Background(), consensus, 1)

		assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)
		assert.Equal(t, 1, consensus.GetLockVersion())
	})

	t.Run("reports not found for vanished record", func(t *testing.T) {
		repo, mock, mockDB := newMockConsensusRepository(t)
		defer mockDB.Close()

		consensus := newPersistedConsensus(t)

		mock.ExpectExec(`UPDATE "forecast_consensus" SET`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT count\(\*\) FROM "forecast_consensus" WHERE id = \$1`).
			WithArgs(consensus.ID).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

		err := repo.SaveWithLock(context.Background(), consensus, 1)

		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestGormConsensusRepository_MaxVersion(t *testing.T) {
	t.Run("returns zero for empty group", func(t *testing.T) {
		repo, mock, mockDB := newMockConsensusRepository(t)
		defer mockDB.Close()

		productID := uuid.New()
		period := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

		mock.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\) FROM "forecast_consensus" WHERE product_id = \$1 AND period = \$2`).
			WithArgs(productID, period).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(0))

		max, err := repo.MaxVersion(context.Background(), productID, period)

		require.NoError(t, err)
		assert.Zero(t, max)
	})
}
