package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Zhima-Mochi/minishop-orders/internal/domain/customer"
	"github.com/Zhima-Mochi/minishop-orders/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-orders/internal/domain/product"
	"github.com/Zhima-Mochi/minishop-orders/internal/infrastructure/id"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return db, mock
}

func TestMigrate(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS customers")).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, Migrate(context.Background(), db))
}

func TestCustomerRepository_FindByID(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCustomerRepository(db)
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	q := regexp.QuoteMeta("SELECT id, name, email, created_at FROM customers WHERE id = $1")
	mock.ExpectQuery(q).WithArgs("C1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "created_at"}).
			AddRow("C1", "Ada", "ada@example.com", created))
	mock.ExpectQuery(q).WithArgs("C2").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(q).WithArgs("C3").WillReturnError(errors.New("conn reset"))

	c, err := repo.FindByID(context.Background(), "C1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", c.Name)
	assert.Equal(t, created, c.CreatedAt)

	_, err = repo.FindByID(context.Background(), "C2")
	assert.ErrorIs(t, err, customer.ErrNotFound)

	_, err = repo.FindByID(context.Background(), "C3")
	require.Error(t, err)
	assert.NotErrorIs(t, err, customer.ErrNotFound)
}

func productRows() *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{"id", "name", "price", "quantity", "updated_at"}).
		AddRow("P1", "Widget", "10.00", 5, now).
		AddRow("P2", "Gadget", "2.50", 10, now)
}

func TestProductRepository_FindAllByID(t *testing.T) {
	db, mock := newMock(t)
	repo := NewProductRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM products WHERE id = ANY($1) ORDER BY id") + "$").
		WithArgs(pq.Array([]string{"P1", "P2", "P9"})).
		WillReturnRows(productRows())

	got, err := repo.FindAllByID(context.Background(), []string{"P1", "P2", "P9"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, decimal.RequireFromString("10.00").Equal(got[0].Price))
	assert.Equal(t, 5, got[0].Quantity)
	assert.True(t, decimal.RequireFromString("2.50").Equal(got[1].Price))
}

func TestProductRepository_FindAllByIDLocksRowsInsideTx(t *testing.T) {
	db, mock := newMock(t)
	repo := NewProductRepository(db)
	tx := NewTransactor(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY id FOR UPDATE")).WillReturnRows(productRows())
	mock.ExpectCommit()

	err := tx.WithinTx(context.Background(), func(ctx context.Context) error {
		got, err := repo.FindAllByID(ctx, []string{"P1", "P2"})
		assert.Len(t, got, 2)
		return err
	})
	require.NoError(t, err)
}

func TestProductRepository_UpdateQuantity(t *testing.T) {
	db, mock := newMock(t)
	repo := NewProductRepository(db)
	q := regexp.QuoteMeta("FROM unnest($1::text[], $2::int[])")

	mock.ExpectExec(q).
		WithArgs(pq.Array([]string{"P1", "P2"}), pq.Array([]int64{1, 7})).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(q).WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateQuantity(context.Background(), []product.StockAdjustment{
		{ProductID: "P1", Quantity: 4},
		{ProductID: "P2", Quantity: 7},
		{ProductID: "P1", Quantity: 1},
	}))

	err := repo.UpdateQuantity(context.Background(), []product.StockAdjustment{
		{ProductID: "P1", Quantity: 4},
		{ProductID: "P9", Quantity: 1},
	})
	assert.ErrorIs(t, err, product.ErrNotFound)

	assert.NoError(t, repo.UpdateQuantity(context.Background(), nil))
}

func TestCollapse(t *testing.T) {
	ids, qty := collapse([]product.StockAdjustment{
		{ProductID: "b", Quantity: 1}, {ProductID: "a", Quantity: 2}, {ProductID: "b", Quantity: 3},
	})
	assert.Equal(t, []string{"b", "a"}, ids)
	assert.Equal(t, []int64{3, 2}, qty)
}

func lineItems() []order.LineItem {
	return []order.LineItem{
		{ProductID: "P1", Quantity: 3, Price: decimal.RequireFromString("10.00")},
		{ProductID: "P2", Quantity: 1, Price: decimal.RequireFromString("2.50")},
	}
}

func TestOrderRepository_CreateWritesHeaderAndLines(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOrderRepository(db, id.NewSequence("o-1"))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO orders")).
		WithArgs("o-1", "C1", "created", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO order_products")).
		WithArgs("o-1", 0, "P1", 3, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO order_products")).
		WithArgs("o-1", 1, "P2", 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	o, err := repo.Create(context.Background(), &customer.Customer{ID: "C1"}, lineItems())
	require.NoError(t, err)
	assert.Equal(t, "o-1", o.ID)
	assert.True(t, decimal.RequireFromString("32.50").Equal(o.Total()))
}

func TestOrderRepository_CreateRollsBackOnConflict(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOrderRepository(db, id.NewSequence("o-1"))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO orders")).WillReturnError(&pq.Error{Code: uniqueViolation})
	mock.ExpectRollback()

	_, err := repo.Create(context.Background(), &customer.Customer{ID: "C1"}, lineItems())
	assert.ErrorIs(t, err, order.ErrConflict)
}

func TestOrderRepository_CreateJoinsCallerTx(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOrderRepository(db, id.NewSequence("o-1"))
	tx := NewTransactor(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO orders")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO order_products")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO order_products")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	stockErr := errors.New("stock write failed")
	err := tx.WithinTx(context.Background(), func(ctx context.Context) error {
		_, err := repo.Create(ctx, &customer.Customer{ID: "C1"}, lineItems())
		require.NoError(t, err)
		return stockErr
	})
	assert.Equal(t, stockErr, err)
}

func TestOrderRepository_FindByID(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOrderRepository(db, id.NewUUID())
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM orders o")).WithArgs("o-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "status", "cancel_reason", "created_at", "updated_at",
			"c_id", "c_name", "c_email", "c_created_at",
		}).AddRow("o-1", "created", "", now, now, "C1", "Ada", "ada@example.com", now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM order_products")).WithArgs("o-1").
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "quantity", "price"}).
			AddRow("P1", 3, "10.00").
			AddRow("P2", 1, "2.50"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM orders o")).WithArgs("o-404").WillReturnError(sql.ErrNoRows)

	o, err := repo.FindByID(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusCreated, o.Status)
	assert.Equal(t, "Ada", o.Customer.Name)
	require.Len(t, o.LineItems, 2)
	assert.Equal(t, "P1", o.LineItems[0].ProductID)
	assert.True(t, decimal.RequireFromString("32.50").Equal(o.Total()))

	_, err = repo.FindByID(context.Background(), "o-404")
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestOrderRepository_Cancel(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOrderRepository(db, id.NewUUID())
	update := regexp.QuoteMeta("UPDATE orders")
	exists := regexp.QuoteMeta("SELECT 1 FROM orders WHERE id = $1")

	mock.ExpectExec(update).WithArgs("o-1", "cancelled", "stock_update_failed").WillReturnResult(sqlmock.NewResult(0, 1))
	// already cancelled
	mock.ExpectExec(update).WithArgs("o-1", "cancelled", "again").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(exists).WithArgs("o-1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	// unknown
	mock.ExpectExec(update).WithArgs("o-9", "cancelled", "x").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(exists).WithArgs("o-9").WillReturnError(sql.ErrNoRows)

	ctx := context.Background()
	assert.NoError(t, repo.Cancel(ctx, "o-1", "stock_update_failed"))
	assert.NoError(t, repo.Cancel(ctx, "o-1", "again"))
	assert.ErrorIs(t, repo.Cancel(ctx, "o-9", "x"), order.ErrNotFound)
}

func TestTransactor(t *testing.T) {
	t.Run("commits", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectCommit()

		assert.NoError(t, NewTransactor(db).WithinTx(context.Background(), func(context.Context) error { return nil }))
	})

	t.Run("commit failure", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

		err := NewTransactor(db).WithinTx(context.Background(), func(context.Context) error { return nil })
		assert.ErrorContains(t, err, "postgres: commit")
	})

	t.Run("begin failure", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

		called := false
		err := NewTransactor(db).WithinTx(context.Background(), func(context.Context) error {
			called = true
			return nil
		})
		assert.ErrorContains(t, err, "postgres: begin")
		assert.False(t, called)
	})

	t.Run("nested scopes share one tx", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectCommit()
		tx := NewTransactor(db)

		err := tx.WithinTx(context.Background(), func(ctx context.Context) error {
			return tx.WithinTx(ctx, func(context.Context) error { return nil })
		})
		assert.NoError(t, err)
	})
}
