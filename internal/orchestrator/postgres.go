package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/orderlink/orderlink/internal/backend"
	"github.com/orderlink/orderlink/internal/jsoncodec"
)

const ordersSchema = `
CREATE TABLE IF NOT EXISTS orders (
	id          TEXT PRIMARY KEY,
	client_id   TEXT NOT NULL,
	items       JSONB NOT NULL,
	destination TEXT NOT NULL,
	status      TEXT NOT NULL,
	saga_log    JSONB NOT NULL DEFAULT '[]',
	failed_step TEXT NOT NULL DEFAULT '',
	failure     TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
)`

// PostgresStore persists orders in Postgres. Items and the saga log are
// stored as JSONB so the append-only log round-trips without a join table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("orchestrator: ping postgres: %w", err)
	}
	store := &PostgresStore{pool: pool}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, ordersSchema); err != nil {
		return fmt.Errorf("orchestrator: create orders table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Save(ctx context.Context, order *Order) error {
	items, err := jsoncodec.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("orchestrator: encode items: %w", err)
	}
	sagaLog, err := jsoncodec.Marshal(order.SagaLog)
	if err != nil {
		return fmt.Errorf("orchestrator: encode saga log: %w", err)
	}
	order.UpdatedAt = time.Now().UTC()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO orders (id, client_id, items, destination, status, saga_log, failed_step, failure, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			saga_log = EXCLUDED.saga_log,
			failed_step = EXCLUDED.failed_step,
			failure = EXCLUDED.failure,
			updated_at = EXCLUDED.updated_at`,
		order.ID, order.ClientID, items, order.Destination, order.Status, sagaLog,
		order.FailedStep, order.Error, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("orchestrator: save order %s: %w", order.ID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Order, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, client_id, items, destination, status, saga_log, failed_step, failure, created_at, updated_at
		FROM orders WHERE id = $1`, id)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("orchestrator: get order %s: %w", id, err)
	}
	return order, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, client_id, items, destination, status, saga_log, failed_step, failure, created_at, updated_at
		FROM orders ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: list orders: %w", err)
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: scan order: %w", err)
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		order      Order
		itemsRaw   []byte
		sagaLogRaw []byte
	)
	err := row.Scan(&order.ID, &order.ClientID, &itemsRaw, &order.Destination,
		&order.Status, &sagaLogRaw, &order.FailedStep, &order.Error,
		&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := jsoncodec.Unmarshal(itemsRaw, &order.Items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	if order.Items == nil {
		order.Items = []backend.LineItem{}
	}
	if err := jsoncodec.Unmarshal(sagaLogRaw, &order.SagaLog); err != nil {
		return nil, fmt.Errorf("decode saga log: %w", err)
	}
	return &order, nil
}
