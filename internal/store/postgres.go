package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tradevault/journal-engine/internal/model"
)

// PostgresStore implements TradeStore using PostgreSQL as the source of
// truth. All monetary values are stored as NUMERIC for exact decimal
// precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateLive(ctx context.Context, t *model.LiveTrade) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO live_trades (id, account_id, symbol, entry_price, trade_type, size, qty, sl_percentage, entry_date)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7::NUMERIC, $8::NUMERIC, $9)`,
		t.ID, t.AccountID, t.Symbol,
		t.EntryPrice.String(), t.TradeType, t.Size,
		t.Qty.String(), t.StopLossPercentage.String(),
		t.EntryDate,
	)
	if err != nil {
		return fmt.Errorf("create live trade %s: %w", t.ID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateLive(ctx context.Context, id string, u model.TradeUpdate) error {
	// COALESCE against NULL args keeps unspecified fields untouched.
	var symbol, tradeType, size *string
	var entryPrice, qty, sl *string

	symbol = u.Symbol
	tradeType = u.TradeType
	size = u.Size
	if u.EntryPrice != nil {
		v := u.EntryPrice.String()
		entryPrice = &v
	}
	if u.Qty != nil {
		v := u.Qty.String()
		qty = &v
	}
	if u.StopLossPercentage != nil {
		v := u.StopLossPercentage.String()
		sl = &v
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE live_trades
		 SET symbol        = COALESCE($2, symbol),
		     entry_price   = COALESCE($3::NUMERIC, entry_price),
		     trade_type    = COALESCE($4, trade_type),
		     size          = COALESCE($5, size),
		     qty           = COALESCE($6::NUMERIC, qty),
		     sl_percentage = COALESCE($7::NUMERIC, sl_percentage)
		 WHERE id = $1`,
		id, symbol, entryPrice, tradeType, size, qty, sl,
	)
	if err != nil {
		return fmt.Errorf("update live trade %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update live trade %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeleteLive(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM live_trades WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete live trade %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete live trade %s: %w", id, ErrNotFound)
	}
	return nil
}

// Close runs delete-live + upsert-closed in one transaction. When the live
// row is already gone but a closed row exists (redelivery after partial
// completion), the existing closed row is returned unchanged, so re-running
// the same close is safe.
func (s *PostgresStore) Close(ctx context.Context, id string, exitPrice, fees decimal.Decimal) (*model.ClosedTrade, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("close trade %s: begin: %w", id, err)
	}
	defer tx.Rollback(ctx)

	live, err := scanLiveTrade(tx.QueryRow(ctx,
		`SELECT id, account_id, symbol, entry_price::TEXT, trade_type, size,
		        qty::TEXT, sl_percentage::TEXT, entry_date
		 FROM live_trades WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("close trade %s: %w", id, err)
		}
		// No live row: fall back to an already-written closed row.
		c, cerr := s.getClosed(ctx, tx, id)
		if cerr != nil {
			if errors.Is(cerr, pgx.ErrNoRows) {
				return nil, fmt.Errorf("close trade %s: %w", id, ErrNotFound)
			}
			return nil, fmt.Errorf("close trade %s: %w", id, cerr)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("close trade %s: commit: %w", id, err)
		}
		return c, nil
	}

	c := live.CloseOut(exitPrice, fees, time.Now().UTC())

	if _, err := tx.Exec(ctx, `DELETE FROM live_trades WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("close trade %s: delete live: %w", id, err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO closed_trades (id, account_id, symbol, entry_price, exit_price, trade_type, size, qty, sl_percentage, fees, realized_pl, entry_date, exit_date)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12, $13)
		 ON CONFLICT (id) DO UPDATE
		 SET exit_price = EXCLUDED.exit_price,
		     fees = EXCLUDED.fees,
		     realized_pl = EXCLUDED.realized_pl,
		     exit_date = EXCLUDED.exit_date`,
		c.ID, c.AccountID, c.Symbol,
		c.EntryPrice.String(), c.ExitPrice.String(),
		c.TradeType, c.Size,
		c.Qty.String(), c.StopLossPercentage.String(),
		c.Fees.String(), c.RealizedPL.String(),
		c.EntryDate, c.ExitDate,
	)
	if err != nil {
		return nil, fmt.Errorf("close trade %s: insert closed: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("close trade %s: commit: %w", id, err)
	}
	return c, nil
}

func (s *PostgresStore) GetLive(ctx context.Context, id string) (*model.LiveTrade, error) {
	t, err := scanLiveTrade(s.pool.QueryRow(ctx,
		`SELECT id, account_id, symbol, entry_price::TEXT, trade_type, size,
		        qty::TEXT, sl_percentage::TEXT, entry_date
		 FROM live_trades WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get live trade %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get live trade %s: %w", id, err)
	}
	return t, nil
}

func (s *PostgresStore) ListLive(ctx context.Context, accountID string) ([]model.LiveTrade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, symbol, entry_price::TEXT, trade_type, size,
		        qty::TEXT, sl_percentage::TEXT, entry_date
		 FROM live_trades WHERE account_id = $1 ORDER BY entry_date DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.LiveTrade
	for rows.Next() {
		var t model.LiveTrade
		var entryPrice, qty, sl string
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Symbol, &entryPrice,
			&t.TradeType, &t.Size, &qty, &sl, &t.EntryDate); err != nil {
			return nil, err
		}
		t.EntryPrice, _ = decimal.NewFromString(entryPrice)
		t.Qty, _ = decimal.NewFromString(qty)
		t.StopLossPercentage, _ = decimal.NewFromString(sl)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) ListClosed(ctx context.Context, accountID string) ([]model.ClosedTrade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, symbol, entry_price::TEXT, exit_price::TEXT,
		        trade_type, size, qty::TEXT, sl_percentage::TEXT,
		        fees::TEXT, realized_pl::TEXT, entry_date, exit_date
		 FROM closed_trades WHERE account_id = $1 ORDER BY exit_date DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.ClosedTrade
	for rows.Next() {
		c, err := scanClosedTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, *c)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) getClosed(ctx context.Context, tx pgx.Tx, id string) (*model.ClosedTrade, error) {
	return scanClosedTrade(tx.QueryRow(ctx,
		`SELECT id, account_id, symbol, entry_price::TEXT, exit_price::TEXT,
		        trade_type, size, qty::TEXT, sl_percentage::TEXT,
		        fees::TEXT, realized_pl::TEXT, entry_date, exit_date
		 FROM closed_trades WHERE id = $1`, id))
}

type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanLiveTrade(row pgxRow) (*model.LiveTrade, error) {
	var t model.LiveTrade
	var entryPrice, qty, sl string

	if err := row.Scan(&t.ID, &t.AccountID, &t.Symbol, &entryPrice,
		&t.TradeType, &t.Size, &qty, &sl, &t.EntryDate); err != nil {
		return nil, err
	}

	t.EntryPrice, _ = decimal.NewFromString(entryPrice)
	t.Qty, _ = decimal.NewFromString(qty)
	t.StopLossPercentage, _ = decimal.NewFromString(sl)
	return &t, nil
}

func scanClosedTrade(row pgxRow) (*model.ClosedTrade, error) {
	var c model.ClosedTrade
	var entryPrice, exitPrice, qty, sl, fees, pl string

	if err := row.Scan(&c.ID, &c.AccountID, &c.Symbol, &entryPrice, &exitPrice,
		&c.TradeType, &c.Size, &qty, &sl, &fees, &pl,
		&c.EntryDate, &c.ExitDate); err != nil {
		return nil, err
	}

	c.EntryPrice, _ = decimal.NewFromString(entryPrice)
	c.ExitPrice, _ = decimal.NewFromString(exitPrice)
	c.Qty, _ = decimal.NewFromString(qty)
	c.StopLossPercentage, _ = decimal.NewFromString(sl)
	c.Fees, _ = decimal.NewFromString(fees)
	c.RealizedPL, _ = decimal.NewFromString(pl)
	return &c, nil
}
