package storage

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"crypto-alerts/internal/alert"
	"crypto-alerts/internal/market"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound is returned when no alert has the requested id.
	ErrNotFound = errors.New("storage: alert not found")
	// ErrExists is returned when creating an alert whose id is taken.
	ErrExists = errors.New("storage: alert already exists")
)

//go:embed schema.sql
var schemaSQL string

const (
	alertColumns = `id, kind, status, description, condition, triggers, created_at, fired_at`

	listAlertsSQL = `SELECT ` + alertColumns + `
    FROM alerts
    WHERE (coalesce(cardinality($1::text[]), 0) = 0 OR kind = ANY($1))
      AND (coalesce(cardinality($2::text[]), 0) = 0 OR status = ANY($2))
      AND ($3::text = '' OR $3::text = ANY(symbols))
    ORDER BY created_at, id;`

	getAlertSQL = `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1;`

	insertAlertSQL = `INSERT INTO alerts (
        id,
        kind,
        status,
        symbols,
        description,
        condition,
        triggers,
        created_at,
        fired_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    ON CONFLICT (id) DO NOTHING;`

	updateAlertSQL = `UPDATE alerts
    SET kind        = $2,
        status      = $3,
        symbols     = $4,
        description = $5,
        condition   = $6,
        triggers    = $7,
        created_at  = $8,
        fired_at    = $9,
        updated_at  = now()
    WHERE id = $1;`

	deleteAlertSQL = `DELETE FROM alerts WHERE id = $1;`

	insertFiringSQL = `INSERT INTO alert_firings (
        alert_id,
        kind,
        fired_at,
        summary,
        actions,
        notified
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    RETURNING id, created_at;`

	listRecentFiringsSQL = `SELECT
        id,
        alert_id,
        kind,
        fired_at,
        summary,
        actions,
        notified,
        created_at
    FROM alert_firings
    WHERE ($1::text = '' OR alert_id = $1::text)
    ORDER BY fired_at DESC
    LIMIT $2;`

	upsertCandleSQL = `INSERT INTO candles (
        symbol,
        timeframe,
        open_time,
        open,
        high,
        low,
        close,
        volume
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (symbol, timeframe, open_time) DO UPDATE
    SET
        open   = EXCLUDED.open,
        high   = EXCLUDED.high,
        low    = EXCLUDED.low,
        close  = EXCLUDED.close,
        volume = EXCLUDED.volume;`

	listRecentCandlesSQL = `SELECT open_time, open, high, low, close, volume
    FROM candles
    WHERE symbol = $1
      AND timeframe = $2
    ORDER BY open_time DESC
    LIMIT $3;`

	deleteCandlesBeforeSQL = `DELETE FROM candles WHERE open_time < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Repository is the alert definition store shared by the processor and the API.
type Repository interface {
	ListAlerts(ctx context.Context, filter AlertFilter) ([]alert.Alert, error)
	GetAlert(ctx context.Context, id string) (alert.Alert, error)
	CreateAlert(ctx context.Context, a alert.Alert) error
	UpdateAlert(ctx context.Context, a alert.Alert) error
	DeleteAlert(ctx context.Context, id string) error
}

// FiringStore defines operations for firing auditing.
type FiringStore interface {
	InsertFiring(ctx context.Context, f Firing) (Firing, error)
	ListRecentFirings(ctx context.Context, alertID string, limit int) ([]Firing, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store is the PostgreSQL implementation of every storage concern.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// 连接释放后锁也会随会话结束, 这里尽力而为。
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// ListAlerts lists alerts matching filter, oldest first.
func (s *Store) ListAlerts(ctx context.Context, filter AlertFilter) ([]alert.Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	kinds := make([]string, 0, len(filter.Kinds))
	for _, k := range filter.Kinds {
		kinds = append(kinds, string(k))
	}
	statuses := make([]string, 0, len(filter.Statuses))
	for _, st := range filter.Statuses {
		statuses = append(statuses, string(st))
	}

	rows, queryErr := pool.Query(ctx, listAlertsSQL, kinds, statuses, filter.Symbol)
	if queryErr != nil {
		return nil, fmt.Errorf("list alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]alert.Alert, 0)
	for rows.Next() {
		a, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// GetAlert loads one alert.
func (s *Store) GetAlert(ctx context.Context, id string) (alert.Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return alert.Alert{}, err
	}
	a, err := scanAlert(pool.QueryRow(ctx, getAlertSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return alert.Alert{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return alert.Alert{}, err
	}
	return a, nil
}

// CreateAlert inserts a new alert.
func (s *Store) CreateAlert(ctx context.Context, a alert.Alert) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	args, err := alertArgs(a)
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, insertAlertSQL, args...)
	if execErr != nil {
		return fmt.Errorf("insert alert: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrExists, a.ID)
	}
	return nil
}

// UpdateAlert replaces the stored alert. Repeating the same update is harmless.
func (s *Store) UpdateAlert(ctx context.Context, a alert.Alert) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	args, err := alertArgs(a)
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, updateAlertSQL, args...)
	if execErr != nil {
		return fmt.Errorf("update alert: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, a.ID)
	}
	return nil
}

// DeleteAlert removes an alert.
func (s *Store) DeleteAlert(ctx context.Context, id string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, deleteAlertSQL, id)
	if execErr != nil {
		return fmt.Errorf("delete alert: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// InsertFiring appends a firing to the audit log.
func (s *Store) InsertFiring(ctx context.Context, f Firing) (Firing, error) {
	pool, err := s.getPool()
	if err != nil {
		return Firing{}, err
	}
	actions := f.Actions
	if actions == nil {
		actions = []FiringAction{}
	}
	payload, err := json.Marshal(actions)
	if err != nil {
		return Firing{}, fmt.Errorf("marshal firing actions: %w", err)
	}

	row := pool.QueryRow(ctx, insertFiringSQL,
		f.AlertID,
		string(f.Kind),
		f.FiredAt,
		f.Summary,
		payload,
		f.Notified,
	)
	if scanErr := row.Scan(&f.ID, &f.CreatedAt); scanErr != nil {
		return Firing{}, fmt.Errorf("insert firing: %w", scanErr)
	}
	return f, nil
}

// ListRecentFirings lists the latest firings, optionally for one alert.
func (s *Store) ListRecentFirings(ctx context.Context, alertID string, limit int) ([]Firing, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentFiringsSQL, alertID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent firings: %w", queryErr)
	}
	defer rows.Close()

	firings := make([]Firing, 0, limit)
	for rows.Next() {
		var (
			f       Firing
			kind    string
			actions []byte
		)
		if err := rows.Scan(&f.ID, &f.AlertID, &kind, &f.FiredAt, &f.Summary, &actions, &f.Notified, &f.CreatedAt); err != nil {
			return nil, err
		}
		f.Kind = alert.Kind(kind)
		if err := json.Unmarshal(actions, &f.Actions); err != nil {
			return nil, fmt.Errorf("decode firing actions: %w", err)
		}
		firings = append(firings, f)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return firings, nil
}

// UpsertCandles stores candles in one batch.
func (s *Store) UpsertCandles(ctx context.Context, symbol string, tf alert.Timeframe, candles []market.Candle) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(candles) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range candles {
		batch.Queue(upsertCandleSQL, symbol, string(tf), c.OpenTime, c.Open, c.High, c.Low, c.Close, c.Volume)
	}
	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert candles: %w", err)
	}
	return nil
}

// RecentCandles returns at most limit candles, oldest first.
func (s *Store) RecentCandles(ctx context.Context, symbol string, tf alert.Timeframe, limit int) ([]market.Candle, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentCandlesSQL, symbol, string(tf), limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent candles: %w", queryErr)
	}
	defer rows.Close()

	candles := make([]market.Candle, 0, limit)
	for rows.Next() {
		var c market.Candle
		if err := rows.Scan(&c.OpenTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		c.OpenTime = c.OpenTime.UTC()
		candles = append(candles, c)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// DeleteCandlesBefore prunes the archive.
func (s *Store) DeleteCandlesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteCandlesBeforeSQL, cutoff)
	if execErr != nil {
		return 0, fmt.Errorf("delete candles before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

func alertArgs(a alert.Alert) ([]any, error) {
	if err := a.Check(); err != nil {
		return nil, err
	}

	var condition any
	if a.Price != nil {
		condition = a.Price
	} else {
		condition = a.Indicator
	}
	condJSON, err := json.Marshal(condition)
	if err != nil {
		return nil, fmt.Errorf("marshal condition: %w", err)
	}
	triggers := a.Triggers
	if triggers == nil {
		triggers = []alert.ActionSpec{}
	}
	trigJSON, err := json.Marshal(triggers)
	if err != nil {
		return nil, fmt.Errorf("marshal triggers: %w", err)
	}

	return []any{
		a.ID,
		string(a.Kind),
		string(a.Status),
		a.Symbols(),
		a.Description,
		condJSON,
		trigJSON,
		a.CreatedAt,
		a.FiredAt,
	}, nil
}

func scanAlert(row pgx.Row) (alert.Alert, error) {
	var (
		a         alert.Alert
		kind      string
		status    string
		condition []byte
		triggers  []byte
	)
	if err := row.Scan(&a.ID, &kind, &status, &a.Description, &condition, &triggers, &a.CreatedAt, &a.FiredAt); err != nil {
		return alert.Alert{}, err
	}
	a.Kind = alert.Kind(kind)
	a.Status = alert.Status(status)

	switch {
	case a.Kind.IsPrice():
		a.Price = &alert.PriceCondition{}
		if err := json.Unmarshal(condition, a.Price); err != nil {
			return alert.Alert{}, fmt.Errorf("decode price condition %s: %w", a.ID, err)
		}
	case a.Kind == alert.KindIndicatorRSI:
		a.Indicator = &alert.IndicatorCondition{}
		if err := json.Unmarshal(condition, a.Indicator); err != nil {
			return alert.Alert{}, fmt.Errorf("decode indicator condition %s: %w", a.ID, err)
		}
	}
	if err := json.Unmarshal(triggers, &a.Triggers); err != nil {
		return alert.Alert{}, fmt.Errorf("decode triggers %s: %w", a.ID, err)
	}
	if err := a.Check(); err != nil {
		return alert.Alert{}, fmt.Errorf("stored alert %s: %w", a.ID, err)
	}
	return a, nil
}

var (
	_ Repository           = (*Store)(nil)
	_ FiringStore          = (*Store)(nil)
	_ AdvisoryLocker       = (*Store)(nil)
	_ market.CandleArchive = (*Store)(nil)
)
