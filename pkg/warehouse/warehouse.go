package warehouse

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jmoiron/sqlx"
	"github.com/rsrlabs/dqreview/pkg/config"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotStarted is returned when a session is requested before Start.
var ErrNotStarted = errors.New("warehouse not started")

// Querier runs a single SQL statement and returns its rows as a Table.
type Querier interface {
	Query(ctx context.Context, query string) (*Table, error)
}

// Session is a warehouse connection pinned for the duration of one review
// submission. Close releases it back to the pool.
type Session interface {
	Querier
	Close() error
}

// Warehouse provides scoped sessions against the reporting warehouse.
type Warehouse interface {
	Start(ctx context.Context) error
	Stop() error

	// Acquire pins one pooled connection. Callers must Close the session.
	Acquire(ctx context.Context) (Session, error)
}

// Compile-time interface check.
var _ Warehouse = (*warehouse)(nil)

type warehouse struct {
	log          logrus.FieldLogger
	cfg          *config.WarehouseConfig
	queryTimeout time.Duration
	db           *gorm.DB
	xdb          *sqlx.DB
}

// New creates a Warehouse backed by the configured database driver.
func New(
	log logrus.FieldLogger,
	cfg *config.WarehouseConfig,
) Warehouse {
	return &warehouse{
		log: log.WithField("component", "warehouse"),
		cfg: cfg,
	}
}

// Start opens the connection pool. The warehouse is not pinged here so the
// dashboard can come up while the warehouse is unreachable; connectivity
// errors surface on each review instead.
func (w *warehouse) Start(_ context.Context) error {
	var (
		dialector  gorm.Dialector
		driverName string
		err        error
	)

	w.queryTimeout, err = w.cfg.QueryTimeoutDuration()
	if err != nil {
		return err
	}

	gormCfg := &gorm.Config{
		Logger:                 logger.Discard,
		DisableAutomaticPing:   true,
		SkipDefaultTransaction: true,
	}

	switch w.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(w.cfg.DSN)
		driverName = "sqlite"
	case "postgres":
		dialector = postgres.Open(NormalizeDSN(w.cfg.DSN))
		driverName = "pgx"
	default:
		return fmt.Errorf("unsupported warehouse driver: %s", w.cfg.Driver)
	}

	w.db, err = gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening warehouse: %w", err)
	}

	sqlDB, err := w.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	if w.cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(w.cfg.MaxOpenConns)
	}

	w.xdb = sqlx.NewDb(sqlDB, driverName)

	w.log.WithFields(logrus.Fields{
		"driver":        w.cfg.Driver,
		"query_timeout": w.queryTimeout,
	}).Info("Warehouse pool opened")

	return nil
}

// Stop closes the connection pool.
func (w *warehouse) Stop() error {
	if w.xdb == nil {
		return nil
	}

	if err := w.xdb.Close(); err != nil {
		return fmt.Errorf("closing warehouse: %w", err)
	}

	return nil
}

// Acquire pins a connection from the pool for one submission.
func (w *warehouse) Acquire(ctx context.Context) (Session, error) {
	if w.xdb == nil {
		return nil, ErrNotStarted
	}

	conn, err := w.xdb.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("connecting to warehouse: %w", err)
	}

	return &session{
		log:          w.log,
		xdb:          w.xdb,
		conn:         conn,
		queryTimeout: w.queryTimeout,
	}, nil
}

type session struct {
	log          logrus.FieldLogger
	xdb          *sqlx.DB
	conn         *sqlx.Conn
	queryTimeout time.Duration
	// broken is set when the pinned connection may no longer be usable, e.g.
	// pgx closes it when a query deadline fires. The next query replaces it.
	broken    bool
	closeOnce sync.Once
	closeErr  error
}

// Query runs query on the pinned connection and collects every row.
func (s *session) Query(ctx context.Context, query string) (*Table, error) {
	if s.broken {
		if err := s.reconnect(ctx); err != nil {
			return nil, err
		}
	}

	qctx := ctx

	if s.queryTimeout > 0 {
		var cancel context.CancelFunc

		qctx, cancel = context.WithTimeout(ctx, s.queryTimeout)
		defer cancel()
	}

	rows, err := s.conn.QueryxContext(qctx, query)
	if err != nil {
		s.checkConn(err)

		return nil, fmt.Errorf("executing query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}

	table := NewTable(columns)

	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			s.checkConn(err)

			return nil, fmt.Errorf("scanning row %d: %w", table.Len(), err)
		}

		for i := range values {
			values[i] = normalizeValue(values[i])
		}

		table.Rows = append(table.Rows, values)
	}

	if err := rows.Err(); err != nil {
		s.checkConn(err)

		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	return table, nil
}

// checkConn marks the connection broken after errors that can leave it
// closed or mid-protocol.
func (s *session) checkConn(err error) {
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		s.broken = true
	}
}

// reconnect releases the broken connection and pins a fresh one from the
// pool. The pool discards connections the driver reports as invalid.
func (s *session) reconnect(ctx context.Context) error {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}

	conn, err := s.xdb.Connx(ctx)
	if err != nil {
		return fmt.Errorf("reconnecting to warehouse: %w", err)
	}

	s.conn = conn
	s.broken = false

	s.log.Debug("Replaced broken warehouse connection")

	return nil
}

// Close releases the pinned connection. It is safe to call more than once.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		if s.conn == nil {
			return
		}

		if err := s.conn.Close(); err != nil &&
			!errors.Is(err, sql.ErrConnDone) && !errors.Is(err, driver.ErrBadConn) {
			s.closeErr = fmt.Errorf("releasing warehouse connection: %w", err)
		}
	})

	return s.closeErr
}

// NormalizeDSN converts SQLAlchemy style URLs such as
// "postgresql+psycopg2://user@host/db" into a URL the pgx driver accepts.
func NormalizeDSN(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}

	if base, _, hasDriver := strings.Cut(scheme, "+"); hasDriver {
		scheme = base
	}

	return scheme + "://" + rest
}
