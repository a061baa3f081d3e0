// Package keyset reads database tables in ascending key order with seek pagination.
//
// Every page is fetched with `key > lastKey ORDER BY key ASC LIMIT n`, so the cost of
// a page does not grow with the scan position and a restart resumes from the last key
// handed to the step rather than from a row offset.
package keyset

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"regexp"

	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/tigerroll/seekbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/logger"
)

// Config describes the scan.
type Config struct {
	// Name prefixes the checkpoint keys: "<Name>.lastKey" and "<Name>.exhausted".
	Name string
	// Table and KeyColumn are SQL identifiers. The key column must be an integer
	// that is unique and never reused.
	Table     string
	KeyColumn string
	// PageSize is the number of rows fetched per query.
	PageSize int
	// Where is an optional predicate with `?` placeholders bound to Args. It must not
	// reference the key column or contain ORDER BY, LIMIT or OFFSET.
	Where string
	Args  []any
	// RateLimit caps page fetches per second. Zero means unlimited.
	RateLimit float64
}

var (
	identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)
	pagingPattern     = regexp.MustCompile(`(?i)\border\s+by\b|\blimit\b|\boffset\b`)
)

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.Name == "":
		return fmt.Errorf("keyset reader: name is required")
	case !identifierPattern.MatchString(c.Table):
		return fmt.Errorf("keyset reader '%s': invalid table name %q", c.Name, c.Table)
	case !identifierPattern.MatchString(c.KeyColumn):
		return fmt.Errorf("keyset reader '%s': invalid key column %q", c.Name, c.KeyColumn)
	case c.PageSize < 1:
		return fmt.Errorf("keyset reader '%s': page size must be at least 1, got %d", c.Name, c.PageSize)
	case c.RateLimit < 0:
		return fmt.Errorf("keyset reader '%s': rate limit must not be negative", c.Name)
	}
	if c.Where == "" {
		return nil
	}
	keyRef := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(c.KeyColumn) + `\b`)
	if keyRef.MatchString(c.Where) {
		return fmt.Errorf("keyset reader '%s': predicate must not reference key column %s", c.Name, c.KeyColumn)
	}
	if pagingPattern.MatchString(c.Where) {
		return fmt.Errorf("keyset reader '%s': predicate must not contain ORDER BY, LIMIT or OFFSET", c.Name)
	}
	return nil
}

// Reader is a port.ItemReader that scans a table by ascending key. T is a GORM model
// of the table's rows.
type Reader[T any] struct {
	db      *gorm.DB
	cfg     Config
	keyOf   func(T) int64
	limiter *rate.Limiter

	lastKey   int64
	exhausted bool
	buf       []T
	pages     int
}

// NewReader validates cfg and creates a Reader. keyOf returns the key column's value of a row.
func NewReader[T any](db *gorm.DB, cfg Config, keyOf func(T) int64) (*Reader[T], error) {
	if db == nil || keyOf == nil {
		return nil, exception.NewBatchError("reader", "keyset reader requires a database and a key function", nil, false, false)
	}
	if err := cfg.Validate(); err != nil {
		return nil, exception.NewBatchError("reader", "invalid keyset reader configuration", err, false, false)
	}
	r := &Reader[T]{db: db, cfg: cfg, keyOf: keyOf}
	if cfg.RateLimit > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return r, nil
}

func (r *Reader[T]) lastKeyName() string   { return r.cfg.Name + ".lastKey" }
func (r *Reader[T]) exhaustedName() string { return r.cfg.Name + ".exhausted" }

func (r *Reader[T]) scope(ctx context.Context) *gorm.DB {
	q := r.db.WithContext(ctx).Table(r.cfg.Table)
	if r.cfg.Where != "" {
		q = q.Where("("+r.cfg.Where+")", r.cfg.Args...)
	}
	return q
}

// Open implements port.ItemReader. A checkpoint written by this reader is restored
// verbatim; otherwise the start boundary is found with MIN over the predicate.
func (r *Reader[T]) Open(ctx context.Context, checkpoint model.ExecutionContext) error {
	r.buf = nil
	r.pages = 0
	if lastKey, ok := checkpoint.GetInt64(r.lastKeyName()); ok {
		r.lastKey = lastKey
		r.exhausted, _ = checkpoint.GetBool(r.exhaustedName())
		logger.Infof("KeysetReader '%s': Resuming after key %d (exhausted=%t).", r.cfg.Name, r.lastKey, r.exhausted)
		return nil
	}

	var minKey sql.NullInt64
	err := r.scope(ctx).Select(fmt.Sprintf("MIN(%s)", r.cfg.KeyColumn)).Row().Scan(&minKey)
	if err != nil {
		return exception.NewBatchError("reader", fmt.Sprintf("KeysetReader '%s': failed to query start boundary", r.cfg.Name), err, false, false)
	}
	if !minKey.Valid {
		r.exhausted = true
		logger.Infof("KeysetReader '%s': No rows match. Nothing to read.", r.cfg.Name)
		return nil
	}
	r.lastKey = minKey.Int64 - 1
	r.exhausted = false
	logger.Infof("KeysetReader '%s': Starting new scan of %s from key %d.", r.cfg.Name, r.cfg.Table, minKey.Int64)
	return nil
}

// Read implements port.ItemReader. A page shorter than PageSize is taken as the
// end of the scan: Read returns io.EOF once it is drained without querying again,
// so rows inserted behind the last key during the scan are not read. A failed
// fetch leaves the position unchanged and may be retried with another Read.
func (r *Reader[T]) Read(ctx context.Context) (T, error) {
	var zero T
	if len(r.buf) == 0 {
		if r.exhausted {
			return zero, io.EOF
		}
		if err := r.fetchPage(ctx); err != nil {
			return zero, err
		}
		if len(r.buf) == 0 {
			return zero, io.EOF
		}
	}
	item := r.buf[0]
	r.buf = r.buf[1:]
	r.lastKey = r.keyOf(item)
	return item, nil
}

func (r *Reader[T]) fetchPage(ctx context.Context) error {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return exception.NewBatchError("reader", fmt.Sprintf("KeysetReader '%s': throttle wait failed", r.cfg.Name), err, false, false)
		}
	}
	var page []T
	err := r.scope(ctx).
		Where(fmt.Sprintf("%s > ?", r.cfg.KeyColumn), r.lastKey).
		Order(fmt.Sprintf("%s ASC", r.cfg.KeyColumn)).
		Limit(r.cfg.PageSize).
		Find(&page).Error
	if err != nil {
		return exception.NewBatchError("reader", fmt.Sprintf("KeysetReader '%s': failed to fetch page after key %d", r.cfg.Name, r.lastKey), err, false, true)
	}
	r.pages++
	// A short page is the last one; an empty page means the previous page was full
	// and ended exactly at the last row.
	if len(page) < r.cfg.PageSize {
		r.exhausted = true
	}
	r.buf = page
	logger.Debugf("KeysetReader '%s': Fetched page %d with %d rows after key %d.", r.cfg.Name, r.pages, len(page), r.lastKey)
	return nil
}

// Checkpoint implements port.ItemReader. lastKey is the key of the last row returned
// by Read, so rows still buffered are read again after a restart.
func (r *Reader[T]) Checkpoint() (model.ExecutionContext, error) {
	ec := model.NewExecutionContext()
	ec.Put(r.lastKeyName(), r.lastKey)
	ec.Put(r.exhaustedName(), r.exhausted && len(r.buf) == 0)
	return ec, nil
}

// Close implements port.ItemReader.
func (r *Reader[T]) Close(context.Context) error {
	r.buf = nil
	logger.Debugf("KeysetReader '%s': Closed after %d pages.", r.cfg.Name, r.pages)
	return nil
}

// Pages returns the number of page queries issued since Open.
func (r *Reader[T]) Pages() int {
	return r.pages
}

var _ port.ItemReader[any] = (*Reader[any])(nil)
