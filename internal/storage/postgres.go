package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/user/medprice/internal/domain"
)

// PostgresStore handles interactions with the PostgreSQL database.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.db.Close()
}

const productColumns = `id, name, generic_name, COALESCE(brand_name, ''), specification,
	manufacturer, category, COALESCE(regulatory_code, ''), full_key, simple_key, created_at, updated_at`

func scanProduct(row pgx.Row) (*domain.CanonicalProduct, error) {
	var p domain.CanonicalProduct
	err := row.Scan(&p.ID, &p.Name, &p.GenericName, &p.BrandName, &p.Specification,
		&p.Manufacturer, &p.Category, &p.RegulatoryCode, &p.FullKey, &p.SimpleKey,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) ProductByFullKey(ctx context.Context, fullKey string) (*domain.CanonicalProduct, error) {
	return scanProduct(s.db.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE full_key = $1`, fullKey))
}

func (s *PostgresStore) ProductByNameSpec(ctx context.Context, name, spec string) (*domain.CanonicalProduct, error) {
	return scanProduct(s.db.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE name = $1 AND specification = $2
		 ORDER BY id LIMIT 1`, name, spec))
}

func (s *PostgresStore) ProductByID(ctx context.Context, id int64) (*domain.CanonicalProduct, error) {
	return scanProduct(s.db.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

func (s *PostgresStore) ProductsBySimpleKey(ctx context.Context, simpleKey string) ([]domain.CanonicalProduct, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+productColumns+` FROM products WHERE simple_key = $1 ORDER BY id`, simpleKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProducts(rows)
}

func (s *PostgresStore) SearchProducts(ctx context.Context, keyword string, limit int) ([]domain.CanonicalProduct, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+productColumns+` FROM products
		 WHERE name LIKE '%' || $1 || '%' OR generic_name LIKE '%' || $1 || '%'
		 ORDER BY updated_at DESC LIMIT $2`, keyword, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProducts(rows)
}

func collectProducts(rows pgx.Rows) ([]domain.CanonicalProduct, error) {
	var products []domain.CanonicalProduct
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

func (s *PostgresStore) CreateProduct(ctx context.Context, p *domain.CanonicalProduct) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx,
		`INSERT INTO products (name, generic_name, brand_name, specification, manufacturer,
		   category, regulatory_code, full_key, simple_key, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		 ON CONFLICT (full_key) DO UPDATE SET updated_at = NOW()
		 RETURNING id`,
		p.Name, p.GenericName, nullable(p.BrandName), p.Specification, p.Manufacturer,
		p.Category, nullable(p.RegulatoryCode), p.FullKey, p.SimpleKey,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// BackfillClassification fills category/regulatory code only where missing:
// category is overwritten only while it still holds the low-confidence
// default, and the regulatory code only when previously unset.
func (s *PostgresStore) BackfillClassification(ctx context.Context, id int64, category domain.ProductCategory, regulatoryCode string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE products SET
		   category = CASE WHEN category = 'drug' AND $2 <> '' THEN $2 ELSE category END,
		   regulatory_code = CASE WHEN regulatory_code IS NULL AND $3 <> '' THEN $3 ELSE regulatory_code END,
		   updated_at = NOW()
		 WHERE id = $1`, id, string(category), regulatoryCode)
	return err
}

func (s *PostgresStore) AppendObservation(ctx context.Context, o *domain.PriceObservation) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`INSERT INTO price_observations (product_id, price, source_name, source_ref, observed_at, outlier_flag)
		 VALUES ($1, $2, $3, $4, $5, 'none')
		 ON CONFLICT (product_id, source_name, price) DO NOTHING`,
		o.ProductID, o.Price.StringFixed(2), o.SourceName, o.SourceRef, o.ObservedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ObservationsByProduct(ctx context.Context, productID int64) ([]domain.PriceObservation, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, product_id, price::text, source_name, COALESCE(source_ref, ''),
		   observed_at, outlier_flag, COALESCE(outlier_reason, '')
		 FROM price_observations WHERE product_id = $1 ORDER BY observed_at, id`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var obs []domain.PriceObservation
	for rows.Next() {
		var o domain.PriceObservation
		var priceText string
		if err := rows.Scan(&o.ID, &o.ProductID, &priceText, &o.SourceName, &o.SourceRef,
			&o.ObservedAt, &o.OutlierFlag, &o.OutlierReason); err != nil {
			return nil, err
		}
		o.Price, err = decimal.NewFromString(priceText)
		if err != nil {
			return nil, fmt.Errorf("storage: corrupt price for observation %d: %w", o.ID, err)
		}
		obs = append(obs, o)
	}
	return obs, rows.Err()
}

func (s *PostgresStore) SetObservationOutlier(ctx context.Context, id int64, flag domain.OutlierFlag, reason string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE price_observations SET outlier_flag = $2, outlier_reason = $3 WHERE id = $1`,
		id, flag, reason)
	return err
}

func (s *PostgresStore) CreateTask(ctx context.Context, t *domain.AcquisitionTask) (int64, error) {
	keywords, err := json.Marshal(t.Keywords)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.QueryRow(ctx,
		`INSERT INTO tasks (name, keywords, status, total_keywords, created_at)
		 VALUES ($1, $2, $3, $4, NOW()) RETURNING id`,
		t.Name, keywords, domain.TaskPending, len(t.Keywords),
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *PostgresStore) TaskByID(ctx context.Context, id int64) (*domain.AcquisitionTask, error) {
	return scanTask(s.db.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
}

const taskColumns = `id, name, keywords, status, total_keywords, completed_keywords,
	total_found, COALESCE(error, ''), created_at, started_at, completed_at`

func scanTask(row pgx.Row) (*domain.AcquisitionTask, error) {
	var t domain.AcquisitionTask
	var keywords []byte
	err := row.Scan(&t.ID, &t.Name, &keywords, &t.Status, &t.TotalKeywords,
		&t.CompletedKeywords, &t.TotalFound, &t.Error, &t.CreatedAt, &t.StartedAt, &t.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(keywords, &t.Keywords); err != nil {
		return nil, fmt.Errorf("storage: corrupt keywords for task %d: %w", t.ID, err)
	}
	return &t, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, status domain.TaskStatus, limit int) ([]domain.AcquisitionTask, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.AcquisitionTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// TryStartTask is the idempotent start guard: the transition succeeds from
// PENDING or any retryable terminal state, never from RUNNING.
func (s *PostgresStore) TryStartTask(ctx context.Context, id int64) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE tasks SET status = $2, started_at = NOW(), completed_at = NULL,
		   completed_keywords = 0, total_found = 0, error = NULL
		 WHERE id = $1 AND status <> $2`, id, domain.TaskRunning)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RequestCancel is valid only from RUNNING; the owning worker observes the
// flag at the next keyword boundary.
func (s *PostgresStore) RequestCancel(ctx context.Context, id int64) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE tasks SET status = $2, completed_at = NOW()
		 WHERE id = $1 AND status = $3`, id, domain.TaskCancelled, domain.TaskRunning)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) UpdateTaskProgress(ctx context.Context, id int64, completedKeywords, totalFound int) error {
	_, err := s.db.Exec(ctx,
		`UPDATE tasks SET completed_keywords = $2, total_found = $3 WHERE id = $1`,
		id, completedKeywords, totalFound)
	return err
}

// FinishTask records a terminal status. It never overwrites CANCELLED: a
// cancellation observed mid-iteration wins over the worker's own outcome.
func (s *PostgresStore) FinishTask(ctx context.Context, id int64, status domain.TaskStatus, errMsg string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE tasks SET status = $2, error = NULLIF($3, ''), completed_at = NOW()
		 WHERE id = $1 AND status <> $4`, id, status, errMsg, domain.TaskCancelled)
	return err
}

func (s *PostgresStore) TaskStatistics(ctx context.Context) (*TaskStatistics, error) {
	var st TaskStatistics
	today := time.Now().Truncate(24 * time.Hour)
	err := s.db.QueryRow(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM tasks),
		   (SELECT COUNT(*) FROM tasks WHERE status = 'completed'),
		   (SELECT COALESCE(SUM(total_found), 0) FROM tasks),
		   (SELECT COUNT(*) FROM watch_list WHERE active),
		   (SELECT COUNT(*) FROM tasks WHERE created_at >= $1),
		   (SELECT COALESCE(SUM(total_found), 0) FROM tasks WHERE created_at >= $1)`,
		today,
	).Scan(&st.TotalTasks, &st.CompletedTasks, &st.TotalFound,
		&st.WatchListCount, &st.TodayTasks, &st.TodayFound)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *PostgresStore) UpsertWatchEntry(ctx context.Context, keyword, category string, priority int) (*domain.WatchListEntry, error) {
	var e domain.WatchListEntry
	err := s.db.QueryRow(ctx,
		`INSERT INTO watch_list (keyword, category, priority, active)
		 VALUES ($1, NULLIF($2, ''), $3, TRUE)
		 ON CONFLICT (keyword) DO UPDATE SET
		   active = TRUE,
		   category = COALESCE(NULLIF(EXCLUDED.category, ''), watch_list.category),
		   priority = EXCLUDED.priority
		 RETURNING id, keyword, COALESCE(category, ''), priority, active, last_crawled_at, crawl_count`,
		keyword, category, priority,
	).Scan(&e.ID, &e.Keyword, &e.Category, &e.Priority, &e.Active, &e.LastCrawledAt, &e.CrawlCount)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PostgresStore) DeactivateWatchEntry(ctx context.Context, id int64) (bool, error) {
	tag, err := s.db.Exec(ctx, `UPDATE watch_list SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListWatch(ctx context.Context, category string, activeOnly bool) ([]domain.WatchListEntry, error) {
	query := `SELECT id, keyword, COALESCE(category, ''), priority, active, last_crawled_at, crawl_count
	          FROM watch_list WHERE 1=1`
	args := []interface{}{}
	if activeOnly {
		query += ` AND active`
	}
	if category != "" {
		args = append(args, category)
		query += fmt.Sprintf(` AND category = $%d`, len(args))
	}
	query += ` ORDER BY priority DESC, keyword`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.WatchListEntry
	for rows.Next() {
		var e domain.WatchListEntry
		if err := rows.Scan(&e.ID, &e.Keyword, &e.Category, &e.Priority, &e.Active,
			&e.LastCrawledAt, &e.CrawlCount); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) WatchCategories(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT category FROM watch_list
		 WHERE category IS NOT NULL AND active ORDER BY category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (s *PostgresStore) TouchWatchEntry(ctx context.Context, keyword string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE watch_list SET last_crawled_at = NOW(), crawl_count = crawl_count + 1
		 WHERE keyword = $1`, keyword)
	return err
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
