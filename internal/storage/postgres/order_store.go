package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const uniqueViolationCode = "23505"

type orderStore struct {
	*Store
}

// NewOrderStore создаёт PostgreSQL-реализацию OrderStore. Документ заказа хранится
// в JSONB, а поля для поиска продублированы в колонках.
func NewOrderStore(store *Store) domain.OrderStore {
	return &orderStore{Store: store}
}

func (s *orderStore) Create(ctx context.Context, order domain.Order) (string, error) {
	id := uuid.NewString()
	order.ID = ""

	doc, err := json.Marshal(order)
	if err != nil {
		return "", fmt.Errorf("encode order document: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (id, reference, status, payment_status, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, order.Reference, string(order.Status), string(order.PaymentStatus), doc, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return "", domain.ErrDuplicateReference
		}
		return "", fmt.Errorf("insert order: %w", err)
	}
	return id, nil
}

func (s *orderStore) FindOne(ctx context.Context, filter domain.OrderFilter) (domain.Order, error) {
	where, args, ok := buildWhere(filter)
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, doc FROM orders`+where+` ORDER BY created_at ASC, id ASC LIMIT 1`, args...)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("find order: %w", err)
	}
	return order, nil
}

func (s *orderStore) UpdateStatus(ctx context.Context, id string, patch domain.StatusPatch, now time.Time) (before, after domain.Order, err error) {
	if _, parseErr := uuid.Parse(id); parseErr != nil {
		return domain.Order{}, domain.Order{}, domain.ErrOrderNotFound
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, domain.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	before, err = scanOrder(tx.QueryRowContext(ctx, `SELECT id, doc FROM orders WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		err = domain.ErrOrderNotFound
		return domain.Order{}, domain.Order{}, err
	}
	if err != nil {
		err = fmt.Errorf("load order for update: %w", err)
		return domain.Order{}, domain.Order{}, err
	}

	after = before
	patch.Apply(&after, now)
	stored := after
	stored.ID = ""

	doc, err := json.Marshal(stored)
	if err != nil {
		err = fmt.Errorf("encode order document: %w", err)
		return domain.Order{}, domain.Order{}, err
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, payment_status = $3, doc = $4, updated_at = $5
		WHERE id = $1
	`, id, string(after.Status), string(after.PaymentStatus), doc, after.UpdatedAt); err != nil {
		err = fmt.Errorf("update order status: %w", err)
		return domain.Order{}, domain.Order{}, err
	}

	if err = tx.Commit(); err != nil {
		err = fmt.Errorf("commit order status: %w", err)
		return domain.Order{}, domain.Order{}, err
	}
	return before, after, nil
}

func (s *orderStore) Count(ctx context.Context, filter domain.OrderFilter) (int64, error) {
	where, args, ok := buildWhere(filter)
	if !ok {
		return 0, nil
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		id  string
		doc []byte
	)
	if err := row.Scan(&id, &doc); err != nil {
		return domain.Order{}, err
	}

	var order domain.Order
	if err := json.Unmarshal(doc, &order); err != nil {
		return domain.Order{}, fmt.Errorf("decode order document %s: %w", id, err)
	}
	order.ID = id
	return order, nil
}

// buildWhere строит условие по фильтру. ok=false означает, что фильтр заведомо
// ничего не найдёт (например, ID не является UUID).
func buildWhere(filter domain.OrderFilter) (string, []any, bool) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.ID != "" {
		if _, err := uuid.Parse(filter.ID); err != nil {
			return "", nil, false
		}
		add("id = $%d", filter.ID)
	}
	if filter.Reference != "" {
		add("lower(reference) = lower($%d)", filter.Reference)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.PaymentStatus != "" {
		add("payment_status = $%d", string(filter.PaymentStatus))
	}

	if len(conds) == 0 {
		return "", nil, true
	}
	return " WHERE " + strings.Join(conds, " AND "), args, true
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

var _ domain.OrderStore = (*orderStore)(nil)
