// Package postgres provides PostgreSQL storage for group sessions,
// memberships and line items.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/txn2/groupcart/pkg/catalog"
	"github.com/txn2/groupcart/pkg/database"
	"github.com/txn2/groupcart/pkg/group"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const joinTokenConstraint = "group_sessions_join_token_key"

var sessionColumns = []string{
	"id", "name", "leader_id", "scheduled_at", "join_token",
	"status", "mode", "created_at", "updated_at",
}

var itemColumns = []string{
	"id", "session_id", "user_id", "variant_id", "quantity",
	"reserved_quantity", "price_snapshot", "label_snapshot", "added_at", "is_active",
}

const (
	insertSessionQuery = `INSERT INTO group_sessions
		(id, name, leader_id, scheduled_at, join_token, status, mode, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	insertMemberQuery = `INSERT INTO group_members (session_id, user_id, joined_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id, user_id) DO NOTHING`

	memberQuery = `SELECT session_id, user_id, joined_at, left_at FROM group_members
		WHERE session_id = $1 AND user_id = $2`

	membersQuery = `SELECT session_id, user_id, joined_at, left_at FROM group_members
		WHERE session_id = $1 ORDER BY joined_at, user_id`

	lockMemberQuery = `SELECT 1 FROM group_members
		WHERE session_id = $1 AND user_id = $2 FOR UPDATE`

	upsertItemQuery = `INSERT INTO group_member_items
		(id, session_id, user_id, variant_id, quantity, reserved_quantity,
		 price_snapshot, label_snapshot, added_at, is_active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (session_id, user_id, variant_id) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			reserved_quantity = EXCLUDED.reserved_quantity,
			price_snapshot = EXCLUDED.price_snapshot,
			label_snapshot = EXCLUDED.label_snapshot,
			added_at = EXCLUDED.added_at,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()`

	lockSessionQuery  = `SELECT id FROM group_sessions WHERE id = $1 FOR UPDATE`
	lockMembersQuery  = `SELECT user_id FROM group_members WHERE session_id = $1 FOR UPDATE`
	holdsQuery        = `SELECT variant_id, SUM(reserved_quantity) FROM group_member_items WHERE session_id = $1 AND is_active GROUP BY variant_id`
	deleteItemsQuery  = `DELETE FROM group_member_items WHERE session_id = $1`
	deleteMembers     = `DELETE FROM group_members WHERE session_id = $1`
	deleteSessionStmt = `DELETE FROM group_sessions WHERE id = $1`
)

// Store implements group.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL group store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateSession inserts the session and its leader membership in one
// transaction.
func (s *Store) CreateSession(ctx context.Context, sess *group.Session, leader *group.Member) error {
	return database.WithTx(ctx, s.db, func(ctx context.Context) error {
		q := database.Conn(ctx, s.db)
		_, err := q.ExecContext(ctx, insertSessionQuery,
			string(sess.ID), sess.Name, string(sess.LeaderID), sess.ScheduledAt, sess.JoinToken,
			string(sess.Status), string(sess.Mode), sess.CreatedAt, sess.UpdatedAt,
		)
		if database.IsUniqueViolation(err, joinTokenConstraint) {
			return group.ErrTokenTaken
		}
		if err != nil {
			return fmt.Errorf("inserting session: %w", err)
		}

		if _, err := q.ExecContext(ctx, insertMemberQuery,
			string(leader.SessionID), string(leader.UserID), leader.JoinedAt); err != nil {
			return fmt.Errorf("inserting leader membership: %w", err)
		}
		return nil
	})
}

// SessionByID returns the session with the given id.
func (s *Store) SessionByID(ctx context.Context, id group.SessionID) (*group.Session, error) {
	return s.session(ctx, sq.Eq{"id": string(id)})
}

// SessionByToken returns the session owning token.
func (s *Store) SessionByToken(ctx context.Context, token string) (*group.Session, error) {
	return s.session(ctx, sq.Eq{"join_token": token})
}

func (s *Store) session(ctx context.Context, where sq.Eq) (*group.Session, error) {
	query, args, err := psq.Select(sessionColumns...).From("group_sessions").Where(where).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building session query: %w", err)
	}

	var (
		sess         group.Session
		status, mode string
	)
	err = database.Conn(ctx, s.db).QueryRowContext(ctx, query, args...).Scan(
		&sess.ID, &sess.Name, &sess.LeaderID, &sess.ScheduledAt, &sess.JoinToken,
		&status, &mode, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, group.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	if sess.Status, err = group.ParseStatus(status); err != nil {
		return nil, fmt.Errorf("session %s: %w", sess.ID, err)
	}
	if sess.Mode, err = group.ParseMode(mode); err != nil {
		return nil, fmt.Errorf("session %s: %w", sess.ID, err)
	}
	return &sess, nil
}

// AddMember inserts a membership. The primary key rejects duplicates.
func (s *Store) AddMember(ctx context.Context, m *group.Member) error {
	res, err := database.Conn(ctx, s.db).ExecContext(ctx, insertMemberQuery,
		string(m.SessionID), string(m.UserID), m.JoinedAt)
	if database.IsForeignKeyViolation(err) {
		return group.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("inserting membership: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return group.ErrAlreadyMember
	}
	return nil
}

// Member returns one membership.
func (s *Store) Member(ctx context.Context, sessionID group.SessionID, userID group.UserID) (*group.Member, error) {
	m, err := scanMember(database.Conn(ctx, s.db).QueryRowContext(ctx, memberQuery, string(sessionID), string(userID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, group.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying membership: %w", err)
	}
	return m, nil
}

// Members lists a session's memberships in join order.
func (s *Store) Members(ctx context.Context, sessionID group.SessionID) ([]group.Member, error) {
	rows, err := database.Conn(ctx, s.db).QueryContext(ctx, membersQuery, string(sessionID))
	if err != nil {
		return nil, fmt.Errorf("querying memberships: %w", err)
	}
	defer func() { _ = rows.Close() }()

	members := []group.Member{}
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning membership: %w", err)
		}
		members = append(members, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating memberships: %w", err)
	}
	return members, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMember(row scanner) (*group.Member, error) {
	var (
		m      group.Member
		leftAt sql.NullTime
	)
	if err := row.Scan(&m.SessionID, &m.UserID, &m.JoinedAt, &leftAt); err != nil {
		return nil, err
	}
	if leftAt.Valid {
		t := leftAt.Time
		m.LeftAt = &t
	}
	return &m, nil
}

// ApplyItem locks the membership row, reads the current line, lets mutate
// compute the next one (its ledger calls join the transaction) and upserts
// the result, all in one transaction.
func (s *Store) ApplyItem(ctx context.Context, key group.ItemKey, mutate group.ItemMutator) (*group.LineItem, error) {
	var result *group.LineItem
	err := database.WithTx(ctx, s.db, func(ctx context.Context) error {
		q := database.Conn(ctx, s.db)

		var one int
		err := q.QueryRowContext(ctx, lockMemberQuery, string(key.SessionID), string(key.UserID)).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return group.ErrNotMember
		}
		if err != nil {
			return fmt.Errorf("locking membership: %w", err)
		}

		prev, err := s.item(ctx, q, key)
		if err != nil {
			return err
		}

		next, err := mutate(ctx, prev)
		if err != nil {
			return err
		}

		if _, err := q.ExecContext(ctx, upsertItemQuery,
			next.ID, string(next.SessionID), string(next.UserID), string(next.VariantID),
			next.Quantity, next.ReservedQuantity, next.PriceSnapshot, next.LabelSnapshot,
			next.AddedAt, next.IsActive,
		); err != nil {
			return fmt.Errorf("upserting line item: %w", err)
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (*Store) item(ctx context.Context, q database.Querier, key group.ItemKey) (*group.LineItem, error) {
	query, args, err := psq.Select(itemColumns...).From("group_member_items").
		Where(sq.Eq{
			"session_id": string(key.SessionID),
			"user_id":    string(key.UserID),
			"variant_id": string(key.VariantID),
		}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building item query: %w", err)
	}

	it, err := scanItem(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying line item: %w", err)
	}
	return it, nil
}

// Items lists the session's active line items, newest first.
func (s *Store) Items(ctx context.Context, sessionID group.SessionID) ([]group.LineItem, error) {
	query, args, err := psq.Select(itemColumns...).From("group_member_items").
		Where(sq.Eq{"session_id": string(sessionID)}).
		Where("is_active").
		OrderBy("added_at DESC", "id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building items query: %w", err)
	}

	rows, err := database.Conn(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying line items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items := []group.LineItem{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning line item: %w", err)
		}
		items = append(items, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating line items: %w", err)
	}
	return items, nil
}

func scanItem(row scanner) (*group.LineItem, error) {
	var it group.LineItem
	err := row.Scan(&it.ID, &it.SessionID, &it.UserID, &it.VariantID, &it.Quantity,
		&it.ReservedQuantity, &it.PriceSnapshot, &it.LabelSnapshot, &it.AddedAt, &it.IsActive)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

// DeleteSession locks the session and its memberships so no item write can
// interleave, hands the held units to release, and deletes children first.
func (s *Store) DeleteSession(ctx context.Context, id group.SessionID, release group.HoldReleaser) error {
	return database.WithTx(ctx, s.db, func(ctx context.Context) error {
		q := database.Conn(ctx, s.db)

		var locked string
		err := q.QueryRowContext(ctx, lockSessionQuery, string(id)).Scan(&locked)
		if errors.Is(err, sql.ErrNoRows) {
			return group.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("locking session: %w", err)
		}
		if _, err := q.ExecContext(ctx, lockMembersQuery, string(id)); err != nil {
			return fmt.Errorf("locking memberships: %w", err)
		}

		holds, err := s.holds(ctx, q, id)
		if err != nil {
			return err
		}
		if release != nil {
			if err := release(ctx, holds); err != nil {
				return err
			}
		}

		for _, stmt := range []struct{ sql, what string }{
			{deleteItemsQuery, "line items"},
			{deleteMembers, "memberships"},
			{deleteSessionStmt, "session"},
		} {
			if _, err := q.ExecContext(ctx, stmt.sql, string(id)); err != nil {
				return fmt.Errorf("deleting %s: %w", stmt.what, err)
			}
		}
		return nil
	})
}

func (*Store) holds(ctx context.Context, q database.Querier, id group.SessionID) (map[catalog.VariantID]int, error) {
	rows, err := q.QueryContext(ctx, holdsQuery, string(id))
	if err != nil {
		return nil, fmt.Errorf("querying held stock: %w", err)
	}
	defer func() { _ = rows.Close() }()

	holds := map[catalog.VariantID]int{}
	for rows.Next() {
		var (
			variant catalog.VariantID
			units   int
		)
		if err := rows.Scan(&variant, &units); err != nil {
			return nil, fmt.Errorf("scanning held stock: %w", err)
		}
		holds[variant] = units
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating held stock: %w", err)
	}
	return holds, nil
}

// Verify interface compliance.
var _ group.Store = (*Store)(nil)
