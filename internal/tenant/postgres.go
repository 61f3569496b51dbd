package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerly/backend/internal/models"
)

const uniqueViolation = "23505"

// querier is the subset shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// scannable abstracts pgx.Row and pgx.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// Repository implements Store on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	db   querier
	inTx bool
}

// NewRepository creates a tenant repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, db: pool}
}

// InTx runs fn inside a transaction. Nested calls join the outer transaction.
func (r *Repository) InTx(ctx context.Context, fn func(Store) error) error {
	if r.inTx {
		return fn(r)
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&Repository{pool: r.pool, db: tx, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// LockWorkspace takes a transaction-scoped advisory lock keyed by the workspace id.
func (r *Repository) LockWorkspace(ctx context.Context, workspaceID uuid.UUID) error {
	if !r.inTx {
		return errors.New("lock workspace: must run inside a transaction")
	}
	if _, err := r.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, workspaceID); err != nil {
		return fmt.Errorf("lock workspace %s: %w", workspaceID, err)
	}
	return nil
}

// --- Workspaces ---

const workspaceColumns = `id, public_id, slug, name, logo, metadata, created_at`

func scanWorkspace(row scannable) (*models.Workspace, error) {
	var ws models.Workspace
	var metadata []byte
	if err := row.Scan(&ws.ID, &ws.PublicID, &ws.Slug, &ws.Name, &ws.Logo, &metadata, &ws.CreatedAt); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &ws.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &ws, nil
}

func encodeMetadata(m models.Metadata) ([]byte, error) {
	if m == nil {
		m = models.Metadata{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return b, nil
}

func (r *Repository) FindWorkspaceByID(ctx context.Context, id uuid.UUID) (*models.Workspace, error) {
	ws, err := scanWorkspace(r.db.QueryRow(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "find workspace %s", id)
	}
	return ws, nil
}

func (r *Repository) FindWorkspaceBySlug(ctx context.Context, slug string) (*models.Workspace, error) {
	ws, err := scanWorkspace(r.db.QueryRow(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE slug = $1`, slug))
	if err != nil {
		return nil, notFoundWrap(err, "find workspace by slug %q", slug)
	}
	return ws, nil
}

func (r *Repository) FindWorkspaceByPublicID(ctx context.Context, publicID string) (*models.Workspace, error) {
	ws, err := scanWorkspace(r.db.QueryRow(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE public_id = $1`, publicID))
	if err != nil {
		return nil, notFoundWrap(err, "find workspace by public id %q", publicID)
	}
	return ws, nil
}

// FindFullWorkspace loads a workspace with its invitations and its members joined
// to their users. A member whose user row is missing yields ErrIntegrity.
func (r *Repository) FindFullWorkspace(ctx context.Context, id uuid.UUID) (*models.FullWorkspace, error) {
	ws, err := r.FindWorkspaceByID(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, `SELECT m.id, m.workspace_id, m.user_id, m.role, m.created_at,
			u.id, COALESCE(u.name, ''), COALESCE(u.email, ''), u.image
		FROM members m
		LEFT JOIN users u ON u.id = m.user_id
		WHERE m.workspace_id = $1
		ORDER BY m.created_at ASC`, ws.ID)
	if err != nil {
		return nil, fmt.Errorf("list members of %s: %w", ws.ID, err)
	}
	defer rows.Close()

	full := &models.FullWorkspace{Workspace: *ws, Members: []models.MemberWithUser{}}
	for rows.Next() {
		var m models.MemberWithUser
		var userID *uuid.UUID
		if err := rows.Scan(&m.ID, &m.WorkspaceID, &m.UserID, &m.Role, &m.CreatedAt,
			&userID, &m.User.Name, &m.User.Email, &m.User.Image); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		if userID == nil {
			return nil, fmt.Errorf("member %s references missing user %s: %w", m.ID, m.UserID, ErrIntegrity)
		}
		m.User.ID = *userID
		full.Members = append(full.Members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list members of %s: %w", ws.ID, err)
	}

	invitations, err := r.ListInvitations(ctx, ws.ID)
	if err != nil {
		return nil, err
	}
	full.Invitations = invitations
	return full, nil
}

func (r *Repository) ListWorkspaces(ctx context.Context, userID uuid.UUID) ([]models.Workspace, error) {
	rows, err := r.db.Query(ctx, `SELECT w.id, w.public_id, w.slug, w.name, w.logo, w.metadata, w.created_at
		FROM workspaces w
		INNER JOIN members m ON m.workspace_id = w.id
		WHERE m.user_id = $1
		ORDER BY w.created_at ASC, w.id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list workspaces for %s: %w", userID, err)
	}
	defer rows.Close()

	list := []models.Workspace{}
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		list = append(list, *ws)
	}
	return list, rows.Err()
}

// CreateWorkspace inserts the workspace and its creator member in one transaction.
func (r *Repository) CreateWorkspace(ctx context.Context, ws *models.Workspace, creator *models.Member) error {
	if ws.ID == uuid.Nil {
		ws.ID = uuid.New()
	}
	metadata, err := encodeMetadata(ws.Metadata)
	if err != nil {
		return err
	}
	return r.InTx(ctx, func(s Store) error {
		tx := s.(*Repository)
		err := tx.db.QueryRow(ctx, `INSERT INTO workspaces (id, public_id, slug, name, logo, metadata)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING created_at`,
			ws.ID, ws.PublicID, ws.Slug, ws.Name, ws.Logo, metadata).Scan(&ws.CreatedAt)
		if err != nil {
			return conflictWrap(err, "create workspace %q", ws.Slug)
		}
		creator.WorkspaceID = ws.ID
		return tx.CreateMember(ctx, creator)
	})
}

func (r *Repository) UpdateWorkspace(ctx context.Context, ws *models.Workspace) error {
	metadata, err := encodeMetadata(ws.Metadata)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `UPDATE workspaces SET slug = $2, name = $3, logo = $4, metadata = $5
		WHERE id = $1`,
		ws.ID, ws.Slug, ws.Name, ws.Logo, metadata)
	if err != nil {
		return conflictWrap(err, "update workspace %s", ws.ID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update workspace %s: %w", ws.ID, ErrNotFound)
	}
	return nil
}

// DeleteWorkspace removes the workspace. Members and invitations go with it through
// ON DELETE CASCADE and session pointers through ON DELETE SET NULL, all in one statement.
func (r *Repository) DeleteWorkspace(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM workspaces WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete workspace %s", id)
}

// --- Members ---

const memberColumns = `id, workspace_id, user_id, role, created_at`

func scanMember(row scannable) (*models.Member, error) {
	var m models.Member
	if err := row.Scan(&m.ID, &m.WorkspaceID, &m.UserID, &m.Role, &m.CreatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *Repository) FindMemberByID(ctx context.Context, id uuid.UUID) (*models.Member, error) {
	m, err := scanMember(r.db.QueryRow(ctx, `SELECT `+memberColumns+` FROM members WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "find member %s", id)
	}
	return m, nil
}

func (r *Repository) FindMemberByEmail(ctx context.Context, email string, workspaceID uuid.UUID) (*models.Member, error) {
	m, err := scanMember(r.db.QueryRow(ctx, `SELECT m.id, m.workspace_id, m.user_id, m.role, m.created_at
		FROM members m
		INNER JOIN users u ON u.id = m.user_id
		WHERE u.email = $1 AND m.workspace_id = $2`, email, workspaceID))
	if err != nil {
		return nil, notFoundWrap(err, "find member by email in %s", workspaceID)
	}
	return m, nil
}

func (r *Repository) FindMemberByWorkspaceID(ctx context.Context, userID, workspaceID uuid.UUID) (*models.Member, error) {
	m, err := scanMember(r.db.QueryRow(ctx, `SELECT `+memberColumns+` FROM members
		WHERE user_id = $1 AND workspace_id = $2`, userID, workspaceID))
	if err != nil {
		return nil, notFoundWrap(err, "find member %s in %s", userID, workspaceID)
	}
	return m, nil
}

// FindMemberByUserID returns the user's oldest membership.
func (r *Repository) FindMemberByUserID(ctx context.Context, userID uuid.UUID) (*models.Member, error) {
	m, err := scanMember(r.db.QueryRow(ctx, `SELECT `+memberColumns+` FROM members
		WHERE user_id = $1 ORDER BY created_at ASC LIMIT 1`, userID))
	if err != nil {
		return nil, notFoundWrap(err, "find member for user %s", userID)
	}
	return m, nil
}

func (r *Repository) ListMembers(ctx context.Context, workspaceID uuid.UUID) ([]models.MemberWithUser, error) {
	rows, err := r.db.Query(ctx, `SELECT m.id, m.workspace_id, m.user_id, m.role, m.created_at,
			u.id, u.name, u.email, u.image
		FROM members m
		INNER JOIN users u ON u.id = m.user_id
		WHERE m.workspace_id = $1
		ORDER BY m.created_at ASC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list members of %s: %w", workspaceID, err)
	}
	defer rows.Close()

	list := []models.MemberWithUser{}
	for rows.Next() {
		var m models.MemberWithUser
		if err := rows.Scan(&m.ID, &m.WorkspaceID, &m.UserID, &m.Role, &m.CreatedAt,
			&m.User.ID, &m.User.Name, &m.User.Email, &m.User.Image); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

func (r *Repository) CountMembers(ctx context.Context, workspaceID uuid.UUID) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM members WHERE workspace_id = $1`, workspaceID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count members of %s: %w", workspaceID, err)
	}
	return n, nil
}

func (r *Repository) CreateMember(ctx context.Context, m *models.Member) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	err := r.db.QueryRow(ctx, `INSERT INTO members (id, workspace_id, user_id, role)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		m.ID, m.WorkspaceID, m.UserID, m.Role).Scan(&m.CreatedAt)
	if err != nil {
		return conflictWrap(err, "create member %s in %s", m.UserID, m.WorkspaceID)
	}
	return nil
}

func (r *Repository) UpdateMember(ctx context.Context, id uuid.UUID, role string) (*models.Member, error) {
	m, err := scanMember(r.db.QueryRow(ctx, `UPDATE members SET role = $2 WHERE id = $1
		RETURNING `+memberColumns, id, role))
	if err != nil {
		return nil, notFoundWrap(err, "update member %s", id)
	}
	return m, nil
}

func (r *Repository) DeleteMember(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM members WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete member %s", id)
}

// --- Invitations ---

const invitationColumns = `id, workspace_id, email, role, status, inviter_id, expires_at, created_at`

func scanInvitation(row scannable) (*models.Invitation, error) {
	var inv models.Invitation
	var status string
	if err := row.Scan(&inv.ID, &inv.WorkspaceID, &inv.Email, &inv.Role, &status,
		&inv.InviterID, &inv.ExpiresAt, &inv.CreatedAt); err != nil {
		return nil, err
	}
	inv.Status = models.InvitationStatus(status)
	return &inv, nil
}

func (r *Repository) queryInvitations(ctx context.Context, q string, args ...any) ([]models.Invitation, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []models.Invitation{}
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invitation: %w", err)
		}
		list = append(list, *inv)
	}
	return list, rows.Err()
}

func (r *Repository) CreateInvitation(ctx context.Context, inv *models.Invitation) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	err := r.db.QueryRow(ctx, `INSERT INTO invitations (id, workspace_id, email, role, status, inviter_id, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		inv.ID, inv.WorkspaceID, inv.Email, inv.Role, string(inv.Status), inv.InviterID, inv.ExpiresAt).
		Scan(&inv.CreatedAt)
	if err != nil {
		return conflictWrap(err, "create invitation for %s", inv.WorkspaceID)
	}
	return nil
}

func (r *Repository) FindInvitationByID(ctx context.Context, id uuid.UUID) (*models.Invitation, error) {
	inv, err := scanInvitation(r.db.QueryRow(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "find invitation %s", id)
	}
	return inv, nil
}

// FindPendingInvitation returns the newest pending invitation for email that has not expired at now.
func (r *Repository) FindPendingInvitation(ctx context.Context, email string, workspaceID uuid.UUID, now time.Time) (*models.Invitation, error) {
	inv, err := scanInvitation(r.db.QueryRow(ctx, `SELECT `+invitationColumns+` FROM invitations
		WHERE email = $1 AND workspace_id = $2 AND status = 'pending' AND expires_at > $3
		ORDER BY created_at DESC LIMIT 1`, email, workspaceID, now))
	if err != nil {
		return nil, notFoundWrap(err, "find pending invitation in %s", workspaceID)
	}
	return inv, nil
}

func (r *Repository) ListInvitations(ctx context.Context, workspaceID uuid.UUID) ([]models.Invitation, error) {
	list, err := r.queryInvitations(ctx, `SELECT `+invitationColumns+` FROM invitations
		WHERE workspace_id = $1 ORDER BY created_at ASC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list invitations of %s: %w", workspaceID, err)
	}
	return list, nil
}

func (r *Repository) ListPendingInvitationsByEmail(ctx context.Context, email string, now time.Time) ([]models.Invitation, error) {
	list, err := r.queryInvitations(ctx, `SELECT `+invitationColumns+` FROM invitations
		WHERE email = $1 AND status = 'pending' AND expires_at > $2
		ORDER BY created_at ASC`, email, now)
	if err != nil {
		return nil, fmt.Errorf("list invitations for email: %w", err)
	}
	return list, nil
}

func (r *Repository) CountPendingInvitations(ctx context.Context, workspaceID uuid.UUID, now time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM invitations
		WHERE workspace_id = $1 AND status = 'pending' AND expires_at > $2`, workspaceID, now).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count invitations of %s: %w", workspaceID, err)
	}
	return n, nil
}

// UpdateInvitationStatus is a compare-and-swap on the status column.
func (r *Repository) UpdateInvitationStatus(ctx context.Context, id uuid.UUID, from, to models.InvitationStatus) (*models.Invitation, error) {
	inv, err := scanInvitation(r.db.QueryRow(ctx, `UPDATE invitations SET status = $3
		WHERE id = $1 AND status = $2
		RETURNING `+invitationColumns, id, string(from), string(to)))
	if err == nil {
		return inv, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update invitation %s: %w", id, err)
	}
	if _, ferr := r.FindInvitationByID(ctx, id); ferr != nil {
		return nil, ferr
	}
	return nil, fmt.Errorf("update invitation %s from %s: %w", id, from, ErrConflict)
}

func (r *Repository) CancelPendingInvitations(ctx context.Context, email string, workspaceID uuid.UUID) (int, error) {
	tag, err := r.db.Exec(ctx, `UPDATE invitations SET status = 'canceled'
		WHERE email = $1 AND workspace_id = $2 AND status = 'pending'`, email, workspaceID)
	if err != nil {
		return 0, fmt.Errorf("cancel pending invitations in %s: %w", workspaceID, err)
	}
	return int(tag.RowsAffected()), nil
}

// --- Users ---

const userColumns = `id, email, name, image, created_at`

func scanUser(row scannable) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Image, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *Repository) FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "find user %s", id)
	}
	return u, nil
}

func (r *Repository) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err != nil {
		return nil, notFoundWrap(err, "find user by email")
	}
	return u, nil
}

func (r *Repository) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	err := r.db.QueryRow(ctx, `INSERT INTO users (id, email, name, image)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`, u.ID, u.Email, u.Name, u.Image).Scan(&u.CreatedAt)
	if err != nil {
		return conflictWrap(err, "create user")
	}
	return nil
}

// --- Sessions ---

func (r *Repository) CreateSession(ctx context.Context, s *models.Session) error {
	err := r.db.QueryRow(ctx, `INSERT INTO sessions (token, user_id, active_workspace_id, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`, s.Token, s.UserID, s.ActiveWorkspaceID, s.ExpiresAt).Scan(&s.CreatedAt)
	if err != nil {
		return conflictWrap(err, "create session")
	}
	return nil
}

func (r *Repository) FindSession(ctx context.Context, token string) (*models.Session, error) {
	var s models.Session
	err := r.db.QueryRow(ctx, `SELECT token, user_id, active_workspace_id, expires_at, created_at
		FROM sessions WHERE token = $1`, token).
		Scan(&s.Token, &s.UserID, &s.ActiveWorkspaceID, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "find session")
	}
	return &s, nil
}

func (r *Repository) SetActiveWorkspace(ctx context.Context, token string, workspaceID *uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE sessions SET active_workspace_id = $2 WHERE token = $1`, token, workspaceID)
	return execExpectOne(tag, err, "set active workspace")
}

func (r *Repository) ClearActiveWorkspace(ctx context.Context, userID, workspaceID uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `UPDATE sessions SET active_workspace_id = NULL
		WHERE user_id = $1 AND active_workspace_id = $2`, userID, workspaceID); err != nil {
		return fmt.Errorf("clear active workspace %s for %s: %w", workspaceID, userID, err)
	}
	return nil
}

// --- helpers ---

// notFoundWrap maps pgx.ErrNoRows to ErrNotFound and adds context.
func notFoundWrap(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", msg, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// conflictWrap maps unique violations to ErrConflict and adds context.
func conflictWrap(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", msg, ErrConflict)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// execExpectOne returns ErrNotFound when an Exec touched no rows.
func execExpectOne(tag pgconn.CommandTag, err error, format string, args ...any) error {
	if err != nil {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
	}
	return nil
}

var _ Store = (*Repository)(nil)
