// Package testutil provides an in-memory tenant store and fixtures for tests.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerly/backend/internal/models"
	"github.com/ledgerly/backend/internal/tenant"
)

type memState struct {
	users       []models.User
	workspaces  []models.Workspace
	members     []models.Member
	invitations []models.Invitation
	sessions    []models.Session
}

func (s *memState) clone() *memState {
	out := &memState{
		users:       append([]models.User(nil), s.users...),
		workspaces:  make([]models.Workspace, len(s.workspaces)),
		members:     append([]models.Member(nil), s.members...),
		invitations: append([]models.Invitation(nil), s.invitations...),
		sessions:    append([]models.Session(nil), s.sessions...),
	}
	for i, ws := range s.workspaces {
		out.workspaces[i] = copyWorkspace(ws)
	}
	return out
}

type memShared struct {
	txMu  sync.Mutex
	mu    sync.Mutex
	state *memState
	now   func() time.Time

	// FailNext, when set, is returned by the next mutating call and then cleared.
	failNext error
}

// MemoryStore is a tenant.Store backed by slices. Transactions are serialised and
// write to a private copy that replaces the shared state on commit, so readers
// outside a transaction only see committed rows. Writes outside a transaction wait
// for the running one. Foreign keys to workspaces cascade like the Postgres schema;
// members are not checked against users so integrity failures can be staged.
type MemoryStore struct {
	shared *memShared
	staged *memState
}

// NewMemoryStore creates an empty store whose timestamps come from now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{shared: &memShared{state: &memState{}, now: now}}
}

// FailNextWrite makes the next mutating call return err.
func (m *MemoryStore) FailNextWrite(err error) {
	m.shared.mu.Lock()
	defer m.shared.mu.Unlock()
	m.shared.failNext = err
}

func (m *MemoryStore) lock() func() {
	m.shared.mu.Lock()
	return m.shared.mu.Unlock
}

// lockWrite is lock for mutations. Outside a transaction it also takes txMu, making
// the write a transaction of its own.
func (m *MemoryStore) lockWrite() func() {
	if m.staged != nil {
		return m.lock()
	}
	m.shared.txMu.Lock()
	m.shared.mu.Lock()
	return func() {
		m.shared.mu.Unlock()
		m.shared.txMu.Unlock()
	}
}

// state returns the transaction's working copy, or the committed state.
// Callers hold mu.
func (m *MemoryStore) state() *memState {
	if m.staged != nil {
		return m.staged
	}
	return m.shared.state
}

// write must be called with mu held.
func (m *MemoryStore) write() error {
	if err := m.shared.failNext; err != nil {
		m.shared.failNext = nil
		return err
	}
	return nil
}

func (m *MemoryStore) InTx(_ context.Context, fn func(tenant.Store) error) error {
	if m.staged != nil {
		return fn(m)
	}
	m.shared.txMu.Lock()
	defer m.shared.txMu.Unlock()

	unlock := m.lock()
	tx := &MemoryStore{shared: m.shared, staged: m.shared.state.clone()}
	unlock()

	if err := fn(tx); err != nil {
		return err
	}
	unlock = m.lock()
	m.shared.state = tx.staged
	unlock()
	return nil
}

func (m *MemoryStore) LockWorkspace(_ context.Context, _ uuid.UUID) error {
	if m.staged == nil {
		return errors.New("lock workspace: must run inside a transaction")
	}
	return nil
}

// --- Workspaces ---

func copyWorkspace(ws models.Workspace) models.Workspace {
	ws.Metadata = ws.Metadata.Clone()
	if ws.Logo != nil {
		logo := *ws.Logo
		ws.Logo = &logo
	}
	return ws
}

func (m *MemoryStore) findWorkspace(match func(*models.Workspace) bool) (*models.Workspace, error) {
	defer m.lock()()
	for _, ws := range m.state().workspaces {
		if match(&ws) {
			out := copyWorkspace(ws)
			return &out, nil
		}
	}
	return nil, fmt.Errorf("find workspace: %w", tenant.ErrNotFound)
}

func (m *MemoryStore) FindWorkspaceByID(_ context.Context, id uuid.UUID) (*models.Workspace, error) {
	return m.findWorkspace(func(ws *models.Workspace) bool { return ws.ID == id })
}

func (m *MemoryStore) FindWorkspaceBySlug(_ context.Context, slug string) (*models.Workspace, error) {
	return m.findWorkspace(func(ws *models.Workspace) bool { return ws.Slug == slug })
}

func (m *MemoryStore) FindWorkspaceByPublicID(_ context.Context, publicID string) (*models.Workspace, error) {
	return m.findWorkspace(func(ws *models.Workspace) bool { return ws.PublicID == publicID })
}

func (m *MemoryStore) FindFullWorkspace(ctx context.Context, id uuid.UUID) (*models.FullWorkspace, error) {
	ws, err := m.FindWorkspaceByID(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock := m.lock()
	full := &models.FullWorkspace{Workspace: *ws, Members: []models.MemberWithUser{}}
	for _, mem := range m.state().members {
		if mem.WorkspaceID != ws.ID {
			continue
		}
		u := m.userLocked(mem.UserID)
		if u == nil {
			unlock()
			return nil, fmt.Errorf("member %s references missing user %s: %w", mem.ID, mem.UserID, tenant.ErrIntegrity)
		}
		full.Members = append(full.Members, models.MemberWithUser{Member: mem, User: u.Summary()})
	}
	unlock()

	full.Invitations, err = m.ListInvitations(ctx, ws.ID)
	if err != nil {
		return nil, err
	}
	return full, nil
}

func (m *MemoryStore) ListWorkspaces(_ context.Context, userID uuid.UUID) ([]models.Workspace, error) {
	defer m.lock()()
	list := []models.Workspace{}
	for _, ws := range m.state().workspaces {
		for _, mem := range m.state().members {
			if mem.WorkspaceID == ws.ID && mem.UserID == userID {
				list = append(list, copyWorkspace(ws))
				break
			}
		}
	}
	return list, nil
}

func (m *MemoryStore) CreateWorkspace(ctx context.Context, ws *models.Workspace, creator *models.Member) error {
	return m.InTx(ctx, func(s tenant.Store) error {
		tx := s.(*MemoryStore)
		unlock := tx.lock()
		if err := tx.write(); err != nil {
			unlock()
			return err
		}
		for _, existing := range tx.state().workspaces {
			if existing.Slug == ws.Slug || existing.PublicID == ws.PublicID {
				unlock()
				return fmt.Errorf("create workspace %q: %w", ws.Slug, tenant.ErrConflict)
			}
		}
		if ws.ID == uuid.Nil {
			ws.ID = uuid.New()
		}
		ws.CreatedAt = tx.shared.now()
		tx.state().workspaces = append(tx.state().workspaces, copyWorkspace(*ws))
		unlock()

		creator.WorkspaceID = ws.ID
		return tx.CreateMember(ctx, creator)
	})
}

func (m *MemoryStore) UpdateWorkspace(_ context.Context, ws *models.Workspace) error {
	defer m.lockWrite()()
	if err := m.write(); err != nil {
		return err
	}
	state := m.state()
	idx := -1
	for i, existing := range state.workspaces {
		if existing.ID == ws.ID {
			idx = i
			continue
		}
		if existing.Slug == ws.Slug {
			return fmt.Errorf("update workspace %s: %w", ws.ID, tenant.ErrConflict)
		}
	}
	if idx < 0 {
		return fmt.Errorf("update workspace %s: %w", ws.ID, tenant.ErrNotFound)
	}
	updated := copyWorkspace(*ws)
	updated.PublicID = state.workspaces[idx].PublicID
	updated.CreatedAt = state.workspaces[idx].CreatedAt
	state.workspaces[idx] = updated
	return nil
}

func (m *MemoryStore) DeleteWorkspace(_ context.Context, id uuid.UUID) error {
	defer m.lockWrite()()
	if err := m.write(); err != nil {
		return err
	}
	state := m.state()
	found := false
	workspaces := state.workspaces[:0]
	for _, ws := range state.workspaces {
		if ws.ID == id {
			found = true
			continue
		}
		workspaces = append(workspaces, ws)
	}
	if !found {
		return fmt.Errorf("delete workspace %s: %w", id, tenant.ErrNotFound)
	}
	state.workspaces = workspaces

	members := state.members[:0]
	for _, mem := range state.members {
		if mem.WorkspaceID != id {
			members = append(members, mem)
		}
	}
	state.members = members

	invitations := state.invitations[:0]
	for _, inv := range state.invitations {
		if inv.WorkspaceID != id {
			invitations = append(invitations, inv)
		}
	}
	state.invitations = invitations

	for i := range state.sessions {
		if p := state.sessions[i].ActiveWorkspaceID; p != nil && *p == id {
			state.sessions[i].ActiveWorkspaceID = nil
		}
	}
	return nil
}

// --- Members ---

func (m *MemoryStore) findMember(match func(*models.Member) bool) (*models.Member, error) {
	defer m.lock()()
	for _, mem := range m.state().members {
		if match(&mem) {
			out := mem
			return &out, nil
		}
	}
	return nil, fmt.Errorf("find member: %w", tenant.ErrNotFound)
}

func (m *MemoryStore) FindMemberByID(_ context.Context, id uuid.UUID) (*models.Member, error) {
	return m.findMember(func(mem *models.Member) bool { return mem.ID == id })
}

func (m *MemoryStore) FindMemberByEmail(_ context.Context, email string, workspaceID uuid.UUID) (*models.Member, error) {
	unlock := m.lock()
	var userID uuid.UUID
	for _, u := range m.state().users {
		if u.Email == email {
			userID = u.ID
		}
	}
	unlock()
	if userID == uuid.Nil {
		return nil, fmt.Errorf("find member by email: %w", tenant.ErrNotFound)
	}
	return m.findMember(func(mem *models.Member) bool {
		return mem.UserID == userID && mem.WorkspaceID == workspaceID
	})
}

func (m *MemoryStore) FindMemberByWorkspaceID(_ context.Context, userID, workspaceID uuid.UUID) (*models.Member, error) {
	return m.findMember(func(mem *models.Member) bool {
		return mem.UserID == userID && mem.WorkspaceID == workspaceID
	})
}

func (m *MemoryStore) FindMemberByUserID(_ context.Context, userID uuid.UUID) (*models.Member, error) {
	return m.findMember(func(mem *models.Member) bool { return mem.UserID == userID })
}

func (m *MemoryStore) ListMembers(_ context.Context, workspaceID uuid.UUID) ([]models.MemberWithUser, error) {
	defer m.lock()()
	list := []models.MemberWithUser{}
	for _, mem := range m.state().members {
		if mem.WorkspaceID != workspaceID {
			continue
		}
		if u := m.userLocked(mem.UserID); u != nil {
			list = append(list, models.MemberWithUser{Member: mem, User: u.Summary()})
		}
	}
	return list, nil
}

func (m *MemoryStore) CountMembers(_ context.Context, workspaceID uuid.UUID) (int, error) {
	defer m.lock()()
	n := 0
	for _, mem := range m.state().members {
		if mem.WorkspaceID == workspaceID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CreateMember(_ context.Context, mem *models.Member) error {
	defer m.lockWrite()()
	if err := m.write(); err != nil {
		return err
	}
	state := m.state()
	if !m.workspaceExistsLocked(mem.WorkspaceID) {
		return fmt.Errorf("create member: workspace %s does not exist", mem.WorkspaceID)
	}
	for _, existing := range state.members {
		if existing.WorkspaceID == mem.WorkspaceID && existing.UserID == mem.UserID {
			return fmt.Errorf("create member %s in %s: %w", mem.UserID, mem.WorkspaceID, tenant.ErrConflict)
		}
	}
	if mem.ID == uuid.Nil {
		mem.ID = uuid.New()
	}
	mem.CreatedAt = m.shared.now()
	state.members = append(state.members, *mem)
	return nil
}

func (m *MemoryStore) UpdateMember(_ context.Context, id uuid.UUID, role string) (*models.Member, error) {
	defer m.lockWrite()()
	if err := m.write(); err != nil {
		return nil, err
	}
	for i := range m.state().members {
		if m.state().members[i].ID == id {
			m.state().members[i].Role = role
			out := m.state().members[i]
			return &out, nil
		}
	}
	return nil, fmt.Errorf("update member %s: %w", id, tenant.ErrNotFound)
}

func (m *MemoryStore) DeleteMember(_ context.Context, id uuid.UUID) error {
	defer m.lockWrite()()
	if err := m.write(); err != nil {
		return err
	}
	state := m.state()
	for i, mem := range state.members {
		if mem.ID == id {
			state.members = append(state.members[:i:i], state.members[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("delete member %s: %w", id, tenant.ErrNotFound)
}

// --- Invitations ---

func (m *MemoryStore) CreateInvitation(_ context.Context, inv *models.Invitation) error {
	defer m.lockWrite()()
	if err := m.write(); err != nil {
		return err
	}
	if !m.workspaceExistsLocked(inv.WorkspaceID) {
		return fmt.Errorf("create invitation: workspace %s does not exist", inv.WorkspaceID)
	}
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	inv.CreatedAt = m.shared.now()
	m.state().invitations = append(m.state().invitations, *inv)
	return nil
}

func (m *MemoryStore) FindInvitationByID(_ context.Context, id uuid.UUID) (*models.Invitation, error) {
	defer m.lock()()
	for _, inv := range m.state().invitations {
		if inv.ID == id {
			out := inv
			return &out, nil
		}
	}
	return nil, fmt.Errorf("find invitation %s: %w", id, tenant.ErrNotFound)
}

func (m *MemoryStore) FindPendingInvitation(_ context.Context, email string, workspaceID uuid.UUID, now time.Time) (*models.Invitation, error) {
	defer m.lock()()
	invs := m.state().invitations
	for i := len(invs) - 1; i >= 0; i-- {
		inv := invs[i]
		if inv.Email == email && inv.WorkspaceID == workspaceID && inv.IsActive(now) {
			return &inv, nil
		}
	}
	return nil, fmt.Errorf("find pending invitation: %w", tenant.ErrNotFound)
}

func (m *MemoryStore) ListInvitations(_ context.Context, workspaceID uuid.UUID) ([]models.Invitation, error) {
	defer m.lock()()
	list := []models.Invitation{}
	for _, inv := range m.state().invitations {
		if inv.WorkspaceID == workspaceID {
			list = append(list, inv)
		}
	}
	return list, nil
}

func (m *MemoryStore) ListPendingInvitationsByEmail(_ context.Context, email string, now time.Time) ([]models.Invitation, error) {
	defer m.lock()()
	list := []models.Invitation{}
	for _, inv := range m.state().invitations {
		if inv.Email == email && inv.IsActive(now) {
			list = append(list, inv)
		}
	}
	return list, nil
}

func (m *MemoryStore) CountPendingInvitations(_ context.Context, workspaceID uuid.UUID, now time.Time) (int, error) {
	defer m.lock()()
	n := 0
	for _, inv := range m.state().invitations {
		if inv.WorkspaceID == workspaceID && inv.IsActive(now) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) UpdateInvitationStatus(_ context.Context, id uuid.UUID, from, to models.InvitationStatus) (*models.Invitation, error) {
	defer m.lockWrite()()
	if err := m.write(); err != nil {
		return nil, err
	}
	for i := range m.state().invitations {
		inv := &m.state().invitations[i]
		if inv.ID != id {
			continue
		}
		if inv.Status != from {
			return nil, fmt.Errorf("update invitation %s from %s: %w", id, from, tenant.ErrConflict)
		}
		inv.Status = to
		out := *inv
		return &out, nil
	}
	return nil, fmt.Errorf("update invitation %s: %w", id, tenant.ErrNotFound)
}

func (m *MemoryStore) CancelPendingInvitations(_ context.Context, email string, workspaceID uuid.UUID) (int, error) {
	defer m.lockWrite()()
	if err := m.write(); err != nil {
		return 0, err
	}
	n := 0
	for i := range m.state().invitations {
		inv := &m.state().invitations[i]
		if inv.Email == email && inv.WorkspaceID == workspaceID && inv.Status == models.InvitationPending {
			inv.Status = models.InvitationCanceled
			n++
		}
	}
	return n, nil
}

// --- Users ---

// userLocked must be called with mu held.
func (m *MemoryStore) userLocked(id uuid.UUID) *models.User {
	for i := range m.state().users {
		if m.state().users[i].ID == id {
			u := m.state().users[i]
			return &u
		}
	}
	return nil
}

func (m *MemoryStore) workspaceExistsLocked(id uuid.UUID) bool {
	for _, ws := range m.state().workspaces {
		if ws.ID == id {
			return true
		}
	}
	return false
}

func (m *MemoryStore) FindUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	defer m.lock()()
	if u := m.userLocked(id); u != nil {
		return u, nil
	}
	return nil, fmt.Errorf("find user %s: %w", id, tenant.ErrNotFound)
}

func (m *MemoryStore) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	defer m.lock()()
	for _, u := range m.state().users {
		if u.Email == email {
			out := u
			return &out, nil
		}
	}
	return nil, fmt.Errorf("find user by email: %w", tenant.ErrNotFound)
}

func (m *MemoryStore) CreateUser(_ context.Context, u *models.User) error {
	defer m.lockWrite()()
	for _, existing := range m.state().users {
		if existing.Email == u.Email {
			return fmt.Errorf("create user: %w", tenant.ErrConflict)
		}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.CreatedAt = m.shared.now()
	m.state().users = append(m.state().users, *u)
	return nil
}

// DeleteUser removes a user row without touching its members, staging an integrity failure.
func (m *MemoryStore) DeleteUser(id uuid.UUID) {
	defer m.lockWrite()()
	users := m.state().users[:0]
	for _, u := range m.state().users {
		if u.ID != id {
			users = append(users, u)
		}
	}
	m.state().users = users
}

// --- Sessions ---

func (m *MemoryStore) CreateSession(_ context.Context, s *models.Session) error {
	defer m.lockWrite()()
	for _, existing := range m.state().sessions {
		if existing.Token == s.Token {
			return fmt.Errorf("create session: %w", tenant.ErrConflict)
		}
	}
	s.CreatedAt = m.shared.now()
	m.state().sessions = append(m.state().sessions, *s)
	return nil
}

func (m *MemoryStore) FindSession(_ context.Context, token string) (*models.Session, error) {
	defer m.lock()()
	for _, s := range m.state().sessions {
		if s.Token == token {
			out := s
			if s.ActiveWorkspaceID != nil {
				id := *s.ActiveWorkspaceID
				out.ActiveWorkspaceID = &id
			}
			return &out, nil
		}
	}
	return nil, fmt.Errorf("find session: %w", tenant.ErrNotFound)
}

func (m *MemoryStore) SetActiveWorkspace(_ context.Context, token string, workspaceID *uuid.UUID) error {
	defer m.lockWrite()()
	if err := m.write(); err != nil {
		return err
	}
	for i := range m.state().sessions {
		if m.state().sessions[i].Token == token {
			if workspaceID == nil {
				m.state().sessions[i].ActiveWorkspaceID = nil
				return nil
			}
			if !m.workspaceExistsLocked(*workspaceID) {
				return fmt.Errorf("set active workspace: workspace %s does not exist", *workspaceID)
			}
			id := *workspaceID
			m.state().sessions[i].ActiveWorkspaceID = &id
			return nil
		}
	}
	return fmt.Errorf("set active workspace: %w", tenant.ErrNotFound)
}

func (m *MemoryStore) ClearActiveWorkspace(_ context.Context, userID, workspaceID uuid.UUID) error {
	defer m.lockWrite()()
	if err := m.write(); err != nil {
		return err
	}
	for i := range m.state().sessions {
		s := &m.state().sessions[i]
		if s.UserID == userID && s.ActiveWorkspaceID != nil && *s.ActiveWorkspaceID == workspaceID {
			s.ActiveWorkspaceID = nil
		}
	}
	return nil
}

// InvitationsByStatus counts the invitations of a workspace per status.
func (m *MemoryStore) InvitationsByStatus(workspaceID uuid.UUID) map[models.InvitationStatus]int {
	defer m.lock()()
	out := map[models.InvitationStatus]int{}
	for _, inv := range m.state().invitations {
		if inv.WorkspaceID == workspaceID {
			out[inv.Status]++
		}
	}
	return out
}

var _ tenant.Store = (*MemoryStore)(nil)
