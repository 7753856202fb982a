package roles

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/guildhall/guildhall/internal/permissions"
	"github.com/guildhall/guildhall/internal/rbac"
)

type fakeState struct {
	roles   map[int64]Role
	members map[Member]struct{}
	users   map[int64]bool
	nextID  int64
}

func (s *fakeState) clone() *fakeState {
	out := &fakeState{
		roles:   make(map[int64]Role, len(s.roles)),
		members: make(map[Member]struct{}, len(s.members)),
		users:   make(map[int64]bool, len(s.users)),
		nextID:  s.nextID,
	}
	for k, v := range s.roles {
		out.roles[k] = v
	}
	for k := range s.members {
		out.members[k] = struct{}{}
	}
	for k, v := range s.users {
		out.users[k] = v
	}
	return out
}

func (s *fakeState) sorted() []Role {
	list := make([]Role, 0, len(s.roles))
	for _, r := range s.roles {
		list = append(list, r)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Position != list[j].Position {
			return list[i].Position < list[j].Position
		}
		return list[i].ID < list[j].ID
	})
	return list
}

func (s *fakeState) grants(userID int64) []rbac.Grant {
	var out []rbac.Grant
	for _, r := range s.sorted() {
		if _, ok := s.members[Member{UserID: userID, RoleID: r.ID}]; ok {
			out = append(out, rbac.Grant{RoleID: r.ID, Position: r.Position, Permissions: r.Permissions})
		}
	}
	return out
}

// fakeRepo is an in-memory RepositoryPort. WithTx works on a copy of the state and
// swaps it in only when fn succeeds, so failed operations leave no trace.
type fakeRepo struct {
	mu      sync.Mutex
	state   *fakeState
	txErr   error
	txCalls int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{state: &fakeState{
		roles:   map[int64]Role{},
		members: map[Member]struct{}{},
		users:   map[int64]bool{},
		nextID:  1 << snowflakeTimeShift,
	}}
}

// addRole stores a role directly, bypassing the service.
func (f *fakeRepo) addRole(name string, perms permissions.Mask, position int) Role {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.nextID++
	role := Role{ID: f.state.nextID, Name: name, Permissions: perms, Position: position}
	f.state.roles[role.ID] = role
	return role
}

func (f *fakeRepo) addUser(userID int64, roleIDs ...int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.users[userID] = true
	for _, id := range roleIDs {
		f.state.members[Member{UserID: userID, RoleID: id}] = struct{}{}
	}
}

func (f *fakeRepo) snapshot() []Role {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.sorted()
}

func (f *fakeRepo) names() []string {
	var out []string
	for _, r := range f.snapshot() {
		out = append(out, r.Name)
	}
	return out
}

func (f *fakeRepo) positions() []int {
	var out []int
	for _, r := range f.snapshot() {
		out = append(out, r.Position)
	}
	return out
}

func (f *fakeRepo) hasMember(userID, roleID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.state.members[Member{UserID: userID, RoleID: roleID}]
	return ok
}

func (f *fakeRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txCalls++
	if f.txErr != nil {
		return f.txErr
	}
	work := f.state.clone()
	if err := fn(ctx, &fakeTx{s: work}); err != nil {
		return err
	}
	f.state = work
	return nil
}

func (f *fakeRepo) GetRole(_ context.Context, id int64) (Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.state.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return r, nil
}

func (f *fakeRepo) ListRoles(_ context.Context, filter ListFilter) ([]Role, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []Role
	for _, r := range f.state.sorted() {
		if filter.Name == "" || strings.Contains(strings.ToLower(r.Name), strings.ToLower(filter.Name)) {
			matched = append(matched, r)
		}
	}
	total := len(matched)
	if filter.Offset >= total {
		return nil, total, nil
	}
	end := min(filter.Offset+filter.Limit, total)
	return matched[filter.Offset:end], total, nil
}

func (f *fakeRepo) ListMembers(_ context.Context, roleID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for m := range f.state.members {
		if m.RoleID == roleID {
			ids = append(ids, m.UserID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (f *fakeRepo) UserRoles(_ context.Context, userID int64) ([]Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Role
	for _, g := range f.state.grants(userID) {
		out = append(out, f.state.roles[g.RoleID])
	}
	return out, nil
}

func (f *fakeRepo) UserGrants(_ context.Context, userID int64) ([]rbac.Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.grants(userID), nil
}

type fakeTx struct {
	s *fakeState
}

func (t *fakeTx) UserGrants(_ context.Context, userID int64) ([]rbac.Grant, error) {
	return t.s.grants(userID), nil
}

func (t *fakeTx) GetRoleForUpdate(_ context.Context, id int64) (Role, error) {
	r, ok := t.s.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return r, nil
}

func (t *fakeTx) GetRoleByName(_ context.Context, name string) (Role, error) {
	for _, r := range t.s.roles {
		if r.Name == name {
			return r, nil
		}
	}
	return Role{}, ErrNotFound
}

func (t *fakeTx) Placements(context.Context) ([]Placement, error) {
	var ps []Placement
	for _, r := range t.s.sorted() {
		ps = append(ps, Placement{RoleID: r.ID, Position: r.Position})
	}
	return ps, nil
}

func (t *fakeTx) CountRoles(context.Context) (int, error) {
	return len(t.s.roles), nil
}

func (t *fakeTx) InsertRole(_ context.Context, in CreateInput, position int) (Role, error) {
	for _, r := range t.s.roles {
		if r.Name == in.Name {
			return Role{}, ErrDuplicateName
		}
	}
	t.s.nextID++
	role := Role{ID: t.s.nextID, Name: in.Name, Color: in.Color, Permissions: in.Permissions, Position: position, Base: in.Base}
	t.s.roles[role.ID] = role
	return role, nil
}

func (t *fakeTx) UpdateRole(_ context.Context, id int64, f RoleFields) (Role, error) {
	role, ok := t.s.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	if f.Name != nil {
		for _, r := range t.s.roles {
			if r.ID != id && r.Name == *f.Name {
				return Role{}, ErrDuplicateName
			}
		}
		role.Name = *f.Name
	}
	if f.ClearColor {
		role.Color = nil
	} else if f.Color != nil {
		c := *f.Color
		role.Color = &c
	}
	if f.Permissions != nil {
		role.Permissions = *f.Permissions
	}
	t.s.roles[id] = role
	return role, nil
}

func (t *fakeTx) DeleteRole(_ context.Context, id int64) error {
	if _, ok := t.s.roles[id]; !ok {
		return ErrNotFound
	}
	delete(t.s.roles, id)
	for m := range t.s.members {
		if m.RoleID == id {
			delete(t.s.members, m)
		}
	}
	return nil
}

func (t *fakeTx) ApplyChanges(_ context.Context, changes []Change) error {
	for _, c := range changes {
		r := t.s.roles[c.RoleID]
		r.Position = c.To
		t.s.roles[c.RoleID] = r
	}
	return nil
}

func (t *fakeTx) UserExists(_ context.Context, userID int64) (bool, error) {
	return t.s.users[userID], nil
}

func (t *fakeTx) InsertMember(_ context.Context, m Member) error {
	if _, ok := t.s.roles[m.RoleID]; !ok {
		return ErrNotFound
	}
	if !t.s.users[m.UserID] {
		return ErrUserNotFound
	}
	if _, ok := t.s.members[m]; ok {
		return ErrAlreadyAssigned
	}
	t.s.members[m] = struct{}{}
	return nil
}

func (t *fakeTx) DeleteMember(_ context.Context, m Member) (bool, error) {
	if _, ok := t.s.members[m]; !ok {
		return false, nil
	}
	delete(t.s.members, m)
	return true, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EventType, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type recordingRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (r *recordingRecorder) RoleOperation(op, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = map[string]int{}
	}
	r.outcomes[op+"/"+outcome]++
}

func (r *recordingRecorder) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcomes[key]
}
