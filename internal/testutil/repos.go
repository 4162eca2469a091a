// repos.go
//
// Shared stateful fakes of the repositories used by services and handlers.
// Imported by test files across packages to avoid duplicate mock definitions.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"event-photo-backend/internal/models"
	"event-photo-backend/internal/repository"
)

// Events implements the event repository in memory.
// Use *Err fields to inject errors for specific operations.
type Events struct {
	CreateErr error
	GetErr    error
	UpdateErr error
	DeleteErr error

	Creates int

	mu     sync.Mutex
	byID   map[int64]*models.Event
	nextID int64
}

// NewEvents returns an Events fake seeded with events.
func NewEvents(events ...*models.Event) *Events {
	f := &Events{byID: make(map[int64]*models.Event)}
	for _, e := range events {
		f.put(e)
	}
	return f
}

func (f *Events) put(e *models.Event) {
	if e.ID == 0 {
		f.nextID++
		e.ID = f.nextID
	}
	if e.ID > f.nextID {
		f.nextID = e.ID
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	cp := *e
	f.byID[e.ID] = &cp
}

func (f *Events) Create(_ context.Context, event *models.Event) error {
	if f.CreateErr != nil {
		return f.CreateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.byID {
		if strings.EqualFold(e.EventCode, event.EventCode) || strings.EqualFold(e.AccessCode, event.AccessCode) {
			return fmt.Errorf("event code taken: %w", repository.ErrConflict)
		}
	}
	event.ID = 0
	event.CreatedAt = time.Now()
	f.put(event)
	f.Creates++
	return nil
}

func (f *Events) GetByID(_ context.Context, id int64) (*models.Event, error) {
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.byID[id]
	if !ok {
		return nil, fmt.Errorf("event %w", repository.ErrNotFound)
	}
	cp := *e
	return &cp, nil
}

func (f *Events) GetByCode(_ context.Context, code string) (*models.Event, error) {
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.byID {
		if strings.EqualFold(e.EventCode, code) {
			cp := *e
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("event %w", repository.ErrNotFound)
}

func (f *Events) FindRecentDuplicate(_ context.Context, ownerID int64, normalizedName string, date, since time.Time) (*models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *models.Event
	for _, e := range f.byID {
		if e.OwnerID != ownerID || models.NormalizeEventName(e.Name) != normalizedName {
			continue
		}
		if !e.EventDate.Equal(date) || e.CreatedAt.Before(since) {
			continue
		}
		if best == nil || e.CreatedAt.After(best.CreatedAt) {
			best = e
		}
	}
	if best == nil {
		return nil, fmt.Errorf("event %w", repository.ErrNotFound)
	}
	cp := *best
	return &cp, nil
}

func (f *Events) ListByOwner(_ context.Context, ownerID int64) ([]*models.Event, error) {
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*models.Event{}
	for _, e := range f.byID {
		if e.OwnerID == ownerID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (f *Events) UpdateSettings(_ context.Context, event *models.Event) error {
	if f.UpdateErr != nil {
		return f.UpdateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[event.ID]; !ok {
		return fmt.Errorf("event %w", repository.ErrNotFound)
	}
	cp := *event
	f.byID[event.ID] = &cp
	return nil
}

func (f *Events) Delete(_ context.Context, id int64) error {
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[id]; !ok {
		return fmt.Errorf("event %w", repository.ErrNotFound)
	}
	delete(f.byID, id)
	return nil
}

// Count returns the number of stored events.
func (f *Events) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byID)
}

// Photos implements the photo repository in memory. file_path is unique.
type Photos struct {
	CreateErr error
	GetErr    error
	CountErr  error

	ListCalls int

	mu     sync.Mutex
	byID   map[int64]*models.Photo
	nextID int64
}

// NewPhotos returns a Photos fake seeded with photos.
func NewPhotos(photos ...*models.Photo) *Photos {
	f := &Photos{byID: make(map[int64]*models.Photo)}
	for _, p := range photos {
		f.put(p)
	}
	return f
}

func (f *Photos) put(p *models.Photo) {
	if p.ID == 0 {
		f.nextID++
		p.ID = f.nextID
	}
	if p.ID > f.nextID {
		f.nextID = p.ID
	}
	if p.UploadedAt.IsZero() {
		p.UploadedAt = time.Now()
	}
	cp := *p
	f.byID[p.ID] = &cp
}

func (f *Photos) CreateIfAbsent(_ context.Context, photo *models.Photo) (bool, error) {
	if f.CreateErr != nil {
		return false, f.CreateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.byID {
		if p.FilePath == photo.FilePath {
			return false, nil
		}
	}
	photo.ID = 0
	photo.UploadedAt = time.Now()
	f.put(photo)
	return true, nil
}

func (f *Photos) GetByID(_ context.Context, id int64) (*models.Photo, error) {
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok {
		return nil, fmt.Errorf("photo %w", repository.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (f *Photos) ListByEvent(_ context.Context, eventID int64, includePending bool) ([]*models.Photo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListCalls++
	out := []*models.Photo{}
	for _, p := range f.byID {
		if p.EventID != eventID || (!p.IsApproved && !includePending) {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *Photos) CountByEvent(_ context.Context, eventID int64) (int, error) {
	if f.CountErr != nil {
		return 0, f.CountErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.byID {
		if p.EventID == eventID {
			n++
		}
	}
	return n, nil
}

func (f *Photos) Approve(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok {
		return fmt.Errorf("photo %w", repository.ErrNotFound)
	}
	p.IsApproved = true
	return nil
}

func (f *Photos) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[id]; !ok {
		return fmt.Errorf("photo %w", repository.ErrNotFound)
	}
	delete(f.byID, id)
	return nil
}

// All returns every stored photo ordered by id.
func (f *Photos) All() []*models.Photo {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Photo, 0, len(f.byID))
	for _, p := range f.byID {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Users implements the user repository in memory.
type Users struct {
	GetErr error

	mu   sync.Mutex
	byID map[int64]*models.User
}

// NewUsers returns a Users fake seeded with users.
func NewUsers(users ...*models.User) *Users {
	f := &Users{byID: make(map[int64]*models.User)}
	for _, u := range users {
		cp := *u
		f.byID[u.ID] = &cp
	}
	return f
}

func (f *Users) GetByID(_ context.Context, id int64) (*models.User, error) {
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return nil, fmt.Errorf("user %w", repository.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (f *Users) GetPlan(ctx context.Context, id int64) (string, error) {
	u, err := f.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return u.Plan, nil
}

func (f *Users) UpdatePushToken(_ context.Context, id int64, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return fmt.Errorf("user %w", repository.ErrNotFound)
	}
	u.PushToken = &token
	return nil
}

// Members implements the membership repository in memory.
type Members struct {
	GetErr error

	mu    sync.Mutex
	roles map[[2]int64]models.Role
}

// NewMembers returns an empty Members fake.
func NewMembers() *Members {
	return &Members{roles: make(map[[2]int64]models.Role)}
}

// Grant sets a role directly.
func (f *Members) Grant(eventID, userID int64, role models.Role) *Members {
	f.mu.Lock()
	f.roles[[2]int64{eventID, userID}] = role
	f.mu.Unlock()
	return f
}

func (f *Members) GetRole(_ context.Context, eventID, userID int64) (models.Role, error) {
	if f.GetErr != nil {
		return "", f.GetErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	role, ok := f.roles[[2]int64{eventID, userID}]
	if !ok {
		return "", fmt.Errorf("member %w", repository.ErrNotFound)
	}
	return role, nil
}

func (f *Members) Upsert(_ context.Context, m *models.EventMember) error {
	f.Grant(m.EventID, m.UserID, m.Role)
	return nil
}

func (f *Members) Remove(_ context.Context, eventID, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := [2]int64{eventID, userID}
	if _, ok := f.roles[key]; !ok {
		return fmt.Errorf("member %w", repository.ErrNotFound)
	}
	delete(f.roles, key)
	return nil
}
