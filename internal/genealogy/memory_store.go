package genealogy

import (
	"context"
	"errors"
	"sync"

	"github.com/tariel-x/mlmadmin/internal/models"
)

var ErrDuplicateMemberID = errors.New("member id already exists")

// MemoryStore keeps members in process memory. Children are returned in
// insertion order. Position uniqueness is not checked here, so fixtures can
// reproduce rows written by tools that skip the member service.
type MemoryStore struct {
	mu        sync.RWMutex
	members   map[string]*models.Member
	bySponsor map[string][]string
	nextID    uint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		members:   make(map[string]*models.Member),
		bySponsor: make(map[string][]string),
	}
}

func (s *MemoryStore) Add(member models.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.members[member.MemberID]; exists {
		return ErrDuplicateMemberID
	}

	s.nextID++
	member.ID = s.nextID
	s.members[member.MemberID] = &member
	s.bySponsor[member.SponsorCode] = append(s.bySponsor[member.SponsorCode], member.MemberID)
	return nil
}

func (s *MemoryStore) Member(ctx context.Context, memberID string) (*models.Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	member, ok := s.members[memberID]
	if !ok {
		return nil, ErrMemberNotFound
	}
	copied := *member
	return &copied, nil
}

func (s *MemoryStore) Children(ctx context.Context, sponsorID string) ([]models.Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.bySponsor[sponsorID]
	if len(ids) == 0 {
		return nil, nil
	}

	children := make([]models.Member, 0, len(ids))
	for _, id := range ids {
		children = append(children, *s.members[id])
	}
	return children, nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members)
}
