package genealogy

import (
	"context"
	"errors"
	"fmt"

	"github.com/tariel-x/mlmadmin/internal/models"

	"gorm.io/gorm"
)

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Member(ctx context.Context, memberID string) (*models.Member, error) {
	var member models.Member
	if err := s.db.WithContext(ctx).Where("member_id = ?", memberID).First(&member).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("load member %s: %w", memberID, err)
	}
	return &member, nil
}

// Children orders by primary key so siblings come back in registration order.
func (s *GormStore) Children(ctx context.Context, sponsorID string) ([]models.Member, error) {
	var children []models.Member
	if err := s.db.WithContext(ctx).
		Where("sponsor_code = ?", sponsorID).
		Order("id ASC").
		Find(&children).Error; err != nil {
		return nil, err
	}
	return children, nil
}
