// Package members handles registration, credentials and activation of
// network members.
package members

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tariel-x/mlmadmin/internal/genealogy"
	"github.com/tariel-x/mlmadmin/internal/models"
	"github.com/tariel-x/mlmadmin/internal/notify"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	memberIDDigits   = "0123456789"
	memberIDLength   = 7
	memberIDAttempts = 5
	minPasswordLen   = 6
)

var (
	ErrMemberNotFound     = genealogy.ErrMemberNotFound
	ErrSponsorNotFound    = errors.New("sponsor not found")
	ErrPositionTaken      = errors.New("position already taken under this sponsor")
	ErrInvalidPosition    = errors.New("position must be Left or Right")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidInput       = errors.New("invalid input")
)

// Notifier receives member events; *notify.Hub satisfies it.
type Notifier interface {
	Notify(memberID string, ev notify.Event) bool
}

type RegisterInput struct {
	Name        string
	Email       string
	Mobile      string
	Password    string
	SponsorCode string
	Position    models.Position
}

type Service struct {
	db       *gorm.DB
	notifier Notifier
	prefix   string
	nowFn    func() time.Time
	logger   *slog.Logger
}

func NewService(db *gorm.DB, notifier Notifier, memberIDPrefix string) *Service {
	return &Service{
		db:       db,
		notifier: notifier,
		prefix:   memberIDPrefix,
		nowFn:    time.Now,
		logger:   slog.Default(),
	}
}

// Register places a new member in the free slot under its sponsor. The slot
// check runs under a lock on the sponsor row and idx_sponsor_slot rejects
// whatever slips past it. The db must be opened with TranslateError.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.Member, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.SponsorCode = strings.TrimSpace(in.SponsorCode)

	if in.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if len(in.Password) < minPasswordLen {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}
	if !in.Position.Valid() {
		return nil, ErrInvalidPosition
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var member models.Member
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Locking the sponsor row serializes registrations under one sponsor.
		var sponsor models.Member
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("member_id = ?", in.SponsorCode).
			First(&sponsor).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSponsorNotFound
			}
			return err
		}

		var taken int64
		if err := tx.Model(&models.Member{}).
			Where("sponsor_code = ? AND position = ?", in.SponsorCode, in.Position).
			Count(&taken).Error; err != nil {
			return err
		}
		if taken > 0 {
			return ErrPositionTaken
		}

		if in.Email != "" {
			var emailCount int64
			if err := tx.Model(&models.Member{}).Where("email = ?", in.Email).Count(&emailCount).Error; err != nil {
				return err
			}
			if emailCount > 0 {
				return ErrEmailTaken
			}
		}

		memberID, err := s.newMemberID(tx)
		if err != nil {
			return err
		}

		now := s.nowFn().UTC()
		member = models.Member{
			MemberID:      memberID,
			SponsorCode:   in.SponsorCode,
			Position:      in.Position,
			Name:          in.Name,
			Email:         in.Email,
			Mobile:        strings.TrimSpace(in.Mobile),
			PasswordHash:  string(hash),
			DateOfJoining: now.Truncate(24 * time.Hour),
		}
		return tx.Create(&member).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		err = s.duplicateCause(ctx, in, err)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("member registered",
		"member_id", member.MemberID,
		"sponsor", member.SponsorCode,
		"position", member.Position)

	s.notify(member.SponsorCode, notify.Event{
		Type:     notify.EventNewReferral,
		MemberID: member.MemberID,
		Data: map[string]any{
			"name":     member.Name,
			"position": member.Position,
		},
	})

	return &member, nil
}

// duplicateCause tells a lost race for the slot apart from other unique key
// violations.
func (s *Service) duplicateCause(ctx context.Context, in RegisterInput, dupErr error) error {
	var taken int64
	if err := s.db.WithContext(ctx).Model(&models.Member{}).
		Where("sponsor_code = ? AND position = ?", in.SponsorCode, in.Position).
		Count(&taken).Error; err != nil {
		return fmt.Errorf("register: %w", dupErr)
	}
	if taken > 0 {
		return ErrPositionTaken
	}
	return fmt.Errorf("register: %w", dupErr)
}

func (s *Service) newMemberID(tx *gorm.DB) (string, error) {
	for i := 0; i < memberIDAttempts; i++ {
		suffix, err := gonanoid.Generate(memberIDDigits, memberIDLength)
		if err != nil {
			return "", err
		}
		candidate := s.prefix + suffix

		var count int64
		if err := tx.Model(&models.Member{}).Where("member_id = ?", candidate).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("could not allocate a free member id after %d attempts", memberIDAttempts)
}

func (s *Service) Get(ctx context.Context, memberID string) (*models.Member, error) {
	var member models.Member
	if err := s.db.WithContext(ctx).Where("member_id = ?", memberID).First(&member).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	return &member, nil
}

func (s *Service) Authenticate(ctx context.Context, memberID, password string) (*models.Member, error) {
	member, err := s.Get(ctx, strings.TrimSpace(memberID))
	if err != nil {
		if errors.Is(err, ErrMemberNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if member.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(member.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return member, nil
}

func (s *Service) AuthenticateAdmin(ctx context.Context, username, password string) (*models.Admin, error) {
	var admin models.Admin
	if err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).First(&admin).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &admin, nil
}

// Activate marks a member active. Activating an active member is a no-op.
func (s *Service) Activate(ctx context.Context, memberID string) (*models.Member, error) {
	member, err := s.Get(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if member.ActiveStatus {
		return member, nil
	}

	now := s.nowFn().UTC()
	if err := s.db.WithContext(ctx).Model(member).Updates(map[string]any{
		"active_status": true,
		"activated_at":  now,
	}).Error; err != nil {
		return nil, fmt.Errorf("activate %s: %w", memberID, err)
	}
	member.ActiveStatus = true
	member.ActivatedAt = &now

	s.logger.Info("member activated", "member_id", memberID)
	s.notify(memberID, notify.Event{Type: notify.EventActivated, MemberID: memberID})
	return member, nil
}

func (s *Service) UpdateProfile(ctx context.Context, memberID, name, mobile string) (*models.Member, error) {
	member, err := s.Get(ctx, memberID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if name = strings.TrimSpace(name); name != "" {
		updates["name"] = name
		member.Name = name
	}
	if mobile = strings.TrimSpace(mobile); mobile != "" {
		updates["mobile"] = mobile
		member.Mobile = mobile
	}
	if len(updates) == 0 {
		return member, nil
	}

	if err := s.db.WithContext(ctx).Model(&models.Member{}).Where("member_id = ?", memberID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update profile %s: %w", memberID, err)
	}
	return member, nil
}

// ListAll returns every member in registration order.
func (s *Service) ListAll(ctx context.Context) ([]models.Member, error) {
	members := make([]models.Member, 0)
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&members).Error; err != nil {
		return nil, err
	}
	return members, nil
}

// EnsureSeed creates the administrative root member and the admin account
// when they are missing. An empty admin password skips the admin account.
func (s *Service) EnsureSeed(ctx context.Context, rootMemberID, adminUsername, adminPassword string) error {
	db := s.db.WithContext(ctx)

	var rootCount int64
	if err := db.Model(&models.Member{}).Where("member_id = ?", rootMemberID).Count(&rootCount).Error; err != nil {
		return err
	}
	if rootCount == 0 {
		now := s.nowFn().UTC()
		root := models.Member{
			MemberID:      rootMemberID,
			Name:          "Company",
			ActiveStatus:  true,
			ActivatedAt:   &now,
			DateOfJoining: now.Truncate(24 * time.Hour),
		}
		if err := db.Create(&root).Error; err != nil {
			return fmt.Errorf("seed root member: %w", err)
		}
		s.logger.Info("root member created", "member_id", rootMemberID)
	}

	if adminUsername == "" || adminPassword == "" {
		return nil
	}

	var adminCount int64
	if err := db.Model(&models.Admin{}).Where("username = ?", adminUsername).Count(&adminCount).Error; err != nil {
		return err
	}
	if adminCount > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	if err := db.Create(&models.Admin{Username: adminUsername, PasswordHash: string(hash)}).Error; err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	s.logger.Info("admin account created", "username", adminUsername)
	return nil
}

func (s *Service) notify(memberID string, ev notify.Event) {
	if s.notifier == nil || memberID == "" {
		return
	}
	if !s.notifier.Notify(memberID, ev) {
		s.logger.Debug("notification not delivered", "member_id", memberID, "type", ev.Type)
	}
}
