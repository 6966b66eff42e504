package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/docshare/drive/internal/models"
	"github.com/docshare/drive/pkg/logger"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CreateUserInput struct {
	Email       string `validate:"required,email,max=255"`
	DisplayName string `validate:"max=100"`
	// Quota nil selects the service default. Zero is a valid quota.
	Quota *int64
}

// UserService provisions the accounts that own trees. Authentication lives
// elsewhere; this only records identity and quota.
type UserService struct {
	DB           *gorm.DB
	defaultQuota int64
	validate     *validator.Validate
}

// NewUserService provisions accounts with defaultQuota bytes unless a quota
// is given. A negative default falls back to models.DefaultStorageQuota.
func NewUserService(db *gorm.DB, defaultQuota int64) *UserService {
	if defaultQuota < 0 {
		defaultQuota = models.DefaultStorageQuota
	}
	return &UserService{DB: db, defaultQuota: defaultQuota, validate: validator.New()}
}

func (s *UserService) Create(ctx context.Context, input CreateUserInput) (*models.User, error) {
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.DisplayName = strings.TrimSpace(input.DisplayName)
	if err := s.validate.Struct(input); err != nil {
		return nil, newError(KindInvalidArgument, "invalid user: "+describeValidation(err), err)
	}

	quota := s.defaultQuota
	if input.Quota != nil {
		if *input.Quota < 0 {
			return nil, invalidArgument("quota must not be negative")
		}
		quota = *input.Quota
	}

	var existing int64
	if err := s.DB.WithContext(ctx).Model(&models.User{}).Where("email = ?", input.Email).Count(&existing).Error; err != nil {
		return nil, fmt.Errorf("checking email: %w", err)
	}
	if existing > 0 {
		return nil, conflict("a user with this email already exists")
	}

	user := models.User{
		Email:        input.Email,
		DisplayName:  input.DisplayName,
		StorageQuota: quota,
	}
	if err := s.DB.WithContext(ctx).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, conflict("a user with this email already exists")
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}

	logger.InfoWithUser(user.ID.String(), "user_created", map[string]interface{}{
		"email":         user.Email,
		"storage_quota": user.StorageQuota,
	})
	return &user, nil
}

func (s *UserService) Get(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("user not found")
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}
	return &user, nil
}

func describeValidation(err error) string {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err.Error()
	}
	fields := make([]string, 0, len(validationErrs))
	for _, fieldErr := range validationErrs {
		fields = append(fields, strings.ToLower(fieldErr.Field())+" failed "+fieldErr.Tag())
	}
	return strings.Join(fields, ", ")
}
