package service

import (
	"context"
	"errors"

	"github.com/unimath/placement-backend/internal/model"
	"github.com/unimath/placement-backend/internal/repository"
)

// AdminService handles admin login and account management.
type AdminService struct {
	admins *repository.AdminRepository
	auth   *AuthService
}

// NewAdminService creates a new AdminService.
func NewAdminService(admins *repository.AdminRepository, auth *AuthService) *AdminService {
	return &AdminService{admins: admins, auth: auth}
}

// Login authenticates an admin by email and password and issues a token.
func (s *AdminService) Login(ctx context.Context, email, password string) (string, *model.Admin, error) {
	admin, err := s.admins.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrAdminNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}

	if err := s.auth.CheckPassword(admin.PasswordHash, password); err != nil {
		return "", nil, err
	}

	token, err := s.auth.GenerateAdminToken(admin.ID)
	if err != nil {
		return "", nil, err
	}

	return token, admin, nil
}

// Create registers a new admin account with a hashed password.
func (s *AdminService) Create(ctx context.Context, email, name, password string) (*model.Admin, error) {
	hash, err := s.auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	admin := &model.Admin{
		Email:        email,
		Name:         name,
		PasswordHash: hash,
	}
	if err := s.admins.Create(ctx, admin); err != nil {
		return nil, err
	}
	return admin, nil
}
