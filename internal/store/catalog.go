package store

import (
	"context"
	"fmt"

	"nfcom/internal/signer"
	"nfcom/pkg/models"
)

// Company loads an issuing company.
func (s *Store) Company(ctx context.Context, id uint) (*models.Company, error) {
	var c models.Company
	if err := s.withContext(ctx).First(&c, id).Error; err != nil {
		return nil, fmt.Errorf("Company %d: %w", id, notFound(err))
	}
	return &c, nil
}

// Client loads a recipient.
func (s *Store) Client(ctx context.Context, id uint) (*models.Client, error) {
	var c models.Client
	if err := s.withContext(ctx).First(&c, id).Error; err != nil {
		return nil, fmt.Errorf("Client %d: %w", id, notFound(err))
	}
	return &c, nil
}

// Service loads a catalog service.
func (s *Store) Service(ctx context.Context, id uint) (*models.Service, error) {
	var svc models.Service
	if err := s.withContext(ctx).First(&svc, id).Error; err != nil {
		return nil, fmt.Errorf("Service %d: %w", id, notFound(err))
	}
	return &svc, nil
}

// BillingAccount loads a bank collection agreement.
func (s *Store) BillingAccount(ctx context.Context, id uint) (*models.BillingAccount, error) {
	var a models.BillingAccount
	if err := s.withContext(ctx).First(&a, id).Error; err != nil {
		return nil, fmt.Errorf("BillingAccount %d: %w", id, notFound(err))
	}
	return &a, nil
}

// Contract loads a service contract.
func (s *Store) Contract(ctx context.Context, id uint) (*models.ServiceContract, error) {
	var c models.ServiceContract
	if err := s.withContext(ctx).First(&c, id).Error; err != nil {
		return nil, fmt.Errorf("Contract %d: %w", id, notFound(err))
	}
	return &c, nil
}

// Bundle returns the encrypted certificate stored with the company. It
// implements signer.BundleSource.
func (s *Store) Bundle(ctx context.Context, companyID uint) (*signer.Bundle, error) {
	var c models.Company
	err := s.withContext(ctx).
		Select("id", "certificate_bundle", "certificate_password").
		First(&c, companyID).Error
	if err != nil {
		return nil, fmt.Errorf("Bundle %d: %w", companyID, notFound(err))
	}
	// an empty bundle still carries the password for object-storage sources
	return &signer.Bundle{Encrypted: c.CertificateBundle, Password: c.CertificatePassword}, nil
}

// SetCertificate stores an encrypted bundle and its password on the company.
// A nil bundle keeps only the password, for bundles kept in object storage.
func (s *Store) SetCertificate(ctx context.Context, companyID uint, encrypted []byte, password string) error {
	updates := map[string]interface{}{"certificate_password": password}
	if encrypted != nil {
		updates["certificate_bundle"] = encrypted
	}
	res := s.withContext(ctx).Model(&models.Company{}).Where("id = ?", companyID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("SetCertificate %d: %w", companyID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("SetCertificate %d: %w", companyID, ErrNotFound)
	}
	return nil
}
