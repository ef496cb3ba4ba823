package usecase

import (
	"context"
	"errors"
	"time"

	"tollguard/internal/domain"
)

// ReaderService covers credential administration: registration, rotation,
// and revocation. Rotation is non-disruptive: the server advances the key
// version and clients must present the matching version or be treated as
// stale.
type ReaderService struct {
	Readers ReaderRepository
	Clock   Clock
}

func (s *ReaderService) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now().UTC()
}

func (s *ReaderService) Register(ctx context.Context, readerID, secret string) (*domain.Reader, error) {
	if readerID == "" {
		return nil, errors.New("reader_id is required")
	}
	if secret == "" {
		generated, err := newSecret()
		if err != nil {
			return nil, err
		}
		secret = generated
	}
	reader := domain.Reader{
		ID:         readerID,
		Secret:     secret,
		KeyVersion: 1,
		Status:     domain.ReaderStatusActive,
		CreatedAt:  s.now(),
	}
	if err := s.Readers.Create(ctx, reader); err != nil {
		return nil, err
	}
	return &reader, nil
}

// RotateKey installs newSecret (or a generated one when empty) and bumps the
// key version.
func (s *ReaderService) RotateKey(ctx context.Context, readerID, newSecretValue string) (*domain.Reader, error) {
	reader, err := s.Readers.Get(ctx, readerID)
	if err != nil {
		return nil, err
	}
	if newSecretValue == "" {
		generated, err := newSecret()
		if err != nil {
			return nil, err
		}
		newSecretValue = generated
	}
	version := reader.KeyVersion + 1
	if err := s.Readers.UpdateSecret(ctx, readerID, newSecretValue, version); err != nil {
		return nil, err
	}
	reader.Secret = newSecretValue
	reader.KeyVersion = version
	return reader, nil
}

func (s *ReaderService) Revoke(ctx context.Context, readerID string) error {
	if _, err := s.Readers.Get(ctx, readerID); err != nil {
		return err
	}
	return s.Readers.UpdateStatus(ctx, readerID, domain.ReaderStatusRevoked)
}
