package ingest

import (
	"context"
	"crypto/subtle"

	"clubdash/internal/domain"
)

// PublicData returns the public buffer, newest first.
func (s *Service) PublicData() []domain.Message {
	return s.public.Snapshot()
}

// AdminData returns public followed by private messages once credential
// matches the configured admin token.
func (s *Service) AdminData(credential string) ([]domain.Message, error) {
	if err := s.Authorize(credential); err != nil {
		return nil, err
	}

	public := s.public.Snapshot()
	private := s.private.Snapshot()
	out := make([]domain.Message, 0, len(public)+len(private))
	out = append(out, public...)
	return append(out, private...), nil
}

// Authorize checks credential against the admin token.
func (s *Service) Authorize(credential string) error {
	if s.adminToken == "" {
		return ErrServiceUnavailable
	}
	if subtle.ConstantTimeCompare([]byte(credential), []byte(s.adminToken)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// Channels refreshes the bot's memberships when the cached list is stale
// and returns the known channels for the caller's tier.
func (s *Service) Channels(ctx context.Context, admin bool) []domain.Channel {
	if s.fetcher != nil {
		s.registry.Refresh(ctx, s.fetcher)
	}
	return s.registry.List(admin)
}
