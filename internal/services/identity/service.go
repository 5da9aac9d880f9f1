package identity

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log/slog"

	"frostchat/internal/crypto"
	"frostchat/internal/domain"
)

// Service creates and serves the local identity key pair.
type Service struct {
	cache     domain.KeyCache
	directory domain.DirectoryStore
	log       *slog.Logger
}

// New returns an identity service over the given cache and directory.
func New(cache domain.KeyCache, directory domain.DirectoryStore, log *slog.Logger) *Service {
	return &Service{cache: cache, directory: directory, log: log}
}

// EnsureIdentity generates the RSA-2048 key pair if this device has none
// yet, seals the private half into the cache, and publishes the public half.
//
// Generation costs hundreds of milliseconds, so it runs at most once per
// identity per device; repeat calls load the existing pair and only
// re-publish the public half (idempotent against a lost directory record).
func (s *Service) EnsureIdentity(ctx context.Context, userID string) (*rsa.PrivateKey, error) {
	has, err := s.cache.HasIdentity()
	if err != nil {
		return nil, err
	}

	var priv *rsa.PrivateKey
	if has {
		if priv, err = s.cache.LoadIdentity(); err != nil {
			return nil, err
		}
	} else {
		if priv, err = crypto.NewIdentityKeyPair(); err != nil {
			return nil, err
		}
		if err := s.cache.SaveIdentity(priv); err != nil {
			return nil, err
		}
		s.log.InfoContext(ctx, "generated device identity", "user_id", userID)
	}

	der, err := crypto.MarshalPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	if err := s.directory.PublishIdentity(ctx, domain.IdentityRecord{
		UserID:    userID,
		PublicKey: der,
	}); err != nil {
		return nil, fmt.Errorf("publish identity: %w", err)
	}
	return priv, nil
}

// Fingerprint returns the short fingerprint of the local public key.
func (s *Service) Fingerprint() (string, error) {
	priv, err := s.cache.LoadIdentity()
	if err != nil {
		return "", err
	}
	der, err := crypto.MarshalPublicKey(&priv.PublicKey)
	if err != nil {
		return "", err
	}
	return crypto.Fingerprint(der), nil
}

// PeerFingerprint returns the fingerprint of a peer's published key, for
// out-of-band verification.
func (s *Service) PeerFingerprint(ctx context.Context, userID string) (string, error) {
	rec, ok, err := s.directory.FetchIdentity(ctx, userID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%s has not published an identity", userID)
	}
	return crypto.Fingerprint(rec.PublicKey), nil
}
