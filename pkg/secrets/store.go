// Package secrets resolves startup secrets such as the JWT signing key and
// the password pepper from Vault, AWS or a locally sealed environment value.
package secrets

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"pastebin/metrics"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrProviderUnavailable = errors.New("secret provider unavailable")
	ErrDecryptionFailed    = errors.New("decryption failed")
	ErrNotFound            = errors.New("secret not found")
)

type Provider interface {
	Name() string
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
	GetSecret(ctx context.Context, key string) (string, error)
}

// Store tries the primary provider first. With failClosed set a primary
// failure is final; otherwise the fallback gets a chance.
type Store struct {
	primary        Provider
	fallback       Provider
	failClosed     bool
	requirePrimary bool
	log            zerolog.Logger
}

// NewStore picks providers from the environment: Vault when VAULT_ADDR is
// set, else AWS when AWS_REGION is set, with the env provider as fallback
// when SECRETS_LOCAL_KEY is set.
func NewStore(ctx context.Context, log zerolog.Logger) (*Store, error) {
	requirePrimary := strings.EqualFold(os.Getenv("SECRETS_REQUIRE_PRIMARY"), "true")
	var primary, fallback Provider
	if os.Getenv("VAULT_ADDR") != "" {
		vp, err := newVaultProvider(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("vault provider unavailable")
		} else {
			primary = vp
		}
	}
	if primary == nil && os.Getenv("AWS_REGION") != "" {
		ap, err := newAWSProvider(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("aws provider unavailable")
		} else {
			primary = ap
		}
	}
	if !requirePrimary {
		if key := os.Getenv("SECRETS_LOCAL_KEY"); key != "" {
			ep, err := newEnvProvider(key)
			if err != nil {
				return nil, fmt.Errorf("failed to initialize env provider: %w", err)
			}
			fallback = ep
		}
	}
	if primary == nil && fallback == nil {
		if requirePrimary {
			return nil, errors.New("SECRETS_REQUIRE_PRIMARY=true but no primary provider available (checked Vault, AWS)")
		}
		return nil, errors.New("no secret providers available (checked Vault, AWS, SECRETS_LOCAL_KEY)")
	}
	return NewStoreWith(primary, fallback, os.Getenv("SECRETS_FAIL_CLOSED") != "false", requirePrimary, log), nil
}
func NewStoreWith(primary, fallback Provider, failClosed, requirePrimary bool, log zerolog.Logger) *Store {
	return &Store{
		primary:        primary,
		fallback:       fallback,
		failClosed:     failClosed,
		requirePrimary: requirePrimary,
		log:            log,
	}
}
func (s *Store) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	metrics.SecretOps.WithLabelValues("decrypt").Inc()
	if s.primary != nil {
		plaintext, err := s.primary.Decrypt(ctx, ciphertext)
		if err == nil {
			return plaintext, nil
		}
		if s.requirePrimary || s.failClosed || s.fallback == nil {
			return nil, fmt.Errorf("%s decrypt failed: %w", s.primary.Name(), err)
		}
		s.log.Warn().Err(err).Str("provider", s.primary.Name()).Msg("primary decrypt failed, using fallback")
	}
	if s.fallback != nil {
		return s.fallback.Decrypt(ctx, ciphertext)
	}
	return nil, ErrProviderUnavailable
}
func (s *Store) GetSecret(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	metrics.SecretOps.WithLabelValues("get").Inc()
	if s.primary != nil {
		val, err := s.primary.GetSecret(ctx, key)
		if err == nil && val != "" {
			return val, nil
		}
		if err == nil {
			err = fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		if s.requirePrimary || s.failClosed || s.fallback == nil {
			return "", fmt.Errorf("%s get secret failed: %w", s.primary.Name(), err)
		}
		s.log.Warn().Err(err).Str("provider", s.primary.Name()).Str("key", key).Msg("primary lookup failed, using fallback")
	}
	if s.fallback != nil {
		return s.fallback.GetSecret(ctx, key)
	}
	return "", ErrProviderUnavailable
}

// Resolve returns the value for name. A base64 <NAME>_CIPHERTEXT in the
// environment is decrypted; otherwise the providers are asked for name.
func (s *Store) Resolve(ctx context.Context, name string) ([]byte, error) {
	if ct := os.Getenv(name + "_CIPHERTEXT"); ct != "" {
		raw, err := base64.StdEncoding.DecodeString(ct)
		if err != nil {
			return nil, fmt.Errorf("%s_CIPHERTEXT must be base64: %w", name, err)
		}
		return s.Decrypt(ctx, raw)
	}
	val, err := s.GetSecret(ctx, name)
	if err != nil {
		return nil, err
	}
	return []byte(val), nil
}
