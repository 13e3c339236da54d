// Package keystore keeps PGP keys as secrets in Azure Key Vault: one public
// key per recipient and a single private key of our own.
package keystore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andrej220/blobcrypt/pkg/pgp"
)

// PrivateKeyName is the secret holding our own private key.
const PrivateKeyName = "pgp_private_key"

var (
	ErrNoPrivateKey = errors.New("keystore: no private key in supplied source")
	ErrNotFound     = errors.New("keystore: secret not found")
)

// SecretClient is the part of a secret store the key store needs.
// Implementations return ErrNotFound for a missing secret.
type SecretClient interface {
	GetSecret(ctx context.Context, name string) (string, error)
	SetSecret(ctx context.Context, name, value string) error
	DeleteSecret(ctx context.Context, name string) error
}

type Store struct {
	client SecretClient
}

func New(client SecretClient) *Store {
	return &Store{client: client}
}

// SecretName maps a recipient id to a valid secret name. Key Vault accepts
// only letters, digits and '-', so everything else becomes '-'.
func SecretName(recipient string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		}
		return '-'
	}, recipient)
}

// GetPublicKey returns the recipient's public key, ASCII armored.
func (s *Store) GetPublicKey(ctx context.Context, recipient string) (string, error) {
	key, err := s.client.GetSecret(ctx, SecretName(recipient))
	if err != nil {
		return "", fmt.Errorf("public key of %s: %w", recipient, err)
	}
	return key, nil
}

func (s *Store) SavePublicKey(ctx context.Context, recipient, armored string) error {
	if err := s.client.SetSecret(ctx, SecretName(recipient), armored); err != nil {
		return fmt.Errorf("save public key of %s: %w", recipient, err)
	}
	return nil
}

// SavePublicKeyFrom parses a key ring, armored or binary, and stores only its
// public part.
func (s *Store) SavePublicKeyFrom(ctx context.Context, recipient string, r io.Reader) error {
	el, err := pgp.ReadKeyRing(r)
	if err != nil {
		return err
	}
	armored, err := pgp.ArmorPublicKeys(el)
	if err != nil {
		return err
	}
	return s.SavePublicKey(ctx, recipient, armored)
}

func (s *Store) DeletePublicKey(ctx context.Context, recipient string) error {
	return s.client.DeleteSecret(ctx, SecretName(recipient))
}

func (s *Store) GetPrivateKey(ctx context.Context) (string, error) {
	key, err := s.client.GetSecret(ctx, SecretName(PrivateKeyName))
	if err != nil {
		return "", fmt.Errorf("private key: %w", err)
	}
	return key, nil
}

func (s *Store) SavePrivateKey(ctx context.Context, armored string) error {
	return s.client.SetSecret(ctx, SecretName(PrivateKeyName), armored)
}

// SavePrivateKeyFrom fails with ErrNoPrivateKey when the key ring only holds
// public keys.
func (s *Store) SavePrivateKeyFrom(ctx context.Context, r io.Reader) error {
	el, err := pgp.ReadKeyRing(r)
	if err != nil {
		return err
	}
	if !pgp.HasPrivateKey(el) {
		return ErrNoPrivateKey
	}
	armored, err := pgp.ArmorPrivateKeys(el)
	if err != nil {
		return err
	}
	return s.SavePrivateKey(ctx, armored)
}

func (s *Store) DeletePrivateKey(ctx context.Context) error {
	return s.client.DeleteSecret(ctx, SecretName(PrivateKeyName))
}
