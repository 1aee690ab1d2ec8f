package auth

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"

	"github.com/google/uuid"
	"github.com/tendant/simple-sso/internal/domain"
)

// KeyValueLength is the number of random bytes in a generated key value.
const KeyValueLength = 24

var keyEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateKeyValue generates an opaque random key value. Values are
// generated exactly once; a key's value is never regenerated in place.
func GenerateKeyValue() (string, error) {
	raw := make([]byte, KeyValueLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate key value: %w", err)
	}
	return keyEncoding.EncodeToString(raw), nil
}

// NewKey assembles an unsaved key with a fresh id and value.
func NewKey(typ domain.KeyType, name, serviceID, userID string) (*domain.Key, error) {
	value, err := GenerateKeyValue()
	if err != nil {
		return nil, err
	}

	return &domain.Key{
		ID:        uuid.New().String(),
		Type:      typ,
		Name:      name,
		Value:     value,
		ServiceID: serviceID,
		UserID:    userID,
		IsEnabled: true,
	}, nil
}
