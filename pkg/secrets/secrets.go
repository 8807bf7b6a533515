// Package secrets defines the secret store contract and the two lifecycle
// helpers entities build on: get-or-generate for auto-provisioned
// credentials, and owned-secret removal during delete.
package secrets

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/cloudwarden/cloudwarden/pkg/telemetry"
)

// ErrNotFound is returned by Store.Get and Store.Remove when no value
// exists under the given name.
var ErrNotFound = errors.New("secret not found")

// Store is a keyed credential store. Implementations must make Get, Set,
// and Remove atomic per key so entities reconciling concurrently can share
// one store safely.
type Store interface {
	// Get returns the value stored under name, or ErrNotFound.
	Get(ctx context.Context, name string) (string, error)

	// Set stores value under name, replacing any previous value.
	Set(ctx context.Context, name string, value string) error

	// Remove deletes the value stored under name. Returns ErrNotFound
	// when nothing is stored.
	Remove(ctx context.Context, name string) error
}

// DefaultGeneratedLength is the length of generated secret values.
const DefaultGeneratedLength = 32

// alphabet for generated secrets. Alphanumeric only, so values survive
// providers that reject punctuation in passwords.
const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GetOrGenerate returns the secret stored under name, generating and
// storing a random value first when none exists. The value is re-read after
// the write so the caller only ever sees what a subsequent Get would return.
func GetOrGenerate(ctx context.Context, store Store, name string, length int) (string, error) {
	value, err := store.Get(ctx, name)
	if err == nil {
		return value, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("failed to read secret %q: %w", name, err)
	}

	if length <= 0 {
		length = DefaultGeneratedLength
	}
	generated, err := randomValue(length)
	if err != nil {
		return "", fmt.Errorf("failed to generate secret %q: %w", name, err)
	}
	if err := store.Set(ctx, name, generated); err != nil {
		return "", fmt.Errorf("failed to store secret %q: %w", name, err)
	}

	// Read back rather than trusting the local value; confirms the store
	// accepted the write before the secret is used anywhere.
	value, err = store.Get(ctx, name)
	if err != nil {
		return "", fmt.Errorf("failed to read back secret %q: %w", name, err)
	}
	return value, nil
}

// RemoveOwned removes a secret created by the owning entity's create. A
// missing secret or a store failure is logged and swallowed: deleting the
// parent resource must never be blocked by secret cleanup.
func RemoveOwned(ctx context.Context, store Store, log *telemetry.Logger, name string) {
	if log == nil {
		log = telemetry.NopLogger()
	}
	err := store.Remove(ctx, name)
	switch {
	case err == nil:
		log.Debugf("removed owned secret %q", name)
	case errors.Is(err, ErrNotFound):
		log.Debugf("owned secret %q already absent", name)
	default:
		log.WithError(err).Warnf("failed to remove owned secret %q", name)
	}
}

// randomValue generates a random alphanumeric string of the given length.
func randomValue(length int) (string, error) {
	buf := make([]byte, length)
	max := big.NewInt(int64(len(alphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = alphabet[n.Int64()]
	}
	return string(buf), nil
}
