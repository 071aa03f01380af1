// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

// keychainService is the service name used for keychain entries.
const keychainService = "toolhub"

// KeychainBackend stores secrets in the system keychain.
// Supported platforms:
//   - macOS: Keychain Access
//   - Linux: Secret Service API (GNOME Keyring, KWallet)
//   - Windows: Credential Manager
type KeychainBackend struct {
	service string
}

// NewKeychainBackend creates a keychain backend for the toolhub service.
func NewKeychainBackend() *KeychainBackend {
	return &KeychainBackend{service: keychainService}
}

// Name returns the backend identifier.
func (k *KeychainBackend) Name() string {
	return "keychain"
}

// Get retrieves a secret from the system keychain.
func (k *KeychainBackend) Get(ctx context.Context, key string) (string, error) {
	value, err := keyring.Get(k.service, key)
	if err != nil {
		return "", k.wrap(key, err)
	}
	return value, nil
}

// Set stores a secret in the system keychain.
func (k *KeychainBackend) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return fmt.Errorf("secret name is required")
	}
	if err := keyring.Set(k.service, key, value); err != nil {
		return k.wrap(key, err)
	}
	return nil
}

// Delete removes a secret from the system keychain.
func (k *KeychainBackend) Delete(ctx context.Context, key string) error {
	if err := keyring.Delete(k.service, key); err != nil {
		return k.wrap(key, err)
	}
	return nil
}

func (k *KeychainBackend) wrap(key string, err error) error {
	if errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}
	if errors.Is(err, keyring.ErrUnsupportedPlatform) || isKeychainUnavailableError(err) {
		return fmt.Errorf("%w: %s", ErrBackendUnavailable, err.Error())
	}
	return fmt.Errorf("keychain error: %w", err)
}

// isKeychainUnavailableError reports errors that mean the keychain itself
// cannot be used rather than the key being absent.
func isKeychainUnavailableError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"locked", "no such interface", "dbus", "secret service", "not available", "user interaction"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
