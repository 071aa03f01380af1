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

// Package secrets resolves secret references in server headers and
// environment values.
//
// Two reference forms are supported:
//
//	${NAME}        replaced with the NAME environment variable
//	keyring:NAME   the whole value is read from the system keychain
//
// Anything else is returned unchanged.
package secrets

import (
	"context"
	"errors"
)

// KeyringPrefix marks a value that is read from the system keychain.
const KeyringPrefix = "keyring:"

var (
	// ErrSecretNotFound is returned when a referenced secret does not exist.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrBackendUnavailable is returned when a backend cannot be reached,
	// for example a locked keychain.
	ErrBackendUnavailable = errors.New("secret backend unavailable")
)

// Backend looks up secrets by key.
type Backend interface {
	Name() string
	Get(ctx context.Context, key string) (string, error)
}
