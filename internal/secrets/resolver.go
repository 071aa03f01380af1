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
	"fmt"
	"regexp"
	"strings"
)

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Resolver expands secret references using an environment backend and a
// keychain backend.
type Resolver struct {
	env     Backend
	keyring Backend
}

// NewResolver creates a resolver. Nil backends default to the process
// environment and the system keychain.
func NewResolver(env, keyring Backend) *Resolver {
	if env == nil {
		env = NewEnvBackend()
	}
	if keyring == nil {
		keyring = NewKeychainBackend()
	}
	return &Resolver{env: env, keyring: keyring}
}

// IsReference reports whether value contains anything Resolve would expand.
func IsReference(value string) bool {
	return strings.HasPrefix(value, KeyringPrefix) || envRefPattern.MatchString(value)
}

// Resolve expands value. A keyring reference replaces the whole value;
// ${NAME} references may appear anywhere and more than once.
func (r *Resolver) Resolve(ctx context.Context, value string) (string, error) {
	if name, ok := strings.CutPrefix(value, KeyringPrefix); ok {
		if name == "" {
			return "", fmt.Errorf("empty keyring reference")
		}
		secret, err := r.keyring.Get(ctx, name)
		if err != nil {
			return "", fmt.Errorf("resolve %s%s: %w", KeyringPrefix, name, err)
		}
		return secret, nil
	}

	var firstErr error
	out := envRefPattern.ReplaceAllStringFunc(value, func(ref string) string {
		name := envRefPattern.FindStringSubmatch(ref)[1]
		secret, err := r.env.Get(ctx, name)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("resolve ${%s}: %w", name, err)
		}
		return secret
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// ResolveMap resolves every value of m into a new map.
func (r *Resolver) ResolveMap(ctx context.Context, m map[string]string) (map[string]string, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		resolved, err := r.Resolve(ctx, v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = resolved
	}
	return out, nil
}

// ResolveEnv resolves the value half of KEY=VALUE pairs.
func (r *Resolver) ResolveEnv(ctx context.Context, env []string) ([]string, error) {
	if env == nil {
		return nil, nil
	}
	out := make([]string, len(env))
	for i, kv := range env {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			out[i] = kv
			continue
		}
		resolved, err := r.Resolve(ctx, value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		out[i] = key + "=" + resolved
	}
	return out, nil
}
