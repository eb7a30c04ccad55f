package gmail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// ErrAuthRequired signals that no usable credential exists and the user must
// re-authorize. Callers distinguish this from "no new mail".
var ErrAuthRequired = errors.New("gmail authorization required")

// Credential is an immutable OAuth2 token value. Refresh returns a new
// Credential instead of mutating shared state.
type Credential struct {
	token *oauth2.Token
}

// LoadCredential reads a stored token file. A missing file maps to
// ErrAuthRequired.
func LoadCredential(path string) (*Credential, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: no token at %s", ErrAuthRequired, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}
	return &Credential{token: &token}, nil
}

// Save writes the credential to path with restrictive permissions.
func (c *Credential) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}
	data, err := json.Marshal(c.token)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// Valid reports whether the access token is currently usable.
func (c *Credential) Valid() bool {
	return c.token.Valid()
}

// Refreshable reports whether an expired credential can be refreshed.
func (c *Credential) Refreshable() bool {
	return c.token.RefreshToken != ""
}

// Refresh exchanges the refresh token for a new access token and returns a
// new Credential value. Attempted once per call; a failure here is a hard
// failure for the caller's operation.
func (c *Credential) Refresh(ctx context.Context, conf *oauth2.Config) (*Credential, error) {
	token, err := conf.TokenSource(ctx, c.token).Token()
	if err != nil {
		return nil, fmt.Errorf("%w: token refresh failed: %v", ErrAuthRequired, err)
	}
	return &Credential{token: token}, nil
}

// TokenSource returns a non-refreshing source for the current access token.
func (c *Credential) TokenSource() oauth2.TokenSource {
	return oauth2.StaticTokenSource(c.token)
}
