package server

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Authentication errors
var (
	ErrAuthRequired      = errors.New("authentication required")
	ErrAuthTokenInvalid  = errors.New("invalid auth message")
	ErrAuthTokenMismatch = errors.New("auth token mismatch")
)

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	// Enabled determines if authentication is required
	Enabled bool `yaml:"enabled"`
	// Token is the secret token that clients must provide
	Token string `yaml:"token"`
}

// Authenticator handles connection authentication.
type Authenticator struct {
	config AuthConfig
	mu     sync.RWMutex
}

// NewAuthenticator creates a new Authenticator with the given config.
// If auth is enabled without a token, a random token is generated.
func NewAuthenticator(config AuthConfig) (*Authenticator, error) {
	if config.Enabled && config.Token == "" {
		token, err := GenerateToken()
		if err != nil {
			return nil, err
		}
		config.Token = token
	}
	return &Authenticator{
		config: config,
	}, nil
}

// IsEnabled returns true if authentication is enabled.
func (a *Authenticator) IsEnabled() bool {
	if a == nil {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config.Enabled
}

// Token returns the current auth token (for displaying to admin).
func (a *Authenticator) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config.Token
}

// ValidateToken checks if the provided token matches the configured token.
// Uses constant-time comparison to prevent timing attacks.
func (a *Authenticator) ValidateToken(providedToken string) error {
	if !a.IsEnabled() {
		return nil
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if providedToken == "" {
		return ErrAuthRequired
	}

	if subtle.ConstantTimeCompare([]byte(a.config.Token), []byte(providedToken)) != 1 {
		return ErrAuthTokenMismatch
	}

	return nil
}

// Handshake reads an AuthMessage from rw, validates it and writes the
// AuthResponse. It returns the validation error, if any.
func (a *Authenticator) Handshake(rw io.ReadWriter) error {
	data, err := ReadMessage(rw)
	if err != nil {
		return fmt.Errorf("failed to read auth message: %w", err)
	}

	var msg AuthMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "auth" {
		err = ErrAuthTokenInvalid
		_ = writeAuthResponse(rw, err)
		return err
	}

	authErr := a.ValidateToken(msg.Token)
	if err := writeAuthResponse(rw, authErr); err != nil {
		return err
	}
	return authErr
}

func writeAuthResponse(w io.Writer, authErr error) error {
	resp := AuthResponse{Success: authErr == nil}
	if authErr != nil {
		resp.Error = authErr.Error()
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal auth response: %w", err)
	}
	return WriteMessage(w, data)
}

// Authenticate runs the client side of the handshake.
func Authenticate(rw io.ReadWriter, token string) error {
	data, err := json.Marshal(AuthMessage{Type: "auth", Token: token})
	if err != nil {
		return fmt.Errorf("failed to marshal auth message: %w", err)
	}
	if err := WriteMessage(rw, data); err != nil {
		return err
	}

	data, err = ReadMessage(rw)
	if err != nil {
		return fmt.Errorf("failed to read auth response: %w", err)
	}
	var resp AuthResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("failed to unmarshal auth response: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("authentication failed: %s", resp.Error)
	}
	return nil
}

// GenerateToken generates a cryptographically secure random token.
func GenerateToken() (string, error) {
	bytes := make([]byte, 32) // 256 bits
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// AuthMessage represents an authentication handshake message.
// This is the first message a client must send when auth is enabled.
type AuthMessage struct {
	Type  string `json:"type"`  // Must be "auth"
	Token string `json:"token"` // The authentication token
}

// AuthResponse is sent back to the client after auth attempt.
type AuthResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
