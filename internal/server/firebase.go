package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jonathan/levelup/internal/types"
)

// DefaultIdentityToolkitURL is the Firebase Auth REST endpoint.
const DefaultIdentityToolkitURL = "https://identitytoolkit.googleapis.com"

// ErrInvalidToken is returned when the identity provider rejects a token.
var ErrInvalidToken = errors.New("invalid identity token")

// FirebaseVerifier validates Firebase ID tokens through the identitytoolkit
// accounts:lookup call, which fails for expired or forged tokens.
type FirebaseVerifier struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewFirebaseVerifier creates a verifier. An empty baseURL uses the public
// endpoint; a nil client gets a 10s timeout.
func NewFirebaseVerifier(apiKey, baseURL string, client *http.Client) *FirebaseVerifier {
	if baseURL == "" {
		baseURL = DefaultIdentityToolkitURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &FirebaseVerifier{apiKey: apiKey, baseURL: baseURL, client: client}
}

type lookupResponse struct {
	Users []struct {
		LocalID     string `json:"localId"`
		Email       string `json:"email"`
		DisplayName string `json:"displayName"`
		PhotoURL    string `json:"photoUrl"`
	} `json:"users"`
}

// ValidateToken implements middleware.TokenValidator.
func (v *FirebaseVerifier) ValidateToken(ctx context.Context, token string) (*types.Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	body, err := json.Marshal(map[string]string{"idToken": token})
	if err != nil {
		return nil, err
	}
	endpoint := v.baseURL + "/v1/accounts:lookup?key=" + url.QueryEscape(v.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create lookup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity lookup failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read lookup response: %w", err)
	}
	if resp.StatusCode == http.StatusBadRequest {
		return nil, ErrInvalidToken
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity lookup returned status %d", resp.StatusCode)
	}

	var out lookupResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode lookup response: %w", err)
	}
	if len(out.Users) == 0 || out.Users[0].LocalID == "" {
		return nil, ErrInvalidToken
	}

	u := out.Users[0]
	return &types.Identity{
		UserID:      u.LocalID,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		AvatarURL:   u.PhotoURL,
	}, nil
}
