package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jonathan/levelup/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeIdentityToolkit(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/accounts:lookup" || r.URL.Query().Get("key") != "web-key" {
			http.Error(w, `{"error":{"message":"API key not valid"}}`, http.StatusForbidden)
			return
		}
		var body struct {
			IDToken string `json:"idToken"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		switch body.IDToken {
		case "good":
			w.Write([]byte(`{"users":[{"localId":"uid-ada","email":"ada@example.com","displayName":"Ada","photoUrl":"https://img/ada.png"}]}`)) //nolint:errcheck
		case "orphan":
			w.Write([]byte(`{"users":[]}`)) //nolint:errcheck
		default:
			http.Error(w, `{"error":{"message":"INVALID_ID_TOKEN"}}`, http.StatusBadRequest)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFirebaseVerifier(t *testing.T) {
	srv := fakeIdentityToolkit(t)
	v := NewFirebaseVerifier("web-key", srv.URL, srv.Client())

	id, err := v.ValidateToken(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, &types.Identity{
		UserID:      "uid-ada",
		DisplayName: "Ada",
		Email:       "ada@example.com",
		AvatarURL:   "https://img/ada.png",
	}, id)

	for _, token := range []string{"", "forged", "orphan"} {
		_, err := v.ValidateToken(context.Background(), token)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", token)
	}
}

func TestFirebaseVerifier_ProviderError(t *testing.T) {
	srv := fakeIdentityToolkit(t)
	v := NewFirebaseVerifier("wrong-key", srv.URL, srv.Client())

	_, err := v.ValidateToken(context.Background(), "good")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidToken)
	assert.Contains(t, err.Error(), "status 403")
}
