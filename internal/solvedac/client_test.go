package solvedac

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserProfileDecodesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/user/show", r.URL.Path)
		require.Equal(t, "solver", r.URL.Query().Get("handle"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"handle": "solver",
			"bio": "hello CAU-CODE-ABC123DEF456",
			"tier": 17,
			"rating": 1894,
			"solvedCount": 742,
			"class": 5
		}`))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL, HTTPClient: server.Client()})

	profile, err := client.UserProfile(context.Background(), "solver")
	require.NoError(t, err)
	assert.Equal(t, "solver", profile.Handle)
	assert.Equal(t, "hello CAU-CODE-ABC123DEF456", profile.Bio)
	assert.Equal(t, 17, profile.Tier)
	assert.Equal(t, 1894, profile.Rating)
	assert.Equal(t, 742, profile.SolvedCount)
	assert.Equal(t, 5, profile.Class)
}

func TestUserProfileNotFoundIsDefinitive(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL, HTTPClient: server.Client()})

	_, err := client.UserProfile(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrUserNotFound)

	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr), "not-found must not be reported as transient")
}

func TestUserProfileServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL, HTTPClient: server.Client()})

	_, err := client.UserProfile(context.Background(), "solver")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}

func TestUserProfileNetworkFailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	serverURL := server.URL
	server.Close()

	client := NewClient(ClientConfig{BaseURL: serverURL})

	_, err := client.UserProfile(context.Background(), "solver")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.NotNil(t, apiErr.Unwrap())
}

func TestUserProfileMalformedBodyIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL, HTTPClient: server.Client()})

	_, err := client.UserProfile(context.Background(), "solver")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
}
