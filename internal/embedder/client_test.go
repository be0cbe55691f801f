package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codescope-dev/codescope/internal/apperror"
)

type fakeTokens struct {
	token  string
	stored []string
}

func (f *fakeTokens) Token() (string, error) { return f.token, nil }

func (f *fakeTokens) Store(token string) error {
	f.token = token
	f.stored = append(f.stored, token)
	return nil
}

func TestEmbedSuccess(t *testing.T) {
	var gotAuth string
	var gotReq embedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(embedResponse{
			Embeddings: [][]float32{{1, 0, 0}, {0, 1, 0}},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "test-model", 3, time.Second, &fakeTokens{token: "tok-1"})
	vectors, err := c.Embed(context.Background(), []string{"a", "b"}, ModeQuery)
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{1, 0, 0}, vectors[0])

	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.Equal(t, "test-model", gotReq.Model)
	assert.Equal(t, ModeQuery, gotReq.Mode)
	assert.Equal(t, []string{"a", "b"}, gotReq.Inputs)
}

func TestEmbedRefreshesTokenOnce(t *testing.T) {
	var auths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auths = append(auths, r.Header.Get("Authorization"))
		if r.Header.Get("Authorization") != "Bearer tok-new" {
			w.Header().Set(refreshedTokenHeader, "tok-new")
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{1, 0, 0}}})
	}))
	defer srv.Close()

	tokens := &fakeTokens{token: "tok-old"}
	c := NewHTTPClient(srv.URL, "m", 3, time.Second, tokens)
	vectors, err := c.Embed(context.Background(), []string{"a"}, ModePassage)
	require.NoError(t, err)
	require.Len(t, vectors, 1)

	assert.Equal(t, []string{"Bearer tok-old", "Bearer tok-new"}, auths)
	assert.Equal(t, []string{"tok-new"}, tokens.stored)
}

func TestEmbedAuthExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "m", 3, time.Second, &fakeTokens{token: "tok"})
	_, err := c.Embed(context.Background(), []string{"a"}, ModePassage)
	assert.ErrorIs(t, err, apperror.ErrAuthExpired)
}

func TestEmbedRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "m", 3, time.Second, nil)
	_, err := c.Embed(context.Background(), []string{"a"}, ModePassage)
	assert.ErrorIs(t, err, apperror.ErrRateLimited)
}

func TestEmbedServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "m", 3, time.Second, nil)
	_, err := c.Embed(context.Background(), []string{"a"}, ModePassage)
	assert.ErrorIs(t, err, errTransient)
}

func TestEmbedVectorCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{1, 0, 0}}})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "m", 3, time.Second, nil)
	_, err := c.Embed(context.Background(), []string{"a", "b"}, ModePassage)
	assert.Error(t, err)
}
