// Package client_test tests the voice service HTTP client.
package client_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/voice-service/internal/client"
	"github.com/book-expert/voice-service/internal/core"
)

func TestHealth(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	require.NoError(t, client.New(server.URL, time.Second).Health(context.Background()))
}

func TestHealth_Unavailable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	err := client.New(server.URL, time.Second).Health(context.Background())
	require.ErrorIs(t, err, client.ErrServiceUnhealthy)
}

func TestSynthesize(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/tts", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req core.SynthesisRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hello", req.Text)
		assert.Equal(t, "en-gb", req.Voice)
		if assert.NotNil(t, req.Speed) {
			assert.Equal(t, 150, *req.Speed)
		}

		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte("RIFF...."))
	}))
	defer server.Close()

	speed := 150

	audio, err := client.New(server.URL, time.Second).Synthesize(context.Background(), core.SynthesisRequest{
		Text:  "hello",
		Voice: "en-gb",
		Speed: &speed,
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFF...."), audio)
}

func TestSynthesize_EmptyTextRejectedLocally(t *testing.T) {
	t.Parallel()

	_, err := client.New("http://127.0.0.1:1", time.Second).Synthesize(context.Background(), core.SynthesisRequest{})
	require.ErrorIs(t, err, client.ErrEmptyText)
}

func TestSynthesize_ServiceErrorDetail(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"detail":"TTS failed: unknown voice"}`))
	}))
	defer server.Close()

	_, err := client.New(server.URL, time.Second).Synthesize(context.Background(), core.SynthesisRequest{Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TTS failed: unknown voice")
	assert.Contains(t, err.Error(), "500")
}

func TestSynthesize_WrongContentType(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("nope"))
	}))
	defer server.Close()

	_, err := client.New(server.URL, time.Second).Synthesize(context.Background(), core.SynthesisRequest{Text: "x"})
	require.ErrorIs(t, err, client.ErrUnexpectedContentType)
}

func TestTranscribe(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stt", r.URL.Path)

		file, header, err := r.FormFile("audio")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()

		content, _ := io.ReadAll(file)
		assert.Equal(t, "clip.wav", header.Filename)
		assert.Equal(t, "audio-bytes", string(content))

		_, _ = w.Write([]byte(`{"text":"hello world"}`))
	}))
	defer server.Close()

	text, err := client.New(server.URL, time.Second).
		Transcribe(context.Background(), "clip.wav", strings.NewReader("audio-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
}

func TestTranscribe_NonJSONError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := client.New(server.URL, time.Second).
		Transcribe(context.Background(), "", strings.NewReader("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad gateway")
}
