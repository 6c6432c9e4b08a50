package ocr

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClientRecognize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		switch string(body) {
		case "code":
			w.Write([]byte(`{"text":"use WXYZ-1234-5678 at checkout"}`))
		case "blank":
			w.Write([]byte(`{"text":""}`))
		case "quota":
			w.Write([]byte(`{"error":"quota exceeded"}`))
		case "slow":
			time.Sleep(500 * time.Millisecond)
			w.Write([]byte(`{"text":"late"}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"unsupported image"}`))
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, 100*time.Millisecond)
	ctx := context.Background()

	text, err := c.Recognize(ctx, []byte("code"))
	require.NoError(t, err)
	assert.Equal(t, "use WXYZ-1234-5678 at checkout", text)

	text, err = c.Recognize(ctx, []byte("blank"))
	require.NoError(t, err)
	assert.Empty(t, text)

	_, err = c.Recognize(ctx, []byte("garbage"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRecognition)
	assert.Contains(t, err.Error(), "unsupported image")

	// A 200 carrying an error payload is still a service failure.
	text, err = c.Recognize(ctx, []byte("quota"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRecognition)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Empty(t, text)

	_, err = c.Recognize(ctx, []byte("slow"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRecognition)
}

func TestHTTPClientConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPClient(url, time.Second).Recognize(context.Background(), []byte{0xFF, 0xD8})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRecognition)
}
