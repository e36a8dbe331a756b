package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	c := New(nil)
	defer c.Close()

	assert.Equal(t, DefaultTimeout, c.defaultTimeout)
	assert.Equal(t, defaultUserAgent, c.userAgent)
	require.NotNil(t, c.HTTPClient())
}

func TestClient_Get_SetsUserAgent(t *testing.T) {
	t.Parallel()

	var gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(&Config{UserAgent: "coughdetect-test"})
	defer c.Close()

	var hookCalls atomic.Int32
	c.SetAfterResponseHook(func(_ *http.Request, resp *http.Response, err error) {
		assert.NoError(t, err)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		hookCalls.Add(1)
	})

	resp, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, "coughdetect-test", gotAgent)
	assert.Equal(t, int32(1), hookCalls.Load())
}

func TestClient_DefaultTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := New(&Config{DefaultTimeout: 50 * time.Millisecond})
	defer c.Close()

	start := time.Now()
	_, err := c.Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestClient_Do_NilRequest(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Do(context.Background(), nil)
	require.Error(t, err)
}
