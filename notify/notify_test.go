package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPNotifier_Success(t *testing.T) {
	var (
		got         Payload
		contentType string
		method      string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		contentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	payload := Payload{FormID: "s1", Responses: map[string]string{"age": "30"}}
	err := NewHTTPNotifier(time.Second).Notify(context.Background(), srv.URL, payload)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, payload, got)
}

func TestHTTPNotifier_WireFormat(t *testing.T) {
	body, err := json.Marshal(Payload{FormID: "s1", Responses: map[string]string{"a": "b"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"formId":"s1","responses":{"a":"b"}}`, string(body))
}

func TestHTTPNotifier_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewHTTPNotifier(time.Second).Notify(context.Background(), srv.URL, Payload{FormID: "s1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "nope")
}

func TestHTTPNotifier_NoDestination(t *testing.T) {
	err := NewHTTPNotifier(0).Notify(context.Background(), "", Payload{FormID: "s1"})
	assert.Error(t, err)
}

func TestHTTPNotifier_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	err := NewHTTPNotifier(50*time.Millisecond).Notify(context.Background(), srv.URL, Payload{FormID: "s1"})
	assert.Error(t, err)
}
