package notifications

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithoutTopicIsDisabled(t *testing.T) {
	n := New("")
	assert.Nil(t, n)
	assert.Error(t, n.Send("title", "body"))
}

func TestSendPostsJSON(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New("lamp-alerts")
	n.baseURL = srv.URL

	require.NoError(t, n.Send("Earthquake", "M6.1 nearby"))
	assert.Equal(t, "lamp-alerts", got["topic"])
	assert.Equal(t, "Smart lamp: Earthquake", got["title"])
	assert.Equal(t, "M6.1 nearby", got["message"])
	assert.Equal(t, float64(PriorityUrgent), got["priority"])
}

func TestTaggedKeepsTopic(t *testing.T) {
	var got message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New("lamp-alerts")
	n.baseURL = srv.URL
	notice := n.Tagged(PriorityDefault, "thermometer")

	require.NoError(t, notice.Send("Temperature Sensor Disabled", "23.0C"))
	assert.Equal(t, "lamp-alerts", got.Topic)
	assert.Equal(t, PriorityDefault, got.Priority)
	assert.Equal(t, []string{"thermometer"}, got.Tags)
	assert.Equal(t, PriorityUrgent, n.priority)

	var missing *Ntfy
	assert.Nil(t, missing.Tagged(PriorityDefault))
}

func TestSendReportsHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	n := New("lamp-alerts")
	n.baseURL = srv.URL

	err := n.Send("t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
