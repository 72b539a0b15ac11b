package sse

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeDeliversEventsAndPings(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHub(50 * time.Millisecond)

	r := gin.New()
	r.GET("/events", func(c *gin.Context) { h.Serve(c, "alice") })
	srv := httptest.NewServer(r)
	defer srv.Close()

	cli := &http.Client{Timeout: 3 * time.Second}
	resp, err := cli.Get(srv.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		return h.clients["alice"] != nil
	}, time.Second, 5*time.Millisecond, "stream must register with the hub")

	reader := bufio.NewReader(resp.Body)
	first, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "retry: 5000\n", first)

	h.SendEvent("alice", "match_set", map[string]int{"helpers": 2})

	var sawEvent, sawPing bool
	for !(sawEvent && sawPing) {
		line, err := reader.ReadString('\n')
		require.NoError(t, err, "the stream must keep delivering")
		switch strings.TrimRight(line, "\n") {
		case "event: match_set":
			data, err := reader.ReadString('\n')
			require.NoError(t, err)
			assert.Equal(t, "data: {\"helpers\":2}\n", data)
			sawEvent = true
		case "event: ping":
			sawPing = true
		}
	}
}

func TestSendEventWithoutStreamIsDropped(t *testing.T) {
	h := NewHub(time.Second)
	h.SendEvent("nobody", "match_set", map[string]int{"helpers": 1})
}
