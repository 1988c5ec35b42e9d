package observability

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusClass(t *testing.T) {
	testCases := []struct {
		status   int
		expected string
	}{
		{200, "2xx"},
		{201, "2xx"},
		{204, "2xx"},
		{299, "2xx"},
		{300, "3xx"},
		{301, "3xx"},
		{304, "3xx"},
		{399, "3xx"},
		{400, "4xx"},
		{401, "4xx"},
		{403, "4xx"},
		{404, "4xx"},
		{499, "4xx"},
		{500, "5xx"},
		{502, "5xx"},
		{503, "5xx"},
		{599, "5xx"},
		{100, "unknown"},
		{0, "unknown"},
		{600, "5xx"}, // >= 500 returns 5xx
	}

	for _, tc := range testCases {
		t.Run(fmt.Sprintf("status_%d", tc.status), func(t *testing.T) {
			result := statusClass(tc.status)
			assert.Equal(t, tc.expected, result)
		})
	}
}

func TestNormalizePath(t *testing.T) {
	t.Run("returns path unchanged for short paths", func(t *testing.T) {
		result := normalizePath("/message-bus/abc/poll")
		assert.Equal(t, "/message-bus/abc/poll", result)
	})

	t.Run("returns long_path for paths over 50 chars", func(t *testing.T) {
		longPath := "/message-bus/very/long/client/id/that/exceeds/fifty/characters/poll"
		result := normalizePath(longPath)
		assert.Equal(t, "long_path", result)
	})

	t.Run("handles empty path", func(t *testing.T) {
		result := normalizePath("")
		assert.Equal(t, "", result)
	})

	t.Run("handles root path", func(t *testing.T) {
		result := normalizePath("/")
		assert.Equal(t, "/", result)
	})
}

func TestMetrics_AllMethods(t *testing.T) {
	m := NewMetrics()
	require.NotNil(t, m)

	t.Run("RecordPublish", func(t *testing.T) {
		assert.NotPanics(t, func() {
			m.RecordPublish("/chat", 5*time.Millisecond)
		})
	})

	t.Run("SetBacklogSize", func(t *testing.T) {
		assert.NotPanics(t, func() {
			m.SetBacklogSize("/chat", 42)
		})
	})

	t.Run("SetGlobalID", func(t *testing.T) {
		assert.NotPanics(t, func() {
			m.SetGlobalID(1000)
		})
	})

	t.Run("LongpollStarted", func(t *testing.T) {
		assert.NotPanics(t, func() {
			done := m.LongpollStarted()
			done("messages")
		})
	})

	t.Run("SetSubscribers", func(t *testing.T) {
		assert.NotPanics(t, func() {
			m.SetSubscribers("/chat", 3)
		})
	})

	t.Run("RecordBackendError", func(t *testing.T) {
		assert.NotPanics(t, func() {
			m.RecordBackendError("unavailable")
		})
	})

	t.Run("Handler", func(t *testing.T) {
		handler := m.Handler()
		assert.NotNil(t, handler)
	})

	t.Run("MetricsMiddleware", func(t *testing.T) {
		middleware := m.MetricsMiddleware()
		assert.NotNil(t, middleware)
	})
}
