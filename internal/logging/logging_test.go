package logging_test

import (
	"bytes"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanbato/nauyaca/internal/logging"
)

func TestLoggerWritesLevelAndMessage(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(&buf, "debug")

	log.Info("hello", logging.Fields{"key": "value"})

	out := buf.String()
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "key=value")
	assert.Contains(t, strings.ToLower(out), "level=info")
}

func TestLoggerRespectsLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(&buf, "warn")

	log.Debug("should not appear", nil)
	log.Info("also should not appear", nil)
	log.Warn("this appears", nil)

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "this appears")
}

func TestWithFieldsPersistsAcrossCalls(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(&buf, "info").WithFields(logging.Fields{"request_id": "abc"})

	log.Info("first", nil)
	log.Info("second", nil)

	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "request_id=abc"))
}

func TestHashIPIsDeterministicWithinProcess(t *testing.T) {
	ip := net.ParseIP("203.0.113.5")
	a := logging.HashIP(ip)
	b := logging.HashIP(ip)
	assert.Equal(t, a, b)
	assert.NotEqual(t, ip.String(), a)
}

func TestFormatIPTogglesHashing(t *testing.T) {
	ip := net.ParseIP("203.0.113.5")
	assert.Equal(t, ip.String(), logging.FormatIP(ip, false))
	assert.NotEqual(t, ip.String(), logging.FormatIP(ip, true))
}
