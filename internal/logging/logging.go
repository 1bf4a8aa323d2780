// Package logging defines the structured logging sink the rest of the
// module depends on. The core never touches process globals or a
// concrete logging library directly; it is handed a Logger at
// construction, per spec.md §9.
package logging

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net"
	"os"

	"github.com/sirupsen/logrus"
)

// Fields is a set of structured key/value pairs attached to a log line.
type Fields map[string]any

// Logger is the sink every package in this module logs through.
type Logger interface {
	Debug(msg string, fields Fields)
	Info(msg string, fields Fields)
	Warn(msg string, fields Fields)
	Error(msg string, fields Fields)
	// WithFields returns a Logger that always includes fields in
	// addition to whatever is passed to its own log calls.
	WithFields(fields Fields) Logger
}

// logrusLogger adapts logrus.FieldLogger to Logger.
type logrusLogger struct {
	entry *logrus.Entry
}

// New builds a Logger backed by logrus, writing level-formatted lines
// to out at the given level ("debug", "info", "warn", "error").
func New(out io.Writer, level string) Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(level); err == nil {
		l.SetLevel(lvl)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

// NewDefault builds a Logger writing to stderr at info level, used by
// command entrypoints before configuration has been loaded.
func NewDefault() Logger {
	return New(os.Stderr, "info")
}

func (l *logrusLogger) Debug(msg string, fields Fields) { l.entry.WithFields(logrus.Fields(fields)).Debug(msg) }
func (l *logrusLogger) Info(msg string, fields Fields)  { l.entry.WithFields(logrus.Fields(fields)).Info(msg) }
func (l *logrusLogger) Warn(msg string, fields Fields)  { l.entry.WithFields(logrus.Fields(fields)).Warn(msg) }
func (l *logrusLogger) Error(msg string, fields Fields) { l.entry.WithFields(logrus.Fields(fields)).Error(msg) }

func (l *logrusLogger) WithFields(fields Fields) Logger {
	return &logrusLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

// ipSalt is generated once per process so hashed IPs in one run cannot
// be correlated with hashed IPs from another without also having the
// salt, while still letting operators correlate requests from the same
// client within a single run's logs.
var ipSalt = generateSalt()

func generateSalt() []byte {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		// crypto/rand failing is effectively unrecoverable; fall back to
		// a fixed salt rather than panicking on a logging path.
		return []byte("nauyaca-fallback-salt")
	}
	return salt
}

// HashIP returns a salted SHA-256 hash of ip, hex-encoded, for use when
// logging.hash_ips is enabled. Plain IPs are still useful for abuse
// response, so this is opt-in rather than the default.
func HashIP(ip net.IP) string {
	h := sha256.New()
	h.Write(ipSalt)
	h.Write([]byte(ip.String()))
	return hex.EncodeToString(h.Sum(nil))
}

// FormatIP returns ip.String() or its hashed form depending on hashIPs.
func FormatIP(ip net.IP, hashIPs bool) string {
	if ip == nil {
		return ""
	}
	if hashIPs {
		return HashIP(ip)
	}
	return ip.String()
}
