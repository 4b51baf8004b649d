package api

import (
	"crypto/rand"
	"math/big"
	"regexp"
)

const (
	idLength = 24
	charset  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	executionIDPrefix = "exec_"
	sessionIDPrefix   = "sess_"
)

var (
	executionIDPattern = regexp.MustCompile(`^exec_[a-zA-Z0-9]{24}$`)

	// Session ids are chosen by the caller; they also name a workspace
	// directory, so they are restricted to a path-safe alphabet.
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)
)

// NewExecutionID returns "exec_" followed by 24 random alphanumerics.
func NewExecutionID() string {
	return executionIDPrefix + randomAlphanumeric(idLength)
}

// NewSessionID returns "sess_" followed by 24 random alphanumerics.
func NewSessionID() string {
	return sessionIDPrefix + randomAlphanumeric(idLength)
}

func ValidateExecutionID(id string) bool {
	return executionIDPattern.MatchString(id)
}

// ValidateSessionID reports whether id is usable as a session id.
func ValidateSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

func randomAlphanumeric(n int) string {
	max := big.NewInt(int64(len(charset)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		b[i] = charset[idx.Int64()]
	}
	return string(b)
}
