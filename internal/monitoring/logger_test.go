package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	assert.True(t, called, "custom logger was not called")

	// nil installs a no-op that must not reach the previous logger
	called = false
	SetLogger(nil)
	Logf("test message")
	assert.False(t, called, "no-op logger should not trigger the old callback")
}

func TestLogf_Default(t *testing.T) {
	assert.NotNil(t, Logf)
	assert.NotPanics(t, func() { Logf("test message: %s", "value") })
}

func TestPrefixed(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	logf := Prefixed("svm/network")
	logf("frame %d dropped", 7)

	// Swapping the logger after Prefixed was created still takes effect.
	var late []string
	SetLogger(func(format string, v ...interface{}) {
		late = append(late, fmt.Sprintf(format, v...))
	})
	logf("queue closed")

	assert.Equal(t, []string{"[svm/network] frame 7 dropped"}, lines)
	assert.Equal(t, []string{"[svm/network] queue closed"}, late)
}
