package httputil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadBody_WithinLimit(t *testing.T) {
	body, err := ReadBody(strings.NewReader("hello"), 10)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
}

func TestReadBody_ExactLimit(t *testing.T) {
	body, err := ReadBody(strings.NewReader("hello"), 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
}

func TestReadBody_OverLimitTruncates(t *testing.T) {
	body, err := ReadBody(strings.NewReader("helloworld"), 5)
	require.ErrorIs(t, err, ErrBodyTooLarge)
	assert.Equal(t, "hello", string(body))
}

func TestReadBody_NoLimitReadsAll(t *testing.T) {
	payload := strings.Repeat("x", 4096)
	body, err := ReadBody(strings.NewReader(payload), 0)
	require.NoError(t, err)
	assert.Len(t, body, 4096)
}
