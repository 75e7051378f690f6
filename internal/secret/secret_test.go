package secret

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	values map[string]string
	calls  int
	closed bool
}

func (f *fakeSource) Get(_ context.Context, path string) (string, error) {
	f.calls++
	val, ok := f.values[path]
	if !ok {
		return "", errors.New("not found")
	}
	return val, nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

func TestResolverStaticPassthrough(t *testing.T) {
	r := NewResolver()
	val, err := r.Resolve(context.Background(), "sk-literal-key")
	require.NoError(t, err)
	assert.Equal(t, "sk-literal-key", val)
}

func TestResolverEnvScheme(t *testing.T) {
	t.Setenv("IMAGEMUX_SECRET_TEST", "sk-from-env")

	r := NewResolver()
	val, err := r.Resolve(context.Background(), "env://IMAGEMUX_SECRET_TEST")
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", val)
}

func TestResolverEnvMissing(t *testing.T) {
	r := NewResolver()
	_, err := r.Resolve(context.Background(), "env://IMAGEMUX_SECRET_ABSENT")
	assert.Error(t, err)
}

func TestResolverUnknownScheme(t *testing.T) {
	r := NewResolver()
	_, err := r.Resolve(context.Background(), "consul://kv/whatever")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "consul")
}

func TestResolverCustomSource(t *testing.T) {
	src := &fakeSource{values: map[string]string{"secret/dalle": "sk-vaulted"}}
	r := NewResolver()
	r.Register("vault", src)

	val, err := r.Resolve(context.Background(), "vault://secret/dalle")
	require.NoError(t, err)
	assert.Equal(t, "sk-vaulted", val)

	require.NoError(t, r.Close())
	assert.True(t, src.closed)
}

func TestCachedSourceHitsInnerOnce(t *testing.T) {
	src := &fakeSource{values: map[string]string{"k": "v"}}
	cached := NewCached(src, time.Minute)

	for i := 0; i < 3; i++ {
		val, err := cached.Get(context.Background(), "k")
		require.NoError(t, err)
		assert.Equal(t, "v", val)
	}
	assert.Equal(t, 1, src.calls)
}

func TestCachedSourceDoesNotCacheErrors(t *testing.T) {
	src := &fakeSource{values: map[string]string{}}
	cached := NewCached(src, time.Minute)

	_, err := cached.Get(context.Background(), "missing")
	require.Error(t, err)
	_, err = cached.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, 2, src.calls)
}
