package proxy

import (
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSwitchFailoverIsIdempotentUnderRace(t *testing.T) {
	t.Parallel()

	sw, err := New("http://primary:3128", "http://fallback:3128")
	require.NoError(t, err)
	require.Equal(t, "failover", sw.Mode())

	var wg sync.WaitGroup
	results := make([]bool, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = sw.Failover(RoutePrimary)
		}(i)
	}
	wg.Wait()

	for _, switched := range results {
		require.True(t, switched)
	}
	require.Equal(t, int64(1), sw.Switches())
	require.Equal(t, RouteFallback, sw.Current())

	u, err := sw.ProxyFunc(&http.Request{})
	require.NoError(t, err)
	require.Equal(t, "fallback:3128", u.Host)
}

func TestSwitchWithoutDistinctFallback(t *testing.T) {
	t.Parallel()

	same, err := New("http://p:1", "http://p:1")
	require.NoError(t, err)
	require.False(t, same.Failover(RoutePrimary))
	require.Equal(t, "fixed", same.Mode())

	none, err := New("", "")
	require.NoError(t, err)
	require.False(t, none.Failover(RoutePrimary))
	require.Nil(t, none.ActiveURL())
	require.Equal(t, "direct", none.Mode())
}

func TestSwitchDirectPrimaryFailsOverToProxy(t *testing.T) {
	t.Parallel()

	sw, err := New("", "http://fallback:8080")
	require.NoError(t, err)
	require.Nil(t, sw.ActiveURL())
	require.True(t, sw.Failover(RoutePrimary))
	require.Equal(t, "fallback:8080", sw.ActiveURL().Host)
	require.False(t, sw.Failover(RouteFallback))
}

func TestNewRejectsBadURL(t *testing.T) {
	t.Parallel()

	_, err := New("not-a-url", "")
	require.Error(t, err)
}
