package registry

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingTransport struct {
	calls int
}

func (c *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	c.calls++
	return httptest.NewRecorder().Result(), nil
}

func TestHostLimitedTransportBoundsPerHostRate(t *testing.T) {
	inner := &countingTransport{}
	rt := newHostLimitedTransport(inner, 1000, 1)

	req, err := http.NewRequest(http.MethodGet, "https://registry.example/v2/x", nil)
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := rt.RoundTrip(req)
		require.NoError(t, err)
	}
	require.Equal(t, 3, inner.calls)
	require.Less(t, time.Since(start), time.Second)
}

func TestWithRateLimitDisabledWhenZero(t *testing.T) {
	c := &ggcrClient{}
	WithRateLimit(0, 5)(c)
	require.Nil(t, c.transport)
}

func TestWithRateLimitWrapsTransport(t *testing.T) {
	c := &ggcrClient{}
	WithRateLimit(10, 5)(c)
	require.NotNil(t, c.transport)
	_, ok := c.transport.(*hostLimitedTransport)
	require.True(t, ok)
}
