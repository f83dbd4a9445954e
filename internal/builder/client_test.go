package builder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientTagRunsRenderedCommand(t *testing.T) {
	c := New(Config{
		Tag: Command{Args: []string{"true"}},
	})
	require.NoError(t, c.Tag(context.Background(), "a:1", "b:2"))
}

func TestClientTagSurfacesNonZeroExit(t *testing.T) {
	c := New(Config{
		Tag: Command{Args: []string{"false"}},
	})
	require.Error(t, c.Tag(context.Background(), "a:1", "b:2"))
}

func TestClientPlatformReturnsEmptyWhenUnconfigured(t *testing.T) {
	c := New(Config{})
	p, err := c.Platform(context.Background())
	require.NoError(t, err)
	require.Empty(t, p)
}

func TestClientPlatformTrimsOutput(t *testing.T) {
	c := New(Config{
		Platform: &Command{Args: []string{"echo", "linux/amd64"}},
	})
	p, err := c.Platform(context.Background())
	require.NoError(t, err)
	require.Equal(t, "linux/amd64", p)
}
