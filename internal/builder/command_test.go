package builder

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommandRenderSubstitutesParams(t *testing.T) {
	c := Command{
		Args:        []string{"docker", "tag", "{source_image}", "{target_image}"},
		Environment: map[string]string{"FOO": "{source_image}-suffix"},
	}
	args, env, err := c.Render(map[string]string{
		"source_image": "a:1",
		"target_image": "b:2",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"docker", "tag", "a:1", "b:2"}, args)
	require.Equal(t, []string{"FOO=a:1-suffix"}, env)
}

func TestCommandRenderEscapesDoubleBraces(t *testing.T) {
	c := Command{Args: []string{"docker", "info", "--format", "{{{{ .OSType }}}}"}}
	args, _, err := c.Render(nil)
	require.NoError(t, err)
	require.Equal(t, []string{"docker", "info", "--format", "{{ .OSType }}"}, args)
}

func TestCommandRenderUnknownKeyErrors(t *testing.T) {
	c := Command{Args: []string{"{nope}"}}
	_, _, err := c.Render(map[string]string{"image": "x"})
	require.Error(t, err)
}

func TestDockerConfigValidates(t *testing.T) {
	require.NoError(t, DockerConfig().Validate())
}

func TestPodmanConfigValidates(t *testing.T) {
	require.NoError(t, PodmanConfig().Validate())
}
