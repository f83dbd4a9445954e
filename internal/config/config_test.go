package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadUserConfigMissingFileUsesDockerDefaults(t *testing.T) {
	cfg, err := LoadUserConfig(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)
	require.Equal(t, []string{"docker", "build", "--tag", "{image}", "-"}, cfg.Client.Build.Args)
	require.Greater(t, cfg.BuildJobs, 0)
	require.Equal(t, defaultPushJobs, cfg.PushJobs)
	require.Equal(t, defaultTagJobs, cfg.TagJobs)
}

func TestLoadUserConfigPodmanClientType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user.yml")
	require.NoError(t, os.WriteFile(path, []byte("client_type: podman\n"), 0o644))

	cfg, err := LoadUserConfig(path)
	require.NoError(t, err)
	require.Equal(t, []string{"podman", "build", "--tag", "{image}", "-"}, cfg.Client.Build.Args)
	require.Nil(t, cfg.Client.BuildPlatform)
}

func TestLoadUserConfigCustomClientOverridesType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
client_type: podman
client:
  build:
    args: ["nerdctl", "build", "--tag", "{image}", "-"]
  tag:
    args: ["nerdctl", "tag", "{source_image}", "{target_image}"]
  push:
    args: ["nerdctl", "push", "{image}"]
  untag:
    args: ["nerdctl", "rmi", "{image}"]
`), 0o644))

	cfg, err := LoadUserConfig(path)
	require.NoError(t, err)
	require.Equal(t, "nerdctl", cfg.Client.Build.Args[0])
}

func TestLoadUserConfigUnknownClientTypeErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user.yml")
	require.NoError(t, os.WriteFile(path, []byte("client_type: buildkitd\n"), 0o644))

	_, err := LoadUserConfig(path)
	require.Error(t, err)
}

func TestLoadTplConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadTplConfig(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)
	require.Equal(t, []string{"linux/amd64"}, cfg.Platforms)
	require.Contains(t, cfg.Profiles, "default")
	require.Equal(t, "default", cfg.ResolvedDefaultProfile())
}

func TestLoadTplConfigRejectsReservedProfileKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tplbuild.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
profiles:
  default:
    platform: linux/arm64
`), 0o644))

	_, err := LoadTplConfig(path)
	require.Error(t, err)
}

func TestLoadTplConfigRejectsUnknownDefaultProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tplbuild.yml")
	require.NoError(t, os.WriteFile(path, []byte("default_profile: staging\n"), 0o644))

	_, err := LoadTplConfig(path)
	require.Error(t, err)
}

func TestTplConfigRenderBaseRepoAbsentWhenUnconfigured(t *testing.T) {
	cfg := DefaultTplConfig()
	repo, ok, err := cfg.RenderBaseRepo("builder", "default", "linux/amd64")
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, repo)
}

func TestTplConfigRenderBaseRepoSubstitutesParams(t *testing.T) {
	cfg := DefaultTplConfig()
	tmpl := "registry.example/base/{stage_name}-{platform}"
	cfg.BaseImageName = &tmpl

	repo, ok, err := cfg.RenderBaseRepo("builder", "default", "linux/amd64")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "registry.example/base/builder-linux/amd64", repo)
}

func TestTplContextConfigValidateNormalizesBaseDir(t *testing.T) {
	c := TplContextConfig{BaseDir: "../../etc"}
	require.NoError(t, c.Validate())
	require.Equal(t, "./etc", c.BaseDir)
}

func TestTplContextConfigNewBuildContextMissingIgnoreFileIsFine(t *testing.T) {
	dir := t.TempDir()
	c := TplContextConfig{BaseDir: dir}
	bc, err := c.NewBuildContext()
	require.NoError(t, err)
	require.NotNil(t, bc)
}

func TestTplContextConfigNewBuildContextInlineIgnore(t *testing.T) {
	dir := t.TempDir()
	ignore := "*.log"
	c := TplContextConfig{BaseDir: dir, Ignore: &ignore}
	bc, err := c.NewBuildContext()
	require.NoError(t, err)
	require.True(t, bc.Ignored("debug.log", false))
}

func TestStageConfigValidateRejectsNamesOnBase(t *testing.T) {
	c := StageConfig{Base: true, ImageNames: []string{"x"}}
	require.Error(t, c.Validate("builder"))
}
