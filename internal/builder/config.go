package builder

// Config is the set of commands used to drive the external container
// builder, translating config.py's ClientConfig.
type Config struct {
	// Build is rendered with {image}. BuildPlatform, if set, is used
	// instead for platform-aware builds and is rendered with {image}
	// and {platform}.
	Build         Command  `yaml:"build"`
	BuildPlatform *Command `yaml:"build_platform,omitempty"`
	// Tag is rendered with {source_image} and {target_image}.
	Tag Command `yaml:"tag"`
	// Pull, if set, is rendered with {image}; absent, pulling is left to
	// the builder itself.
	Pull *Command `yaml:"pull,omitempty"`
	// Push is rendered with {image}.
	Push Command `yaml:"push"`
	// Untag is rendered with {image}.
	Untag Command `yaml:"untag"`
	// Platform, if set, takes no parameters; its stdout is the builder's
	// native platform string.
	Platform *Command `yaml:"platform,omitempty"`
}

// Validate renders every configured command against a placeholder
// parameter set, catching template errors (unknown "{param}" keys)
// before any build starts, matching config.py's per-field validators.
func (c Config) Validate() error {
	if err := validateCommand(&c.Build, []string{"image"}); err != nil {
		return err
	}
	if err := validateCommand(c.BuildPlatform, []string{"image", "platform"}); err != nil {
		return err
	}
	if err := validateCommand(&c.Tag, []string{"source_image", "target_image"}); err != nil {
		return err
	}
	if err := validateCommand(c.Pull, []string{"image"}); err != nil {
		return err
	}
	if err := validateCommand(&c.Push, []string{"image"}); err != nil {
		return err
	}
	if err := validateCommand(&c.Untag, []string{"image"}); err != nil {
		return err
	}
	if err := validateCommand(c.Platform, nil); err != nil {
		return err
	}
	return nil
}

// DockerConfig is the built-in profile for a vanilla docker CLI,
// translating config.py's DOCKER_CLIENT_CONFIG.
func DockerConfig() Config {
	return Config{
		Build: Command{Args: []string{"docker", "build", "--tag", "{image}", "-"}},
		BuildPlatform: &Command{
			Args:        []string{"docker", "build", "--tag", "{image}", "-"},
			Environment: map[string]string{"DOCKER_DEFAULT_PLATFORM": "{platform}"},
		},
		Tag:   Command{Args: []string{"docker", "tag", "{source_image}", "{target_image}"}},
		Pull:  &Command{Args: []string{"docker", "pull", "{image}"}},
		Push:  Command{Args: []string{"docker", "push", "{image}"}},
		Untag: Command{Args: []string{"docker", "rmi", "{image}"}},
		Platform: &Command{
			Args: []string{"docker", "info", "--format", "{{{{ .OSType }}}}/{{{{ .Architecture }}}}"},
		},
	}
}

// PodmanConfig is the built-in profile for podman. It omits
// BuildPlatform: podman's buildah backend does not support the same
// platform-targeted local build docker's does, matching the original's
// noted incompatibility.
func PodmanConfig() Config {
	return Config{
		Build: Command{Args: []string{"podman", "build", "--tag", "{image}", "-"}},
		Tag:   Command{Args: []string{"podman", "tag", "{source_image}", "{target_image}"}},
		Pull:  &Command{Args: []string{"podman", "pull", "{image}"}},
		Push:  Command{Args: []string{"podman", "push", "{image}"}},
		Untag: Command{Args: []string{"podman", "rmi", "{image}"}},
		Platform: &Command{
			Args: []string{"podman", "info", "--format", "{{{{ .Version.OsArch }}}}"},
		},
	}
}
