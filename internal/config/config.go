// Package config implements the user and project configuration schema:
// client command overrides, job concurrency limits, platform/profile
// declarations, and per-context build settings.
//
// It translates original_source/tplbuild/config.py's UserConfig and
// TplConfig, the way image/manifest/manifest.go loads its own YAML
// manifest: a plain struct tree with yaml tags, unmarshalled with
// gopkg.in/yaml.v2 and then defaulted/validated in a second pass (the
// pydantic validators here become ordinary Validate() methods, since Go
// has no declarative field-validator equivalent).
package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/msg555/tplbuild/internal/builder"
	"github.com/msg555/tplbuild/internal/fsctx"
	"github.com/msg555/tplbuild/internal/tplerr"
)

// defaultPushJobs and defaultTagJobs match config.py's UserConfig
// field defaults; BuildJobs defaults to runtime.NumCPU() instead of
// os.cpu_count(), the closest Go equivalent.
const (
	defaultPushJobs = 4
	defaultTagJobs  = 8
)

// reservedProfileKeys are template parameter names the renderer injects
// itself; a profile cannot shadow them (config.py's
// RESERVED_PROFILE_KEYS).
var reservedProfileKeys = []string{"begin_stage", "platform"}

// TplContextConfig configures one named build context.
type TplContextConfig struct {
	BaseDir    string  `yaml:"base_dir"`
	Umask      *string `yaml:"umask"`
	IgnoreFile *string `yaml:"ignore_file"`
	Ignore     *string `yaml:"ignore"`
}

// DefaultTplContextConfig matches config.py's TplContextConfig defaults.
func DefaultTplContextConfig() TplContextConfig {
	umask := "022"
	return TplContextConfig{BaseDir: ".", Umask: &umask}
}

// Validate normalizes BaseDir to a "./"-rooted relative path (stripping
// a leading "/" and any leading "../" components rather than rejecting
// them; ".." components later in the path are left as they are) and
// checks Umask is an octal string no greater than 777, matching
// umask_valid_octal/normalize_base_dir.
func (c *TplContextConfig) Validate() error {
	if c.BaseDir == "" {
		c.BaseDir = "."
	}
	clean := strings.TrimPrefix(c.BaseDir, "/")
	for strings.HasPrefix(clean, "../") {
		clean = strings.TrimPrefix(clean, "../")
	}
	if clean == ".." {
		clean = "."
	}
	c.BaseDir = "./" + strings.TrimPrefix(clean, "./")

	if c.Umask != nil {
		v, err := strconv.ParseUint(*c.Umask, 8, 32)
		if err != nil || v > 0o777 {
			return tplerr.New(tplerr.KindConfiguration, "umask must be a three digit octal string")
		}
	}
	return nil
}

// NewBuildContext constructs the fsctx.BuildContext this context config
// describes, loading ignore patterns inline from Ignore or from
// IgnoreFile (default ".dockerignore", relative to BaseDir) per §6
// "Build context on disk".
func (c *TplContextConfig) NewBuildContext() (*fsctx.BuildContext, error) {
	var umask *uint32
	if c.Umask != nil {
		v, err := strconv.ParseUint(*c.Umask, 8, 32)
		if err != nil {
			return nil, tplerr.New(tplerr.KindConfiguration, "umask must be a three digit octal string")
		}
		u := uint32(v)
		umask = &u
	}

	var patterns []string
	switch {
	case c.Ignore != nil:
		patterns = strings.Split(*c.Ignore, "\n")
	default:
		ignoreFile := ".dockerignore"
		if c.IgnoreFile != nil {
			ignoreFile = *c.IgnoreFile
		}
		data, err := os.ReadFile(c.BaseDir + "/" + ignoreFile)
		if err != nil {
			if os.IsNotExist(err) {
				patterns = nil
			} else {
				return nil, tplerr.Wrap(tplerr.KindContext, err, "read ignore file "+ignoreFile)
			}
		} else {
			patterns = strings.Split(string(data), "\n")
		}
	}

	return fsctx.NewBuildContext(c.BaseDir, true, umask, patterns)
}

// StageConfig overrides the default tagging behavior of a named stage.
type StageConfig struct {
	Base       bool     `yaml:"base"`
	ImageNames []string `yaml:"image_names"`
	PushNames  []string `yaml:"push_names"`
}

// Validate enforces that base-image stages carry no tag names of their
// own; tplbuild assigns their name itself from the base-image repo
// template (image_names_empty_for_base/push_names_empty_for_base).
func (c StageConfig) Validate(name string) error {
	if c.Base && (len(c.ImageNames) > 0 || len(c.PushNames) > 0) {
		return tplerr.New(tplerr.KindConfiguration, "stage "+name+" is a base image and cannot declare image_names/push_names")
	}
	return nil
}

// UserSSLContext configures the SSL/TLS behavior used by tplbuild's own
// registry calls (the container builder's own SSL configuration is
// separate and out of scope here).
type UserSSLContext struct {
	Insecure         bool    `yaml:"insecure"`
	CAFile           *string `yaml:"cafile"`
	CAPath           *string `yaml:"capath"`
	CAData           *string `yaml:"cadata"`
	LoadDefaultCerts bool    `yaml:"load_default_certs"`
}

// UserConfig is the top-level settings controlling tplbuild's own
// behavior: client command overrides and concurrency limits, distinct
// from a project's TplConfig (build graph shape).
type UserConfig struct {
	Version    string        `yaml:"version"`
	ClientType string        `yaml:"client_type"`
	Client     builder.Config `yaml:"client"`
	BuildJobs  int           `yaml:"build_jobs"`
	PushJobs   int           `yaml:"push_jobs"`
	TagJobs    int           `yaml:"tag_jobs"`
	SSLContext UserSSLContext `yaml:"ssl_context"`
	AuthFile   string        `yaml:"auth_file"`
}

// DefaultUserConfig returns config.py's UserConfig field defaults.
func DefaultUserConfig() UserConfig {
	return UserConfig{
		Version:    "1.0",
		ClientType: "docker",
		PushJobs:   defaultPushJobs,
		TagJobs:    defaultTagJobs,
	}
}

// Validate fills in build_jobs/push_jobs/tag_jobs defaults, selects the
// built-in client profile when none was configured, and validates every
// command template, matching UserConfig's validator chain.
func (c *UserConfig) Validate() error {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.Version != "1.0" {
		return tplerr.New(tplerr.KindConfiguration, "user config version must be \"1.0\"")
	}

	if c.BuildJobs == 0 {
		c.BuildJobs = runtime.NumCPU()
	} else if c.BuildJobs < 0 {
		return tplerr.New(tplerr.KindConfiguration, "build_jobs must be non-negative")
	}
	if c.PushJobs == 0 {
		c.PushJobs = defaultPushJobs
	} else if c.PushJobs < 0 {
		return tplerr.New(tplerr.KindConfiguration, "push_jobs must be positive")
	}
	if c.TagJobs == 0 {
		c.TagJobs = defaultTagJobs
	} else if c.TagJobs < 0 {
		return tplerr.New(tplerr.KindConfiguration, "tag_jobs must be positive")
	}

	// default_replace_client: a configured client is one with a non-empty
	// build command; otherwise substitute the built-in profile named by
	// client_type.
	if len(c.Client.Build.Args) == 0 {
		switch c.ClientType {
		case "", "docker":
			c.Client = builder.DockerConfig()
		case "podman":
			c.Client = builder.PodmanConfig()
		default:
			return tplerr.New(tplerr.KindConfiguration, "unknown client_type "+c.ClientType)
		}
	}
	return c.Client.Validate()
}

// TplConfig is the per-project configuration: image-name templates,
// platforms, profiles, contexts, and per-stage tag overrides.
type TplConfig struct {
	Version         string                            `yaml:"version"`
	BaseImageName   *string                            `yaml:"base_image_name"`
	StageImageName  string                            `yaml:"stage_image_name"`
	StagePushName   string                            `yaml:"stage_push_name"`
	Platforms       []string                          `yaml:"platforms"`
	Profiles        map[string]map[string]interface{} `yaml:"profiles"`
	DefaultProfile  string                            `yaml:"default_profile"`
	Contexts        map[string]TplContextConfig       `yaml:"contexts"`
	Stages          map[string]StageConfig            `yaml:"stages"`
}

// DefaultTplConfig returns config.py's TplConfig field defaults.
func DefaultTplConfig() TplConfig {
	return TplConfig{
		Version:        "1.0",
		StageImageName: "{stage_name}",
		StagePushName:  "{stage_name}",
		Platforms:      []string{"linux/amd64"},
		Profiles:       map[string]map[string]interface{}{"default": {}},
		Contexts:       map[string]TplContextConfig{"default": DefaultTplContextConfig()},
	}
}

// Validate fills in zero-value defaults and enforces TplConfig's
// invariants: non-empty platforms, at least one non-empty profile name,
// no profile shadowing a reserved template key, and a default_profile
// that actually names a configured profile.
func (c *TplConfig) Validate() error {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.Version != "1.0" {
		return tplerr.New(tplerr.KindConfiguration, "project config version must be \"1.0\"")
	}
	if c.StageImageName == "" {
		c.StageImageName = "{stage_name}"
	}
	if c.StagePushName == "" {
		c.StagePushName = "{stage_name}"
	}
	if len(c.Platforms) == 0 {
		c.Platforms = []string{"linux/amd64"}
	}
	if len(c.Profiles) == 0 {
		c.Profiles = map[string]map[string]interface{}{"default": {}}
	}
	for name := range c.Profiles {
		if name == "" {
			return tplerr.New(tplerr.KindConfiguration, "profile name cannot be empty")
		}
	}
	for _, profileData := range c.Profiles {
		for _, reserved := range reservedProfileKeys {
			if _, ok := profileData[reserved]; ok {
				return tplerr.New(tplerr.KindConfiguration, "profile cannot set reserved key "+reserved)
			}
		}
	}
	if c.DefaultProfile != "" {
		if _, ok := c.Profiles[c.DefaultProfile]; !ok {
			return tplerr.New(tplerr.KindConfiguration, "default_profile must name a configured profile")
		}
	}
	if len(c.Contexts) == 0 {
		c.Contexts = map[string]TplContextConfig{"default": DefaultTplContextConfig()}
	}
	for name, ctx := range c.Contexts {
		if err := ctx.Validate(); err != nil {
			return err
		}
		c.Contexts[name] = ctx
	}
	for name, stage := range c.Stages {
		if err := stage.Validate(name); err != nil {
			return err
		}
	}
	return nil
}

// ResolvedDefaultProfile returns DefaultProfile, or (when unset) the
// lexicographically smallest profile name in Profiles. This departs
// from the original's dict-insertion-order fallback: Go's map exposes
// no insertion order, so an unset default_profile is resolved
// deterministically by name instead.
func (c *TplConfig) ResolvedDefaultProfile() string {
	if c.DefaultProfile != "" {
		return c.DefaultProfile
	}
	best := ""
	for name := range c.Profiles {
		if best == "" || name < best {
			best = name
		}
	}
	return best
}

// RenderBaseRepo expands BaseImageName (if configured) against
// (stage_name, profile, platform), matching config.py's Jinja-templated
// base_image_name field, rendered here with the same "{param}"
// substitution Command uses rather than a second templating engine.
// Returns ("", false, nil) when no base_image_name is configured, the
// kind of configuration gap a coordinator should treat as "no known
// base repository, this project never pushes base images."
func (c *TplConfig) RenderBaseRepo(stageName, profile, platform string) (string, bool, error) {
	if c.BaseImageName == nil || *c.BaseImageName == "" {
		return "", false, nil
	}
	params := map[string]string{
		"stage_name": stageName,
		"profile":    profile,
		"platform":   platform,
	}
	repo, err := builder.RenderTemplate(*c.BaseImageName, params)
	if err != nil {
		return "", false, tplerr.Wrap(tplerr.KindConfiguration, err, "render base_image_name")
	}
	return repo, true, nil
}

// RenderStageNames expands StageImageName/StagePushName against the
// same (stage_name, profile, platform) parameter set, returning the
// single-element name list StageConfig.ImageNames/PushNames default to
// when a stage doesn't override them.
func (c *TplConfig) RenderStageNames(stageName, profile, platform string) (image string, push string, err error) {
	params := map[string]string{
		"stage_name": stageName,
		"profile":    profile,
		"platform":   platform,
	}
	image, err = builder.RenderTemplate(c.StageImageName, params)
	if err != nil {
		return "", "", tplerr.Wrap(tplerr.KindConfiguration, err, "render stage_image_name")
	}
	push, err = builder.RenderTemplate(c.StagePushName, params)
	if err != nil {
		return "", "", tplerr.Wrap(tplerr.KindConfiguration, err, "render stage_push_name")
	}
	return image, push, nil
}

// LoadUserConfig reads and validates a user configuration file at path.
// A missing file yields DefaultUserConfig, matching TplBuild.from_path's
// FileNotFoundError fallback.
func LoadUserConfig(path string) (*UserConfig, error) {
	cfg := DefaultUserConfig()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if verr := cfg.Validate(); verr != nil {
			return nil, verr
		}
		return &cfg, nil
	}
	if err != nil {
		return nil, tplerr.Wrap(tplerr.KindInternal, err, "read user config "+path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, tplerr.Wrap(tplerr.KindConfiguration, err, "parse user config "+path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadTplConfig reads and validates a project configuration file at
// path. A missing file yields DefaultTplConfig.
func LoadTplConfig(path string) (*TplConfig, error) {
	cfg := DefaultTplConfig()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if verr := cfg.Validate(); verr != nil {
			return nil, verr
		}
		return &cfg, nil
	}
	if err != nil {
		return nil, tplerr.Wrap(tplerr.KindInternal, err, "read project config "+path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, tplerr.Wrap(tplerr.KindConfiguration, err, "parse project config "+path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
