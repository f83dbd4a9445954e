package cmd

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"sigs.k8s.io/release-utils/log"

	"github.com/msg555/tplbuild/internal/builddata"
	"github.com/msg555/tplbuild/internal/builder"
	"github.com/msg555/tplbuild/internal/config"
	"github.com/msg555/tplbuild/internal/coordinator"
	"github.com/msg555/tplbuild/internal/executor"
	"github.com/msg555/tplbuild/internal/jsonrender"
	"github.com/msg555/tplbuild/internal/output"
	"github.com/msg555/tplbuild/internal/planner"
	"github.com/msg555/tplbuild/internal/registry"
	"github.com/msg555/tplbuild/internal/resolver"
)

// rootOptions carries every global flag, grounded on cmd/cip/cmd/
// root.go's rootOpts/cli.RootOptions split.
type rootOptions struct {
	LogLevel    string
	ConfigPath  string
	UserConfig  string
	BuildData   string
	StagesPath  string
	RegistryQPS float64
}

var rootOpts = &rootOptions{}

var rootCmd = &cobra.Command{
	Use:   "tplbuild",
	Short: "Render, resolve, plan, and build templated container images",
	Long: `tplbuild renders a templated build specification into a content-
addressed image graph, resolves source and cached base images against a
registry, groups the graph into builder invocations, and drives an
external container client to build, tag, and push them.
`,
	PersistentPreRunE: initLogging,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&rootOpts.LogLevel,
		"log-level",
		"info",
		fmt.Sprintf("the logging verbosity, either %s", log.LevelNames()),
	)
	rootCmd.PersistentFlags().StringVar(
		&rootOpts.ConfigPath,
		"config",
		"tplbuild.yml",
		"path to the project configuration file",
	)
	rootCmd.PersistentFlags().StringVar(
		&rootOpts.UserConfig,
		"user-config",
		"",
		"path to the user configuration file (defaults to "+defaultUserConfigPath+")",
	)
	rootCmd.PersistentFlags().StringVar(
		&rootOpts.BuildData,
		"build-data",
		".tplbuild-data.json",
		"path to the persisted build-data cache",
	)
	rootCmd.PersistentFlags().StringVar(
		&rootOpts.StagesPath,
		"stages",
		"stages.json",
		"path to the rendered stage graph document (see internal/jsonrender)",
	)
	rootCmd.PersistentFlags().Float64Var(
		&rootOpts.RegistryQPS,
		"registry-qps",
		0,
		"bound registry requests per second per host (0 disables limiting)",
	)
}

const defaultUserConfigPath = "~/.config/tplbuild/config.yml"

func initLogging(*cobra.Command, []string) error {
	return log.SetupGlobalLogger(rootOpts.LogLevel)
}

// Execute adds all child commands to the root command and sets flags.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Fatal(err)
	}
}

// app bundles every subsystem a subcommand needs, built once per
// invocation from rootOpts.
type app struct {
	UserConfig  *config.UserConfig
	TplConfig   *config.TplConfig
	Store       *builddata.Store
	Coordinator *coordinator.Coordinator
}

func newApp() (*app, error) {
	userConfigPath := rootOpts.UserConfig
	if userConfigPath == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			userConfigPath = home + "/.config/tplbuild/config.yml"
		}
	}
	userCfg, err := config.LoadUserConfig(userConfigPath)
	if err != nil {
		return nil, errors.Wrap(err, "loading user config")
	}

	tplCfg, err := config.LoadTplConfig(rootOpts.ConfigPath)
	if err != nil {
		return nil, errors.Wrap(err, "loading project config")
	}

	store, err := builddata.Load(rootOpts.BuildData)
	if err != nil {
		return nil, errors.Wrap(err, "loading build-data store")
	}

	log := logrus.NewEntry(logrus.StandardLogger())

	reg := registry.New(log, registry.WithRateLimit(rootOpts.RegistryQPS, 5))

	client := builder.New(userCfg.Client)
	streamer := output.New(os.Stdout, true)

	baseRepoCache := map[[3]string]string{}
	baseRepo := func(profile, stage, platform string) (string, error) {
		key := [3]string{profile, stage, platform}
		if repo, ok := baseRepoCache[key]; ok {
			return repo, nil
		}
		repo, ok, err := tplCfg.RenderBaseRepo(stage, profile, platform)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", errors.New("base image " + stage + " requires base_image_name to be configured")
		}
		baseRepoCache[key] = repo
		return repo, nil
	}

	exec := &executor.Executor{
		Client:     client,
		Registry:   reg,
		Streamer:   streamer,
		Log:        log,
		BaseRepo:   baseRepo,
		BuildJobs:  userCfg.BuildJobs,
		PushJobs:   userCfg.PushJobs,
		TagJobs:    userCfg.TagJobs,
	}

	co := &coordinator.Coordinator{
		UserConfig: userCfg,
		TplConfig:  tplCfg,
		Store:      store,
		Resolver:   &resolver.Resolver{Store: store, Registry: reg, Log: log},
		Planner:    &planner.Planner{},
		Executor:   exec,
		Registry:   reg,
		Renderer:   &jsonrender.Renderer{Path: rootOpts.StagesPath, TplConfig: tplCfg},
		Log:        log,
	}

	return &app{UserConfig: userCfg, TplConfig: tplCfg, Store: store, Coordinator: co}, nil
}
