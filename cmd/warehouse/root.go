package main

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/agentuity/go-warehouse/cache"
	"github.com/agentuity/go-warehouse/env"
	"github.com/agentuity/go-warehouse/logger"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "warehouse",
		Short:         "Inspect and maintain on-disk warehouse namespaces",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			return env.LoadEnvFile(envFile)
		},
	}
	flags := root.PersistentFlags()
	flags.String("dir", "", "cache directory (env "+env.EnvDirectory+", default <user cache dir>/"+cache.DefaultDirectoryName+")")
	flags.StringP("namespace", "n", "", "namespace to operate on (env "+env.EnvNamespace+")")
	flags.String("log-level", "", "log level: trace, debug, info, warn, error (env "+env.EnvLogLevel+")")
	flags.String("log-format", "", "log format: console or json (env "+env.EnvLogFormat+")")
	flags.String("env-file", ".env", "file of KEY=value defaults loaded before reading the environment")

	root.AddCommand(
		newInspectCommand(),
		newUsageCommand(),
		newPurgeCommand(),
		newPruneCommand(),
		newClearCommand(),
	)
	return root
}

// target is the namespace a command operates on.
type target struct {
	dir       string
	namespace string
	log       logger.Logger
}

func resolveTarget(cmd *cobra.Command) (target, error) {
	t := target{
		dir:       env.FlagOrEnv(cmd, "dir", env.EnvDirectory, ""),
		namespace: env.FlagOrEnv(cmd, "namespace", env.EnvNamespace, ""),
		log:       env.NewLogger(cmd).WithPrefix("[warehouse]"),
	}
	if t.dir == "" {
		userDir, err := os.UserCacheDir()
		if err != nil {
			return t, errors.Wrap(err, "resolving user cache directory, pass --dir")
		}
		t.dir = filepath.Join(userDir, cache.DefaultDirectoryName)
	}
	if t.namespace == "" {
		return t, errors.Newf("a namespace is required, pass --namespace or set %s", env.EnvNamespace)
	}
	if err := (cache.DiskConfig{Directory: t.dir, Namespace: t.namespace}).Validate(); err != nil {
		return t, err
	}
	return t, nil
}

// path is the namespace directory on the host filesystem.
func (t target) path() string {
	return filepath.Join(t.dir, t.namespace)
}

// open opens the namespace as an unbounded disk tier, creating it if missing.
func (t target) open() (*cache.Disk, error) {
	return cache.OpenDisk(cache.DiskConfig{
		Directory: t.dir,
		Namespace: t.namespace,
	}, cache.WithLogger(t.log))
}
