// Package main 提供 storagectl 运维命令行：数据库迁移、目录与对象存储对账、对象清理。
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/bionicotaku/lingo-services-storage/internal/infrastructure/configloader"
	loginfra "github.com/bionicotaku/lingo-services-storage/internal/infrastructure/logger"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/spf13/cobra"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	// Name is the name of the compiled software.
	Name = "storagectl"
	// Version is the version of the compiled software.
	Version string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cliEnv 是子命令共享的配置与日志。
type cliEnv struct {
	bundle *configloader.Bundle
	logger log.Logger
}

func newRootCmd() *cobra.Command {
	var confPath string
	env := &cliEnv{}

	root := &cobra.Command{
		Use:           "storagectl",
		Short:         "Operate the storage registry catalog and object store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			bundle, err := configloader.Build(configloader.Params{ConfPath: confPath, Name: Name, Version: Version})
			if err != nil {
				return err
			}
			logger, err := loginfra.NewLogger(loginfra.ConfigFromMetadata(bundle.Service))
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			env.bundle = bundle
			env.logger = logger
			return nil
		},
	}
	root.PersistentFlags().StringVar(&confPath, "conf", "", "config path, eg: --conf configs/config.yaml")

	root.AddCommand(
		newMigrateCmd(env),
		newReconcileCmd(env),
		newObjectsCmd(env),
	)
	return root
}

func (e *cliEnv) context(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
