package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"clearmark/internal/config"
)

type commandContext struct {
	configFlag *string
	apiFlag    *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, apiFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		apiFlag:    apiFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) apiAddress() string {
	if c.apiFlag != nil && strings.TrimSpace(*c.apiFlag) != "" {
		return strings.TrimSpace(*c.apiFlag)
	}
	if cfg, err := c.ensureConfig(); err == nil && cfg != nil {
		return cfg.Paths.APIBind
	}
	return ""
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func newRootCommand() *cobra.Command {
	var configFlag string
	var apiFlag string

	ctx := newCommandContext(&configFlag, &apiFlag)

	rootCmd := &cobra.Command{
		Use:           "clearmark",
		Short:         "Remove watermarks from video files",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&apiFlag, "api", "", "Daemon API address (host:port)")

	rootCmd.AddCommand(newCleanCommand(ctx))
	rootCmd.AddCommand(newBatchCommand(ctx))
	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newTasksCommand(ctx))
	rootCmd.AddCommand(newConfigCommand())

	return rootCmd
}
