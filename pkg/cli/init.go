package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rlibfactory/rlibfactory/pkg/config"
)

func (c *CLI) newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		Long: `Write rlib-factory.yaml into the factory directory with the default build
parameters. Every value can later be overridden by flags or RLIB_FACTORY_*
environment variables.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigFile: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runInit(force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing configuration")
	cmd.Flags().String("factory-dir", ".", "directory to write the configuration to")
	return cmd
}

func (c *CLI) runInit(force bool) error {
	path := c.config.ConfigFile
	if path == "" {
		factoryDir, err := filepath.Abs(c.viper.GetString(config.KeyFactoryDir))
		if err != nil {
			return err
		}
		path = filepath.Join(factoryDir, config.FileName+".yaml")
	}

	if err := config.WriteTemplate(path, force); err != nil {
		c.printError(err.Error())
		return &ExitError{Code: 1, Err: err}
	}

	c.printSuccess(fmt.Sprintf("Created %s", path))
	c.printInfo("Add your crate lists to the versions directory, then run: rlib-factory build")
	return nil
}
