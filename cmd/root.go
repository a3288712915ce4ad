// Package cmd holds the daqbench command line.
package cmd

import (
	"context"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/vibrolab/daqbench/internal/buildinfo"
	"github.com/vibrolab/daqbench/internal/conf"
	"github.com/vibrolab/daqbench/internal/logger"
	"github.com/vibrolab/daqbench/internal/workbench"
)

// RootCommand creates and returns the root command
func RootCommand() *cobra.Command {
	var workspacePath string

	rootCmd := &cobra.Command{
		Use:          "daqbench",
		Short:        "Multichannel acquisition and modal analysis workbench",
		Long:         "Stream a DAQ or sound card into a ring buffer, take captures and analyse them.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), afero.NewOsFs(), workspacePath)
		},
	}

	rootCmd.Flags().StringVar(&workspacePath, "workspace", "", "Path to a workspace file")

	return rootCmd
}

// run loads the workspace and settings, then drives one acquisition session
// until the configured captures are taken or ctx is cancelled.
func run(ctx context.Context, fs afero.Fs, workspacePath string) error {
	ws := conf.DefaultWorkspace()
	if workspacePath != "" {
		loaded, err := conf.LoadWorkspace(fs, workspacePath)
		if err != nil {
			return err
		}
		ws = loaded
	}
	conf.InstallWorkspace(ws)

	settings, err := conf.InitFs(fs, "")
	if err != nil {
		return err
	}

	cl, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return err
	}
	logger.SetGlobal(cl)
	defer func() { _ = cl.Close() }()

	build := buildinfo.Current()
	log := logger.Global().Module("main")
	log.Info("daqbench starting",
		logger.String("version", build.GetVersion()),
		logger.String("build_date", build.GetBuildDate()),
		logger.String("workspace", ws.Name),
		logger.String("device_kind", settings.Device.Kind))

	wb, err := workbench.New(settings, workbench.WithFs(fs), workbench.WithWorkspace(ws))
	if err != nil {
		return err
	}
	runErr := wb.Run(ctx)
	if err := wb.Close(); err != nil {
		log.Warn("shutdown incomplete", logger.Error(err))
	}
	if runErr != nil {
		return runErr
	}
	log.Info("daqbench stopped")
	return nil
}
