package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dosco/graphjin/aggregate/v3/internal/util"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// These variables are set using -ldflags
	version string
	commit  string
	date    string
)

var (
	log   *zap.SugaredLogger
	conf  *Config
	cpath string
	fs    afero.Fs = afero.NewOsFs()
)

// Cmd is the entry point for the CLI
func Cmd() {
	log = newLogger(false).Sugar()

	cobra.EnableCommandSorting = false
	rootCmd := &cobra.Command{
		Use:   "aggregate",
		Short: BuildDetails(),
	}

	rootCmd.PersistentFlags().StringVar(&cpath,
		"path", "./config", "path to config files")

	rootCmd.AddCommand(compileCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(fieldsCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("%s", err)
	}
}

// setup reads the config and rebuilds the logger from it
func setup(cpath string) {
	if conf != nil {
		return
	}

	cp, err := filepath.Abs(cpath)
	if err != nil {
		log.Fatal(err)
	}

	if conf, err = ReadInConfigFS(cp, fs); err != nil {
		log.Fatal(err)
	}

	l, err := util.NewLogger(conf.ShouldUseJSONLogs(), conf.LogLevel, os.Stderr)
	if err != nil {
		log.Fatal(err)
	}
	log = l.Sugar()
}

// newLogger creates the bootstrap logger used before the config is read
func newLogger(json bool) *zap.Logger {
	l, err := util.NewLogger(json, "info", os.Stderr)
	if err != nil {
		panic(err)
	}
	return l
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), BuildDetails())
		},
	}
}

// BuildDetails returns the version string set at build time
func BuildDetails() string {
	if version == "" {
		return "aggregate: MongoDB aggregation pipeline compiler (development build)"
	}
	return fmt.Sprintf("aggregate %s (commit %s, built %s)", version, commit, date)
}
