/*
Copyright © 2017 the InMAP authors.
This file is part of InMAP.

InMAP is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

InMAP is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with InMAP.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package cmorutil holds the command-line interface of the cmor
// rewriter.
package cmorutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tjahns/cmor"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to cmor.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "verbose",
			usage: `
              verbose sets the logging level: one of debug, info,
              warning or error. "quiet" hides warnings.`,
			shorthand:  "v",
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "LogFile",
			usage: `
              LogFile is the path to a file that log messages are written
              to in addition to standard error. It can contain environment
              variables.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "TablePath",
			usage: `
              TablePath is either a table file (for 'table check') or the
              directory that relative table paths in the job are looked up in.
              It can contain environment variables.`,
			shorthand:  "t",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{tableCheckCmd.Flags(), runCmd.Flags()},
		},
		{
			name: "dump",
			usage: `
              dump prints the full parsed table.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{tableCheckCmd.Flags()},
		},
		{
			name: "Job",
			usage: `
              Job is the path to the TOML file describing the dataset,
              axes and variables to rewrite. It can contain environment
              variables.`,
			shorthand:  "j",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "OutputPath",
			usage: `
              OutputPath overrides the output directory given in the job.
              It can contain environment variables.`,
			shorthand:  "o",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "NetCDFMode",
			usage: `
              NetCDFMode is the file creation mode: replace overwrites
              existing files, preserve refuses to, and append adds time
              steps to existing files.`,
			defaultVal: "replace",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "ExitOnWarning",
			usage: `
              ExitOnWarning stops the program at the first warning.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "CreateSubdirectories",
			usage: `
              CreateSubdirectories creates the directory structure given by
              the output path template below the output directory.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Dataset",
			usage: `
              Dataset holds dataset attributes that override the ones in
              the job, for example {"institution_id":"XYZ"}.`,
			defaultVal: map[string]string{},
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("CMOR")

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, option.defaultVal.(bool), option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
				}
			case map[string]string:
				b := bytes.NewBuffer(nil)
				e := json.NewEncoder(b)
				e.Encode(option.defaultVal)
				s := string(b.Bytes())
				if option.shorthand == "" {
					set.String(option.name, s, option.usage)
				} else {
					set.StringP(option.name, option.shorthand, s, option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(tableCmd)
	tableCmd.AddCommand(tableCheckCmd)
	Root.AddCommand(runCmd)
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(os.ExpandEnv(cfgpath))
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("cmor: problem reading configuration file: %v", err)
		}
	}
	return setLogging(logrus.StandardLogger(), Cfg.GetString("verbose"), os.ExpandEnv(Cfg.GetString("LogFile")))
}

// logFile is the currently open log file, if any.
var logFile *os.File

// setLogging configures log according to the verbosity level and
// optional log file.
func setLogging(log *logrus.Logger, verbose, file string) error {
	log.Formatter = &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339Nano,
		DisableSorting:  true,
	}
	level := logrus.InfoLevel
	switch verbose {
	case "quiet", "error":
		level = logrus.ErrorLevel
	case "":
	default:
		var err error
		level, err = logrus.ParseLevel(verbose)
		if err != nil {
			return fmt.Errorf("cmor: invalid verbosity %q: %v", verbose, err)
		}
	}
	log.Level = level
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	log.Out = os.Stderr
	if file != "" {
		f, err := os.Create(file)
		if err != nil {
			return fmt.Errorf("cmor: creating log file: %v", err)
		}
		logFile = f
		log.Out = io.MultiWriter(os.Stderr, f)
	}
	return nil
}

// parseMode converts a NetCDFMode value to a file creation mode.
func parseMode(v interface{}) (cmor.Mode, error) {
	s, err := cast.ToStringE(v)
	if err != nil {
		return cmor.Replace, fmt.Errorf("cmor: reading NetCDFMode: %v", err)
	}
	switch s {
	case "", "replace":
		return cmor.Replace, nil
	case "preserve":
		return cmor.Preserve, nil
	case "append":
		return cmor.Append, nil
	}
	return cmor.Replace, fmt.Errorf("cmor: invalid NetCDFMode %q; it must be replace, preserve or append", s)
}

// getStringMapString returns a map option that may be given either as
// a table in the configuration file or as a JSON string on the command
// line.
func getStringMapString(varName string, cfg *viper.Viper) (map[string]string, error) {
	i := cfg.Get(varName)
	switch t := i.(type) {
	case string:
		if t == "" {
			return nil, nil
		}
		m := make(map[string]string)
		if err := json.Unmarshal([]byte(t), &m); err != nil {
			return nil, fmt.Errorf("cmor: reading %s: %v", varName, err)
		}
		return m, nil
	default:
		m, err := cast.ToStringMapStringE(i)
		if err != nil {
			return nil, fmt.Errorf("cmor: reading %s: %v", varName, err)
		}
		return m, nil
	}
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "cmor",
	Short: "A climate model output rewriter.",
	Long: `cmor rewrites climate model output into CF-compliant NetCDF files
whose metadata are checked against MIP tables.
Use the subcommands specified below to access the functionality.

Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'CMOR_var' where 'var' is the
name of the variable to be set. Path options are allowed to contain
environment variables within them.`,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of cmor.",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "CMOR v%s (CF-%.1f)\n", cmor.Version, cmor.CFVersion)
	},
	DisableAutoGenTag: true,
}

var tableCmd = &cobra.Command{
	Use:   "table",
	Short: "Work with MIP tables.",
	Long: `table holds commands that inspect MIP tables. (Currently 'check'
is the only available command.)`,
	DisableAutoGenTag: true,
}

var tableCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check a MIP table.",
	Long: `check loads the table given by --TablePath, prints a summary of its
contents and checks that the dimensions of every variable are
defined axes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := os.ExpandEnv(Cfg.GetString("TablePath"))
		if len(args) > 0 {
			path = args[0]
		}
		if path == "" {
			return fmt.Errorf("cmor: you need to specify a table with --TablePath")
		}
		return CheckTable(context.Background(), path, cmd.OutOrStdout(), Cfg.GetBool("dump"))
	},
	DisableAutoGenTag: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Rewrite the variables in a job.",
	Long: `run rewrites the variables described in the TOML file given by --Job.
The job holds the dataset attributes, the tables, the axes and the
variables. Data are read from the job's input NetCDF file or given
inline.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		jobPath := os.ExpandEnv(Cfg.GetString("Job"))
		if jobPath == "" {
			return fmt.Errorf("cmor: you need to specify a job file with --Job")
		}
		job, err := ReadJob(jobPath)
		if err != nil {
			return err
		}
		mode, err := parseMode(Cfg.Get("NetCDFMode"))
		if err != nil {
			return err
		}
		attrs, err := getStringMapString("Dataset", Cfg)
		if err != nil {
			return err
		}
		_, err = Run(context.Background(), job, RunConfig{
			TablePath:            os.ExpandEnv(Cfg.GetString("TablePath")),
			OutputPath:           os.ExpandEnv(Cfg.GetString("OutputPath")),
			Mode:                 mode,
			Quiet:                Cfg.GetString("verbose") == "quiet",
			ExitOnWarning:        Cfg.GetBool("ExitOnWarning"),
			ExitOnCritical:       true,
			CreateSubdirectories: Cfg.GetBool("CreateSubdirectories"),
			Attributes:           attrs,
			Log:                  logrus.StandardLogger(),
		})
		return err
	},
	DisableAutoGenTag: true,
}
