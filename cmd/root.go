// Copyright © 2016 Sidharth Kshatriya
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cmd is the adapter's CLI surface, built the way the teacher's
// own cmd/root.go builds dontbug's: a cobra root with persistent flags
// bound through a viper instance in OnInitialize, a YAML config file
// search path, and underscore aliases alongside every dash-named flag.
package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dbgpdap/adapter/internal/config"
)

var (
	cfgFile string
	verbose bool

	v   = viper.New()
	log = logrus.New()
)

// RootCmd is the base command when called without any subcommands.
var RootCmd = &cobra.Command{
	Use:   "adapter",
	Short: "adapter bridges a DBGp debug engine (Xdebug) to the Debug Adapter Protocol",
}

// Execute adds all child commands to the root command and runs it. It is
// called once by main.main.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(-1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "raise adapter logging to debug level")
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.dbgpdap.yaml)")

	config.BindFlags(v, RootCmd.PersistentFlags())

	RootCmd.AddCommand(serveCmd)
	RootCmd.AddCommand(checkCmd)
}

// initConfig reads in a config file and environment variables, mirroring
// the teacher's cmd/root.go initConfig.
func initConfig() {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}
	v.SetConfigName(".dbgpdap")
	v.AddConfigPath("$HOME")
	v.AddConfigPath(".")
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err == nil {
		color.Yellow("adapter: using config file: %v", v.ConfigFileUsed())
	}

	if verbose || v.GetBool("verbose") {
		log.SetLevel(logrus.DebugLevel)
	}
}

// loadConfig resolves the bound configuration surface into a
// *config.Config, the way every subcommand needs it.
func loadConfig() (*config.Config, error) {
	return config.Load(v)
}
