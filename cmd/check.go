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

package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dbgpdap/adapter/internal/breakpoint"
	"github.com/dbgpdap/adapter/internal/dap"
	"github.com/dbgpdap/adapter/internal/logpoint"
	"github.com/dbgpdap/adapter/internal/session"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "dry-run the bound configuration: parse it, compile every glob, construct a session manager, report problems",
	RunE:  runCheck,
}

// nullSink discards every event; check never accepts a real connection,
// it only exercises construction and config resolution.
type nullSink struct{}

func (nullSink) Stopped(dap.StoppedEvent)         {}
func (nullSink) Thread(dap.ThreadEvent)           {}
func (nullSink) Output(dap.OutputEvent)           {}
func (nullSink) BreakpointChanged(dap.Breakpoint) {}
func (nullSink) Terminated(dap.TerminatedEvent)   {}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if _, err := session.NewManager(session.Options{
		Config:      cfg,
		Breakpoints: breakpoint.NewManager(),
		LogPoints:   logpoint.NewStore(),
		Events:      nullSink{},
		Logger:      log,
	}); err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	color.Green("adapter: configuration OK (listen %s:%d, %d path mapping(s), %d ignore glob(s))",
		cfg.Hostname, cfg.Port, len(cfg.PathMappings), len(cfg.Ignore))
	return nil
}
