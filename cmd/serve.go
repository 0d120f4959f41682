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
	"context"
	"fmt"
	"net"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dbgpdap/adapter/internal/breakpoint"
	"github.com/dbgpdap/adapter/internal/config"
	"github.com/dbgpdap/adapter/internal/dap"
	"github.com/dbgpdap/adapter/internal/external"
	"github.com/dbgpdap/adapter/internal/logpoint"
	"github.com/dbgpdap/adapter/internal/session"
)

var serveLaunch bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "bind the DBGp listen socket and drive the session manager, logging its DAP events",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveLaunch, "launch", false, "exactly one connection is expected (spawn semantics), rather than attach's wait-indefinitely")
}

// loggingSink is the dap.EventSink wired up when serve is run standalone:
// the real DAP wire transport (JSON-RPC framing over the peer's stdio) is
// explicitly out of scope, so events are logged instead of marshaled —
// this is what exercises the session manager end to end in the absence of
// that outer layer.
type loggingSink struct {
	log *logrus.Entry
}

func (s *loggingSink) Stopped(e dap.StoppedEvent) {
	s.log.WithFields(logrus.Fields{"connection_id": e.ConnID, "reason": e.Reason}).Info("stopped")
}
func (s *loggingSink) Thread(e dap.ThreadEvent) {
	s.log.WithFields(logrus.Fields{"connection_id": e.ConnID, "started": e.Started}).Info("thread")
}
func (s *loggingSink) Output(e dap.OutputEvent) {
	s.log.WithFields(logrus.Fields{"connection_id": e.ConnID, "category": e.Category}).Info(e.Output)
}
func (s *loggingSink) BreakpointChanged(b dap.Breakpoint) {
	s.log.WithFields(logrus.Fields{"breakpoint_id": b.ID, "verified": b.Verified}).Info("breakpoint changed")
}
func (s *loggingSink) Terminated(e dap.TerminatedEvent) {
	s.log.WithField("connection_id", e.ConnID).Info("terminated")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	mgr, err := session.NewManager(session.Options{
		Config:      cfg,
		Breakpoints: breakpoint.NewManager(),
		LogPoints:   logpoint.NewStore(),
		Events:      &loggingSink{log: log.WithField("component", "session")},
		Logger:      log,
		Launch:      serveLaunch,
	})
	if err != nil {
		return fmt.Errorf("constructing session manager: %w", err)
	}

	if cfg.XdebugCloudToken != "" {
		if err := registerCloud(cfg); err != nil {
			log.WithError(err).Warn("xdebug cloud relay registration failed")
		}
	}

	addr := fmt.Sprintf("%s:%d", cfg.Hostname, cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	defer ln.Close()

	if cfg.Proxy.Enable {
		if err := registerProxy(cfg); err != nil {
			log.WithError(err).Warn("dbgp proxy registration failed")
		} else {
			defer deregisterProxy(cfg)
		}
	}

	color.Green("adapter: listening for DBGp connections on %s", addr)

	ctx := cmd.Context()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return acceptLoop(ctx, ln, mgr) })

	// configurationDone is normally driven by the DAP peer; serve run
	// standalone (no outer transport wired) treats the listener coming up
	// as done immediately so connections are not stuck waiting forever.
	mgr.ConfigurationDone()

	return g.Wait()
}

func acceptLoop(ctx context.Context, ln net.Listener, mgr *session.Manager) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return fmt.Errorf("accept: %w", err)
		}
		go func() {
			if err := mgr.AcceptConnection(ctx, conn); err != nil {
				log.WithError(err).WithField("remote", conn.RemoteAddr()).Warn("connection ended with error")
			}
		}()
	}
}

func registerProxy(cfg *config.Config) error {
	addr := fmt.Sprintf("%s:%d", cfg.Proxy.Host, cfg.Proxy.Port)
	conn, err := net.DialTimeout("tcp", addr, cfg.Proxy.Timeout)
	if err != nil {
		return fmt.Errorf("dialing proxy %s: %w", addr, err)
	}
	defer conn.Close()
	ok, err := external.ProxyRegister(conn, cfg.Proxy.Key, cfg.Port, cfg.Proxy.AllowMultipleSessions)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("proxy %s rejected registration for key %q", addr, cfg.Proxy.Key)
	}
	log.WithField("proxy", addr).Info("registered with dbgp proxy")
	return nil
}

func deregisterProxy(cfg *config.Config) {
	addr := fmt.Sprintf("%s:%d", cfg.Proxy.Host, cfg.Proxy.Port)
	conn, err := net.DialTimeout("tcp", addr, cfg.Proxy.Timeout)
	if err != nil {
		log.WithError(err).Warn("dialing proxy for deregistration failed")
		return
	}
	defer conn.Close()
	if _, err := external.ProxyDeregister(conn, cfg.Proxy.Key); err != nil {
		log.WithError(err).Warn("proxy deregistration failed")
	}
}

func registerCloud(cfg *config.Config) error {
	host := external.CloudHost(cfg.XdebugCloudToken)
	addr := fmt.Sprintf("%s:9021", host)
	conn, err := net.DialTimeout("tcp", addr, cfg.Proxy.Timeout)
	if err != nil {
		return fmt.Errorf("dialing cloud relay %s: %w", addr, err)
	}
	defer conn.Close()
	ok, err := external.CloudInit(conn, cfg.XdebugCloudToken)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("cloud relay %s rejected token", addr)
	}
	log.WithField("cloud_host", host).Info("registered with xdebug cloud relay")
	return nil
}
