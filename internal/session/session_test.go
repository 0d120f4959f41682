package session_test

import (
	"context"
	"net"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/dbgpdap/adapter/internal/breakpoint"
	"github.com/dbgpdap/adapter/internal/config"
	"github.com/dbgpdap/adapter/internal/dap"
	"github.com/dbgpdap/adapter/internal/logpoint"
	"github.com/dbgpdap/adapter/internal/session"
)

// recordingSink is a dap.EventSink that records every event it receives,
// so specs can assert against them without an outer DAP transport.
type recordingSink struct {
	mu       sync.Mutex
	stopped  []dap.StoppedEvent
	threads  []dap.ThreadEvent
	output   []dap.OutputEvent
	changed  []dap.Breakpoint
	term     []dap.TerminatedEvent
	stoppedC chan dap.StoppedEvent
}

func newRecordingSink() *recordingSink {
	return &recordingSink{stoppedC: make(chan dap.StoppedEvent, 16)}
}

func (s *recordingSink) Stopped(e dap.StoppedEvent) {
	s.mu.Lock()
	s.stopped = append(s.stopped, e)
	s.mu.Unlock()
	s.stoppedC <- e
}
func (s *recordingSink) Thread(e dap.ThreadEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads = append(s.threads, e)
}
func (s *recordingSink) Output(e dap.OutputEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.output = append(s.output, e)
}
func (s *recordingSink) BreakpointChanged(b dap.Breakpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changed = append(s.changed, b)
}
func (s *recordingSink) Terminated(e dap.TerminatedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.term = append(s.term, e)
}

func newTestManager(cfg *config.Config) (*session.Manager, *recordingSink) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	cfg.Resolve()
	sink := newRecordingSink()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	mgr, err := session.NewManager(session.Options{
		Config:      cfg,
		Breakpoints: breakpoint.NewManager(),
		LogPoints:   logpoint.NewStore(),
		Events:      sink,
		Logger:      log,
	})
	Expect(err).ToNot(HaveOccurred())
	return mgr, sink
}

// acceptOverPipe wires Manager.AcceptConnection up to a fakeEngine on the
// other end of an in-memory net.Pipe and returns once the engine has
// written its init frame, handing back both halves for the spec to drive
// further.
func acceptOverPipe(mgr *session.Manager, version string) (*fakeEngine, <-chan error) {
	client, engineSide := net.Pipe()
	fe := newFakeEngine(engineSide)
	go fe.serve()
	fe.writeInit("file:///app/index.php", version)

	errCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errCh <- mgr.AcceptConnection(ctx, client)
	}()
	return fe, errCh
}

var _ = Describe("Manager", func() {
	It("bootstraps a connection through to its first breakpoint stop", func() {
		mgr, sink := newTestManager(nil)
		fe, errCh := acceptOverPipe(mgr, "2.6.0")
		fe.queue("run", statusReply("run", "break", "ok", "file:///app/index.php", 10))

		mgr.ConfigurationDone()

		var stopped dap.StoppedEvent
		Eventually(sink.stoppedC, 2*time.Second).Should(Receive(&stopped))
		Expect(stopped.Reason).To(Equal("breakpoint"))

		Eventually(errCh, 2*time.Second).Should(Receive(BeNil()))

		threads := mgr.Threads()
		Expect(threads.Threads).To(HaveLen(1))
	})

	It("stops on entry when configured to do so", func() {
		mgr, sink := newTestManager(&config.Config{StopOnEntry: true})
		fe, errCh := acceptOverPipe(mgr, "2.6.0")
		fe.queue("step_into", statusReply("step_into", "break", "ok", "file:///app/index.php", 1))

		mgr.ConfigurationDone()

		var stopped dap.StoppedEvent
		Eventually(sink.stoppedC, 2*time.Second).Should(Receive(&stopped))
		Expect(stopped.Reason).To(Equal("entry"))
		Eventually(errCh, 2*time.Second).Should(Receive(BeNil()))
	})

	It("fetches a stack trace, scopes, and variables after a stop", func() {
		mgr, sink := newTestManager(nil)
		fe, errCh := acceptOverPipe(mgr, "2.6.0")
		fe.queue("run", statusReply("run", "break", "ok", "file:///app/index.php", 10))
		mgr.ConfigurationDone()

		var stopped dap.StoppedEvent
		Eventually(sink.stoppedC, 2*time.Second).Should(Receive(&stopped))

		trace, err := mgr.StackTrace(context.Background(), dap.StackTraceRequest{ConnID: stopped.ConnID})
		Expect(err).ToNot(HaveOccurred())
		Expect(trace.Frames).To(HaveLen(1))
		Expect(trace.Frames[0].SourcePath).To(ContainSubstring("index.php"))

		scopes, err := mgr.Scopes(context.Background(), dap.ScopesRequest{FrameID: trace.Frames[0].ID})
		Expect(err).ToNot(HaveOccurred())
		Expect(scopes.Scopes).To(HaveLen(1))
		Expect(scopes.Scopes[0].Name).To(Equal("Locals"))

		vars, err := mgr.Variables(context.Background(), dap.VariablesRequest{VariablesReference: scopes.Scopes[0].VariablesReference})
		Expect(err).ToNot(HaveOccurred())
		Expect(vars.Variables).To(HaveLen(1))
		Expect(vars.Variables[0].Name).To(Equal("x"))
		Expect(vars.Variables[0].Value).To(Equal("42"))

		Eventually(errCh, 2*time.Second).Should(Receive(BeNil()))
	})

	It("evaluates a hover expression via property_get", func() {
		mgr, sink := newTestManager(nil)
		fe, errCh := acceptOverPipe(mgr, "2.6.0")
		fe.queue("run", statusReply("run", "break", "ok", "file:///app/index.php", 10))
		mgr.ConfigurationDone()

		var stopped dap.StoppedEvent
		Eventually(sink.stoppedC, 2*time.Second).Should(Receive(&stopped))

		result, err := mgr.Evaluate(context.Background(), dap.EvaluateRequest{
			ConnID: stopped.ConnID, Expression: "$x", Context: dap.EvaluateHover,
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Result).To(Equal("42"))

		Eventually(errCh, 2*time.Second).Should(Receive(BeNil()))
	})

	It("continues execution through to the next breakpoint stop", func() {
		mgr, sink := newTestManager(nil)
		fe, errCh := acceptOverPipe(mgr, "2.6.0")
		fe.queue("run", statusReply("run", "break", "ok", "file:///app/index.php", 10))
		mgr.ConfigurationDone()

		var first dap.StoppedEvent
		Eventually(sink.stoppedC, 2*time.Second).Should(Receive(&first))
		Expect(first.Reason).To(Equal("breakpoint"))

		fe.queue("run", statusReply("run", "break", "ok", "file:///app/index.php", 20))
		Expect(mgr.Continue(context.Background(), first.ConnID)).To(Succeed())

		var second dap.StoppedEvent
		Eventually(sink.stoppedC, 2*time.Second).Should(Receive(&second))
		Expect(second.ConnID).To(Equal(first.ConnID))

		Eventually(errCh, 2*time.Second).Should(Receive(BeNil()))
	})

	It("rejects pause when no step is in flight", func() {
		mgr, sink := newTestManager(nil)
		fe, errCh := acceptOverPipe(mgr, "2.6.0")
		fe.queue("run", statusReply("run", "break", "ok", "file:///app/index.php", 10))
		mgr.ConfigurationDone()

		var stopped dap.StoppedEvent
		Eventually(sink.stoppedC, 2*time.Second).Should(Receive(&stopped))

		Expect(mgr.Pause(stopped.ConnID)).To(HaveOccurred())
		Eventually(errCh, 2*time.Second).Should(Receive(BeNil()))
	})

	It("disconnects every connection within the stop timeout", func() {
		mgr, sink := newTestManager(nil)
		fe, errCh := acceptOverPipe(mgr, "2.6.0")
		fe.queue("run", statusReply("run", "break", "ok", "file:///app/index.php", 10))
		mgr.ConfigurationDone()

		Eventually(sink.stoppedC, 2*time.Second).Should(Receive())
		Eventually(errCh, 2*time.Second).Should(Receive(BeNil()))

		done := make(chan struct{})
		go func() {
			mgr.Disconnect(context.Background())
			close(done)
		}()
		Eventually(done, 2*time.Second).Should(BeClosed())
	})
})
