package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/modoterra/nexus/pkg/core"
)

const (
	// logBufferLines caps the per-service and the global log history.
	logBufferLines = 1000
	stopTimeout    = 10 * time.Second
	// stableUptime is how long a run must last before its exit no longer
	// counts toward the restart backoff.
	stableUptime = 10 * time.Second
	maxBackoff   = 30 * time.Second
)

// SupervisedProcess tracks a running child process.
type SupervisedProcess struct {
	Name      string
	Command   string
	Dir       string
	Env       map[string]string
	Restart   core.RestartPolicy
	cmd       *exec.Cmd
	status    core.Status
	lastErr   string
	pid       int
	startedAt time.Time
	failures  int
	stopping  bool
	gen       int
	exited    chan struct{}
	mu        sync.Mutex
	logs      *logBuffer
}

// ProcessInfo is a point-in-time view of a supervised process.
type ProcessInfo struct {
	Status    core.Status
	PID       int
	StartedAt time.Time
	Error     string
	Dir       string
}

// logBuffer is a ring buffer for recent log lines.
type logBuffer struct {
	lines []core.LogLine
	mu    sync.Mutex
}

func newLogBuffer() *logBuffer {
	return &logBuffer{}
}

func (b *logBuffer) write(service, stream, line string) {
	entry := core.LogLine{
		Service:  service,
		TsUnixMs: time.Now().UnixMilli(),
		Stream:   stream,
		Line:     line,
	}
	b.mu.Lock()
	b.lines = append(b.lines, entry)
	if len(b.lines) > logBufferLines {
		b.lines = b.lines[len(b.lines)-logBufferLines:]
	}
	b.mu.Unlock()
}

// tail returns a copy of the last n lines, or all of them when n <= 0.
func (b *logBuffer) tail(n int) []core.LogLine {
	b.mu.Lock()
	defer b.mu.Unlock()
	start := 0
	if n > 0 && len(b.lines) > n {
		start = len(b.lines) - n
	}
	out := make([]core.LogLine, len(b.lines)-start)
	copy(out, b.lines[start:])
	return out
}

// Supervisor manages the lifecycle of exec processes.
type Supervisor struct {
	processes map[string]*SupervisedProcess
	global    *logBuffer
	mu        sync.RWMutex
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewSupervisor creates a new process supervisor.
func NewSupervisor(ctx context.Context, logger *slog.Logger) *Supervisor {
	sctx, cancel := context.WithCancel(ctx)
	return &Supervisor{
		processes: make(map[string]*SupervisedProcess),
		global:    newLogBuffer(),
		logger:    logger,
		ctx:       sctx,
		cancel:    cancel,
	}
}

// Register adds a process to be supervised but doesn't start it yet.
// Registering an existing name updates its restart policy and environment;
// a changed command or directory requires Unregister first.
func (s *Supervisor) Register(name, command, dir string, env map[string]string, restart core.RestartPolicy) {
	if restart == "" {
		restart = core.RestartOnFailure
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.processes[name]; ok {
		p.mu.Lock()
		p.Env = env
		p.Restart = restart
		p.mu.Unlock()
		return
	}
	s.processes[name] = &SupervisedProcess{
		Name:    name,
		Command: command,
		Dir:     dir,
		Env:     env,
		Restart: restart,
		status:  core.StatusStopped,
		logs:    newLogBuffer(),
	}
}

// Unregister stops a process and forgets it, including its logs.
func (s *Supervisor) Unregister(name string) {
	s.mu.Lock()
	p, ok := s.processes[name]
	delete(s.processes, name)
	s.mu.Unlock()
	if ok {
		if err := s.stopProcess(p); err != nil {
			s.logger.Warn("stop unregistered process", "name", name, "err", err)
		}
	}
}

// Has reports whether name is registered.
func (s *Supervisor) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.processes[name]
	return ok
}

// Spec returns the command and directory a process was registered with.
func (s *Supervisor) Spec(name string) (command, dir string, ok bool) {
	p, err := s.get(name)
	if err != nil {
		return "", "", false
	}
	return p.Command, p.Dir, true
}

// Names returns all registered process names, sorted.
func (s *Supervisor) Names() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.processes))
	for name := range s.processes {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Start starts a registered process.
func (s *Supervisor) Start(name string) error {
	p, err := s.get(name)
	if err != nil {
		return err
	}
	return s.startProcess(p)
}

// Stop stops a running process.
func (s *Supervisor) Stop(name string) error {
	p, err := s.get(name)
	if err != nil {
		return err
	}
	return s.stopProcess(p)
}

// Restart stops and restarts a process.
func (s *Supervisor) Restart(name string) error {
	if err := s.Stop(name); err != nil {
		s.logger.Warn("stop before restart", "name", name, "err", err)
	}
	time.Sleep(100 * time.Millisecond)
	return s.Start(name)
}

// StartAll starts all registered processes.
func (s *Supervisor) StartAll() {
	for _, name := range s.Names() {
		if err := s.Start(name); err != nil {
			s.logger.Error("start process", "name", name, "err", err)
		}
	}
}

// StopAll terminates every process and cancels pending restarts.
func (s *Supervisor) StopAll() {
	s.mu.RLock()
	procs := make([]*SupervisedProcess, 0, len(s.processes))
	for _, p := range s.processes {
		procs = append(procs, p)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, p := range procs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.stopProcess(p); err != nil {
				s.logger.Warn("stop process", "name", p.Name, "err", err)
			}
		}()
	}
	wg.Wait()
	s.cancel()
}

// Status returns the current status of a process.
func (s *Supervisor) Status(name string) (core.Status, int, time.Time) {
	info, ok := s.Info(name)
	if !ok {
		return core.StatusUnknown, 0, time.Time{}
	}
	return info.Status, info.PID, info.StartedAt
}

// Info returns a snapshot of the process state.
func (s *Supervisor) Info(name string) (ProcessInfo, bool) {
	p, err := s.get(name)
	if err != nil {
		return ProcessInfo{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return ProcessInfo{
		Status:    p.status,
		PID:       p.pid,
		StartedAt: p.startedAt,
		Error:     p.lastErr,
		Dir:       p.Dir,
	}, true
}

// GlobalLogs returns the last n lines written by any process, oldest first.
// Each line carries a "[name] " prefix.
func (s *Supervisor) GlobalLogs(n int) []core.LogLine {
	return s.global.tail(n)
}

// Record appends an event about service to the global log.
func (s *Supervisor) Record(service, line string) {
	s.global.write(service, "event", "["+service+"] "+line)
}

// Logs returns the last n buffered lines of a process, oldest first.
func (s *Supervisor) Logs(name string, n int) ([]core.LogLine, error) {
	p, err := s.get(name)
	if err != nil {
		return nil, err
	}
	return p.logs.tail(n), nil
}

func (s *Supervisor) get(name string) (*SupervisedProcess, error) {
	s.mu.RLock()
	p, ok := s.processes[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownService, name)
	}
	return p, nil
}

// setStatus records a transition in the process log. Caller holds p.mu.
func (s *Supervisor) setStatus(p *SupervisedProcess, status core.Status, errMsg string) {
	old := p.status
	p.status = status
	p.lastErr = errMsg
	if old == status && errMsg == "" {
		return
	}
	line := fmt.Sprintf("[%s] status: %s -> %s", p.Name, old, status)
	if errMsg != "" {
		line += " (error: " + errMsg + ")"
	}
	p.logs.write(p.Name, "status", line)
	s.global.write(p.Name, "status", line)
	s.logger.Debug("process status", "name", p.Name, "from", old, "to", status, "err", errMsg)
}

func (s *Supervisor) startProcess(p *SupervisedProcess) error {
	p.mu.Lock()
	if p.status == core.StatusRunning || p.status == core.StatusStarting {
		p.mu.Unlock()
		return nil
	}
	p.stopping = false
	p.failures = 0
	p.gen++
	p.mu.Unlock()

	return s.spawn(p)
}

func (s *Supervisor) spawn(p *SupervisedProcess) error {
	if s.ctx.Err() != nil {
		return fmt.Errorf("supervisor stopped")
	}
	parts := strings.Fields(p.Command)
	if len(parts) == 0 {
		return fmt.Errorf("empty command")
	}

	ctx, cancel := context.WithCancel(s.ctx)
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Dir = p.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	p.mu.Lock()
	cmd.Env = os.Environ()
	for k, v := range p.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	s.setStatus(p, core.StatusStarting, "")
	gen := p.gen
	p.mu.Unlock()

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return s.spawnFailed(p, fmt.Errorf("stdout pipe: %w", err))
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return s.spawnFailed(p, fmt.Errorf("stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return s.spawnFailed(p, fmt.Errorf("start %q: %w", p.Command, err))
	}

	exited := make(chan struct{})
	if !s.adopt(p, cmd, gen, exited) {
		go func() {
			_ = cmd.Wait()
			cancel()
		}()
		return nil
	}

	s.logger.Info("process started", "name", p.Name, "pid", cmd.Process.Pid, "command", p.Command)

	var streams sync.WaitGroup
	streams.Add(2)
	go func() {
		defer streams.Done()
		scanLines(stdoutPipe, func(line string) { s.output(p, "stdout", line) })
	}()
	go func() {
		defer streams.Done()
		scanLines(stderrPipe, func(line string) { s.output(p, "stderr", line) })
	}()

	go s.waitAndRestart(p, cmd, cancel, exited, &streams, gen)

	return nil
}

// adopt publishes a freshly started command on p. When a stop or a newer
// start happened while the command was starting, the command's process
// group is killed instead and adopt reports false.
func (s *Supervisor) adopt(p *SupervisedProcess, cmd *exec.Cmd, gen int, exited chan struct{}) bool {
	p.mu.Lock()
	if p.stopping || p.gen != gen {
		if p.status == core.StatusStarting {
			s.setStatus(p, core.StatusStopped, "")
		}
		p.mu.Unlock()
		if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
			s.logger.Debug("kill abandoned start", "name", p.Name, "err", err)
		}
		s.logger.Info("process stopped while starting", "name", p.Name, "pid", cmd.Process.Pid)
		return false
	}
	p.cmd = cmd
	p.exited = exited
	p.pid = cmd.Process.Pid
	p.startedAt = time.Now()
	s.setStatus(p, core.StatusRunning, "")
	p.mu.Unlock()
	return true
}

func (s *Supervisor) output(p *SupervisedProcess, stream, line string) {
	p.logs.write(p.Name, stream, line)
	s.global.write(p.Name, stream, "["+p.Name+"] "+line)
}

func (s *Supervisor) spawnFailed(p *SupervisedProcess, err error) error {
	p.mu.Lock()
	s.setStatus(p, core.StatusFailed, err.Error())
	p.mu.Unlock()
	return err
}

func (s *Supervisor) waitAndRestart(p *SupervisedProcess, cmd *exec.Cmd, cancel context.CancelFunc, exited chan struct{}, streams *sync.WaitGroup, gen int) {
	// Pipes must be drained before Wait closes them.
	streams.Wait()
	err := cmd.Wait()
	cancel()

	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	p.mu.Lock()
	p.pid = 0
	p.cmd = nil
	if p.stopping || s.ctx.Err() != nil {
		s.setStatus(p, core.StatusStopped, "")
		p.mu.Unlock()
		close(exited)
		return
	}

	if exitCode == 0 {
		s.setStatus(p, core.StatusStopped, "")
	} else {
		msg := fmt.Sprintf("exit code %d", exitCode)
		if err != nil {
			msg = err.Error()
		}
		s.setStatus(p, core.StatusFailed, msg)
	}
	p.failures = nextFailures(p.failures, time.Since(p.startedAt))
	failures := p.failures
	restart := p.Restart
	p.mu.Unlock()
	close(exited)

	s.logger.Info("process exited", "name", p.Name, "exit_code", exitCode, "err", err)

	shouldRestart := false
	switch restart {
	case core.RestartAlways:
		shouldRestart = true
	case core.RestartOnFailure:
		shouldRestart = exitCode != 0
	case core.RestartNever:
		shouldRestart = false
	}
	if !shouldRestart {
		return
	}

	delay := backoff(failures)
	s.logger.Info("restarting process", "name", p.Name, "delay", delay, "attempt", failures)

	p.mu.Lock()
	s.setStatus(p, core.StatusRestarting, "")
	p.mu.Unlock()

	select {
	case <-time.After(delay):
	case <-s.ctx.Done():
		return
	}

	p.mu.Lock()
	current := !p.stopping && p.gen == gen
	p.mu.Unlock()
	if !current {
		return
	}
	if err := s.spawn(p); err != nil {
		s.logger.Error("restart failed", "name", p.Name, "err", err)
	}
}

func (s *Supervisor) stopProcess(p *SupervisedProcess) error {
	p.mu.Lock()
	p.stopping = true
	p.gen++
	cmd := p.cmd
	exited := p.exited
	if cmd == nil || cmd.Process == nil {
		if p.status == core.StatusRestarting {
			s.setStatus(p, core.StatusStopped, "")
		}
		p.mu.Unlock()
		return nil
	}
	s.setStatus(p, core.StatusStopping, "")
	p.mu.Unlock()

	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM); err != nil {
		s.logger.Debug("sigterm", "name", p.Name, "err", err)
	}

	select {
	case <-exited:
	case <-time.After(stopTimeout):
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-exited
	}
	return nil
}

// nextFailures counts an exit toward the backoff. A run that stayed up for
// stableUptime starts the count over.
func nextFailures(failures int, uptime time.Duration) int {
	if uptime >= stableUptime {
		return 1
	}
	return failures + 1
}

// backoff returns exponential backoff delay: 1s, 2s, 4s, 8s, 16s, 30s max.
func backoff(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	if failures > 5 {
		return maxBackoff
	}
	return min(time.Duration(1<<uint(failures-1))*time.Second, maxBackoff)
}
