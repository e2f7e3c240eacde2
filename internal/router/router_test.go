package router

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/csi.report/internal/csi/chanspec"
)

type testLogger struct {
	logs []string
}

func (l *testLogger) Debugf(format string, args ...interface{}) {
	l.logs = append(l.logs, format)
}

func newTestRouter(t *testing.T, opts Options) (*Router, *MockCommandBuilder) {
	t.Helper()
	if opts.SSHConfigPath == "" {
		opts.SSHConfigPath = filepath.Join(t.TempDir(), "missing")
	}
	r, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	mock := NewMockCommandBuilder()
	r.builder = mock
	return r, mock
}

func testParams(t *testing.T) chanspec.Params {
	t.Helper()
	cs, err := chanspec.ParseChanSpecArg("100/80")
	if err != nil {
		t.Fatalf("ParseChanSpecArg: %v", err)
	}
	return chanspec.Params{
		ChanSpec:       cs,
		CSICollect:     true,
		Cores:          0xb,
		SpatialStreams: 0x1,
	}
}

func TestNew_Defaults(t *testing.T) {
	r, _ := newTestRouter(t, Options{})
	if r.Target() != "admin@192.168.1.1" {
		t.Errorf("Expected admin@192.168.1.1, got %s", r.Target())
	}
	if r.opts.Port != 22 || r.opts.Interface != "eth6" || r.opts.CSIPort != 5500 {
		t.Errorf("Unexpected defaults: %+v", r.opts)
	}
}

func TestNew_SSHConfigAlias(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	body := `
Host other
    HostName 10.0.0.9

Host asus
    HostName 192.168.50.1
    User root
    Port 2222
    IdentityFile /keys/router
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	r, err := New(Options{Host: "asus", SSHConfigPath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if r.Target() != "root@192.168.50.1" {
		t.Errorf("Expected root@192.168.50.1, got %s", r.Target())
	}
	if r.opts.Port != 2222 || r.opts.IdentityFile != "/keys/router" {
		t.Errorf("ssh config not applied: %+v", r.opts)
	}

	// explicit options win over the config file
	r, err = New(Options{Host: "asus", User: "admin", SSHConfigPath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if r.Target() != "admin@192.168.50.1" {
		t.Errorf("Expected admin@192.168.50.1, got %s", r.Target())
	}
}

func TestExec_BuildsSSHCommand(t *testing.T) {
	r, mock := newTestRouter(t, Options{Host: "10.1.1.1", IdentityFile: "/id", Port: 2200})
	mock.NextExecutor = &MockCommandExecutor{Output: []byte("ok\n")}

	out, err := r.Exec(context.Background(), "uname -a")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if out != "ok\n" {
		t.Errorf("Expected output ok, got %q", out)
	}

	cmd := mock.LastCommand()
	if cmd == nil || cmd.Name != "ssh" {
		t.Fatalf("Expected ssh command, got %+v", cmd)
	}
	args := strings.Join(cmd.Args, " ")
	for _, want := range []string{"-p 2200", "-i /id", "StrictHostKeyChecking=no", "admin@10.1.1.1"} {
		if !strings.Contains(args, want) {
			t.Errorf("Expected %q in args: %s", want, args)
		}
	}
	if cmd.Remote() != "uname -a" {
		t.Errorf("Expected remote command last, got %q", cmd.Remote())
	}
}

func TestExec_CommandError(t *testing.T) {
	r, mock := newTestRouter(t, Options{})
	logger := &testLogger{}
	r.SetLogger(logger)
	mock.NextExecutor = &MockCommandExecutor{Err: &CommandError{Status: 1, Stderr: "wl: not found"}}

	_, err := r.Exec(context.Background(), "/usr/sbin/wl ver")
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("Expected CommandError, got %v", err)
	}
	if cmdErr.Command != "/usr/sbin/wl ver" || cmdErr.Status != 1 {
		t.Errorf("Unexpected error details: %+v", cmdErr)
	}
	if !strings.Contains(err.Error(), "wl: not found") {
		t.Errorf("Expected stderr in message, got %v", err)
	}
	if len(logger.logs) == 0 {
		t.Error("Expected debug logs")
	}
}

func TestExec_TransportError(t *testing.T) {
	r, mock := newTestRouter(t, Options{})
	mock.NextExecutor = &MockCommandExecutor{Err: errors.New("exec: \"ssh\": not found")}
	_, err := r.Exec(context.Background(), "true")
	if err == nil || !strings.Contains(err.Error(), "ssh admin@192.168.1.1") {
		t.Errorf("Expected wrapped ssh error, got %v", err)
	}
}

func TestExec_DryRun(t *testing.T) {
	r, mock := newTestRouter(t, Options{DryRun: true})
	out, err := r.Exec(context.Background(), "reboot")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !strings.Contains(out, "[DRY-RUN]") || !strings.Contains(out, "reboot") {
		t.Errorf("Expected dry-run output, got %q", out)
	}
	if len(mock.Commands) != 0 {
		t.Errorf("Dry run must not build commands, got %d", len(mock.Commands))
	}
}

func TestConfigureCommands(t *testing.T) {
	p := testParams(t)
	blob := p.String()

	cmds := ConfigureCommands("eth6", p, false)
	want := []string{
		"/usr/sbin/wl -i eth6 down",
		"/usr/sbin/wl -i eth6 up",
		"/usr/sbin/wl -i eth6 radio on",
		"/usr/sbin/wl -i eth6 country UG",
		"/usr/sbin/wl -i eth6 chanspec 100/80",
		"/usr/sbin/wl -i eth6 monitor 1",
		"/sbin/ifconfig eth6 up",
		"/jffs/nexutil -I eth6 -s 500 -b -l 48 -v " + blob,
	}
	if len(blob) != 48 {
		t.Fatalf("Expected 48 base64 characters for 34 bytes, got %d", len(blob))
	}
	if len(cmds) != len(want) {
		t.Fatalf("Expected %d commands, got %d: %v", len(want), len(cmds), cmds)
	}
	for i := range want {
		if cmds[i] != want[i] {
			t.Errorf("command %d: got %q, want %q", i, cmds[i], want[i])
		}
	}

	reload := ConfigureCommands("eth6", p, true)
	if len(reload) != len(want)+1 || !strings.Contains(reload[0], "insmod /jffs/dhd.ko") {
		t.Errorf("Expected driver reload first, got %v", reload)
	}
}

func TestConfigure_RunsInOrder(t *testing.T) {
	r, mock := newTestRouter(t, Options{})
	if err := r.Configure(context.Background(), testParams(t), true); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if len(mock.Commands) != 9 {
		t.Fatalf("Expected 9 ssh invocations, got %d", len(mock.Commands))
	}
	if !strings.HasPrefix(mock.Commands[0].Remote(), "/sbin/rmmod dhd") {
		t.Errorf("Expected driver reload first, got %q", mock.Commands[0].Remote())
	}
	if !strings.HasPrefix(mock.LastCommand().Remote(), "/jffs/nexutil") {
		t.Errorf("Expected nexutil last, got %q", mock.LastCommand().Remote())
	}
}

func TestConfigure_StopsOnFailure(t *testing.T) {
	r, mock := newTestRouter(t, Options{})
	mock.ExecutorFactory = func(name string, args []string) *MockCommandExecutor {
		if strings.HasSuffix(args[len(args)-1], "radio on") {
			return &MockCommandExecutor{Err: &CommandError{Status: 2}}
		}
		return &MockCommandExecutor{}
	}

	err := r.Configure(context.Background(), testParams(t), false)
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) || !strings.HasSuffix(cmdErr.Command, "radio on") {
		t.Fatalf("Expected radio on failure, got %v", err)
	}
	if len(mock.Commands) != 3 {
		t.Errorf("Expected to stop after 3 commands, got %d", len(mock.Commands))
	}
}

func TestConfigure_InvalidParams(t *testing.T) {
	r, mock := newTestRouter(t, Options{})
	p := testParams(t)
	p.MACAddrs = make([]net.HardwareAddr, 5)
	err := r.Configure(context.Background(), p, false)
	if !errors.Is(err, chanspec.ErrTooManyMACs) {
		t.Errorf("Expected ErrTooManyMACs, got %v", err)
	}
	if len(mock.Commands) != 0 {
		t.Error("Invalid params must not reach the router")
	}
}

func TestTcpdump(t *testing.T) {
	r, mock := newTestRouter(t, Options{Interface: "eth5"})
	exec := &MockCommandExecutor{StreamData: []byte{0xd4, 0xc3, 0xb2, 0xa1}}
	mock.NextExecutor = exec

	rc, err := r.Tcpdump(context.Background())
	if err != nil {
		t.Fatalf("Tcpdump: %v", err)
	}
	data, err := io.ReadAll(rc)
	if err != nil || len(data) != 4 {
		t.Errorf("Expected 4 bytes, got %d (%v)", len(data), err)
	}
	rc.Close()
	if !exec.Closed {
		t.Error("Expected stream to be closed")
	}
	if got := mock.LastCommand().Remote(); got != "/jffs/tcpdump -i eth5 -nn -s 0 -w - port 5500" {
		t.Errorf("Unexpected tcpdump command %q", got)
	}
}

func TestTcpdump_Errors(t *testing.T) {
	r, _ := newTestRouter(t, Options{DryRun: true})
	if _, err := r.Tcpdump(context.Background()); !errors.Is(err, ErrDryRun) {
		t.Errorf("Expected ErrDryRun, got %v", err)
	}

	r, mock := newTestRouter(t, Options{})
	mock.NextExecutor = &MockCommandExecutor{Err: errors.New("broken pipe")}
	if _, err := r.Tcpdump(context.Background()); err == nil {
		t.Error("Expected stream error")
	}
}
