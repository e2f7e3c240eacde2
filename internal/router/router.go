// Package router drives an ASUS RT-AC86U running the nexmon CSI firmware
// patch. Commands run through the system ssh client.
package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/banshee-data/csi.report/internal/csi/chanspec"
)

const (
	DefaultHost      = "192.168.1.1"
	DefaultUser      = "admin"
	DefaultPort      = 22
	DefaultInterface = "eth6"
	DefaultCSIPort   = 5500

	wl          = "/usr/sbin/wl"
	ifconfig    = "/sbin/ifconfig"
	nexutil     = "/jffs/nexutil"
	tcpdump     = "/jffs/tcpdump"
	reloadDHD   = "/sbin/rmmod dhd; /sbin/insmod /jffs/dhd.ko"
	countryCode = "UG"
	// nexutil ioctl that installs the CSI extraction parameters
	csiIoctl = 500
)

// ErrDryRun is returned by operations that cannot be simulated.
var ErrDryRun = errors.New("not available in dry-run mode")

// CommandError reports a remote command that exited with a non-zero status.
type CommandError struct {
	Command string
	Status  int
	Stderr  string
}

func (e *CommandError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("command exited with status %d: %s", e.Status, e.Stderr)
	}
	return fmt.Sprintf("%q exited with status %d: %s", e.Command, e.Status, e.Stderr)
}

// Logger defines the interface for debug logging.
type Logger interface {
	Debugf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debugf(format string, args ...interface{}) {}

// Options describe how to reach the router.
type Options struct {
	Host          string
	Port          int
	User          string
	IdentityFile  string
	IdentityAgent string
	// Interface is the wireless interface that captures CSI.
	Interface string
	// CSIPort is the UDP port the firmware sends CSI frames to.
	CSIPort int
	DryRun  bool
	// SSHConfigPath overrides ~/.ssh/config for host alias lookup.
	SSHConfigPath string
}

// Router runs commands on one router.
type Router struct {
	opts    Options
	logger  Logger
	builder CommandBuilder
}

// New resolves opts against the ssh config and fills defaults.
func New(opts Options) (*Router, error) {
	if opts.Host == "" {
		opts.Host = DefaultHost
	}
	sshCfg, err := LoadSSHConfig(opts.Host, opts.SSHConfigPath)
	if err != nil {
		return nil, err
	}
	sshCfg.apply(&opts)

	if opts.User == "" {
		opts.User = DefaultUser
	}
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.Interface == "" {
		opts.Interface = DefaultInterface
	}
	if opts.CSIPort == 0 {
		opts.CSIPort = DefaultCSIPort
	}
	return &Router{opts: opts, logger: nopLogger{}, builder: NewRealCommandBuilder()}, nil
}

// SetLogger sets the debug logger.
func (r *Router) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Target is the user@host string handed to ssh.
func (r *Router) Target() string {
	return r.opts.User + "@" + r.opts.Host
}

func (r *Router) sshArgs(command string) []string {
	args := []string{"-T", "-p", strconv.Itoa(r.opts.Port)}
	if r.opts.IdentityFile != "" {
		args = append(args, "-i", r.opts.IdentityFile)
	}
	if r.opts.IdentityAgent != "" {
		args = append(args, "-o", "IdentityAgent="+r.opts.IdentityAgent)
	}
	// the router regenerates its host key on firmware updates
	args = append(args,
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		"-o", "LogLevel=ERROR",
		"-o", "BatchMode=yes",
	)
	return append(args, r.Target(), command)
}

// Exec runs command on the router and returns its stdout.
func (r *Router) Exec(ctx context.Context, command string) (string, error) {
	if r.opts.DryRun {
		return fmt.Sprintf("[DRY-RUN] Would execute: %s", command), nil
	}

	r.logger.Debugf("Executing: %s (target=%s)", command, r.Target())
	out, err := r.builder.BuildCommand(ctx, "ssh", r.sshArgs(command)...).Run()
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) {
			cmdErr.Command = command
			r.logger.Debugf("Command failed: %v", cmdErr)
			return string(out), cmdErr
		}
		return string(out), fmt.Errorf("ssh %s: %w", r.Target(), err)
	}
	return string(out), nil
}

// ConfigureCommands lists the shell commands that put iface into
// monitor mode on the requested channel and install params.
func ConfigureCommands(iface string, params chanspec.Params, reloadDriver bool) []string {
	var cmds []string
	if reloadDriver {
		cmds = append(cmds, reloadDHD)
	}
	wlCmd := func(args string) string {
		return fmt.Sprintf("%s -i %s %s", wl, iface, args)
	}
	blob := params.String()
	return append(cmds,
		wlCmd("down"),
		wlCmd("up"),
		wlCmd("radio on"),
		wlCmd("country "+countryCode),
		wlCmd("chanspec "+params.ChanSpec.String()),
		wlCmd("monitor 1"),
		fmt.Sprintf("%s %s up", ifconfig, iface),
		fmt.Sprintf("%s -I %s -s %d -b -l %d -v %s", nexutil, iface, csiIoctl, len(blob), blob),
	)
}

// Configure prepares the router for CSI capture. It stops at the first
// command that fails.
func (r *Router) Configure(ctx context.Context, params chanspec.Params, reloadDriver bool) error {
	if err := params.Validate(); err != nil {
		return fmt.Errorf("invalid CSI parameters: %w", err)
	}
	r.logger.Debugf("Configuring %s on %s for %s", r.opts.Interface, r.Target(), params.ChanSpec)
	for _, cmd := range ConfigureCommands(r.opts.Interface, params, reloadDriver) {
		out, err := r.Exec(ctx, cmd)
		if err != nil {
			return err
		}
		if out != "" {
			r.logger.Debugf("%s", out)
		}
	}
	return nil
}

// TcpdumpCommand is the capture command run by Tcpdump.
func (r *Router) TcpdumpCommand() string {
	return fmt.Sprintf("%s -i %s -nn -s 0 -w - port %d", tcpdump, r.opts.Interface, r.opts.CSIPort)
}

// Tcpdump starts a capture of the CSI port and returns its pcap stream.
// Closing the stream ends the remote capture.
func (r *Router) Tcpdump(ctx context.Context) (io.ReadCloser, error) {
	if r.opts.DryRun {
		return nil, fmt.Errorf("tcpdump: %w", ErrDryRun)
	}
	cmd := r.TcpdumpCommand()
	r.logger.Debugf("Streaming: %s (target=%s)", cmd, r.Target())
	stream, err := r.builder.BuildCommand(ctx, "ssh", r.sshArgs(cmd)...).Stream()
	if err != nil {
		return nil, fmt.Errorf("ssh %s: %w", r.Target(), err)
	}
	return stream, nil
}
