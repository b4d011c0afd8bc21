package protocol

import (
	"context"
	"io"
	"os"
	"os/exec"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// ChildTunnel is the sender-side tunnel: it owns a spawned child process
// (typically the remote-shell client that connects to the receiver, see
// §6) and talks the framed protocol over that process's stdio. Dropping
// the tunnel terminates the child (§5, cancellation).
type ChildTunnel struct {
	*pipeTunnel
	cmd    *exec.Cmd
	group  *errgroup.Group
	cancel context.CancelFunc
}

// NewChildTunnel spawns name with args under ctx and wires a Tunnel to its
// stdin/stdout. The child's stderr is left attached to this process's
// stderr so transport diagnostics (e.g. an SSH client's own error output)
// are visible without polluting the framed stream on stdout. extraEnv, if
// non-empty, is appended to the child's environment on top of this
// process's own (e.g. SSH_ASKPASS forwarding, §4.E.1); a nil or empty
// extraEnv leaves the child's environment untouched.
func NewChildTunnel(ctx context.Context, name string, args []string, extraEnv []string) (*ChildTunnel, error) {
	ctx, cancel := context.WithCancel(ctx)

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = os.Stderr
	if len(extraEnv) > 0 {
		cmd.Env = append(os.Environ(), extraEnv...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, Wrap(KindIO, errors.Wrap(err, "opening child stdin"))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, Wrap(KindIO, errors.Wrap(err, "opening child stdout"))
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, Wrap(KindIO, errors.Wrap(err, "starting transport command"))
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		err := cmd.Wait()
		if groupCtx.Err() != nil {
			// Cancellation, not a real failure.
			return nil
		}
		return err
	})

	return &ChildTunnel{
		pipeTunnel: newPipeTunnel(stdout, stdin, stdinCloser{stdin}),
		cmd:        cmd,
		group:      group,
		cancel:     cancel,
	}, nil
}

// stdinCloser adapts the child's stdin pipe (an io.WriteCloser) to the
// io.Closer the base pipeTunnel expects.
type stdinCloser struct {
	io.WriteCloser
}

// Close terminates the child process and waits for the supervising
// goroutine to observe its exit.
func (t *ChildTunnel) Close() error {
	closeErr := t.pipeTunnel.Close()
	t.cancel()
	_ = t.cmd.Process.Kill()
	waitErr := t.group.Wait()
	if closeErr != nil {
		return closeErr
	}
	return waitErr
}
