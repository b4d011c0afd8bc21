// Command mirrorsync is the operator entry point (§6): it runs either as
// the sender, driving a session against a remote receiver over a spawned
// transport process, or, with --server, as the receiver responding on its
// own stdio.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mirrorsync/mirrorsync/internal/logging"
	"github.com/mirrorsync/mirrorsync/internal/options"
	"github.com/mirrorsync/mirrorsync/internal/pipeline"
	"github.com/mirrorsync/mirrorsync/internal/protocol"
	"github.com/mirrorsync/mirrorsync/internal/responder"
)

// config is bound to in init(), the same pattern mutagen-io/mutagen's
// cmd/mutagen/main.go uses for rootConfiguration.
var config options.Config

var remoteSpecPattern = regexp.MustCompile(`^([a-zA-Z0-9._-]+)@([a-zA-Z0-9.-]+):(.*)$`)

var rootCommand = &cobra.Command{
	Use:   "mirrorsync [from] [to]",
	Short: "mirrorsync mirrors a local file tree onto a remote one by transmitting only the differences",
	Args:  cobra.MaximumNArgs(2),
	RunE:  run,
}

func init() {
	flags := rootCommand.Flags()
	flags.BoolVar(&config.Server, "server", false, "run as the receiver-side responder")
	flags.IntVarP(&config.Port, "port", "p", options.DefaultPort, "port for the transport launcher")
	flags.StringArrayVar(&config.Exclude, "exclude", nil, "path fragment to exclude (may be repeated)")
	flags.BoolVar(&config.DryRun, "dry-run", false, "compute but do not persist patched output")
	flags.BoolVarP(&config.Verbose, "verbose", "v", false, "diagnostic verbosity")
	flags.BoolVarP(&config.Delete, "delete", "d", false, "propagate deletions")
	flags.BoolVarP(&config.Recursive, "recursive", "r", false, "recurse into subdirectories when enumerating")
	flags.BoolVar(&config.AskPass, "ask-pass", false, "prompt for a transport password interactively")
	flags.IntVar(&config.BlockSize, "block-size", options.DefaultBlockSize, "session block size B")
}

func main() {
	if err := logging.Init(); err != nil {
		fmt.Fprintln(os.Stderr, "mirrorsync: failed to initialize logging:", err)
		os.Exit(1)
	}

	if err := rootCommand.Execute(); err != nil {
		logging.Root.Error(err)
		fmt.Fprintln(os.Stderr, "mirrorsync:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if config.Server {
		return runServer()
	}
	return runClient(args)
}

// runServer implements the receiver side: it must never write anything to
// its own stdout except framed protocol messages (§4.2, §9).
func runServer() error {
	tunnel := protocol.NewStdioTunnel()
	defer tunnel.Close()

	log := logging.Root.Sublogger("responder")
	r := responder.New(tunnel, config.BlockSize, log)
	return r.Run()
}

// runClient implements the sender side: resolve from/to, launch the
// transport, and drive the pipeline FSM through a full session.
func runClient(args []string) error {
	from, to, err := resolveFromTo(args, &config)
	if err != nil {
		return err
	}

	username, host, remotePath, err := splitRemoteSpec(to)
	if err != nil {
		return err
	}

	var env []string
	if config.AskPass {
		password, err := promptPassword()
		if err != nil {
			return err
		}
		askpassPath, cleanup, err := writeAskPassScript(password)
		if err != nil {
			return err
		}
		defer cleanup()
		env = []string{
			"SSH_ASKPASS=" + askpassPath,
			"SSH_ASKPASS_REQUIRE=force",
			"DISPLAY=:0",
		}
	}

	ctx := context.Background()
	transportArgs := sshArgs(username, host, config.Port)

	tunnel, err := protocol.NewChildTunnel(ctx, "ssh", transportArgs, env)
	if err != nil {
		return errors.Wrap(err, "launching transport")
	}
	defer tunnel.Close()

	log := logging.Root.Sublogger("pipeline")
	p := pipeline.New(tunnel, from, remotePath, config.BlockSize, log)

	if err := p.Connect(); err != nil {
		return err
	}

	opts := config.ClientServerOpts()
	opts.To = remotePath
	if err := p.SendArguments(opts); err != nil {
		return err
	}

	if err := p.ReceiveFlist(); err != nil {
		return err
	}

	runErr := p.Run(func(fd pipeline.FileDelta) error {
		if config.Verbose {
			fmt.Printf("%s: %s\n", fd.Entry.Filename, fd.Delta.Dump())
		}
		return nil
	})
	if runErr != nil {
		return runErr
	}

	printStats(p.Stats())
	return nil
}

// printStats reports the session totals gob-encoded and sent to the
// receiver in the closing Stats message (§3.E), the way mutagen's `sync
// list` reports transfer sizes: humanized byte counts, not raw integers.
func printStats(stats protocol.StatsPayload) {
	fmt.Printf(
		"%d file(s): %s matched, %s sent\n",
		stats.FilesTransferred,
		humanize.Bytes(stats.BytesMatched),
		humanize.Bytes(stats.BytesLiteral),
	)
}

func resolveFromTo(args []string, cfg *options.Config) (from, to string, err error) {
	switch len(args) {
	case 2:
		from, to = args[0], args[1]
	case 1:
		from, to = cfg.From, args[0]
	default:
		from, to = cfg.From, cfg.To
	}
	if from == "" || to == "" {
		return "", "", errors.New("mirrorsync: both 'from' and 'to' are required when not --server")
	}
	return from, to, nil
}

func splitRemoteSpec(spec string) (username, host, path string, err error) {
	m := remoteSpecPattern.FindStringSubmatch(spec)
	if m == nil {
		return "", "", "", errors.Errorf("mirrorsync: %q is not a valid user@host:path remote spec", spec)
	}
	return m[1], m[2], m[3], nil
}

func sshArgs(username, host string, port int) []string {
	return []string{
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		"-o", "LogLevel=ERROR",
		"-o", "ConnectTimeout=10",
		"-o", "ServerAliveInterval=10",
		"-o", "ServerAliveCountMax=3",
		"-p", strconv.Itoa(port),
		fmt.Sprintf("%s@%s", username, host),
		"mirrorsync", "--server",
	}
}

func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", errors.Wrap(err, "reading password")
	}
	return strings.TrimSpace(string(b)), nil
}

// writeAskPassScript writes a private, self-deleting-directory SSH_ASKPASS
// helper that prints password to its stdout, the form OpenSSH's
// SSH_ASKPASS protocol expects (§6: --ask-pass forwards the captured
// password to the transport command via this mechanism rather than ever
// placing it on the command line or in a long-lived file). The caller
// must invoke the returned cleanup once the transport process has exited.
func writeAskPassScript(password string) (path string, cleanup func(), err error) {
	dir, err := os.MkdirTemp("", "mirrorsync-askpass-")
	if err != nil {
		return "", nil, errors.Wrap(err, "creating askpass temp dir")
	}
	cleanup = func() { os.RemoveAll(dir) }

	escaped := strings.ReplaceAll(password, "'", `'\''`)
	script := "#!/bin/sh\nprintf '%s\\n' '" + escaped + "'\n"

	scriptPath := filepath.Join(dir, "askpass.sh")
	if err := os.WriteFile(scriptPath, []byte(script), 0o700); err != nil {
		cleanup()
		return "", nil, errors.Wrap(err, "writing askpass script")
	}
	return scriptPath, cleanup, nil
}
