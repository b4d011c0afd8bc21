// Package options holds the operator-facing CLI configuration (§6) and its
// conversion into the wire-level session configuration exchanged over the
// tunnel (§3, ClientServerOpts).
package options

import "github.com/mirrorsync/mirrorsync/internal/protocol"

// DefaultBlockSize is the session-wide block size B used when the operator
// does not override it (§3: "default 128").
const DefaultBlockSize = 128

// DefaultPort is the transport launcher's default port (§6).
const DefaultPort = 22

// Config mirrors the CLI flags of §6, bound directly to cobra/pflag flags
// in cmd/mirrorsync, the way mutagen-io/mutagen's cmd/mutagen binds a
// package-level configuration struct in init().
type Config struct {
	Server    bool
	From      string
	To        string
	Port      int
	Exclude   []string
	DryRun    bool
	Verbose   bool
	Delete    bool
	Recursive bool
	AskPass   bool
	BlockSize int
}

// ClientServerOpts converts the CLI configuration into the session
// configuration sent to the receiver in the Arguments message, the Go
// analogue of original_source's `impl From<&Cli> for ClientServerOpts`.
func (c *Config) ClientServerOpts() protocol.ClientServerOpts {
	return protocol.ClientServerOpts{
		To:        c.To,
		Delete:    c.Delete,
		Recursive: c.Recursive,
		DryRun:    c.DryRun,
		Verbose:   c.Verbose,
		Exclude:   c.Exclude,
	}
}
