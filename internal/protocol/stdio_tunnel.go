package protocol

import "os"

// NewStdioTunnel returns the receiver-side tunnel: it reads from the
// process's own stdin and writes to its own stdout. Per §4.2 and §9, the
// receiver must never write anything else to stdout — all diagnostics are
// routed through internal/logging instead, never through fmt.Print* or a
// stray log call that would corrupt the frame stream.
func NewStdioTunnel() Tunnel {
	return newPipeTunnel(os.Stdin, os.Stdout, nil)
}
