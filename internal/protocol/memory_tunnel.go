package protocol

import "io"

// NewMemoryTunnelPair returns two tunnels wired directly to each other, for
// exercising the pipeline/responder FSMs without a real transport (§9,
// "the pipeline holds [the tunnel] behind an abstraction so tests can
// substitute an in-memory duplex pipe").
func NewMemoryTunnelPair() (a, b Tunnel) {
	arToB, aWToB := io.Pipe()
	brToA, bWToA := io.Pipe()

	a = newPipeTunnel(brToA, aWToB, multiCloser{aWToB, brToA})
	b = newPipeTunnel(arToB, bWToA, multiCloser{bWToA, arToB})
	return a, b
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var first error
	for _, c := range m {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
