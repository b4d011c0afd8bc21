package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mirrorsync/mirrorsync/internal/protocol"
	"github.com/mirrorsync/mirrorsync/internal/responder"
)

func TestConnectAckTransitionsToConnected(t *testing.T) {
	a, b := protocol.NewMemoryTunnelPair()
	defer a.Close()
	defer b.Close()

	done := make(chan error, 1)
	go func() {
		msg, err := b.ReadMessage()
		if err != nil {
			done <- err
			return
		}
		if _, ok := msg.(protocol.Sync); !ok {
			done <- errUnexpected(msg)
			return
		}
		done <- b.WriteMessage(protocol.Ack{})
	}()

	p := New(a, "/local", "/remote", 128, nil)
	if err := p.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("peer: %v", err)
	}
	if p.State() != StateConnected {
		t.Fatalf("expected StateConnected, got %s", p.State())
	}
}

func TestConnectNackTransitionsToError(t *testing.T) {
	a, b := protocol.NewMemoryTunnelPair()
	defer a.Close()
	defer b.Close()

	go func() {
		b.ReadMessage()
		b.WriteMessage(protocol.Nack{})
	}()

	p := New(a, "/local", "/remote", 128, nil)
	if err := p.Connect(); err == nil {
		t.Fatal("expected an error on NACK")
	}
	if p.State() != StateError {
		t.Fatalf("expected StateError, got %s", p.State())
	}
}

// Invariant 7 (§8): the pipeline only ever has one request in flight; an
// unexpected message at any step transitions to Error rather than hanging
// or silently skipping ahead.
func TestUnexpectedMessageDuringConnectIsError(t *testing.T) {
	a, b := protocol.NewMemoryTunnelPair()
	defer a.Close()
	defer b.Close()

	go func() {
		b.ReadMessage()
		b.WriteMessage(protocol.FlistEnd{})
	}()

	p := New(a, "/local", "/remote", 128, nil)
	if err := p.Connect(); err == nil {
		t.Fatal("expected an error for an out-of-sequence message")
	}
	if p.State() != StateError {
		t.Fatalf("expected StateError, got %s", p.State())
	}
}

func TestResolveLocalPath(t *testing.T) {
	p := New(nil, "/local/root", "/remote/root", 128, nil)

	got := p.ResolveLocalPath("/remote/root/sub/file.txt")
	if want := "/local/root/sub/file.txt"; got != want {
		t.Fatalf("ResolveLocalPath: got %q, want %q", got, want)
	}

	unrelated := p.ResolveLocalPath("/elsewhere/file.txt")
	if unrelated != "/elsewhere/file.txt" {
		t.Fatalf("expected unrelated path to pass through unchanged, got %q", unrelated)
	}
}

// TestFullSessionAgainstResponder drives a complete session against the
// real receiver-side responder over an in-memory tunnel, exercising the
// handshake, argument exchange, flist retrieval, and per-file delta loop
// end to end (§4.3).
func TestFullSessionAgainstResponder(t *testing.T) {
	remoteRoot := t.TempDir()
	localRoot := t.TempDir()

	remoteContent := []byte("the quick brown fox jumps over the lazy dog")
	localContent := []byte("the quick brown cat jumps over the lazy dog with extra text")

	remoteFile := filepath.Join(remoteRoot, "animals.txt")
	if err := os.WriteFile(remoteFile, remoteContent, 0o644); err != nil {
		t.Fatal(err)
	}
	localFile := filepath.Join(localRoot, "animals.txt")
	if err := os.WriteFile(localFile, localContent, 0o644); err != nil {
		t.Fatal(err)
	}

	a, b := protocol.NewMemoryTunnelPair()
	defer a.Close()
	defer b.Close()

	r := responder.New(b, 8, nil)
	go r.Run()

	p := New(a, localRoot, remoteRoot, 8, nil)

	if err := p.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := p.SendArguments(protocol.ClientServerOpts{To: remoteRoot}); err != nil {
		t.Fatalf("SendArguments: %v", err)
	}
	if err := p.ReceiveFlist(); err != nil {
		t.Fatalf("ReceiveFlist: %v", err)
	}
	if len(p.Flist()) != 1 {
		t.Fatalf("expected 1 flist entry, got %d", len(p.Flist()))
	}
	if p.Flist()[0].Filename != remoteFile {
		t.Fatalf("expected flist entry filename %q, got %q", remoteFile, p.Flist()[0].Filename)
	}

	var deltas []FileDelta
	err := p.Run(func(fd FileDelta) error {
		deltas = append(deltas, fd)
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(deltas) != 1 {
		t.Fatalf("expected 1 delta, got %d", len(deltas))
	}
	if !deltas[0].Delta.IsValid() {
		t.Fatal("expected a non-empty delta for differing content")
	}
	if p.State() != StateDone {
		t.Fatalf("expected StateDone, got %s", p.State())
	}

	stats := p.Stats()
	if stats.FilesTransferred != 1 {
		t.Fatalf("expected 1 file transferred in stats, got %d", stats.FilesTransferred)
	}
	if stats.BytesMatched == 0 && stats.BytesLiteral == 0 {
		t.Fatal("expected a non-zero delta to register matched or literal bytes")
	}
}

// TestRunSendsStatsBeforeDone pins down the closing sequence of §3.E/§4.3
// step 7: the last two messages on the wire are a Stats message carrying a
// gob-encoded StatsPayload, then Done, in that order.
func TestRunSendsStatsBeforeDone(t *testing.T) {
	localRoot := t.TempDir()
	localFile := filepath.Join(localRoot, "only.txt")
	if err := os.WriteFile(localFile, []byte("0123456789abcdef"), 0o644); err != nil {
		t.Fatal(err)
	}

	a, b := protocol.NewMemoryTunnelPair()
	defer a.Close()
	defer b.Close()

	entry := protocol.FlistEntry{Index: 0, Filename: localFile}

	peerErr := make(chan error, 1)
	go func() {
		if _, err := b.ReadMessage(); err != nil { // FileIndex
			peerErr <- err
			return
		}
		if err := b.WriteMessage(protocol.DataMessage{FileIndex: 0}); err != nil {
			peerErr <- err
			return
		}

		msg, err := b.ReadMessage()
		if err != nil {
			peerErr <- err
			return
		}
		stats, ok := msg.(protocol.Stats)
		if !ok {
			peerErr <- errUnexpected(msg)
			return
		}
		if _, err := protocol.DecodeStatsPayload(stats.Data); err != nil {
			peerErr <- err
			return
		}

		msg, err = b.ReadMessage()
		if err != nil {
			peerErr <- err
			return
		}
		if _, ok := msg.(protocol.Done); !ok {
			peerErr <- errUnexpected(msg)
			return
		}
		peerErr <- nil
	}()

	p := New(a, localRoot, localRoot, 4, nil)
	p.state = StateConnected
	p.flist = []protocol.FlistEntry{entry}

	if err := p.Run(nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := <-peerErr; err != nil {
		t.Fatalf("peer: %v", err)
	}
}

type unexpectedMessageError struct {
	msg protocol.Message
}

func (e unexpectedMessageError) Error() string {
	return "unexpected message in test peer"
}

func errUnexpected(msg protocol.Message) error {
	return unexpectedMessageError{msg: msg}
}
