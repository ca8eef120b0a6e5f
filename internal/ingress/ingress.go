// Package ingress is the thin TCP boundary in front of the scheduler: it
// accepts connections, reads fixed three-byte request frames, and
// forwards each as a scheduler.Message. It holds no queue of its own --
// back-pressure comes from the OS receive buffer, same as the spec
// requires.
package ingress

import (
	"context"
	"io"
	"net"

	"github.com/kyrostech/priorityexec/internal/logging"
	"github.com/kyrostech/priorityexec/internal/scheduler"
)

// FrameSize is the wire size of one request: callback_id, priority, and
// one byte of payload data.
const FrameSize = 3

// Listener accepts connections on addr and decodes frames from each into
// Messages sent to out.
type Listener struct {
	addr string
	out  chan<- scheduler.Message
}

// New constructs a Listener that will deliver decoded messages to out.
func New(addr string, out chan<- scheduler.Message) *Listener {
	return &Listener{addr: addr, out: out}
}

// Serve listens on l.addr and accepts connections until ctx is
// cancelled or the listener's Accept fails. It blocks.
func (l *Listener) Serve(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", l.addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	log := logging.L()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		log.Info().Str(`remote_addr`, conn.RemoteAddr().String()).Log(`connection accepted`)
		go l.handleConn(ctx, conn)
	}
}

func (l *Listener) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	log := logging.L()

	var frame [FrameSize]byte
	for {
		if _, err := io.ReadFull(conn, frame[:]); err != nil {
			if err != io.EOF {
				log.Warning().Str(`remote_addr`, conn.RemoteAddr().String()).Err(err).Log(`connection closed on short read`)
			}
			return
		}

		msg := scheduler.Message{
			ID:   int(frame[0]),
			Prio: frame[1],
			Data: []byte{frame[2]},
		}

		select {
		case l.out <- msg:
		case <-ctx.Done():
			return
		}
	}
}
