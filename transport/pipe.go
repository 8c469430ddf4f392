package transport

import (
	"io"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
)

// pipeCapacity is the number of chunks each direction of a pipe buffers.
const pipeCapacity = 64

type pipePair struct {
	a, b PipeEnd
	ab   lfq.SPSC[[]byte]
	ba   lfq.SPSC[[]byte]
}

// PipeEnd is one side of an in-memory transport created by Pipe.
//
// Each direction is a single producer single consumer queue: Send must be
// called from one goroutine at a time, and so must Receive.
type PipeEnd struct {
	sendQ  *lfq.SPSC[[]byte]
	recvQ  *lfq.SPSC[[]byte]
	closed *atomix.Uint32
	peer   *atomix.Uint32
	chunk  []byte
	flag   atomix.Uint32
}

// Pipe creates a connected pair of in-memory transports. Bytes sent on one
// end are received on the other in the same order. Chunk boundaries are not
// preserved by Receive if its buffer is smaller than the chunk.
func Pipe() (*PipeEnd, *PipeEnd) {
	pair := &pipePair{}
	pair.ab.Init(pipeCapacity)
	pair.ba.Init(pipeCapacity)

	pair.a = PipeEnd{
		sendQ: &pair.ab,
		recvQ: &pair.ba,
	}
	pair.b = PipeEnd{
		sendQ: &pair.ba,
		recvQ: &pair.ab,
	}
	pair.a.closed, pair.a.peer = &pair.a.flag, &pair.b.flag
	pair.b.closed, pair.b.peer = &pair.b.flag, &pair.a.flag

	return &pair.a, &pair.b
}

// Send implements Transport. It waits with iox.Backoff while the queue is
// full and fails with io.ErrClosedPipe if the peer is closed.
func (p *PipeEnd) Send(b []byte) error {
	if p.closed.Load() != 0 {
		return ErrClosed
	}
	if len(b) == 0 {
		return nil
	}
	chunk := append([]byte(nil), b...)
	var bo iox.Backoff
	for {
		if p.peer.Load() != 0 {
			return io.ErrClosedPipe
		}
		err := p.sendQ.Enqueue(&chunk)
		if err == nil {
			return nil
		}
		if !iox.IsWouldBlock(err) {
			return err
		}
		bo.Wait()
	}
}

// Receive implements Transport. It never blocks: if there is nothing to read
// it returns iox.ErrWouldBlock, or io.EOF once the peer is closed.
func (p *PipeEnd) Receive(b []byte) (int, error) {
	if p.closed.Load() != 0 {
		return 0, ErrClosed
	}
	if len(p.chunk) == 0 {
		// Peer flag is checked before dequeue so that chunks sent right
		// before peer's Close are not lost.
		peerClosed := p.peer.Load() != 0
		chunk, err := p.recvQ.Dequeue()
		if err != nil {
			if peerClosed {
				return 0, io.EOF
			}
			return 0, iox.ErrWouldBlock
		}
		p.chunk = chunk
	}
	n := copy(b, p.chunk)
	p.chunk = p.chunk[n:]
	return n, nil
}

// Close implements Transport.
func (p *PipeEnd) Close() error {
	p.closed.Add(1)
	return nil
}
