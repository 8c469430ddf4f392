package dispatch

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"

	"github.com/AmatsuZero/Common/transport"
)

// receiveLoop returns a poll function which stops on any receive error other
// than iox.ErrWouldBlock and reports received bytes to got.
func receiveLoop(got chan<- string) PollFunc {
	return func(t transport.Transport) bool {
		buf := make([]byte, 64)
		n, err := t.Receive(buf)
		if iox.IsWouldBlock(err) {
			time.Sleep(time.Millisecond)
			return true
		}
		if err != nil {
			return false
		}
		if got != nil {
			got <- string(buf[:n])
		}
		return true
	}
}

func connPair() (*transport.Conn, *transport.Conn) {
	a, b := net.Pipe()
	return transport.NewConn(a, 0), transport.NewConn(b, 0)
}

func waitTimeout(t *testing.T, d *Dispatcher) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		d.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("workers did not stop")
	}
}

func TestDispatcherPoll(t *testing.T) {
	if lfq.RaceEnabled {
		t.Skip("skip: transport.Pipe orders its queues with atomics")
	}
	d := New(Config{})
	local, remote := transport.Pipe()
	got := make(chan string, 1)

	id := d.Add(local, receiveLoop(got))
	if id == 0 {
		t.Errorf("Add() returned zero id")
	}
	if n := d.Len(); n != 1 {
		t.Errorf("Len() = %d; want 1", n)
	}

	remote.Send([]byte("hello"))
	select {
	case s := <-got:
		if s != "hello" {
			t.Errorf("polled %q; want %q", s, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("poll did not receive data")
	}

	// Peer close makes Receive return io.EOF.
	remote.Close()
	waitTimeout(t, d)
	if n := d.Len(); n != 0 {
		t.Errorf("Len() after worker stop = %d; want 0", n)
	}
	if _, err := local.Receive(make([]byte, 1)); err != transport.ErrClosed {
		t.Errorf("transport was not closed by the worker: %v", err)
	}
}

func TestDispatcherPollConn(t *testing.T) {
	d := New(Config{})
	local, remote := connPair()
	got := make(chan string, 1)

	d.Add(local, receiveLoop(got))
	if err := remote.Send([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	select {
	case s := <-got:
		if s != "hello" {
			t.Errorf("polled %q; want %q", s, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("poll did not receive data")
	}

	remote.Close()
	waitTimeout(t, d)
	if n := d.Len(); n != 0 {
		t.Errorf("Len() after worker stop = %d; want 0", n)
	}
	if err := local.Send([]byte("x")); err != transport.ErrClosed {
		t.Errorf("transport was not closed by the worker: %v", err)
	}
}

func TestDispatcherRemoveAll(t *testing.T) {
	d := New(Config{})
	ln := &closer{}
	d.SetListener(ln)

	var remotes []*transport.Conn
	for i := 0; i < 5; i++ {
		local, remote := connPair()
		remotes = append(remotes, remote)
		d.Add(local, receiveLoop(nil))
	}
	if n := d.Len(); n != 5 {
		t.Fatalf("Len() = %d; want 5", n)
	}

	d.RemoveAll()
	waitTimeout(t, d)

	if n := d.Len(); n != 0 {
		t.Errorf("Len() after RemoveAll = %d; want 0", n)
	}
	if !ln.isClosed() {
		t.Errorf("listener was not closed")
	}
	for i, r := range remotes {
		if _, err := r.Receive(make([]byte, 1)); err == nil {
			t.Errorf("#%d: peer of removed transport did not observe close: %v", i, err)
		}
	}
}

func TestDispatcherRemove(t *testing.T) {
	d := New(Config{})
	a, _ := connPair()
	b, _ := connPair()
	idA := d.Add(a, receiveLoop(nil))
	idB := d.Add(b, receiveLoop(nil))

	if !d.Remove(idA) {
		t.Errorf("Remove(%d) = false; want true", idA)
	}
	if d.Remove(idA) {
		t.Errorf("second Remove(%d) = true; want false", idA)
	}
	if n := d.Len(); n != 1 {
		t.Errorf("Len() = %d; want 1", n)
	}

	d.Remove(idB)
	waitTimeout(t, d)
}

func TestDispatcherPollPanic(t *testing.T) {
	d := New(Config{})
	a, _ := connPair()
	d.Add(a, func(transport.Transport) bool { panic("boom") })
	waitTimeout(t, d)
	if n := d.Len(); n != 0 {
		t.Errorf("Len() = %d; want 0", n)
	}
}

func TestDispatcherRemoveAllFromWorker(t *testing.T) {
	d := New(Config{})
	a, _ := connPair()
	b, _ := connPair()

	var once sync.Once
	d.Add(b, receiveLoop(nil))
	d.Add(a, func(t transport.Transport) bool {
		once.Do(d.RemoveAll)
		_, err := t.Receive(make([]byte, 1))
		return err == nil || errors.Is(err, iox.ErrWouldBlock)
	})
	waitTimeout(t, d)
	if n := d.Len(); n != 0 {
		t.Errorf("Len() = %d; want 0", n)
	}
}

type closer struct {
	mu     sync.Mutex
	closed bool
}

func (c *closer) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *closer) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
