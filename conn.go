package kache

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// connState is a Connection's place in the state machine of §4.7.
type connState int

const (
	stateReading connState = iota
	stateWriting
	stateClosing
)

// maxBufferedBytes bounds inbound/outbound buffer growth at roughly
// 16*MAX_MSG_LEN (§5 "Resource bounds"); exceeding it is treated as a
// protocol violation and the connection is closed.
const maxBufferedBytes = 16 * maxMsgLen

// readBatchSize is how much is read from the socket per readable event,
// matching §4.7's "reads up to a batch into a stack buffer".
const readBatchSize = 64 * 1024

// Connection holds one client socket's state: the raw fd, its read/write
// buffers, the want_read/want_write flags driving epoll registration, a
// state field whose stateClosing value stands in for want_close, and its
// position in the server's idle list. Grounded on the
// want-read/want-write/buffered-I/O connection struct shape from
// other_examples adred-codev-ws_poc's connection.go, adapted from a
// WebSocket frame loop to this module's length-prefixed request/response
// loop over a raw non-blocking fd (no net.Conn: §4.6 requires direct
// epoll/accept4 control that net's fd-hiding abstraction does not expose).
type Connection struct {
	fd int

	inbound  Buffer
	outbound Buffer

	state        connState
	wantRead     bool
	wantWrite    bool
	lastActiveUs uint64
	idle         idleNode
}

func newConnection(fd int) *Connection {
	c := &Connection{fd: fd, state: stateReading, wantRead: true}
	c.idle.conn = c
	c.idle.prev = &c.idle
	c.idle.next = &c.idle
	return c
}

// events returns the epoll event mask this connection currently wants
// registered, per §4.6's per-connection registration rule.
func (c *Connection) events() uint32 {
	var ev uint32
	if c.wantRead {
		ev |= unix.EPOLLIN
	}
	if c.wantWrite {
		ev |= unix.EPOLLOUT
	}
	return ev
}

// touch updates last-active bookkeeping and moves this connection's idle
// node to the most-recently-used end, per §4.7's "any successful read or
// write" rule.
func (c *Connection) touch(nowUs uint64, idle *idleList) {
	c.lastActiveUs = nowUs
	c.idle.detach()
	idle.pushMostRecent(&c.idle)
}

// onReadable is the read callback of §4.7: read a batch of bytes into
// inbound, then decode and dispatch as many complete frames as are present,
// appending each reply to outbound. Returns false if the connection should
// transition to CLOSING.
func (c *Connection) onReadable(ks *Keyspace, nowUs uint64, idle *idleList) bool {
	var buf [readBatchSize]byte
	n, err := unix.Read(c.fd, buf[:])
	if n > 0 {
		c.inbound.Append(buf[:n])
		c.touch(nowUs, idle)
	}
	if err != nil && err != unix.EAGAIN && err != unix.EWOULDBLOCK {
		return false
	}
	if n == 0 && err == nil {
		// Peer closed. Stay alive only long enough to flush an already
		// queued reply; an incomplete frame stranded in inbound can never
		// be completed, so it does not keep the connection open either.
		return c.outbound.Len() > 0
	}

	for {
		if c.inbound.Len() == 0 {
			break
		}
		args, consumed, perr := tryParseRequest(c.inbound.Bytes())
		if perr != nil {
			return false
		}
		if consumed == 0 {
			break // partial frame, wait for more bytes
		}
		status, payload := Dispatch(ks, nowUs, args)
		c.outbound.Append(encodeResponse(status, payload))
		c.inbound.Consume(consumed)

		if c.outbound.Len() > maxBufferedBytes || c.inbound.Len() > maxBufferedBytes {
			return false
		}
	}

	if c.outbound.Len() > 0 {
		c.state = stateWriting
		c.wantWrite = true
		c.wantRead = false
	}
	return true
}

// onWritable is the write callback of §4.7: write as much of outbound as the
// socket accepts, then flip back to READING once drained.
func (c *Connection) onWritable(nowUs uint64, idle *idleList) bool {
	for c.outbound.Len() > 0 {
		n, err := unix.Write(c.fd, c.outbound.Bytes())
		if n > 0 {
			c.outbound.Consume(n)
			c.touch(nowUs, idle)
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				break
			}
			return false
		}
		if n == 0 {
			break
		}
	}
	if c.outbound.Len() == 0 {
		c.state = stateReading
		c.wantRead = true
		c.wantWrite = false
	}
	return true
}

// close tears down the connection's OS resources and detaches it from the
// idle list. Safe to call once per connection.
func (c *Connection) close() error {
	c.idle.detach()
	if err := unix.Close(c.fd); err != nil {
		return fmt.Errorf("kache: close fd %d: %w", c.fd, err)
	}
	return nil
}
