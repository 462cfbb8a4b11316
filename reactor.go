package kache

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Server is the single-threaded reactor of §4.6: one epoll instance, one
// listening socket, and the keyspace/idle-list/thread-pool state every
// connection shares. Grounded on golang.org/x/sys/unix-based raw-syscall fd
// management as demonstrated by other_examples ehrlich-b-go-ublk's
// queue/runner.go, combined with original_source/src/main.cpp's reactor
// tick ordering (poll, accept, process, expire, idle-sweep, reap). beelog
// itself never does socket I/O, so this component leans on the rest of the
// pack (§10 DOMAIN STACK).
type Server struct {
	cfg    *Config
	logger *zap.Logger

	listenFd int
	epollFd  int

	keyspace *Keyspace
	pool     *ThreadPool
	idle     *idleList
	conns    map[int]*Connection

	now func() uint64
}

// NewServer creates the listening socket (non-blocking, SO_REUSEADDR) and
// the epoll instance, but does not yet start polling; call Run for that.
func NewServer(cfg *Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	listenFd, err := newListenSocket(cfg.ListenAddr)
	if err != nil {
		return nil, err
	}

	epollFd, err := unix.EpollCreate1(0)
	if err != nil {
		unix.Close(listenFd)
		return nil, fmt.Errorf("kache: epoll_create1: %w", err)
	}
	if err := unix.EpollCtl(epollFd, unix.EPOLL_CTL_ADD, listenFd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(listenFd),
	}); err != nil {
		unix.Close(listenFd)
		unix.Close(epollFd)
		return nil, fmt.Errorf("kache: epoll_ctl(listen): %w", err)
	}

	pool := NewThreadPool(cfg.ThreadPoolSize)
	return &Server{
		cfg:      cfg,
		logger:   logger,
		listenFd: listenFd,
		epollFd:  epollFd,
		keyspace: NewKeyspace(pool, cfg.LargeContainerThreshold, cfg.ZqueryMax),
		pool:     pool,
		idle:     newIdleList(),
		conns:    make(map[int]*Connection),
		now:      nowMicros,
	}, nil
}

func nowMicros() uint64 {
	return uint64(time.Now().UnixMicro())
}

// newListenSocket creates, binds, and listens on a non-blocking IPv4 TCP
// socket with SO_REUSEADDR, per §6 "Transport".
func newListenSocket(addr string) (int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return -1, fmt.Errorf("kache: parse listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return -1, fmt.Errorf("kache: parse listen port %q: %w", portStr, err)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, fmt.Errorf("kache: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("kache: setsockopt SO_REUSEADDR: %w", err)
	}

	sa := &unix.SockaddrInet4{Port: port}
	if host != "" && host != "0.0.0.0" {
		ip := net.ParseIP(host).To4()
		if ip == nil {
			unix.Close(fd)
			return -1, fmt.Errorf("kache: invalid listen host %q", host)
		}
		copy(sa.Addr[:], ip)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("kache: bind %s: %w", addr, err)
	}
	if err := unix.Listen(fd, 128); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("kache: listen %s: %w", addr, err)
	}
	return fd, nil
}

// Close releases the server's listening socket, epoll fd, and every open
// connection.
func (s *Server) Close() {
	for _, c := range s.conns {
		c.close()
	}
	unix.Close(s.listenFd)
	unix.Close(s.epollFd)
	s.pool.Close()
}

// Run executes the reactor loop (§4.6) until stop is closed or a fatal
// epoll error occurs.
func (s *Server) Run(stop <-chan struct{}) error {
	events := make([]unix.EpollEvent, 256)
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		timeoutMs := s.pollTimeoutMs()
		n, err := unix.EpollWait(s.epollFd, events, timeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("kache: epoll_wait: %w", err)
		}

		nowUs := s.now()
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == s.listenFd {
				s.acceptLoop(nowUs)
				continue
			}
			s.serviceConn(fd, events[i].Events, nowUs)
		}

		s.expireDue(nowUs)
		s.sweepIdle(nowUs)
		s.reapClosing()
	}
}

// pollTimeoutMs computes min(next_idle_timeout, next_expire_timeout,
// DEFAULT_TICK), per §4.6.
func (s *Server) pollTimeoutMs() int {
	timeout := s.cfg.DefaultTickMs

	if oldest := s.idle.oldest(); oldest != nil {
		nowUs := s.now()
		deadline := oldest.conn.lastActiveUs + s.cfg.idleTimeoutUs()
		if deadline <= nowUs {
			return 0
		}
		if ms := int((deadline - nowUs) / 1000); ms < timeout {
			timeout = ms
		}
	}

	if top, ok := s.keyspace.expires.Peek(); ok {
		nowUs := s.now()
		if top.expireAtUs <= nowUs {
			return 0
		}
		if ms := int((top.expireAtUs - nowUs) / 1000); ms < timeout {
			timeout = ms
		}
	}

	if timeout < 0 {
		timeout = 0
	}
	return timeout
}

// acceptLoop drains pending connections with a bounded non-blocking
// accept4 loop, per §4.6's "bounded to avoid starving reads".
func (s *Server) acceptLoop(nowUs uint64) {
	for i := 0; i < s.cfg.MaxAcceptPerTick; i++ {
		fd, _, err := unix.Accept4(s.listenFd, unix.SOCK_NONBLOCK)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			s.logger.Warn("accept4 failed", zap.Error(err))
			return
		}
		conn := newConnection(fd)
		conn.lastActiveUs = nowUs
		s.idle.pushMostRecent(&conn.idle)
		s.conns[fd] = conn

		if err := unix.EpollCtl(s.epollFd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
			Events: conn.events(),
			Fd:     int32(fd),
		}); err != nil {
			s.logger.Warn("epoll_ctl(add) failed", zap.Error(err))
			conn.close()
			delete(s.conns, fd)
		}
	}
}

func (s *Server) serviceConn(fd int, readyEvents uint32, nowUs uint64) {
	conn, present := s.conns[fd]
	if !present {
		return
	}

	healthy := readyEvents&(unix.EPOLLHUP|unix.EPOLLERR) == 0
	if healthy && readyEvents&unix.EPOLLIN != 0 {
		healthy = conn.onReadable(s.keyspace, nowUs, s.idle)
	}
	if healthy && readyEvents&unix.EPOLLOUT != 0 {
		healthy = conn.onWritable(nowUs, s.idle)
	}

	if !healthy {
		conn.state = stateClosing
		return
	}
	s.updateRegistration(conn)
}

// updateRegistration re-syncs a connection's epoll registration with its
// current want_read/want_write flags.
func (s *Server) updateRegistration(conn *Connection) {
	if err := unix.EpollCtl(s.epollFd, unix.EPOLL_CTL_MOD, conn.fd, &unix.EpollEvent{
		Events: conn.events(),
		Fd:     int32(conn.fd),
	}); err != nil {
		s.logger.Warn("epoll_ctl(mod) failed", zap.Error(err))
		conn.state = stateClosing
	}
}

// expireDue evicts due TTL entries, capped at EXPIRE_WORK_MAX (§4.4).
func (s *Server) expireDue(nowUs uint64) {
	evicted := s.keyspace.ExpireDue(nowUs, s.cfg.ExpireWorkMax)
	if evicted > 0 {
		s.logger.Debug("ttl expired keys", zap.Int("count", evicted))
	}
}

// sweepIdle marks connections idle past IDLE_TIMEOUT_US for closing, per
// §4.6 step 4.
func (s *Server) sweepIdle(nowUs uint64) {
	timeout := s.cfg.idleTimeoutUs()
	for {
		oldest := s.idle.oldest()
		if oldest == nil {
			return
		}
		if nowUs-oldest.conn.lastActiveUs < timeout {
			return
		}
		oldest.conn.state = stateClosing
		oldest.detach()
	}
}

// reapClosing tears down every connection flagged CLOSING, per §4.6 step 5.
func (s *Server) reapClosing() {
	for fd, conn := range s.conns {
		if conn.state != stateClosing {
			continue
		}
		unix.EpollCtl(s.epollFd, unix.EPOLL_CTL_DEL, fd, nil)
		if err := conn.close(); err != nil {
			s.logger.Debug("error closing connection", zap.Error(err))
		}
		delete(s.conns, fd)
	}
}
