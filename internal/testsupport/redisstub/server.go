// Package redisstub runs a minimal in-process Redis protocol server for
// exercising the login rate limiter without a real Redis instance. It speaks
// just enough RESP: PING, AUTH, SELECT, INCR, EXPIRE, and TTL.
package redisstub

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Options struct {
	Password string
}

type Server struct {
	opts     Options
	listener net.Listener
	addr     string
	mu       sync.Mutex
	kv       map[string]*kvEntry
	closed   chan struct{}
}

type kvEntry struct {
	value  int64
	expiry time.Time
}

func Start(opts Options) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	server := &Server{
		opts:     opts,
		listener: ln,
		addr:     ln.Addr().String(),
		kv:       make(map[string]*kvEntry),
		closed:   make(chan struct{}),
	}
	go server.serve()
	return server, nil
}

func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) Close() error {
	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		return nil
	default:
	}
	close(s.closed)
	s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	return nil
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			continue
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	authenticated := s.opts.Password == ""
	for {
		args, err := readArray(reader)
		if err != nil {
			return
		}
		if len(args) == 0 {
			_ = writeError(writer, "ERR wrong number of arguments")
			continue
		}
		cmd := strings.ToUpper(args[0])
		switch cmd {
		case "PING":
			if err := writeSimpleString(writer, "PONG"); err != nil {
				return
			}
		case "AUTH":
			password := ""
			switch len(args) {
			case 2:
				password = args[1]
			case 3:
				password = args[2]
			default:
				if err := writeError(writer, "ERR wrong number of arguments for 'auth'"); err != nil {
					return
				}
				continue
			}
			if s.opts.Password == "" || password == s.opts.Password {
				authenticated = true
				if err := writeSimpleString(writer, "OK"); err != nil {
					return
				}
			} else if err := writeError(writer, "WRONGPASS invalid username-password pair"); err != nil {
				return
			}
		case "SELECT":
			if err := writeSimpleString(writer, "OK"); err != nil {
				return
			}
		default:
			if !authenticated {
				if err := writeError(writer, "NOAUTH Authentication required."); err != nil {
					return
				}
				continue
			}
			if !s.dispatch(writer, args) {
				return
			}
		}
	}
}

func (s *Server) dispatch(writer *bufio.Writer, args []string) bool {
	switch strings.ToUpper(args[0]) {
	case "INCR":
		if len(args) != 2 {
			_ = writeError(writer, "ERR wrong number of arguments for 'incr'")
			return false
		}
		return writeInteger(writer, s.incr(args[1])) == nil
	case "EXPIRE":
		if len(args) != 3 {
			_ = writeError(writer, "ERR wrong number of arguments for 'expire'")
			return false
		}
		seconds, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			_ = writeError(writer, "ERR invalid expire time")
			return false
		}
		s.expire(args[1], time.Duration(seconds)*time.Second)
		return writeInteger(writer, 1) == nil
	case "TTL":
		if len(args) != 2 {
			_ = writeError(writer, "ERR wrong number of arguments for 'ttl'")
			return false
		}
		return writeInteger(writer, s.ttl(args[1])) == nil
	default:
		_ = writeError(writer, "ERR unsupported command")
		return false
	}
}

func (s *Server) incr(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.kv[key]
	if entry == nil || (!entry.expiry.IsZero() && time.Now().After(entry.expiry)) {
		entry = &kvEntry{}
		s.kv[key] = entry
	}
	entry.value++
	return entry.value
}

func (s *Server) expire(key string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.kv[key]
	if entry == nil {
		entry = &kvEntry{}
		s.kv[key] = entry
	}
	entry.expiry = time.Now().Add(ttl)
}

func (s *Server) ttl(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.kv[key]
	if entry == nil || entry.expiry.IsZero() {
		return -1
	}
	remaining := time.Until(entry.expiry)
	if remaining <= 0 {
		delete(s.kv, key)
		return -2
	}
	return int64(remaining / time.Second)
}

func readArray(r *bufio.Reader) ([]string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if prefix != '*' {
		return nil, fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, length)
	for i := 0; i < length; i++ {
		arg, err := readBulkString(r)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return args, nil
}

func readLength(r *bufio.Reader) (int, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return 0, err
	}
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	return strconv.Atoi(line)
}

func readBulkString(r *bufio.Reader) (string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	if prefix != '$' {
		return "", fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return "", err
	}
	if length < 0 {
		return "", nil
	}
	buf := make([]byte, length+2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf[:length]), nil
}

func writeSimpleString(w *bufio.Writer, value string) error {
	if _, err := fmt.Fprintf(w, "+%s\r\n", value); err != nil {
		return err
	}
	return w.Flush()
}

func writeInteger(w *bufio.Writer, value int64) error {
	if _, err := fmt.Fprintf(w, ":%d\r\n", value); err != nil {
		return err
	}
	return w.Flush()
}

func writeError(w *bufio.Writer, msg string) error {
	if _, err := fmt.Fprintf(w, "-%s\r\n", msg); err != nil {
		return err
	}
	return w.Flush()
}
