package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// redisCounter backs the login limiter with a shared INCR-per-window counter
// so the limit holds across server instances. Each Allow call dials a fresh
// connection; login attempts are rare enough that pooling is not worth it.
type redisCounter struct {
	addr     string
	password string
	timeout  time.Duration
}

func newRedisCounter(addr, password string, timeout time.Duration) *redisCounter {
	return &redisCounter{addr: addr, password: password, timeout: timeout}
}

func (c *redisCounter) Allow(key string, limit int, window time.Duration) (bool, time.Duration, error) {
	conn, err := net.DialTimeout("tcp", c.addr, c.timeout)
	if err != nil {
		return false, 0, err
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	if c.password != "" {
		if err := sendCommand(writer, "AUTH", c.password); err != nil {
			return false, 0, err
		}
		if _, err := readReply(reader); err != nil {
			return false, 0, err
		}
	}

	if err := sendCommand(writer, "INCR", key); err != nil {
		return false, 0, err
	}
	countReply, err := readReply(reader)
	if err != nil {
		return false, 0, err
	}
	count, err := replyInt(countReply)
	if err != nil {
		return false, 0, err
	}
	if count == 1 {
		// First hit in the window owns setting the expiry.
		seconds := int64(window / time.Second)
		if seconds <= 0 {
			seconds = 1
		}
		if err := sendCommand(writer, "EXPIRE", key, strconv.FormatInt(seconds, 10)); err != nil {
			return false, 0, err
		}
		if _, err := readReply(reader); err != nil {
			return false, 0, err
		}
	}
	if count <= int64(limit) {
		return true, 0, nil
	}
	if err := sendCommand(writer, "TTL", key); err != nil {
		return false, 0, err
	}
	ttlReply, err := readReply(reader)
	if err != nil {
		return false, 0, err
	}
	ttl, err := replyInt(ttlReply)
	if err != nil {
		return false, 0, err
	}
	if ttl < 0 {
		return false, window, nil
	}
	return false, time.Duration(ttl) * time.Second, nil
}

func sendCommand(w *bufio.Writer, args ...string) error {
	if len(args) == 0 {
		return errors.New("redis command requires arguments")
	}
	if _, err := fmt.Fprintf(w, "*%d\r\n", len(args)); err != nil {
		return err
	}
	for _, arg := range args {
		if _, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(arg), arg); err != nil {
			return err
		}
	}
	return w.Flush()
}

func readReply(r *bufio.Reader) (interface{}, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch prefix {
	case '+':
		return readReplyLine(r)
	case '-':
		line, err := readReplyLine(r)
		if err != nil {
			return nil, err
		}
		return nil, errors.New(line)
	case ':':
		line, err := readReplyLine(r)
		if err != nil {
			return nil, err
		}
		return strconv.ParseInt(line, 10, 64)
	case '$':
		line, err := readReplyLine(r)
		if err != nil {
			return nil, err
		}
		length, err := strconv.Atoi(line)
		if err != nil {
			return nil, err
		}
		if length < 0 {
			return nil, nil
		}
		buf := make([]byte, length+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		return string(buf[:length]), nil
	default:
		return nil, fmt.Errorf("unexpected redis reply prefix %q", prefix)
	}
}

func readReplyLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r"), nil
}

func replyInt(v interface{}) (int64, error) {
	switch val := v.(type) {
	case int64:
		return val, nil
	case string:
		return strconv.ParseInt(val, 10, 64)
	case nil:
		return 0, errors.New("nil reply")
	default:
		return 0, fmt.Errorf("unexpected redis reply type %T", v)
	}
}
