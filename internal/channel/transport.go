package channel

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Transport moves messages between the two ends of a channel. Receive
// blocks until a message arrives or the transport closes, in which case it
// returns io.EOF or ErrClosed.
type Transport interface {
	Send(msg Message) error
	Receive() (Message, error)
	Close() error
}

const pipeBuffer = 64

type pipeEnd struct {
	in   <-chan Message
	out  chan<- Message
	done chan struct{}
	once *sync.Once
}

// Pipe returns two connected in-memory transports. Closing either end closes
// both, the way a socket pair reports EOF to its peer. Messages already
// buffered are still received before EOF.
func Pipe() (Transport, Transport) {
	ab := make(chan Message, pipeBuffer)
	ba := make(chan Message, pipeBuffer)
	done := make(chan struct{})
	once := &sync.Once{}

	a := &pipeEnd{in: ba, out: ab, done: done, once: once}
	b := &pipeEnd{in: ab, out: ba, done: done, once: once}
	return a, b
}

func (p *pipeEnd) Send(msg Message) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- msg:
		return nil
	case <-p.done:
		return ErrClosed
	}
}

func (p *pipeEnd) Receive() (Message, error) {
	select {
	case msg := <-p.in:
		return msg, nil
	case <-p.done:
		// deliver what the peer sent before closing
		select {
		case msg := <-p.in:
			return msg, nil
		default:
			return Message{}, io.EOF
		}
	}
}

func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

// streamTransport frames messages as newline-delimited JSON. It is used for
// a backend child process talking over stdin/stdout.
type streamTransport struct {
	reader  *bufio.Reader
	writer  io.Writer
	closers []io.Closer

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewStreamTransport wraps a byte stream pair. Every closer is closed once
// when the transport closes.
func NewStreamTransport(r io.Reader, w io.Writer, closers ...io.Closer) Transport {
	return &streamTransport{
		reader:  bufio.NewReaderSize(r, 64*1024),
		writer:  w,
		closers: closers,
	}
}

func (s *streamTransport) Send(msg Message) error {
	frame, err := codec.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	frame = append(frame, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.writer.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (s *streamTransport) Receive() (Message, error) {
	for {
		line, err := s.reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err != nil {
				return Message{}, err
			}
			continue
		}

		var msg Message
		if decodeErr := codec.Unmarshal(line, &msg); decodeErr != nil {
			return Message{}, fmt.Errorf("decode frame: %w", decodeErr)
		}
		if msg.Destination == "" {
			return Message{}, errors.New("decode frame: missing type")
		}
		return msg, nil
	}
}

func (s *streamTransport) Close() error {
	s.closeOnce.Do(func() {
		for _, c := range s.closers {
			if err := c.Close(); err != nil && s.closeErr == nil {
				s.closeErr = err
			}
		}
	})
	return s.closeErr
}
