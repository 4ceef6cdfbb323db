package provider

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/felipepmaragno/llmbridge/internal/classify"
	"github.com/felipepmaragno/llmbridge/internal/domain"
	"github.com/felipepmaragno/llmbridge/internal/metrics"
)

// DecodeFunc turns one line of a streaming body into a chunk. It returns a nil
// chunk for lines that carry nothing (comments, event names, keep-alives) and
// done once the vendor signals the end of the stream. A *domain.ProviderError
// ends the stream with that error; any other error marks the line as malformed,
// and the line is skipped.
type DecodeFunc func(line []byte) (chunk *domain.CompletionResponse, done bool, err error)

// Stream is a pull-based sequence of completion chunks backed by an open HTTP
// body. Next is not safe for concurrent use; Close may be called from any
// goroutine and at any time.
type Stream struct {
	provider   string
	body       io.ReadCloser
	reader     *bufio.Reader
	decode     DecodeFunc
	classifier *classify.Classifier

	mu      sync.Mutex
	usage   *domain.Usage
	ended   bool
	closed  bool
	err     error
	onClose []func(err error)

	once sync.Once
}

func NewStream(provider string, body io.ReadCloser, decode DecodeFunc, classifier *classify.Classifier) *Stream {
	metrics.IncrementActiveStreams(provider)
	return &Stream{
		provider:   provider,
		body:       body,
		reader:     bufio.NewReader(body),
		decode:     decode,
		classifier: classifier,
	}
}

// Next returns the next chunk, or io.EOF once the stream has ended. A failure
// while reading is returned as a *domain.ProviderError and ends the stream.
func (s *Stream) Next() (*domain.CompletionResponse, error) {
	s.mu.Lock()
	switch {
	case s.ended:
		s.mu.Unlock()
		return nil, io.EOF
	case s.closed:
		s.mu.Unlock()
		return nil, domain.ErrStreamClosed
	}
	s.mu.Unlock()

	for {
		line, readErr := s.reader.ReadBytes('\n')
		if line = bytes.TrimRight(line, "\r\n"); len(line) > 0 {
			chunk, done, err := s.decode(line)
			if pe, ok := domain.AsProviderError(err); ok {
				s.finish(pe)
				return nil, pe
			}
			if err != nil {
				metrics.RecordSkippedLine(s.provider)
				slog.Warn("skipping malformed stream line",
					"provider", s.provider,
					"line", truncate(string(line), 200),
					"error", err,
				)
			} else {
				if chunk != nil && chunk.Usage != nil {
					s.setUsage(chunk.Usage)
				}
				if done {
					s.finish(nil)
					if chunk != nil {
						return chunk, nil
					}
					return nil, io.EOF
				}
				if chunk != nil {
					return chunk, nil
				}
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				s.finish(nil)
				return nil, io.EOF
			}
			if s.isClosed() {
				return nil, domain.ErrStreamClosed
			}
			pe := s.classifier.Classify(classify.Failure{Err: readErr})
			s.finish(pe)
			return nil, pe
		}
	}
}

// Close releases the connection. It is idempotent and safe after the stream has ended.
func (s *Stream) Close() error {
	s.mu.Lock()
	if !s.ended {
		s.closed = true
	}
	s.mu.Unlock()
	s.finish(nil)
	return nil
}

// Usage returns the most recent usage block reported by the vendor, if any.
func (s *Stream) Usage() *domain.Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// Err returns the error that ended the stream, or nil.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// OnClose registers fn to run once when the stream ends or is closed. fn
// receives the error that ended the stream, nil on a clean finish.
func (s *Stream) OnClose(fn func(err error)) {
	s.mu.Lock()
	s.onClose = append(s.onClose, fn)
	s.mu.Unlock()
}

func (s *Stream) finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		if !s.closed {
			s.ended = true
		}
		if err != nil {
			s.err = err
		}
		hooks := s.onClose
		s.mu.Unlock()

		s.body.Close()
		metrics.DecrementActiveStreams(s.provider)
		for _, fn := range hooks {
			fn(err)
		}
	})
}

func (s *Stream) setUsage(u *domain.Usage) {
	s.mu.Lock()
	s.usage = u
	s.mu.Unlock()
}

func (s *Stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SSEData extracts the payload of a server-sent event `data:` line. Other
// fields (event, id, retry) and comments report false.
func SSEData(line []byte) ([]byte, bool) {
	rest, ok := bytes.CutPrefix(line, []byte("data:"))
	if !ok {
		return nil, false
	}
	return bytes.TrimSpace(rest), true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
