// Package bridge exposes a secure store over a stream of length-prefixed JSON
// messages, the framing browsers use for native messaging hosts.
//
// Every request carries an id that is echoed in exactly one reply. Requests
// for one key run in arrival order; requests for different keys run
// concurrently, so replies may arrive in any order. A "cancel" request
// aborts the in-flight request named by its target, dismissing any pending
// prompt.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quexten/bio-secure-store/errs"
	"github.com/quexten/bio-secure-store/secret"
	"github.com/quexten/bio-secure-store/securestore"
)

const AppID = "com.quexten.bio-secure-store"

const (
	MethodStoreSecret         = "storeSecret"
	MethodGetSecret           = "getSecret"
	MethodRemoveSecret        = "removeSecret"
	MethodIsBiometryAvailable = "isBiometryAvailable"
	MethodCancel              = "cancel"
)

// Service is the store surface the bridge dispatches to.
type Service interface {
	StoreSecret(ctx context.Context, key string, value []byte, policy *securestore.AuthPolicy) error
	GetSecret(ctx context.Context, key string, policy *securestore.AuthPolicy) ([]byte, error)
	RemoveSecret(ctx context.Context, key string) error
	IsBiometryAvailable(ctx context.Context) (bool, error)
}

type Request struct {
	ID      string                  `json:"id"`
	Method  string                  `json:"method"`
	Key     string                  `json:"key,omitempty"`
	Secret  []byte                  `json:"secret,omitempty"`
	Options *securestore.RawOptions `json:"options,omitempty"`
	// Target names the request a cancel aborts.
	Target string `json:"target,omitempty"`
}

// Reply carries either Result or Error. The first frame of a session is an
// event instead.
type Reply struct {
	ID     string          `json:"id"`
	Event  string          `json:"event,omitempty"`
	AppID  string          `json:"appId,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ReplyError     `json:"error,omitempty"`
}

type ReplyError struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details ErrorDetails `json:"details"`
}

type ErrorDetails struct {
	Retryable bool `json:"retryable"`
}

// Server serves one message stream.
type Server struct {
	svc    Service
	logger zerolog.Logger

	writeMu sync.Mutex
	w       io.Writer

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
	// tails holds, per key, a channel closed when the last queued request
	// for that key has finished.
	tails map[string]chan struct{}
	wg    sync.WaitGroup
}

func NewServer(svc Service, logger zerolog.Logger) *Server {
	return &Server{
		svc:      svc,
		logger:   logger,
		inflight: make(map[string]context.CancelFunc),
		tails:    make(map[string]chan struct{}),
	}
}

// Serve reads requests from r until end of stream and writes replies to w.
// At end of stream it stops reading and waits for in-flight requests to
// reply; cancelling ctx aborts them. Serve returns nil on a clean end of
// stream and the read error otherwise.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	s.w = w
	session := uuid.NewString()
	log := s.logger.With().Str("session", session).Logger()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.send(Reply{Event: "connected", AppID: AppID, ID: session}); err != nil {
		return err
	}

	var readErr error
	for {
		msg, err := ReadFrame(r)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
				cancel()
			}
			break
		}
		s.dispatch(ctx, log, msg)
	}

	s.wg.Wait()
	log.Debug().Err(readErr).Msg("Session closed")
	return readErr
}

func (s *Server) dispatch(ctx context.Context, session zerolog.Logger, msg []byte) {
	var req Request
	err := json.Unmarshal(msg, &req)
	secret.Wipe(msg)
	if err != nil {
		session.Warn().Err(err).Msg("Unable to decode request")
		s.reply(session, req.ID, nil, errs.New(errs.InvalidArgument, "malformed request: %v", err))
		return
	}
	log := session.With().Str("id", req.ID).Str("method", req.Method).Str("key", req.Key).Logger()
	log.Debug().Msg("Received request")

	if req.ID == "" {
		s.reply(session, "", nil, errs.New(errs.InvalidArgument, "request id is required"))
		return
	}
	if req.Method == MethodCancel {
		s.reply(session, req.ID, s.cancel(session, req.Target), nil)
		return
	}

	reqCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if _, dup := s.inflight[req.ID]; dup {
		s.mu.Unlock()
		cancel()
		s.reply(session, req.ID, nil, errs.New(errs.InvalidArgument, "request %q is already in flight", req.ID))
		return
	}
	s.inflight[req.ID] = cancel
	prev, done := s.enqueue(&req)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inflight, req.ID)
			s.mu.Unlock()
			cancel()
		}()
		defer s.dequeue(&req, prev, done)

		var result any
		err := waitTurn(reqCtx, prev)
		if err == nil {
			result, err = s.handle(reqCtx, &req)
		}
		if err != nil {
			log.Debug().Str("kind", errs.KindOf(err).String()).Msg("Request failed")
		}
		s.reply(session, req.ID, result, err)
	}()
}

func keyed(req *Request) bool {
	switch req.Method {
	case MethodStoreSecret, MethodGetSecret, MethodRemoveSecret:
		return req.Key != ""
	}
	return false
}

// enqueue appends req to its key's queue and returns the channel of the
// request before it, nil when req is first. Call with s.mu held.
func (s *Server) enqueue(req *Request) (prev, done chan struct{}) {
	if !keyed(req) {
		return nil, nil
	}
	done = make(chan struct{})
	prev = s.tails[req.Key]
	s.tails[req.Key] = done
	return prev, done
}

// dequeue lets the next request for the key run once every earlier one has
// finished, even when req gave up waiting.
func (s *Server) dequeue(req *Request, prev, done chan struct{}) {
	if done == nil {
		return
	}
	if prev != nil {
		<-prev
	}
	s.mu.Lock()
	if s.tails[req.Key] == done {
		delete(s.tails, req.Key)
	}
	s.mu.Unlock()
	close(done)
}

func waitTurn(ctx context.Context, prev chan struct{}) error {
	if prev == nil {
		return nil
	}
	select {
	case <-prev:
		return nil
	case <-ctx.Done():
		return errs.Wrap(errs.AuthenticationCancelled, ctx.Err(), "cancelled while queued")
	}
}

func (s *Server) handle(ctx context.Context, req *Request) (any, error) {
	switch req.Method {
	case MethodStoreSecret:
		defer secret.Wipe(req.Secret)
		policy, err := securestore.DecodeOptions(req.Options)
		if err != nil {
			return nil, err
		}
		return nil, s.svc.StoreSecret(ctx, req.Key, req.Secret, policy)
	case MethodGetSecret:
		policy, err := securestore.DecodeOptions(req.Options)
		if err != nil {
			return nil, err
		}
		value, err := s.svc.GetSecret(ctx, req.Key, policy)
		if err != nil || value == nil {
			return nil, err
		}
		return value, nil
	case MethodRemoveSecret:
		return nil, s.svc.RemoveSecret(ctx, req.Key)
	case MethodIsBiometryAvailable:
		return s.svc.IsBiometryAvailable(ctx)
	}
	return nil, errs.New(errs.InvalidArgument, "unknown method %q", req.Method)
}

// cancel reports whether target was in flight.
func (s *Server) cancel(log zerolog.Logger, target string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel, ok := s.inflight[target]
	if ok {
		cancel()
		log.Debug().Str("target", target).Msg("Cancelled request")
	}
	return ok
}

func (s *Server) reply(log zerolog.Logger, id string, result any, err error) {
	rep := Reply{ID: id}
	if err != nil {
		kind := errs.KindOf(err)
		if kind == errs.Unknown {
			kind = errs.PlatformStorageError
		}
		rep.Error = &ReplyError{Code: kind.String(), Message: err.Error(), Details: ErrorDetails{Retryable: kind.Retryable()}}
	} else {
		raw, merr := json.Marshal(result)
		if value, ok := result.([]byte); ok {
			secret.Wipe(value)
		}
		if merr != nil {
			log.Error().Err(merr).Str("id", id).Msg("Unable to encode result")
			rep.Error = &ReplyError{Code: errs.PlatformStorageError.String(), Message: merr.Error(), Details: ErrorDetails{Retryable: true}}
		} else {
			rep.Result = raw
		}
	}
	if err := s.send(rep); err != nil {
		log.Error().Err(err).Str("id", id).Msg("Unable to send reply")
	}
}

func (s *Server) send(rep Reply) error {
	payload, err := json.Marshal(rep)
	if err != nil {
		return err
	}
	defer secret.Wipe(payload)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return WriteFrame(s.w, payload)
}
