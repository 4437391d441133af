package port

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/wasmbridge/actor"
	"github.com/wippyai/wasmbridge/errors"
	"github.com/wippyai/wasmbridge/runtime"
)

// MaxLineSize bounds one request line. Modules travel base64 encoded, so
// this also bounds inline module size.
const MaxLineSize = 64 << 20

// DefaultCloseTimeout bounds how long Serve waits for sessions to stop
// once its input ends.
const DefaultCloseTimeout = 10 * time.Second

// response carries a synchronous answer through the mailbox so it is
// written in order with the runtime's events.
type response struct {
	msg Message
}

func (r response) SessionID() int64 { return r.msg.Session }

// Server answers requests from one external actor.
type Server struct {
	rt           *runtime.Runtime
	mb           *actor.Mailbox
	log          *zap.Logger
	closeTimeout time.Duration
}

// NewServer creates a Server and its Runtime. opts configure the runtime;
// the notifier is always the server's own mailbox.
func NewServer(ctx context.Context, log *zap.Logger, opts ...runtime.Option) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	mb := actor.NewMailbox()
	opts = append([]runtime.Option{runtime.WithLogger(log)}, opts...)
	opts = append(opts, runtime.WithNotifier(mb))
	rt, err := runtime.New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &Server{rt: rt, mb: mb, log: log, closeTimeout: DefaultCloseTimeout}, nil
}

// Runtime returns the server's runtime.
func (s *Server) Runtime() *runtime.Runtime { return s.rt }

// Serve reads requests from in and writes messages to out until in ends.
// It then closes the runtime, flushes the remaining events and returns.
// If in is an io.Closer it is closed when ctx ends, which unblocks the
// reader. The Server cannot be reused.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	g, gctx := errgroup.WithContext(ctx)

	if c, ok := in.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { _ = c.Close() })
		defer stop()
	}

	g.Go(func() error {
		defer s.shutdown()
		return s.read(gctx, in)
	})
	g.Go(func() error {
		return s.write(ctx, out)
	})
	return g.Wait()
}

func (s *Server) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.closeTimeout)
	defer cancel()
	if err := s.rt.Close(ctx); err != nil {
		s.log.Warn("runtime close", zap.Error(err))
	}
	s.mb.Close()
}

func (s *Server) read(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64<<10), MaxLineSize)
	for sc.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.reply(Message{
				Event: EventError,
				Error: EncodeError(errors.Wrap(errors.PhaseDecode, errors.KindInvalidInput, err, "malformed request")),
			})
			continue
		}
		s.Handle(ctx, req)
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return errors.Wrap(errors.PhaseDecode, errors.KindInvalidInput, err, "read requests")
	}
	return nil
}

func (s *Server) write(ctx context.Context, out io.Writer) error {
	enc := json.NewEncoder(out)
	for {
		e, err := s.mb.Receive(ctx)
		if err != nil {
			if errors.Is(err, actor.ErrClosed) {
				return nil
			}
			return err
		}
		if err := enc.Encode(EncodeEvent(e)); err != nil {
			return err
		}
	}
}

func (s *Server) reply(m Message) {
	s.mb.Notify(response{msg: m})
}

func (s *Server) fail(req Request, err error) {
	s.log.Debug("request failed",
		zap.String("op", req.Op),
		zap.Int64("session", req.Session),
		zap.String("token", req.Token),
		zap.Error(err))
	s.reply(Message{Event: EventError, Session: req.Session, Token: req.Token, Error: EncodeError(err)})
}

func (s *Server) ok(req Request) {
	ok := true
	s.reply(Message{Event: EventResult, Session: req.Session, Token: req.Token, OK: &ok})
}

// Handle executes one request. Asynchronous operations get a token when
// the request has none, so every outcome can be correlated.
func (s *Server) Handle(ctx context.Context, req Request) {
	switch req.Op {
	case OpLoad:
		if req.Token == "" {
			req.Token = uuid.NewString()
		}
		imports, err := decls(req.Imports)
		if err != nil {
			s.mb.Notify(runtime.LoadFailed{Session: req.Session, Token: req.Token, Err: err})
			return
		}
		s.rt.Load(runtime.LoadRequest{
			Session: req.Session,
			Token:   req.Token,
			Bytes:   req.Module,
			Path:    req.Path,
			Imports: imports,
			Config:  req.Config.engineConfig(),
		})

	case OpCall:
		if req.Token == "" {
			req.Token = uuid.NewString()
		}
		args, err := DecodeScalars(req.Args)
		if err != nil {
			s.mb.Notify(runtime.CallFailed{Session: req.Session, Token: req.Token, Export: req.Export, Err: err})
			return
		}
		s.rt.CallExport(req.Session, req.Token, req.Export, args)

	case OpCallNoImports:
		args, err := DecodeScalars(req.Args)
		if err != nil {
			s.fail(req, err)
			return
		}
		results, err := s.rt.CallExportNoImports(ctx, req.Session, req.Export, args)
		if err != nil {
			s.fail(req, err)
			return
		}
		s.reply(Message{
			Event:   EventResult,
			Session: req.Session,
			Token:   req.Token,
			Export:  req.Export,
			Results: EncodeScalars(results),
		})

	case OpReply:
		values, err := DecodeScalars(req.Values)
		if err == nil {
			err = s.rt.ReplyToImport(req.Session, req.ImportID, values)
		}
		if err != nil {
			s.fail(req, err)
			return
		}
		s.ok(req)

	case OpSignature:
		sig, err := s.rt.ExportSignature(req.Session, req.Export)
		if err != nil {
			s.fail(req, err)
			return
		}
		s.reply(Message{
			Event:     EventResult,
			Session:   req.Session,
			Token:     req.Token,
			Export:    req.Export,
			Signature: encodeSignature(req.Export, sig),
		})

	case OpExports:
		exports, err := s.rt.ListExports(req.Session)
		if err != nil {
			s.fail(req, err)
			return
		}
		infos := make([]ExportInfo, len(exports))
		for i, e := range exports {
			infos[i] = ExportInfo{Name: e.Name, Kind: e.Kind}
		}
		s.reply(Message{Event: EventResult, Session: req.Session, Token: req.Token, Exports: infos})

	case OpFunctions:
		funcs, err := s.rt.ListFunctionExports(req.Session)
		if err != nil {
			s.fail(req, err)
			return
		}
		sigs := make([]Signature, len(funcs))
		for i, f := range funcs {
			sigs[i] = *encodeSignature(f.Name, f.Signature)
		}
		s.reply(Message{Event: EventResult, Session: req.Session, Token: req.Token, Functions: sigs})

	case OpUnload:
		if err := s.rt.Unload(req.Session); err != nil {
			s.fail(req, err)
			return
		}
		s.ok(req)

	case OpSessions:
		s.reply(Message{Event: EventResult, Token: req.Token, Sessions: s.rt.Sessions()})

	default:
		s.fail(req, errors.New(errors.PhaseDecode, errors.KindInvalidInput).
			Detail("unknown op %q", req.Op).
			Value(req.Op).
			Build())
	}
}
