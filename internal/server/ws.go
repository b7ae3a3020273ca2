package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/orato/internal/dispatch"
	"github.com/MrWong99/orato/internal/feedback"
	"github.com/MrWong99/orato/internal/observe"
	"github.com/MrWong99/orato/internal/session"
	"github.com/MrWong99/orato/internal/source"
)

const (
	outboundBuffer = 256
	workBuffer     = 8
	writeTimeout   = 5 * time.Second
	closeTimeout   = 5 * time.Second
)

var errConnClosed = errors.New("server: connection closed")

// conn is the server side of one session socket. It is both the source.Peer
// the transcript source talks through and a dispatch.Observer. Every outgoing
// message goes through one writer goroutine so frames keep their order.
type conn struct {
	ws   *websocket.Conn
	id   string
	out  chan any
	done chan struct{}
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{ws: ws, out: make(chan any, outboundBuffer), done: make(chan struct{})}
}

func (c *conn) writeLoop(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, c.ws, v)
			cancel()
			if err != nil {
				slog.Debug("session socket write failed", "session_id", c.id, "err", err)
				return
			}
		}
	}
}

// enqueue queues v without blocking. Messages are dropped when the client
// cannot keep up.
func (c *conn) enqueue(v any) {
	select {
	case c.out <- v:
	case <-c.done:
	default:
		slog.Warn("session socket backlog full, dropping message", "session_id", c.id)
	}
}

// Send implements source.Peer.
func (c *conn) Send(ctx context.Context, cmd source.Command) error {
	select {
	case c.out <- cmd:
		return nil
	case <-c.done:
		return errConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *conn) OnTranscriptChange(s dispatch.Snapshot) {
	c.enqueue(transcriptMessage{Type: msgTranscript, Final: s.Final, Interim: s.Interim, State: s.State.String(), Analysis: s.Analysis})
}

func (c *conn) OnSuggestion(s dispatch.Suggestion) {
	c.enqueue(suggestionMessage{
		Type:     msgSuggestion,
		Segment:  s.Segment,
		Feedback: s.Feedback,
		Fallback: s.Feedback.Fallback,
		Analysis: s.Analysis,
	})
}

func (c *conn) OnStateChange(s dispatch.State) {
	c.enqueue(stateMessage{Type: msgState, State: s.String()})
}

func (c *conn) OnNotice(n dispatch.Notice) {
	c.enqueue(noticeMessage{Type: msgNotice, Kind: string(n.Kind), Message: n.Message})
}

var (
	_ source.Peer       = (*conn)(nil)
	_ dispatch.Observer = (*conn)(nil)
)

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		observe.Logger(r.Context()).Warn("websocket accept failed", "err", err)
		return
	}
	defer ws.CloseNow()
	ws.SetReadLimit(s.readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	log := observe.Logger(ctx)

	hello, err := s.readHello(ctx, ws)
	if err != nil {
		log.Debug("session handshake failed", "err", err)
		_ = ws.Close(websocket.StatusPolicyViolation, "expected hello")
		return
	}

	opts, err := sessionOptions(hello)
	if err != nil {
		wctx, cancelWrite := context.WithTimeout(ctx, writeTimeout)
		_ = wsjson.Write(wctx, ws, errorMessage{Type: msgError, Message: err.Error()})
		cancelWrite()
		_ = ws.Close(websocket.StatusPolicyViolation, "invalid hello")
		return
	}

	c := newConn(ws)
	sess, err := s.mgr.Open(ctx, c, opts, c)
	if err != nil {
		s.reject(ctx, ws, err)
		return
	}
	c.id = sess.ID()
	log = log.With("session_id", sess.ID())

	writerCtx, stopWriter := context.WithCancel(context.Background())
	go c.writeLoop(writerCtx)
	info := sess.Info()
	c.enqueue(readyMessage{
		Type:      msgReady,
		SessionID: info.ID,
		Mode:      string(info.Mode),
		Style:     string(info.Style),
		Language:  info.Language,
	})

	work := make(chan func(), workBuffer)
	workDone := make(chan struct{})
	go func() {
		defer close(workDone)
		for fn := range work {
			fn()
		}
	}()

	s.readLoop(ctx, ws, c, sess, work)

	// Unblocks a Start still waiting for a permission answer.
	cancel()
	close(work)
	<-workDone

	closeCtx, cancelClose := context.WithTimeout(context.Background(), closeTimeout)
	if err := sess.Close(closeCtx); err != nil {
		log.Debug("session close", "err", err)
	}
	cancelClose()
	stopWriter()
	<-c.done
	_ = ws.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) readHello(ctx context.Context, ws *websocket.Conn) (inbound, error) {
	hctx, cancel := context.WithTimeout(ctx, s.helloTimeout)
	defer cancel()
	var msg inbound
	if err := wsjson.Read(hctx, ws, &msg); err != nil {
		return msg, fmt.Errorf("server: read hello: %w", err)
	}
	if msg.Type != msgHello {
		return msg, fmt.Errorf("server: first message is %q, want %q", msg.Type, msgHello)
	}
	return msg, nil
}

func sessionOptions(h inbound) (session.Options, error) {
	opts := session.Options{
		Language:    h.Language,
		Question:    h.Question,
		Recognition: h.Recognition,

		RecognitionUnavailable: h.RecognitionUnavailable,
	}
	var err error
	if h.Mode != "" {
		if opts.Mode, err = feedback.ParseMode(h.Mode); err != nil {
			return opts, err
		}
	}
	if h.Style != "" {
		if opts.Style, err = feedback.ParseStyle(h.Style); err != nil {
			return opts, err
		}
	}
	return opts, nil
}

// reject tells the client why no session could be opened and closes.
func (s *Server) reject(ctx context.Context, ws *websocket.Conn, err error) {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if errors.Is(err, session.ErrTooManySessions) {
		_ = wsjson.Write(wctx, ws, errorMessage{Type: msgError, Message: "The server is busy. Try again later."})
		_ = ws.Close(websocket.StatusTryAgainLater, "too many sessions")
		return
	}
	n := dispatch.NoticeFor(err)
	_ = wsjson.Write(wctx, ws, noticeMessage{Type: msgNotice, Kind: string(n.Kind), Message: n.Message})
	_ = ws.Close(websocket.StatusPolicyViolation, string(n.Kind))
}

func (s *Server) readLoop(ctx context.Context, ws *websocket.Conn, c *conn, sess *session.Session, work chan<- func()) {
	log := observe.Logger(ctx).With("session_id", sess.ID())
	submit := func(fn func()) {
		select {
		case work <- fn:
		default:
			c.enqueue(errorMessage{Type: msgError, Message: "too many pending commands"})
		}
	}

	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				log.Debug("session socket closed by client")
			default:
				if ctx.Err() == nil {
					log.Info("session socket read ended", "err", err)
				}
			}
			return
		}

		if typ == websocket.MessageBinary {
			if err := sess.WriteAudio(data); err != nil {
				c.enqueue(errorMessage{Type: msgError, Message: err.Error()})
			}
			continue
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.enqueue(errorMessage{Type: msgError, Message: "invalid message"})
			continue
		}
		switch msg.Type {
		case msgStart:
			submit(func() {
				if err := sess.Start(ctx); err != nil {
					log.Debug("session start failed", "err", err)
				}
			})
		case msgStop:
			submit(func() {
				if err := sess.Stop(ctx); err != nil {
					log.Debug("session stop failed", "err", err)
				}
			})
		case msgTopic:
			question := msg.Question
			submit(func() {
				if err := sess.NewTopic(ctx, question); err != nil {
					log.Debug("session topic change failed", "err", err)
				}
			})
		case msgMic:
			sess.HandlePermission(msg.Granted)
		case msgResult:
			if err := sess.HandleResult(msg.Final, msg.Interim); err != nil {
				c.enqueue(errorMessage{Type: msgError, Message: err.Error()})
			}
		case msgEnd:
			if err := sess.HandleEnd(ctx); err != nil {
				c.enqueue(errorMessage{Type: msgError, Message: err.Error()})
			}
		default:
			c.enqueue(errorMessage{Type: msgError, Message: fmt.Sprintf("unknown message type %q", msg.Type)})
		}
	}
}
