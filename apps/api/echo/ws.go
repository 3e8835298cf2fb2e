package echoapi

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/edusmart/core"
	"github.com/trezcool/edusmart/core/console"
	"github.com/trezcool/edusmart/core/livesync"
	"github.com/trezcool/edusmart/core/school"
	"github.com/trezcool/edusmart/core/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	readLimit  = 8 << 10
	readyWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// tokens travel in the query string: any origin may connect
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsWriter owns the write side of a websocket. Messages are queued by any goroutine and written in
// order by run; a queued state message is replaced by a newer one.
type wsWriter struct {
	conn *websocket.Conn

	mu       sync.Mutex
	queue    []wsOutgoing
	wake     chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

type wsOutgoing struct {
	msg   interface{}
	state bool
}

func newWSWriter(conn *websocket.Conn) *wsWriter {
	return &wsWriter{conn: conn, wake: make(chan struct{}, 1), done: make(chan struct{})}
}

func (w *wsWriter) send(msg interface{}, state bool) {
	w.mu.Lock()
	if n := len(w.queue); state && n > 0 && w.queue[n-1].state {
		w.queue[n-1].msg = msg
	} else {
		w.queue = append(w.queue, wsOutgoing{msg: msg, state: state})
	}
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *wsWriter) stop() {
	w.doneOnce.Do(func() { close(w.done) })
}

func (w *wsWriter) run() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = w.conn.Close()
	}()
	for {
		select {
		case <-w.done:
			_ = w.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case <-ticker.C:
			if err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-w.wake:
			w.mu.Lock()
			queue := w.queue
			w.queue = nil
			w.mu.Unlock()
			for _, out := range queue {
				_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := w.conn.WriteJSON(out.msg); err != nil {
					return
				}
			}
		}
	}
}

// upgrade switches the connection to a websocket. When it fails, the handshake error has already
// been written and conn is nil.
func upgrade(ctx echo.Context) *websocket.Conn {
	conn, err := upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		return nil
	}
	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })
	return conn
}

// wsErrorText is the error message sent over a websocket. Unexpected errors are logged and hidden.
func wsErrorText(err error, translator ut.Translator, logger core.Logger, person *core.LogPerson) string {
	switch origErr := errors.Cause(err).(type) {
	case validator.ValidationErrors:
		fields := core.TranslateValidationErrors(origErr, translator)
		msgs := make([]string, 0, len(fields))
		for field, msg := range fields {
			msgs = append(msgs, field+": "+msg)
		}
		sort.Strings(msgs)
		return strings.Join(msgs, "; ")
	case *core.ValidationError:
		return origErr.Error()
	default:
		if domainStatus(origErr) != 0 {
			return origErr.Error()
		}
		logger.Error(err.Error(), err, person)
		return http.StatusText(http.StatusInternalServerError)
	}
}

// Admin console

type consoleFeed struct {
	schools    *school.Service
	logger     core.Logger
	validate   *validator.Validate
	translator ut.Translator
}

func consoleView(v livesync.View) *ConsoleView {
	cv := &ConsoleView{
		Version:  v.Version,
		State:    v.State.String(),
		SchoolID: v.SchoolID,
		Batches:  make([]school.Batch, 0, len(v.Batches)),
	}
	for _, b := range v.Batches {
		cv.Batches = append(cv.Batches, publicBatch(b))
	}
	if v.Selected != nil {
		b := publicBatch(*v.Selected)
		cv.Selected = &b
	}
	if v.SelectedStudent != nil {
		s := v.SelectedStudent.Public()
		cv.SelectedStudent = &s
	}
	return cv
}

// serve streams the admin workspace: every new view, plus the result of each command.
func (f consoleFeed) serve(ctx echo.Context) error {
	sess, err := mustSession(ctx)
	if err != nil {
		return err
	}
	c, err := console.New(f.schools, sess.SchoolID, sess.Username, livesync.CollectionOptions{}, f.logger)
	if err != nil {
		return errors.Wrap(err, "opening console")
	}
	defer c.Close()

	conn := upgrade(ctx)
	if conn == nil {
		return nil
	}
	liveConnections.WithLabelValues("console").Inc()
	defer liveConnections.WithLabelValues("console").Dec()

	out := newWSWriter(conn)
	go out.run()
	defer out.stop()

	c.OnChange(func(v livesync.View) {
		out.send(ConsoleMessage{Type: "view", View: consoleView(v)}, true)
	})

	for {
		var cmd ConsoleCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return nil
		}
		cmdCtx, cancel := context.WithTimeout(context.Background(), readyWait)
		result, err := f.apply(cmdCtx, c, cmd)
		cancel()
		if err != nil {
			out.send(ConsoleMessage{Type: "error", Op: cmd.Op, Error: wsErrorText(err, f.translator, f.logger, sess.LogPerson())}, false)
			continue
		}
		if view, ok := result.(livesync.View); ok {
			out.send(ConsoleMessage{Type: "view", Op: cmd.Op, View: consoleView(view)}, false)
			continue
		}
		out.send(ConsoleMessage{Type: "result", Op: cmd.Op, Result: result}, false)
	}
}

var errUnknownOp = core.NewFieldValidationError("op", "unknown operation")

func (f consoleFeed) apply(ctx context.Context, c *console.Console, cmd ConsoleCommand) (interface{}, error) {
	if err := c.WaitReady(ctx); err != nil {
		return nil, err
	}

	switch cmd.Op {
	case "select":
		return c.Select(cmd.BatchID), nil
	case "selectStudent":
		return c.SelectStudent(cmd.StudentID), nil
	case "createBatch":
		nb := school.NewBatch{Name: cmd.Name}
		if cmd.Start != "" || cmd.End != "" {
			tu := school.TimingUpdate{Start: cmd.Start, End: cmd.End}
			if err := tu.Validate(f.validate); err != nil {
				return nil, err
			}
			nb.Timing = &school.Timing{Start: tu.Start, End: tu.End}
		}
		if err := nb.Validate(f.validate); err != nil {
			return nil, err
		}
		return c.CreateBatch(ctx, nb)
	case "deleteBatch":
		return nil, c.DeleteBatch(ctx, cmd.BatchID)
	case "timing":
		tu := school.TimingUpdate{Start: cmd.Start, End: cmd.End}
		if err := tu.Validate(f.validate); err != nil {
			return nil, err
		}
		return nil, c.SetTiming(ctx, cmd.BatchID, school.Timing{Start: tu.Start, End: tu.End})
	case "addStudent":
		ns := school.NewStudent{Name: cmd.Name, Phone: cmd.Phone}
		if err := ns.Validate(f.validate); err != nil {
			return nil, err
		}
		s, err := c.AddStudent(ctx, cmd.BatchID, ns)
		return s.Public(), err
	case "removeStudent":
		return nil, c.RemoveStudent(ctx, cmd.BatchID, cmd.StudentID)
	case "toggleAttendance":
		status, err := c.ToggleAttendance(ctx, cmd.BatchID, cmd.StudentID, cmd.Date)
		return AttendanceResponse{Status: status}, err
	case "markAllPresent":
		n, err := c.MarkAllPresent(ctx, cmd.BatchID, cmd.Date)
		return MarkAllResponse{Marked: n}, err
	case "toggleFee":
		status, err := c.ToggleFee(ctx, cmd.BatchID, cmd.StudentID, cmd.Year, cmd.Month)
		return FeeResponse{Status: status}, err
	case "performance":
		return nil, c.SetPerformance(ctx, cmd.BatchID, cmd.StudentID, cmd.Score)
	case "notify":
		text := strings.TrimSpace(cmd.Text)
		if text == "" {
			return nil, core.NewFieldValidationError("text", "text is required")
		}
		id, err := c.Notify(ctx, cmd.BatchID, cmd.StudentID, text)
		return IDResponse{ID: id}, err
	}
	return nil, errUnknownOp
}

// Student dashboard

type profileFeed struct {
	schools    *school.Service
	sessions   *session.Service
	logger     core.Logger
	validate   *validator.Validate
	translator ut.Translator
}

// syncProfiles links to feed the profiles of sess it does not follow yet.
func syncProfiles(feed *livesync.ProfileFeed, sess session.Session) error {
	for i := len(feed.Profiles()); i < len(sess.Profiles); i++ {
		if _, err := feed.AddProfile(sess.Profiles[i]); err != nil {
			return errors.Wrap(err, "following added profile")
		}
	}
	return nil
}

// serve streams the dashboard of the student session; switching profiles is done over the socket.
func (f profileFeed) serve(ctx echo.Context) error {
	sess, err := mustSession(ctx)
	if err != nil {
		return err
	}
	feed, err := livesync.NewProfileFeed(f.schools.Store(), sess, f.schools.Now, f.logger)
	if err != nil {
		return errors.Wrap(err, "opening profile feed")
	}
	defer feed.Close()

	conn := upgrade(ctx)
	if conn == nil {
		return nil
	}
	liveConnections.WithLabelValues("dashboard").Inc()
	defer liveConnections.WithLabelValues("dashboard").Dec()

	out := newWSWriter(conn)
	go out.run()
	defer out.stop()

	// profiles re-resolved by the feed (student moved or re-added) are saved to the session
	saved := append([]session.Profile(nil), sess.Profiles...)
	feed.OnChange(func(d livesync.Dashboard) {
		out.send(FeedMessage{Type: "dashboard", Dashboard: &d}, true)
		for i, v := range d.Profiles {
			if i >= len(saved) {
				saved = append(saved, v.Profile)
				continue
			}
			if !v.Found || v.Profile == saved[i] {
				continue
			}
			saved[i] = v.Profile
			saveCtx, cancel := context.WithTimeout(context.Background(), readyWait)
			if _, err := f.sessions.UpdateProfile(saveCtx, sess.ID, i, v.Profile); err != nil {
				f.logger.Warn("updating re-resolved profile", err, sess.LogPerson())
			}
			cancel()
		}
	})

	for {
		var cmd FeedCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return nil
		}
		cmdCtx, cancel := context.WithTimeout(context.Background(), readyWait)
		result, err := f.apply(cmdCtx, sess.ID, feed, cmd)
		cancel()
		if err != nil {
			out.send(FeedMessage{Type: "error", Op: cmd.Op, Error: wsErrorText(err, f.translator, f.logger, sess.LogPerson())}, false)
			continue
		}
		out.send(FeedMessage{Type: "result", Op: cmd.Op, Result: result}, false)
	}
}

func (f profileFeed) apply(ctx context.Context, sessID string, feed *livesync.ProfileFeed, cmd FeedCommand) (interface{}, error) {
	switch cmd.Op {
	case "switch":
		sess, err := f.sessions.Switch(ctx, sessID, cmd.Index)
		if err != nil {
			return nil, err
		}
		// profiles linked elsewhere since the socket opened
		if err = syncProfiles(feed, sess); err != nil {
			return nil, err
		}
		if err = feed.SetActive(cmd.Index); err != nil {
			return nil, err
		}
		return echo.Map{"active": sess.Active}, nil
	case "add":
		data := ProfileRequest{Name: cmd.Name, Phone: cmd.Phone, Password: cmd.Password}
		if err := data.Validate(f.validate); err != nil {
			return nil, err
		}
		sess, err := f.sessions.AddProfile(ctx, sessID, data.Name, data.Phone, data.Password)
		if err != nil {
			return nil, err
		}
		if err = syncProfiles(feed, sess); err != nil {
			return nil, err
		}
		if err = feed.SetActive(sess.Active); err != nil {
			return nil, err
		}
		return echo.Map{"active": sess.Active, "profiles": sess.Profiles}, nil
	case "read":
		active, ok := feed.Dashboard().ActiveView()
		if !ok || !active.Found {
			return nil, session.ErrProfileNotFound
		}
		p := active.Profile
		n, err := f.schools.MarkNotificationsRead(ctx, school.StudentRef{SchoolID: p.SchoolID, BatchID: p.BatchID, StudentID: p.StudentID})
		return ReadResponse{Read: n}, err
	}
	return nil, errUnknownOp
}
