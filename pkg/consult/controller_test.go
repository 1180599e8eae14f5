package consult

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/parthfloyd/la-hacks/pkg/core"
	"github.com/parthfloyd/la-hacks/pkg/core/types"
	"github.com/parthfloyd/la-hacks/pkg/directive"
	"github.com/parthfloyd/la-hacks/pkg/live/session"
	"github.com/parthfloyd/la-hacks/pkg/live/transport"
)

type scriptedConn struct {
	frames  chan []byte
	errs    chan error
	sent    chan *genai.LiveClientContent
	sendErr error
	closed  chan struct{}
	once    sync.Once
}

func newScriptedConn() *scriptedConn {
	return &scriptedConn{
		frames: make(chan []byte, 32),
		errs:   make(chan error, 1),
		sent:   make(chan *genai.LiveClientContent, 32),
		closed: make(chan struct{}),
	}
}

func (s *scriptedConn) Send(_ context.Context, content *genai.LiveClientContent) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent <- content
	return nil
}

func (s *scriptedConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case raw := <-s.frames:
		return raw, nil
	case err := <-s.errs:
		return nil, err
	case <-s.closed:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *scriptedConn) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *scriptedConn) delta(text string) {
	s.frames <- []byte(`{"serverContent":{"modelTurn":{"parts":[{"text":` + strconv.Quote(text) + `}]}}}`)
}

func (s *scriptedConn) complete() {
	s.frames <- []byte(`{"serverContent":{"turnComplete":true}}`)
}

func (s *scriptedConn) final(text string) {
	s.frames <- []byte(`{"serverContent":{"modelTurn":{"parts":[{"text":` + strconv.Quote(text) + `}]},"turnComplete":true}}`)
}

type notices struct {
	mu        sync.Mutex
	emergency []string
	reports   []string
}

func (n *notices) Emergency(s string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.emergency = append(n.emergency, s)
}

func (n *notices) Report(s string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reports = append(n.reports, s)
}

func (n *notices) snapshot() ([]string, []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.emergency...), append([]string(nil), n.reports...)
}

type harness struct {
	ctrl    *Controller
	client  *session.Client
	conns   []*scriptedConn
	notices *notices
	changes chan []types.Message
}

func newHarness(t *testing.T, cfg session.Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{notices: &notices{}, changes: make(chan []types.Message, 128)}
	var mu sync.Mutex
	h.client = session.New(transport.DialerFunc(func(context.Context, transport.DialOptions) (transport.Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		c := newScriptedConn()
		h.conns = append(h.conns, c)
		return c, nil
	}))
	opts = append([]Option{WithNotifier(h.notices)}, opts...)
	h.ctrl = New(h.client, cfg, opts...)
	h.ctrl.OnChange(func(m []types.Message) {
		select {
		case h.changes <- m:
		default:
		}
	})
	t.Cleanup(h.ctrl.Close)
	return h
}

func (h *harness) conn(i int) *scriptedConn {
	return h.conns[i]
}

func testConfig() session.Config {
	return session.Config{APIKey: "k", Model: "gemini-test"}
}

func started(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := newHarness(t, testConfig(), opts...)
	require.NoError(t, h.ctrl.Start(context.Background()))
	return h
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 2*time.Millisecond)
}

func lastBody(c *Controller) string {
	tr := c.Transcript()
	return tr[len(tr)-1].Body
}

func TestNewSeedsGreeting(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig(), WithGreeting("Hi there"))
	tr := h.ctrl.Transcript()
	require.Len(t, tr, 1)
	assert.Equal(t, types.OriginAssistant, tr[0].Origin)
	assert.Equal(t, "Hi there", tr[0].Body)
	assert.False(t, h.ctrl.CanSend())
}

func TestStreamedTurnBecomesOneMessage(t *testing.T) {
	t.Parallel()

	h := started(t)
	require.NoError(t, h.ctrl.SubmitText(context.Background(), "I have a headache"))
	assert.False(t, h.ctrl.CanSend())

	conn := h.conn(0)
	conn.delta("Hel")
	eventually(t, func() bool { return lastBody(h.ctrl) == "Hel" })
	conn.delta("lo")
	eventually(t, func() bool { return lastBody(h.ctrl) == "Hello" })
	assert.False(t, h.ctrl.CanSend())
	err := h.ctrl.SubmitText(context.Background(), "still there?")
	assert.ErrorIs(t, err, ErrInputBlocked)

	conn.delta(" there")
	conn.complete()
	eventually(t, h.ctrl.CanSend)

	tr := h.ctrl.Transcript()
	require.Len(t, tr, 3)
	assert.Equal(t, types.OriginUser, tr[1].Origin)
	assert.Equal(t, "I have a headache", tr[1].Body)
	assert.Equal(t, types.OriginAssistant, tr[2].Origin)
	assert.Equal(t, "Hello there", tr[2].Body)
	assert.False(t, tr[2].Partial)
}

func TestAtMostOnePartialAndAlwaysTrailing(t *testing.T) {
	t.Parallel()

	h := started(t)
	var violations []string
	var mu sync.Mutex
	h.ctrl.OnChange(func(tr []types.Message) {
		partials := 0
		for i, m := range tr {
			if m.Partial {
				partials++
				if i != len(tr)-1 {
					mu.Lock()
					violations = append(violations, "partial not trailing")
					mu.Unlock()
				}
			}
		}
		if partials > 1 {
			mu.Lock()
			violations = append(violations, "more than one partial")
			mu.Unlock()
		}
	})

	conn := h.conn(0)
	for turn := 0; turn < 3; turn++ {
		require.NoError(t, h.ctrl.SubmitText(context.Background(), "q"))
		conn.delta("a")
		conn.delta("b")
		conn.complete()
		eventually(t, h.ctrl.CanSend)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, violations)
	assert.Len(t, h.ctrl.Transcript(), 7)
}

func TestDuplicateFinalIsDropped(t *testing.T) {
	t.Parallel()

	h := started(t)
	require.NoError(t, h.ctrl.SubmitText(context.Background(), "hi"))
	conn := h.conn(0)
	conn.final("Done")
	eventually(t, h.ctrl.CanSend)
	conn.final("Done")
	conn.final("Different")
	eventually(t, func() bool { return lastBody(h.ctrl) == "Different" })

	tr := h.ctrl.Transcript()
	require.Len(t, tr, 4)
	assert.Equal(t, "Done", tr[2].Body)
	assert.Equal(t, "Different", tr[3].Body)
}

// racingSession submits another message from a second goroutine just before each
// final update reaches the controller.
type racingSession struct {
	*session.Client
	ctrl   *Controller
	second chan error
}

func (r *racingSession) Start(ctx context.Context, cfg session.Config, cb session.Callbacks) error {
	onUpdate := cb.OnUpdate
	cb.OnUpdate = func(u types.Update) {
		if u.Final() {
			done := make(chan error, 1)
			go func() { done <- r.ctrl.SubmitText(context.Background(), "second") }()
			r.second <- <-done
		}
		onUpdate(u)
	}
	return r.Client.Start(ctx, cfg, cb)
}

func TestSubmitBlockedUntilFinalIsReconciled(t *testing.T) {
	t.Parallel()

	conn := newScriptedConn()
	rs := &racingSession{
		Client: session.New(transport.DialerFunc(func(context.Context, transport.DialOptions) (transport.Conn, error) {
			return conn, nil
		})),
		second: make(chan error, 1),
	}
	ctrl := New(rs, testConfig())
	rs.ctrl = ctrl
	t.Cleanup(ctrl.Close)
	require.NoError(t, ctrl.Start(context.Background()))

	require.NoError(t, ctrl.SubmitText(context.Background(), "first"))
	conn.final("reply one")

	select {
	case err := <-rs.second:
		assert.ErrorIs(t, err, ErrInputBlocked)
	case <-time.After(2 * time.Second):
		t.Fatal("final update not delivered")
	}
	eventually(t, ctrl.CanSend)

	tr := ctrl.Transcript()
	require.Len(t, tr, 3)
	assert.Equal(t, "first", tr[1].Body)
	assert.Equal(t, types.OriginAssistant, tr[2].Origin)
	assert.Equal(t, "reply one", tr[2].Body)
}

func TestWhitespaceKeptWithoutDangerMarker(t *testing.T) {
	t.Parallel()

	h := started(t)
	require.NoError(t, h.ctrl.SubmitText(context.Background(), "list it"))
	h.conn(0).final("Steps:\n  1. rest\n")
	eventually(t, h.ctrl.CanSend)
	assert.Equal(t, "Steps:\n  1. rest\n", lastBody(h.ctrl))

	require.NoError(t, h.ctrl.SubmitText(context.Background(), "ok"))
	h.conn(0).final("  \n")
	eventually(t, h.ctrl.CanSend)
	assert.Equal(t, "ok", lastBody(h.ctrl))
}

func TestDangerSpanStrippedAndSurfaced(t *testing.T) {
	t.Parallel()

	h := started(t, WithGrammar(directive.Grammar{DangerOpen: "##D##", DangerClose: "##/D##"}))
	require.NoError(t, h.ctrl.SubmitText(context.Background(), "chest hurts"))
	conn := h.conn(0)
	conn.delta("Please rest. ##D##Chest pain")
	conn.final(" with sweating##/D## Call me back.")
	eventually(t, h.ctrl.CanSend)

	assert.Equal(t, "Please rest.  Call me back.", lastBody(h.ctrl))
	emergency, reports := h.notices.snapshot()
	assert.Equal(t, []string{"Chest pain with sweating"}, emergency)
	assert.Empty(t, reports)
}

func TestUnterminatedDangerSpanRunsToEnd(t *testing.T) {
	t.Parallel()

	h := started(t, WithGrammar(directive.Grammar{DangerOpen: "##D##", DangerClose: "##/D##"}))
	require.NoError(t, h.ctrl.SubmitText(context.Background(), "x"))
	h.conn(0).final("Go now. ##D##Stroke signs")
	eventually(t, h.ctrl.CanSend)

	assert.Equal(t, "Go now.", lastBody(h.ctrl))
	emergency, _ := h.notices.snapshot()
	assert.Equal(t, []string{"Stroke signs"}, emergency)
}

func TestReportGetsWholeText(t *testing.T) {
	t.Parallel()

	h := started(t)
	require.NoError(t, h.ctrl.SubmitText(context.Background(), "summary please"))
	text := "Final Report Summary: Tension headache\nPatient Name: Ana\n##Danger Signs##None##/Danger Signs##"
	h.conn(0).final(text)
	eventually(t, h.ctrl.CanSend)

	emergency, reports := h.notices.snapshot()
	assert.Equal(t, []string{text}, reports)
	assert.Equal(t, []string{"None"}, emergency)
	assert.Equal(t, text, h.ctrl.LastReport())
	assert.Equal(t, "Final Report Summary: Tension headache\nPatient Name: Ana", lastBody(h.ctrl))
}

func TestCloseReportKeepsSession(t *testing.T) {
	t.Parallel()

	h := started(t)
	require.NoError(t, h.ctrl.SubmitText(context.Background(), "hi"))
	h.conn(0).final("FINAL REPORT SUMMARY\nAll good")
	eventually(t, h.ctrl.CanSend)

	h.ctrl.CloseReport()
	tr := h.ctrl.Transcript()
	require.Len(t, tr, 1)
	assert.Equal(t, DefaultGreeting, tr[0].Body)
	assert.Empty(t, h.ctrl.LastReport())
	assert.True(t, h.ctrl.Connected())
	assert.Len(t, h.conns, 1)

	require.NoError(t, h.ctrl.SubmitText(context.Background(), "follow up"))
}

func TestStartFailureAppendsNotice(t *testing.T) {
	t.Parallel()

	client := session.New(transport.DialerFunc(func(context.Context, transport.DialOptions) (transport.Conn, error) {
		return nil, errors.New("refused")
	}))
	ctrl := New(client, testConfig())
	err := ctrl.Start(context.Background())
	require.Error(t, err)
	assert.True(t, core.IsType(err, core.ErrConnection))
	assert.Equal(t, MsgInitFailed, lastBody(ctrl))
	assert.Equal(t, err, ctrl.LastError())
	assert.False(t, ctrl.CanSend())
	assert.ErrorIs(t, ctrl.SubmitText(context.Background(), "hello"), ErrInputBlocked)
}

func TestStartRejectsMissingKey(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{Model: "gemini-test"})
	err := h.ctrl.Start(context.Background())
	assert.True(t, core.IsType(err, core.ErrConfiguration))
	assert.Empty(t, h.conns)
	assert.Equal(t, MsgInitFailed, lastBody(h.ctrl))
}

func TestSendFailureAppendsApology(t *testing.T) {
	t.Parallel()

	h := started(t)
	h.conn(0).sendErr = errors.New("broken pipe")

	err := h.ctrl.SubmitAudio(context.Background(), types.Payload{Data: []byte("RIFF"), MIMEType: "audio/wav"})
	require.Error(t, err)

	tr := h.ctrl.Transcript()
	require.Len(t, tr, 3)
	assert.Equal(t, "Sent an audio message", tr[1].Body)
	assert.Equal(t, types.ModalityAudio, tr[1].Modality)
	assert.Equal(t, "Sorry, I encountered an error processing your audio.", tr[2].Body)
	assert.True(t, h.ctrl.CanSend())
}

func TestBackendErrorFinalizesPartial(t *testing.T) {
	t.Parallel()

	h := started(t)
	require.NoError(t, h.ctrl.SubmitText(context.Background(), "hi"))
	conn := h.conn(0)
	conn.delta("Let me think")
	eventually(t, func() bool { return lastBody(h.ctrl) == "Let me think" })

	conn.errs <- core.NewBackendError("internal", "INTERNAL")
	eventually(t, func() bool { return lastBody(h.ctrl) == MsgServiceError })

	tr := h.ctrl.Transcript()
	for _, m := range tr {
		assert.False(t, m.Partial, "entry %q left partial", m.Body)
	}
	assert.Equal(t, "Let me think", tr[len(tr)-2].Body)
	assert.False(t, h.ctrl.Connected())
	assert.True(t, core.IsType(h.ctrl.LastError(), core.ErrBackend))
}

func TestTurnTimeoutNotice(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.TurnTimeout = 20 * time.Millisecond
	h := newHarness(t, cfg)
	require.NoError(t, h.ctrl.Start(context.Background()))

	require.NoError(t, h.ctrl.SubmitText(context.Background(), "hi"))
	h.conn(0).delta("partial")
	eventually(t, func() bool { return lastBody(h.ctrl) == MsgTurnTimeout })
	assert.True(t, h.ctrl.Connected())
	assert.True(t, h.ctrl.CanSend())
}

func TestReconnectStartsFreshSession(t *testing.T) {
	t.Parallel()

	h := started(t)
	require.NoError(t, h.ctrl.SubmitText(context.Background(), "hi"))
	h.conn(0).delta("half")
	eventually(t, func() bool { return lastBody(h.ctrl) == "half" })

	require.NoError(t, h.ctrl.Reconnect(context.Background()))
	assert.Len(t, h.conns, 2)
	tr := h.ctrl.Transcript()
	assert.False(t, tr[len(tr)-1].Partial)
	assert.True(t, h.ctrl.CanSend())

	require.NoError(t, h.ctrl.SubmitText(context.Background(), "again"))
	sent := <-h.conn(1).sent
	assert.Equal(t, "again", sent.Turns[0].Parts[0].Text)
}

func TestSubmitLabels(t *testing.T) {
	t.Parallel()

	h := started(t)
	conn := h.conn(0)

	require.NoError(t, h.ctrl.SubmitFrame(context.Background(), types.Payload{Data: []byte{0xff}, MIMEType: "image/jpeg"}))
	conn.final("I see a rash")
	eventually(t, h.ctrl.CanSend)

	require.NoError(t, h.ctrl.SubmitFile(context.Background(), types.Payload{Data: []byte("%PDF"), MIMEType: "application/pdf", Name: "labs.pdf"}))
	conn.final("Your labs look fine")
	eventually(t, h.ctrl.CanSend)

	tr := h.ctrl.Transcript()
	require.Len(t, tr, 5)
	assert.Equal(t, "Sent a video frame", tr[1].Body)
	assert.Equal(t, types.ModalityVideo, tr[1].Modality)
	assert.Equal(t, "Uploaded file: labs.pdf", tr[3].Body)
	assert.Equal(t, types.ModalityFile, tr[3].Modality)

	first := <-conn.sent
	assert.Equal(t, "image/jpeg", first.Turns[0].Parts[1].InlineData.MIMEType)
	second := <-conn.sent
	assert.Equal(t, "application/pdf", second.Turns[0].Parts[1].InlineData.MIMEType)
	assert.Contains(t, second.Turns[0].Parts[0].Text, "labs.pdf")
}

func TestEmptySubmissions(t *testing.T) {
	t.Parallel()

	h := started(t)
	assert.ErrorIs(t, h.ctrl.SubmitText(context.Background(), "   "), ErrEmptyInput)
	assert.ErrorIs(t, h.ctrl.SubmitAudio(context.Background(), types.Payload{}), ErrEmptyInput)
	assert.Len(t, h.ctrl.Transcript(), 1)
}

func TestStreamFrameAddsNoEntry(t *testing.T) {
	t.Parallel()

	h := started(t)
	h.ctrl.StreamFrame(types.Payload{Data: []byte{0xff, 0xd8}, MIMEType: "image/jpeg"})

	select {
	case sent := <-h.conn(0).sent:
		assert.False(t, sent.TurnComplete)
	case <-time.After(2 * time.Second):
		t.Fatal("frame not forwarded")
	}
	assert.Len(t, h.ctrl.Transcript(), 1)
	assert.True(t, h.ctrl.CanSend())
}
