package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBotAPI struct {
	mu       sync.Mutex
	messages []string
	chats    []string
}

func (f *fakeBotAPI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"bot","username":"bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			require.NoError(t, r.ParseForm())
			f.mu.Lock()
			f.messages = append(f.messages, r.PostForm.Get("text"))
			f.chats = append(f.chats, r.PostForm.Get("chat_id"))
			f.mu.Unlock()
			fmt.Fprint(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`)
		default:
			fmt.Fprint(w, `{"ok":false,"error_code":404,"description":"Not Found"}`)
		}
	}
}

func newFakeTelegram(t *testing.T) (*Telegram, *fakeBotAPI) {
	fake := &fakeBotAPI{}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	tg, err := NewTelegramWithEndpoint("TOKEN", 42, srv.URL+"/bot%s/%s", srv.Client())
	require.NoError(t, err)
	return tg, fake
}

func TestTelegramSend(t *testing.T) {
	tg, fake := newFakeTelegram(t)
	require.NoError(t, tg.Send(context.Background(), "🚀 grid initialized"))

	require.Len(t, fake.messages, 1)
	assert.Equal(t, "🚀 grid initialized", fake.messages[0])
	assert.Equal(t, "42", fake.chats[0])
	assert.Equal(t, "telegram", tg.Name())
}

func TestTelegramRequiresCredentials(t *testing.T) {
	_, err := NewTelegramWithEndpoint("", 42, "http://127.0.0.1/bot%s/%s", http.DefaultClient)
	assert.Error(t, err)
}

func TestTelegramLoginFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":false,"error_code":401,"description":"Unauthorized"}`)
	}))
	defer srv.Close()

	_, err := NewTelegramWithEndpoint("BAD", 42, srv.URL+"/bot%s/%s", srv.Client())
	assert.Error(t, err)
}

type recorder struct {
	mu    sync.Mutex
	texts []string
	fail  bool
	block chan struct{}
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) Send(ctx context.Context, text string) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("boom")
	}
	r.texts = append(r.texts, text)
	return nil
}

func (r *recorder) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(rec, 8)
	for i := 0; i < 5; i++ {
		d.Notify(fmt.Sprintf("msg %d", i))
	}
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, []string{"msg 0", "msg 1", "msg 2", "msg 3", "msg 4"}, rec.sent())

	// after close alerts go to the log instead of panicking
	d.Notify("late")
	assert.Len(t, rec.sent(), 5)
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	d := NewDispatcher(rec, 1)

	// the worker holds one message, the queue one more
	d.Notify("a")
	require.Eventually(t, func() bool { return len(d.queue) == 0 }, time.Second, time.Millisecond)
	d.Notify("b")
	d.Notify("c")

	dropped, _ := d.Stats()
	assert.Equal(t, 1, dropped)

	close(rec.block)
	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, []string{"a", "b"}, rec.sent())
}

func TestDispatcherCountsFailures(t *testing.T) {
	rec := &recorder{fail: true}
	d := NewDispatcher(rec, 4)
	d.Notify("x")
	require.NoError(t, d.Close(context.Background()))

	_, failures := d.Stats()
	assert.Equal(t, 1, failures)
	assert.Error(t, d.NotifySync(context.Background(), "fatal"))
}

func TestDispatcherDefaultsToLog(t *testing.T) {
	d := NewDispatcher(nil, 0)
	d.Notify("hello")
	assert.NoError(t, d.NotifySync(context.Background(), "sync"))
	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, "log", d.target.Name())
}
