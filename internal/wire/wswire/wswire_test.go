package wswire

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codplayer/codplayer/internal/logging"
	"github.com/codplayer/codplayer/internal/model"
	"github.com/codplayer/codplayer/internal/wire"
)

type fakeCommander struct {
	state model.State
}

func (f *fakeCommander) Disc(discID string) (model.State, error) { return f.state, nil }
func (f *fakeCommander) Stop() (model.State, error)               { return f.state, nil }
func (f *fakeCommander) Play() (model.State, error)               { return f.state, nil }
func (f *fakeCommander) Pause() (model.State, error)               { return f.state, nil }
func (f *fakeCommander) PlayPause() (model.State, error)           { return f.state, nil }
func (f *fakeCommander) Next() (model.State, error)                { return f.state, nil }
func (f *fakeCommander) Prev() (model.State, error)                { return f.state, nil }
func (f *fakeCommander) PlayTrack(n int) (model.State, error)      { return f.state, nil }
func (f *fakeCommander) Seek(n int) (model.State, error)           { return f.state, nil }
func (f *fakeCommander) Eject() model.State                       { return f.state }
func (f *fakeCommander) Ejected() model.State                     { return f.state }
func (f *fakeCommander) Quit() model.State                        { return f.state }
func (f *fakeCommander) State() model.State                       { return f.state }
func (f *fakeCommander) RipState() model.RipState                 { return model.RipState{Phase: model.RipInactive} }
func (f *fakeCommander) Source() *model.Disc                      { return nil }
func (f *fakeCommander) Version() string                          { return "test-version" }

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/wire"
}

func startServer(t *testing.T, c wire.Commander) (*Server, *httptest.Server) {
	t.Helper()
	log := logging.New(logging.Silent, nil, false)
	s := New(log)

	mux := http.NewServeMux()
	mux.Handle("/wire", s)
	httpSrv := httptest.NewServer(mux)
	t.Cleanup(httpSrv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Serve(ctx, wire.Dispatch(c))

	return s, httpSrv
}

func TestClientCallRoundTripsOverWebsocket(t *testing.T) {
	_, httpSrv := startServer(t, &fakeCommander{state: model.State{Phase: model.PhasePlay, Track: 2}})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, wsURL(httpSrv))
	require.NoError(t, err)
	defer client.Close()

	reply, err := client.Call("version")
	require.NoError(t, err)
	assert.Equal(t, "ok", reply.Type)
	assert.Equal(t, "test-version", reply.Value)

	reply, err = client.Call("state")
	require.NoError(t, err)
	assert.Equal(t, "state", reply.Type)
	m, ok := reply.Value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "PLAY", m["state"])
	assert.Equal(t, float64(2), m["track"])
}

func TestServerBroadcastsStateToSubscribedClient(t *testing.T) {
	s, httpSrv := startServer(t, &fakeCommander{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, wsURL(httpSrv))
	require.NoError(t, err)
	defer client.Close()

	stateCh := client.Subscribe("state")

	s.PublishState(model.State{Phase: model.PhaseStop, DiscID: "abc123"})

	select {
	case raw := <-stateCh:
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(raw, &decoded))
		assert.Equal(t, "STOP", decoded["state"])
		assert.Equal(t, "abc123", decoded["disc_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive broadcast state within timeout")
	}
}

func TestServerReturnsErrorReplyForUnknownCommand(t *testing.T) {
	_, httpSrv := startServer(t, &fakeCommander{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, wsURL(httpSrv))
	require.NoError(t, err)
	defer client.Close()

	reply, err := client.Call("frobnicate")
	require.NoError(t, err)
	assert.Equal(t, "error", reply.Type)
}
