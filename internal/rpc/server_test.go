package rpc

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnicortex/internal/broadcast"
	"omnicortex/internal/clock"
	"omnicortex/internal/config"
	"omnicortex/internal/cortex"
)

type nullEmbedder struct{}

func (nullEmbedder) Dimension() int    { return 4 }
func (nullEmbedder) IsAvailable() bool { return false }
func (nullEmbedder) Name() string      { return "null" }
func (nullEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, nil
}

type reply struct {
	ID     json.RawMessage        `json:"id"`
	Result map[string]interface{} `json:"result"`
	Error  *errorBody             `json:"error"`
}

// serve runs one scripted connection and returns the decoded responses.
func serve(t *testing.T, lines ...string) []reply {
	t.Helper()

	core := cortex.New(cortex.Options{
		Config:      config.Default(),
		Embedder:    nullEmbedder{},
		Clock:       clock.NewFake(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)),
		Broadcaster: broadcast.New(16, nil),
	})
	t.Cleanup(func() { core.Close() })

	project := t.TempDir()
	for i, line := range lines {
		lines[i] = strings.ReplaceAll(line, "$PROJECT", project)
	}

	var out strings.Builder
	srv := NewServer(core, nil)
	err := srv.Serve(context.Background(), strings.NewReader(strings.Join(lines, "\n")+"\n"), &out)
	require.NoError(t, err)

	var replies []reply
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var r reply
		require.NoError(t, json.Unmarshal([]byte(line), &r), "response line %q", line)
		replies = append(replies, r)
	}
	return replies
}

func TestInitializeMustComeFirst(t *testing.T) {
	replies := serve(t,
		`{"id":1,"method":"cortex_list_tags","params":{}}`,
		`{"id":2,"method":"initialize","params":{"project_path":"$PROJECT"}}`,
		`{"id":3,"method":"cortex_list_tags","params":{}}`,
	)
	require.Len(t, replies, 3)

	require.NotNil(t, replies[0].Error)
	assert.Equal(t, 3, replies[0].Error.Code, "protocol state violation is a conflict")

	require.Nil(t, replies[1].Error)
	assert.Equal(t, "omni-cortex", replies[1].Result["server"])
	assert.Len(t, replies[1].Result["tools"], 15)

	require.Nil(t, replies[2].Error)
	assert.NotNil(t, replies[2].Result["tags"])
}

func TestRememberForgetRoundTrip(t *testing.T) {
	replies := serve(t,
		`{"id":1,"method":"initialize","params":{"project_path":"$PROJECT"}}`,
		`{"id":2,"method":"cortex_remember","params":{"content":"Use AES-GCM for envelope encryption","type":"decision","tags":["crypto"],"importance":80}}`,
		`{"id":3,"method":"cortex_recall","params":{"query":"AES","mode":"keyword","limit":5}}`,
		`{"id":4,"method":"cortex_forget","params":{"id":"mem-0-missing"}}`,
		`{"id":5,"method":"cortex_list_tags","params":{}}`,
	)
	require.Len(t, replies, 5)

	require.Nil(t, replies[1].Error)
	memID, _ := replies[1].Result["id"].(string)
	assert.NotEmpty(t, memID)

	require.Nil(t, replies[2].Error)
	items, _ := replies[2].Result["items"].([]interface{})
	require.Len(t, items, 1)
	hit := items[0].(map[string]interface{})
	mem := hit["memory"].(map[string]interface{})
	assert.Equal(t, memID, mem["id"])
	assert.Greater(t, hit["score"].(float64), 0.0)

	require.Nil(t, replies[3].Error)
	assert.Equal(t, float64(0), replies[3].Result["removed"], "unknown id is success, not error")

	require.Nil(t, replies[4].Error)
	tags := replies[4].Result["tags"].([]interface{})
	require.Len(t, tags, 1)
	assert.Equal(t, "crypto", tags[0].(map[string]interface{})["tag"])
}

func TestValidationErrorsCarryPath(t *testing.T) {
	replies := serve(t,
		`{"id":1,"method":"initialize","params":{"project_path":"$PROJECT"}}`,
		`{"id":2,"method":"cortex_remember","params":{"tags":["no-content"]}}`,
		`{"id":3,"method":"cortex_recall","params":{"query":"   "}}`,
		`{"id":4,"method":"cortex_remember","params":{"content":"x","importance":150}}`,
		`{"id":5,"method":"cortex_no_such_tool","params":{}}`,
	)
	require.Len(t, replies, 5)

	require.NotNil(t, replies[1].Error)
	assert.Equal(t, 1, replies[1].Error.Code)
	assert.Equal(t, "content", replies[1].Error.Path)

	require.NotNil(t, replies[2].Error)
	assert.Equal(t, "query", replies[2].Error.Path)

	require.NotNil(t, replies[3].Error)
	assert.Equal(t, "importance", replies[3].Error.Path)

	require.NotNil(t, replies[4].Error)
	assert.Equal(t, 1, replies[4].Error.Code)
	assert.Equal(t, "method", replies[4].Error.Path)
}

func TestUnknownFieldsIgnored(t *testing.T) {
	replies := serve(t,
		`{"id":1,"method":"initialize","params":{"project_path":"$PROJECT"}}`,
		`{"id":2,"method":"cortex_remember","params":{"content":"tolerant","surprise":true}}`,
	)
	require.Len(t, replies, 2)
	assert.Nil(t, replies[1].Error)
}

func TestResponsesMatchRequestOrderAndIDs(t *testing.T) {
	replies := serve(t,
		`{"id":"a","method":"initialize","params":{"project_path":"$PROJECT"}}`,
		`{"id":"b","method":"cortex_remember","params":{"content":"first"}}`,
		`{"id":"c","method":"cortex_remember","params":{"content":"second"}}`,
	)
	require.Len(t, replies, 3)
	assert.Equal(t, `"a"`, string(replies[0].ID))
	assert.Equal(t, `"b"`, string(replies[1].ID))
	assert.Equal(t, `"c"`, string(replies[2].ID))
}

// stepConn drives the state machine request by request so later requests can
// reference ids returned earlier.
type stepConn struct {
	t     *testing.T
	conn  *conn
	clock *clock.Fake
}

func newStepConn(t *testing.T) *stepConn {
	t.Helper()

	clk := clock.NewFake(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC))
	core := cortex.New(cortex.Options{
		Config:      config.Default(),
		Embedder:    nullEmbedder{},
		Clock:       clk,
		Broadcaster: broadcast.New(16, nil),
	})
	t.Cleanup(func() { core.Close() })

	sc := &stepConn{t: t, conn: &conn{server: NewServer(core, nil)}, clock: clk}
	res := sc.call("initialize", map[string]interface{}{"project_path": t.TempDir()})
	require.Nil(t, res.Error)
	return sc
}

func (sc *stepConn) call(method string, params interface{}) reply {
	sc.t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(sc.t, err)
	resp := sc.conn.handle(context.Background(), &request{
		ID: json.RawMessage(`1`), Method: method, Params: raw,
	})

	out := reply{ID: resp.ID, Error: resp.Error}
	if resp.Result != nil {
		data, err := json.Marshal(resp.Result)
		require.NoError(sc.t, err)
		if err := json.Unmarshal(data, &out.Result); err != nil {
			out.Result = nil
		}
	}
	return out
}

func TestLinkDuplicateAndEmptyPatch(t *testing.T) {
	sc := newStepConn(t)

	left := sc.call("cortex_remember", map[string]interface{}{"content": "left"})
	right := sc.call("cortex_remember", map[string]interface{}{"content": "right"})
	require.Nil(t, left.Error)
	require.Nil(t, right.Error)
	from := left.Result["id"].(string)
	to := right.Result["id"].(string)

	link := map[string]interface{}{"from": from, "to": to, "kind": "supersedes"}
	first := sc.call("cortex_link_memories", link)
	require.Nil(t, first.Error)
	assert.Equal(t, true, first.Result["linked"])

	second := sc.call("cortex_link_memories", link)
	require.Nil(t, second.Error)
	assert.Equal(t, false, second.Result["linked"], "duplicate link is a no-op")

	sc.clock.Advance(time.Minute)
	patched := sc.call("cortex_update_memory", map[string]interface{}{
		"id": from, "patch": map[string]interface{}{},
	})
	require.Nil(t, patched.Error)
	assert.Equal(t, "left", patched.Result["content"], "empty patch changes nothing")
	assert.NotEqual(t, patched.Result["created_at"], patched.Result["updated_at"], "updated_at still advances")
}

func TestSessionToolsFlow(t *testing.T) {
	sc := newStepConn(t)

	started := sc.call("cortex_start_session", map[string]interface{}{})
	require.Nil(t, started.Error)
	firstID := started.Result["id"].(string)

	logged := sc.call("cortex_log_activity", map[string]interface{}{
		"event_type": "post_tool_use", "tool_name": "Read",
		"tool_input": `{"file_path":"main.go"}`, "success": true,
	})
	require.Nil(t, logged.Error)

	ended := sc.call("cortex_end_session", map[string]interface{}{})
	require.Nil(t, ended.Error)
	assert.Equal(t, firstID, ended.Result["id"])
	assert.Equal(t, "Read main.go", ended.Result["summary"])

	again := sc.call("cortex_end_session", map[string]interface{}{})
	require.NotNil(t, again.Error)
	assert.Equal(t, 3, again.Error.Code)

	restarted := sc.call("cortex_start_session", map[string]interface{}{})
	require.Nil(t, restarted.Error)
	assert.NotEqual(t, firstID, restarted.Result["id"])
}

func TestStartSessionRejectsForeignProjectPath(t *testing.T) {
	replies := serve(t,
		`{"id":1,"method":"initialize","params":{"project_path":"$PROJECT"}}`,
		`{"id":2,"method":"cortex_start_session","params":{"project_path":"/somewhere/else"}}`,
		`{"id":3,"method":"cortex_start_session","params":{"project_path":"$PROJECT"}}`,
	)
	require.Len(t, replies, 3)

	require.NotNil(t, replies[1].Error)
	assert.Equal(t, 1, replies[1].Error.Code)
	assert.Equal(t, "project_path", replies[1].Error.Path)

	require.Nil(t, replies[2].Error, "the bound project's own path is accepted")
}

func TestLogActivityRequiresSuccessField(t *testing.T) {
	sc := newStepConn(t)

	missing := sc.call("cortex_log_activity", map[string]interface{}{
		"event_type": "post_tool_use", "tool_name": "Read",
	})
	require.NotNil(t, missing.Error)
	assert.Equal(t, 1, missing.Error.Code)
	assert.Equal(t, "success", missing.Error.Path)
}

func TestMalformedFrameIsFatal(t *testing.T) {
	core := cortex.New(cortex.Options{
		Config:   config.Default(),
		Embedder: nullEmbedder{},
	})
	t.Cleanup(func() { core.Close() })

	srv := NewServer(core, nil)
	err := srv.Serve(context.Background(), strings.NewReader("{not json}\n"), &strings.Builder{})
	assert.Error(t, err)
}
