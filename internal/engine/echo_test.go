package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"gatewayd/pkg/types"
)

func newTestEcho(t *testing.T, params map[string]any) *echoEngine {
	t.Helper()
	e, err := NewEcho(types.ModelSpec{ID: "echo-1", Kind: "echo", Params: params})
	require.NoError(t, err)
	return e.(*echoEngine)
}

func userReq(content string) Request {
	return Request{Messages: []types.Message{{Role: "user", Content: content}}}
}

func TestEcho_RequiresInitialize(t *testing.T) {
	e := newTestEcho(t, nil)
	_, err := e.Generate(context.Background(), userReq("hi"))
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = e.Counters(context.Background())
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestEcho_EchoesLastUserMessage(t *testing.T) {
	e := newTestEcho(t, nil)
	require.NoError(t, e.Initialize(context.Background()))
	s, err := e.Generate(context.Background(), userReq("the quick brown fox"))
	require.NoError(t, err)
	c, err := s.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "the quick brown fox", c.Text)
	assert.Equal(t, FinishStop, c.Finish)
	require.NotNil(t, c.Usage)
	assert.Equal(t, 4, c.Usage.CompletionTokens)

	cnt, err := e.Counters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cnt.RequestsTotal)
	assert.Equal(t, uint64(4), cnt.GeneratedTokens)
	assert.Equal(t, 0, cnt.ActiveRequests)
}

func TestEcho_MaxTokens(t *testing.T) {
	e := newTestEcho(t, map[string]any{"reply": "one two three four"})
	require.NoError(t, e.Initialize(context.Background()))
	req := userReq("ignored")
	req.Sampling.MaxTokens = 2
	s, err := e.Generate(context.Background(), req)
	require.NoError(t, err)
	c, err := s.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "one two ", c.Text)
	assert.Equal(t, FinishLength, c.Finish)
}

func TestEcho_FailInitCountsAttempts(t *testing.T) {
	e := newTestEcho(t, map[string]any{"fail_init": 2})
	assert.Error(t, e.Initialize(context.Background()))
	assert.Error(t, e.Initialize(context.Background()))
	assert.NoError(t, e.Initialize(context.Background()))
	assert.NoError(t, e.CheckHealth(context.Background()))
}

func TestEcho_FailAfter(t *testing.T) {
	e := newTestEcho(t, map[string]any{"reply": "a b c d", "fail_after": 2})
	require.NoError(t, e.Initialize(context.Background()))
	s, err := e.Generate(context.Background(), userReq("x"))
	require.NoError(t, err)
	c, err := s.Collect(context.Background())
	require.Error(t, err)
	assert.Equal(t, "a b ", c.Text)
}

func TestEcho_CancelStopsProduction(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	e := newTestEcho(t, map[string]any{"reply": "w w w w w w w w w w w w", "token_delay": "1ms"})
	require.NoError(t, e.Initialize(context.Background()))
	s, err := e.Generate(context.Background(), userReq("x"))
	require.NoError(t, err)
	require.NoError(t, s.Acquire())
	for i := 0; i < 2; i++ {
		_, err := s.Next(context.Background())
		require.NoError(t, err)
	}
	s.Close()
	after := e.emitted.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, e.emitted.Load())
	assert.LessOrEqual(t, after, int64(3))
}

func TestEcho_Unhealthy(t *testing.T) {
	e := newTestEcho(t, map[string]any{"unhealthy": true})
	require.NoError(t, e.Initialize(context.Background()))
	assert.Error(t, e.CheckHealth(context.Background()))
}

func TestBuild_Kinds(t *testing.T) {
	_, err := Build(types.ModelSpec{ID: "m", Kind: ""})
	assert.Error(t, err)
	_, err = Build(types.ModelSpec{ID: "m", Kind: "nope"})
	assert.ErrorContains(t, err, "unknown engine kind")
	e, err := Build(types.ModelSpec{ID: "m", Kind: "ECHO"})
	require.NoError(t, err)
	md, err := e.Metadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "echo", md.Kind)
	assert.Equal(t, 2048, md.MaxModelLen)
	assert.Contains(t, Kinds(), "openai")
}

func TestMergeParams_Defaults(t *testing.T) {
	in := map[string]any{"max_model_len": 4096}
	p := MergeParams(in)
	assert.Equal(t, 4096, p["max_model_len"])
	assert.Equal(t, "float16", p["dtype"])
	assert.Equal(t, 0.7, p["gpu_memory_utilization"])
	assert.Len(t, in, 1)
	assert.Equal(t, 250*time.Millisecond, paramDuration(map[string]any{"d": "250ms"}, "d", 0))
	assert.Equal(t, 5*time.Millisecond, paramDuration(map[string]any{"d": 5}, "d", 0))
}
