package qdrant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/repolens/internal/logging"
)

func TestClientConfig_ApplyDefaults(t *testing.T) {
	tests := []struct {
		name   string
		config *ClientConfig
		check  func(t *testing.T, cfg *ClientConfig)
	}{
		{
			name:   "empty config gets all defaults",
			config: &ClientConfig{},
			check: func(t *testing.T, cfg *ClientConfig) {
				assert.Equal(t, "localhost", cfg.Host)
				assert.Equal(t, 6334, cfg.Port)
				assert.False(t, cfg.UseTLS)
				assert.Equal(t, 50*1024*1024, cfg.MaxMessageSize)
				assert.Equal(t, 5*time.Second, cfg.DialTimeout)
				assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
				assert.Equal(t, 3, cfg.RetryAttempts)
				assert.Equal(t, time.Second, cfg.RetryBackoff)
				assert.Equal(t, qdrant.Distance_Cosine, cfg.Distance)
			},
		},
		{
			name:   "set values survive",
			config: &ClientConfig{Host: "qdrant.internal", Port: 6335, RetryBackoff: time.Millisecond},
			check: func(t *testing.T, cfg *ClientConfig) {
				assert.Equal(t, "qdrant.internal", cfg.Host)
				assert.Equal(t, 6335, cfg.Port)
				assert.Equal(t, time.Millisecond, cfg.RetryBackoff)
				assert.Equal(t, 50*1024*1024, cfg.MaxMessageSize)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.config.ApplyDefaults()
			tt.check(t, tt.config)
		})
	}
}

func TestClientConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  ClientConfig
		wantErr string
	}{
		{name: "valid", config: ClientConfig{Host: "localhost", Port: 6334, MaxMessageSize: 1}},
		{name: "missing host", config: ClientConfig{Port: 6334, MaxMessageSize: 1}, wantErr: "host is required"},
		{name: "port zero", config: ClientConfig{Host: "h", MaxMessageSize: 1}, wantErr: "invalid port"},
		{name: "port too high", config: ClientConfig{Host: "h", Port: 70000, MaxMessageSize: 1}, wantErr: "invalid port"},
		{name: "message size", config: ClientConfig{Host: "h", Port: 6334}, wantErr: "invalid max message size"},
		{name: "negative retries", config: ClientConfig{Host: "h", Port: 6334, MaxMessageSize: 1, RetryAttempts: -1}, wantErr: "invalid retry attempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewGRPCClient_RequiresLogger(t *testing.T) {
	_, err := NewGRPCClient(nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logger is required")
}

func TestNewGRPCClient_InvalidConfig(t *testing.T) {
	_, err := NewGRPCClient(&ClientConfig{Port: -1}, logging.NewTestLogger().Logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestToPointStruct(t *testing.T) {
	p := &Point{
		ID:     "7f3c1f5e-6a0b-4f8e-9a51-0c2d3b4e5f60",
		Vector: []float32{0.1, 0.2, 0.3},
		Payload: map[string]any{
			"repositoryId": "repo-1",
			"chunkIndex":   4,
			"tokenCount":   int64(250),
			"score":        float32(0.5),
		},
	}

	got := toPointStruct(p)
	assert.Equal(t, p.ID, got.GetId().GetUuid())
	assert.Equal(t, p.Vector, got.GetVectors().GetVector().GetData())
	assert.Equal(t, "repo-1", got.Payload["repositoryId"].GetStringValue())
	assert.Equal(t, int64(4), got.Payload["chunkIndex"].GetIntegerValue())
	assert.Equal(t, int64(250), got.Payload["tokenCount"].GetIntegerValue())
	assert.InDelta(t, 0.5, got.Payload["score"].GetDoubleValue(), 1e-6)
}

func TestToValue(t *testing.T) {
	tests := []struct {
		name  string
		input any
		check func(t *testing.T, v *qdrant.Value)
	}{
		{"string", "hello", func(t *testing.T, v *qdrant.Value) { assert.Equal(t, "hello", v.GetStringValue()) }},
		{"int", 42, func(t *testing.T, v *qdrant.Value) { assert.Equal(t, int64(42), v.GetIntegerValue()) }},
		{"int32", int32(7), func(t *testing.T, v *qdrant.Value) { assert.Equal(t, int64(7), v.GetIntegerValue()) }},
		{"float64", 3.25, func(t *testing.T, v *qdrant.Value) { assert.Equal(t, 3.25, v.GetDoubleValue()) }},
		{"bool", true, func(t *testing.T, v *qdrant.Value) { assert.True(t, v.GetBoolValue()) }},
		{"nil", nil, func(t *testing.T, v *qdrant.Value) { assert.NotNil(t, v.GetKind()) }},
		{"fallback", []int{1, 2}, func(t *testing.T, v *qdrant.Value) { assert.Equal(t, "[1 2]", v.GetStringValue()) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, toValue(tt.input))
		})
	}
}

func TestToFilter(t *testing.T) {
	assert.Nil(t, toFilter(nil))
	assert.Nil(t, toFilter(&Filter{}))

	f := toFilter(MatchAll("repositoryId", "repo-1", "type", "code"))
	require.Len(t, f.GetMust(), 2)
	field := f.GetMust()[0].GetField()
	assert.Equal(t, "repositoryId", field.GetKey())
	assert.Equal(t, "repo-1", field.GetMatch().GetKeyword())
	assert.Equal(t, "code", f.GetMust()[1].GetField().GetMatch().GetKeyword())
}

func TestMatchAll_SkipsEmpty(t *testing.T) {
	f := MatchAll("repositoryId", "repo-1", "type", "", "filePath")
	require.Len(t, f.Must, 1)
	assert.Equal(t, Condition{Field: "repositoryId", Keyword: "repo-1"}, f.Must[0])
}

func TestFromScoredPoint(t *testing.T) {
	sp := &qdrant.ScoredPoint{
		Id:    qdrant.NewIDUUID("abc"),
		Score: 0.87,
		Payload: map[string]*qdrant.Value{
			"content":    {Kind: &qdrant.Value_StringValue{StringValue: "func main() {}"}},
			"chunkIndex": {Kind: &qdrant.Value_IntegerValue{IntegerValue: 2}},
			"weight":     {Kind: &qdrant.Value_DoubleValue{DoubleValue: 1.5}},
			"flag":       {Kind: &qdrant.Value_BoolValue{BoolValue: true}},
		},
	}

	got := fromScoredPoint(sp)
	assert.Equal(t, "abc", got.ID)
	assert.Equal(t, float32(0.87), got.Score)
	assert.Equal(t, "func main() {}", got.Payload["content"])
	assert.Equal(t, int64(2), got.Payload["chunkIndex"])
	assert.Equal(t, 1.5, got.Payload["weight"])
	assert.Equal(t, true, got.Payload["flag"])
	assert.Nil(t, got.Vector)
}

func TestPointID(t *testing.T) {
	assert.Equal(t, "", pointID(nil))
	assert.Equal(t, "uuid-1", pointID(qdrant.NewIDUUID("uuid-1")))
	assert.Equal(t, "12", pointID(qdrant.NewIDNum(12)))
}

func TestFromPayload(t *testing.T) {
	assert.Nil(t, fromPayload(nil))
	assert.Nil(t, fromValue(nil))
	assert.Equal(t, map[string]any{"k": "v"}, fromPayload(map[string]*qdrant.Value{
		"k": {Kind: &qdrant.Value_StringValue{StringValue: "v"}},
	}))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), false},
		{"unavailable", status.Error(codes.Unavailable, "down"), true},
		{"deadline", status.Error(codes.DeadlineExceeded, "slow"), true},
		{"aborted", status.Error(codes.Aborted, "aborted"), true},
		{"exhausted", status.Error(codes.ResourceExhausted, "busy"), true},
		{"invalid argument", status.Error(codes.InvalidArgument, "bad"), false},
		{"not found", status.Error(codes.NotFound, "missing"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTransient(tt.err))
		})
	}
}

func newRetryClient(attempts int) (*GRPCClient, *logging.TestLogger) {
	testLogger := logging.NewTestLogger()
	return &GRPCClient{
		config: &ClientConfig{RetryAttempts: attempts, RetryBackoff: time.Millisecond},
		logger: testLogger.Logger,
	}, testLogger
}

func TestRetry_Logging(t *testing.T) {
	unavailable := status.Error(codes.Unavailable, "service unavailable")

	tests := []struct {
		name       string
		operation  func() error
		attempts   int
		wantErr    bool
		wantLevels []zapcore.Level
		wantMsgs   []string
	}{
		{
			name:      "success without retries logs nothing",
			operation: func() error { return nil },
			attempts:  3,
		},
		{
			name: "recovers after one transient error",
			operation: func() func() error {
				calls := 0
				return func() error {
					calls++
					if calls == 1 {
						return unavailable
					}
					return nil
				}
			}(),
			attempts:   3,
			wantLevels: []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel},
			wantMsgs:   []string{"retrying operation after transient error", "operation recovered after retries"},
		},
		{
			name:       "retries exhausted",
			operation:  func() error { return unavailable },
			attempts:   2,
			wantErr:    true,
			wantLevels: []zapcore.Level{zapcore.DebugLevel, zapcore.DebugLevel, zapcore.WarnLevel},
			wantMsgs: []string{
				"retrying operation after transient error",
				"retrying operation after transient error",
				"operation failed after all retries exhausted",
			},
		},
		{
			name:      "permanent error is not retried",
			operation: func() error { return status.Error(codes.InvalidArgument, "bad request") },
			attempts:  3,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, testLogger := newRetryClient(tt.attempts)

			err := client.retry(context.Background(), "upsert", tt.operation)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}

			entries := testLogger.All()
			require.Len(t, entries, len(tt.wantMsgs))
			for i, entry := range entries {
				assert.Equal(t, tt.wantLevels[i], entry.Level)
				assert.Equal(t, tt.wantMsgs[i], entry.Message)
			}
		})
	}
}

func TestRetry_ExhaustedWrapsLastError(t *testing.T) {
	client, _ := newRetryClient(1)
	calls := 0
	last := status.Error(codes.Unavailable, "still down")

	err := client.retry(context.Background(), "upsert", func() error {
		calls++
		return last
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, last)
	assert.Contains(t, err.Error(), "upsert failed after 1 retries")
	assert.Equal(t, 2, calls)
}

func TestRetry_Canceled(t *testing.T) {
	client, _ := newRetryClient(3)
	client.config.RetryBackoff = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := client.retry(ctx, "query", func() error {
		calls++
		cancel()
		return status.Error(codes.Unavailable, "down")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetry_PermanentErrorReturnedAsIs(t *testing.T) {
	client, testLogger := newRetryClient(3)
	bad := status.Error(codes.InvalidArgument, "bad vector size")

	err := client.retry(context.Background(), "upsert", func() error { return bad })
	assert.Equal(t, bad, err)
	assert.Empty(t, testLogger.All())
}

func TestDefaultClientConfig(t *testing.T) {
	cfg := DefaultClientConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "localhost", cfg.Host)
}

func TestDeleteByFilter_RequiresCondition(t *testing.T) {
	client, _ := newRetryClient(0)
	client.config.RequestTimeout = time.Second

	err := client.DeleteByFilter(context.Background(), "lingo-dev", &Filter{})
	require.Error(t, err)
	err = client.DeleteByFilter(context.Background(), "lingo-dev", nil)
	require.Error(t, err)
}
