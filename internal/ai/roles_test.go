package ai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegors/callscribe/internal/transcript"
	"github.com/yegors/callscribe/pkg/logger"
)

type fakeProvider struct {
	response string
	err      error
	lastMsgs []ChatMessage
}

func (f *fakeProvider) ChatCompletion(ctx context.Context, messages []ChatMessage, config ChatConfig) (string, error) {
	f.lastMsgs = messages
	return f.response, f.err
}

func sampleTranscript() *transcript.Transcript {
	return &transcript.Transcript{
		Filename: "华为-张三-13812345678.mp3",
		Utterances: []transcript.Utterance{
			{Speaker: "Speaker 1", Text: "您好，我是华为的销售顾问小王。"},
			{Speaker: "Speaker 2", Text: "你好你好。"},
			{Speaker: "Speaker 1", Text: "想跟您聊一下云服务的事情。"},
		},
	}
}

func newService(t *testing.T, provider ChatProvider) *RolesService {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Format: "console"})
	require.NoError(t, err)
	return NewRolesService(provider, "qwen-plus", log)
}

func TestIdentifyRolesParsesCleanJSON(t *testing.T) {
	provider := &fakeProvider{response: `{
		"Speaker 1": "销售",
		"Speaker 2": "客户",
		"confidence": "high"
	}`}
	svc := newService(t, provider)

	result := svc.IdentifyRoles(context.Background(), sampleTranscript())
	assert.Equal(t, RoleSales, result.Roles["Speaker 1"])
	assert.Equal(t, RoleCustomer, result.Roles["Speaker 2"])
	assert.Equal(t, "high", result.Confidence)
	assert.Equal(t, "Speaker 1", result.SalesSpeaker())

	// The prompt carries the dialogue sample
	require.Len(t, provider.lastMsgs, 2)
	assert.Contains(t, provider.lastMsgs[1].Content, "我是华为的销售顾问小王")
}

func TestIdentifyRolesExtractsJSONFromProse(t *testing.T) {
	provider := &fakeProvider{response: "分析如下：\n```json\n" +
		`{"spk1": "销售", "spk2": "客户", "confidence": "medium"}` + "\n```"}
	svc := newService(t, provider)

	result := svc.IdentifyRoles(context.Background(), sampleTranscript())
	assert.Equal(t, RoleSales, result.Roles["Speaker 1"])
	assert.Equal(t, RoleCustomer, result.Roles["Speaker 2"])
	assert.Equal(t, "medium", result.Confidence)
}

func TestIdentifyRolesFailsSoftOnProviderError(t *testing.T) {
	provider := &fakeProvider{err: errors.New("rate limited")}
	svc := newService(t, provider)

	result := svc.IdentifyRoles(context.Background(), sampleTranscript())
	assert.Equal(t, RoleUnknown, result.Roles["Speaker 1"])
	assert.Equal(t, RoleUnknown, result.Roles["Speaker 2"])
	assert.Equal(t, "low", result.Confidence)
	assert.Empty(t, result.SalesSpeaker())
}

func TestIdentifyRolesFailsSoftOnGarbage(t *testing.T) {
	provider := &fakeProvider{response: "我无法判断角色。"}
	svc := newService(t, provider)

	result := svc.IdentifyRoles(context.Background(), sampleTranscript())
	assert.Equal(t, RoleUnknown, result.Roles["Speaker 1"])
	assert.Equal(t, "low", result.Confidence)
}

func TestIdentifyRolesEmptyTranscript(t *testing.T) {
	provider := &fakeProvider{response: `{"Speaker 1": "销售"}`}
	svc := newService(t, provider)

	result := svc.IdentifyRoles(context.Background(), &transcript.Transcript{})
	assert.Empty(t, result.Roles)
	assert.Nil(t, provider.lastMsgs, "no call should be made for an empty transcript")
}

func TestFormatSampleLimitsTurns(t *testing.T) {
	utterances := make([]transcript.Utterance, 25)
	for i := range utterances {
		utterances[i] = transcript.Utterance{Speaker: "Speaker 1", Text: "第几句话"}
	}
	sample := formatSample(utterances)
	assert.Equal(t, sampleUtterances, len(strings.Split(sample, "\n")))
}
