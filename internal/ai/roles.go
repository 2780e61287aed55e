package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yegors/callscribe/internal/transcript"
	"github.com/yegors/callscribe/pkg/logger"
)

// Speaker roles in a sales call.
const (
	RoleSales    = "销售"
	RoleCustomer = "客户"
	RoleUnknown  = "未知"
)

// sampleUtterances is how many turns from the start of the call are
// sent to the model. The opening of a sales call identifies the
// parties; the rest just burns tokens.
const sampleUtterances = 10

const rolesSystemPrompt = `你是一位专业的对话分析专家。请分析以下对话内容，识别出每位说话人的角色（销售还是客户）。

判断依据：
1. 说话方式和语气（销售通常更主动、更正式）
2. 提问方式（销售倾向于引导性提问）
3. 专业术语的使用（销售更可能使用专业术语）
4. 信息获取方向（销售倾向于获取客户需求信息）

请只返回如下格式的JSON，键为说话人标签：
{
    "Speaker 1": "销售/客户",
    "Speaker 2": "销售/客户",
    "confidence": "high/medium/low"
}`

// RoleResult maps speaker labels to their identified role.
type RoleResult struct {
	Roles      map[string]string `json:"roles"`
	Confidence string            `json:"confidence"`
}

// SalesSpeaker returns the label of the speaker identified as the
// sales rep, or "" when none was.
func (r *RoleResult) SalesSpeaker() string {
	for speaker, role := range r.Roles {
		if role == RoleSales {
			return speaker
		}
	}
	return ""
}

// RolesService identifies which speaker in a call is the sales rep.
type RolesService struct {
	provider ChatProvider
	model    string
	logger   *logger.Logger
}

// NewRolesService creates a new role identification service
func NewRolesService(provider ChatProvider, model string, log *logger.Logger) *RolesService {
	return &RolesService{
		provider: provider,
		model:    model,
		logger:   log.Named("roles"),
	}
}

// IdentifyRoles asks the model to classify each speaker in the
// transcript. It never fails the pipeline: on any error every speaker
// comes back as unknown with low confidence.
func (s *RolesService) IdentifyRoles(ctx context.Context, tr *transcript.Transcript) *RoleResult {
	sample := formatSample(tr.Utterances)
	if sample == "" {
		return unknownResult(tr)
	}

	response, err := s.provider.ChatCompletion(ctx, []ChatMessage{
		{Role: "system", Content: rolesSystemPrompt},
		{Role: "user", Content: "对话内容：\n\n" + sample},
	}, ChatConfig{
		Model:       s.model,
		Temperature: 0.2,
	})
	if err != nil {
		s.logger.Warn("Role identification failed",
			logger.String("filename", tr.Filename),
			logger.Error(err))
		return unknownResult(tr)
	}

	result, err := parseRoleResponse(response, tr)
	if err != nil {
		s.logger.Warn("Role identification returned unusable response",
			logger.String("filename", tr.Filename),
			logger.String("response", response),
			logger.Error(err))
		return unknownResult(tr)
	}
	return result
}

// SalesSpeaker identifies the roles in the call and returns the label
// of the sales rep, or "" when identification failed.
func (s *RolesService) SalesSpeaker(ctx context.Context, tr *transcript.Transcript) string {
	return s.IdentifyRoles(ctx, tr).SalesSpeaker()
}

// formatSample renders the first turns of the call for the prompt.
func formatSample(utterances []transcript.Utterance) string {
	n := len(utterances)
	if n > sampleUtterances {
		n = sampleUtterances
	}
	lines := make([]string, 0, n)
	for _, u := range utterances[:n] {
		if u.Text == "" {
			continue
		}
		lines = append(lines, u.Speaker+": "+u.Text)
	}
	return strings.Join(lines, "\n")
}

// parseRoleResponse extracts the JSON object from the model output and
// maps its keys back onto the transcript's speaker labels.
func parseRoleResponse(response string, tr *transcript.Transcript) (*RoleResult, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end == -1 || start >= end {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var raw map[string]string
	if err := json.Unmarshal([]byte(response[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("malformed JSON in response: %w", err)
	}

	result := &RoleResult{
		Roles:      make(map[string]string),
		Confidence: "low",
	}
	for key, value := range raw {
		if strings.EqualFold(key, "confidence") {
			result.Confidence = strings.ToLower(strings.TrimSpace(value))
			continue
		}
		speaker, ok := matchSpeaker(key, tr)
		if !ok {
			continue
		}
		switch {
		case strings.Contains(value, RoleSales):
			result.Roles[speaker] = RoleSales
		case strings.Contains(value, RoleCustomer):
			result.Roles[speaker] = RoleCustomer
		default:
			result.Roles[speaker] = RoleUnknown
		}
	}
	if len(result.Roles) == 0 {
		return nil, fmt.Errorf("response names no known speakers")
	}

	// Fill in anyone the model skipped
	for _, u := range tr.Utterances {
		if _, ok := result.Roles[u.Speaker]; !ok {
			result.Roles[u.Speaker] = RoleUnknown
		}
	}
	return result, nil
}

// matchSpeaker maps a key from the model's response ("Speaker 1",
// "speaker1", "spk1", "1") onto an actual transcript speaker label.
func matchSpeaker(key string, tr *transcript.Transcript) (string, bool) {
	normalized := strings.ToLower(strings.Join(strings.Fields(key), ""))
	normalized = strings.TrimPrefix(normalized, "speaker")
	normalized = strings.TrimPrefix(normalized, "spk")

	candidate := "Speaker " + normalized
	for _, u := range tr.Utterances {
		if u.Speaker == candidate || strings.EqualFold(u.Speaker, key) {
			return u.Speaker, true
		}
	}
	return "", false
}

func unknownResult(tr *transcript.Transcript) *RoleResult {
	result := &RoleResult{
		Roles:      make(map[string]string),
		Confidence: "low",
	}
	for _, u := range tr.Utterances {
		if _, ok := result.Roles[u.Speaker]; !ok {
			result.Roles[u.Speaker] = RoleUnknown
		}
	}
	return result
}
