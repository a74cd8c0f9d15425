package bedrock

import (
	"math"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"aigateway/internal/core"
)

// ToNative builds a Converse input. System messages move to the System
// blocks; the remaining turns keep their order.
func ToNative(req *core.ChatRequest) *bedrockruntime.ConverseInput {
	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(req.Model),
	}
	for _, msg := range req.Messages {
		if msg.Role == core.RoleSystem {
			input.System = append(input.System, &brtypes.SystemContentBlockMemberText{Value: msg.Content})
			continue
		}
		input.Messages = append(input.Messages, brtypes.Message{
			Role:    brtypes.ConversationRole(msg.Role),
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: msg.Content}},
		})
	}
	input.InferenceConfig = inferenceConfig(req)
	return input
}

func inferenceConfig(req *core.ChatRequest) *brtypes.InferenceConfiguration {
	if req.Temperature == nil && req.TopP == nil && req.MaxTokens == nil && len(req.Stop) == 0 {
		return nil
	}
	cfg := &brtypes.InferenceConfiguration{StopSequences: req.Stop}
	if req.Temperature != nil {
		cfg.Temperature = aws.Float32(float32(*req.Temperature))
	}
	if req.TopP != nil {
		cfg.TopP = aws.Float32(float32(*req.TopP))
	}
	if req.MaxTokens != nil {
		cfg.MaxTokens = aws.Int32(clampInt32(*req.MaxTokens))
	}
	return cfg
}

func clampInt32(v int) int32 {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(v)
}

// streamInput mirrors a Converse input for ConverseStream
func streamInput(in *bedrockruntime.ConverseInput) *bedrockruntime.ConverseStreamInput {
	return &bedrockruntime.ConverseStreamInput{
		ModelId:         in.ModelId,
		Messages:        in.Messages,
		System:          in.System,
		InferenceConfig: in.InferenceConfig,
	}
}

// RequestFromNative converts a Converse input back to canonical form. The
// system blocks become one leading system message per block.
func RequestFromNative(in *bedrockruntime.ConverseInput) *core.ChatRequest {
	req := &core.ChatRequest{Model: aws.ToString(in.ModelId)}
	for _, block := range in.System {
		if text, ok := block.(*brtypes.SystemContentBlockMemberText); ok {
			req.Messages = append(req.Messages, core.Message{Role: core.RoleSystem, Content: text.Value})
		}
	}
	for _, msg := range in.Messages {
		req.Messages = append(req.Messages, core.Message{Role: string(msg.Role), Content: blockText(msg.Content)})
	}
	if cfg := in.InferenceConfig; cfg != nil {
		if cfg.Temperature != nil {
			v := float64(*cfg.Temperature)
			req.Temperature = &v
		}
		if cfg.TopP != nil {
			v := float64(*cfg.TopP)
			req.TopP = &v
		}
		if cfg.MaxTokens != nil {
			v := int(*cfg.MaxTokens)
			req.MaxTokens = &v
		}
		req.Stop = cfg.StopSequences
	}
	return req
}

func blockText(blocks []brtypes.ContentBlock) string {
	var b strings.Builder
	for _, block := range blocks {
		if text, ok := block.(*brtypes.ContentBlockMemberText); ok {
			b.WriteString(text.Value)
		}
	}
	return b.String()
}

func finishReason(reason brtypes.StopReason) string {
	switch reason {
	case "", brtypes.StopReasonEndTurn, brtypes.StopReasonStopSequence:
		return "stop"
	case brtypes.StopReasonMaxTokens:
		return "length"
	case brtypes.StopReasonToolUse:
		return "tool_calls"
	case brtypes.StopReasonGuardrailIntervened, brtypes.StopReasonContentFiltered:
		return "content_filter"
	default:
		return string(reason)
	}
}

func usageFromNative(u *brtypes.TokenUsage) core.Usage {
	if u == nil {
		return core.Usage{}
	}
	out := core.Usage{
		PromptTokens:     int(aws.ToInt32(u.InputTokens)),
		CompletionTokens: int(aws.ToInt32(u.OutputTokens)),
		TotalTokens:      int(aws.ToInt32(u.TotalTokens)),
	}
	if out.TotalTokens == 0 {
		out.TotalTokens = out.PromptTokens + out.CompletionTokens
	}
	return out
}

// FromNative converts a Converse output to the canonical response
func FromNative(out *bedrockruntime.ConverseOutput, model string) (*core.ChatResponse, error) {
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return nil, core.NewTranslationError(string(core.ProviderBedrock), "converse output carries no message")
	}
	return &core.ChatResponse{
		Object:  "chat.completion",
		Model:   model,
		Created: time.Now().Unix(),
		Choices: []core.Choice{{
			Index:        0,
			Message:      core.Message{Role: core.RoleAssistant, Content: blockText(msg.Value.Content)},
			FinishReason: finishReason(out.StopReason),
		}},
		Usage: usageFromNative(out.Usage),
	}, nil
}

// eventConverter maps ConverseStream events onto canonical chunks. Bedrock
// sends the usage metadata after messageStop, so the stream only completes
// once the event channel is drained.
type eventConverter struct {
	model   string
	created int64
	stopped bool
}

func (ec *eventConverter) chunk() *core.Chunk {
	return &core.Chunk{Model: ec.model, Created: ec.created}
}

func (ec *eventConverter) convert(event brtypes.ConverseStreamOutput) []*core.Chunk {
	switch ev := event.(type) {
	case *brtypes.ConverseStreamOutputMemberMessageStart:
		c := ec.chunk()
		c.Role = core.RoleAssistant
		return []*core.Chunk{c}
	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		if text, ok := ev.Value.Delta.(*brtypes.ContentBlockDeltaMemberText); ok && text.Value != "" {
			c := ec.chunk()
			c.Delta = text.Value
			return []*core.Chunk{c}
		}
	case *brtypes.ConverseStreamOutputMemberMessageStop:
		ec.stopped = true
		c := ec.chunk()
		c.FinishReason = finishReason(ev.Value.StopReason)
		return []*core.Chunk{c}
	case *brtypes.ConverseStreamOutputMemberMetadata:
		if ev.Value.Usage != nil {
			usage := usageFromNative(ev.Value.Usage)
			c := ec.chunk()
			c.Usage = &usage
			return []*core.Chunk{c}
		}
	}
	return nil
}
