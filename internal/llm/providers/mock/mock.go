// internal/llm/providers/mock/mock.go
package mock

import (
	"context"
	"fmt"
	"strings"

	"github.com/Corphon/ChapterForge/internal/llm"
)

func init() {
	llm.Register("mock", func() llm.Provider {
		return &Provider{}
	})
}

// Provider 一个不调用外部模型的占位提供者，便于离线演示与本地调试。
// 按请求特征返回确定性的预置内容：JSON请求给出结构合法的最小响应，
// 普通请求给出固定叙述文本
type Provider struct {
	defaultModel string
}

func (p *Provider) Initialize(config map[string]string) error {
	p.defaultModel = "mock-novelist"
	if model, exists := config["default_model"]; exists && model != "" {
		p.defaultModel = model
	}
	return nil
}

func (p *Provider) GetName() string {
	return "Mock"
}

func (p *Provider) GetSupportedModels() []string {
	return []string{"mock-novelist"}
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text := p.responseFor(req)
	return &llm.CompletionResponse{
		Text:         text,
		FinishReason: "stop",
		TokensUsed:   len([]rune(text)),
		ModelName:    p.defaultModel,
		ProviderName: p.GetName(),
	}, nil
}

func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text := p.responseFor(req)
	respChan := make(chan llm.StreamResponse)
	go func() {
		defer close(respChan)
		// 按固定长度切片模拟流式输出
		runes := []rune(text)
		const chunkSize = 24
		for start := 0; start < len(runes); start += chunkSize {
			end := start + chunkSize
			if end > len(runes) {
				end = len(runes)
			}
			select {
			case respChan <- llm.StreamResponse{Text: string(runes[start:end]), ModelName: p.defaultModel}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case respChan <- llm.StreamResponse{FinishReason: "stop", ModelName: p.defaultModel, Done: true}:
		case <-ctx.Done():
		}
	}()
	return respChan, nil
}

// responseFor 按请求特征路由到对应的预置响应
func (p *Provider) responseFor(req llm.CompletionRequest) string {
	prompt := req.Prompt
	switch {
	case req.JSONMode && strings.Contains(prompt, "macro_outline"):
		return mockBootstrapJSON
	case req.JSONMode && strings.Contains(prompt, "progress_status"):
		return mockDecompositionJSON
	case req.JSONMode && strings.Contains(prompt, "new_characters"):
		return mockDriftJSON
	case req.JSONMode:
		return "{}"
	case strings.Contains(prompt, "续写详细大纲") || strings.Contains(prompt, "续写第"):
		return mockExpansionText(prompt)
	case strings.Contains(prompt, "修订未来大纲"):
		return mockRevisionText(prompt)
	default:
		return mockNarrative
	}
}

// mockRevisionText 从修订提示词里解析起始章节号，生成对应编号的修订条目
func mockRevisionText(prompt string) string {
	from := 2
	if idx := strings.LastIndex(prompt, "从第"); idx >= 0 {
		fmt.Sscanf(prompt[idx:], "从第%d章开始", &from)
	}
	var sb strings.Builder
	for n := from; n < from+2; n++ {
		fmt.Fprintf(&sb, "第%d章：余波与新局\n概要：上一章引入的人物与线索开始发酵，林昭据此调整行动。\n关键事件：\n- 新角色再度现身\n- 林昭顺势布局\n\n", n)
	}
	return strings.TrimSpace(sb.String())
}

// mockExpansionText 从提示词里解析目标章节范围，生成对应编号的条目
func mockExpansionText(prompt string) string {
	from, to := 1, 3
	if _, err := fmt.Sscanf(lastIndexedLine(prompt, "请续写第"), "请续写第%d章到第%d章", &from, &to); err != nil {
		to = from + 2
	}
	var sb strings.Builder
	for n := from; n <= to; n++ {
		fmt.Fprintf(&sb, "第%d章：试炼与转机\n概要：林昭在宗门试炼中遭遇暗算，借助残卷之力化险为夷，声名渐起。\n关键事件：\n- 试炼场上遭遇对手刁难\n- 残卷异动化解杀招\n\n", n)
	}
	return strings.TrimSpace(sb.String())
}

// lastIndexedLine 取提示词中以指定前缀开头的最后一行
func lastIndexedLine(prompt, prefix string) string {
	result := ""
	for _, line := range strings.Split(prompt, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), prefix) {
			result = strings.TrimSpace(line)
		}
	}
	return result
}

const mockBootstrapJSON = `{
  "macro_outline": "【第一阶段】凡尘崛起（第1章-第10章）\n少年林昭偶得上古残卷，在小城宗门中崭露头角。\n本阶段以宗门试炼收束，林昭取得外门第一。\n【第二阶段】风云际会（第11章-第25章）\n林昭进入郡城大比，残卷秘密引来各方觊觎。\n本阶段以郡城大比决赛与身世线索揭开收束。",
  "detailed_outline": "第1章：残卷现世\n概要：林昭在旧书摊意外购得一册残卷，当夜残卷发光认主，体内经脉被打通一线。\n关键事件：\n- 旧书摊购得残卷\n- 残卷夜半认主\n\n第2章：宗门选拔\n概要：青云宗外门选拔开启，林昭凭残卷淬炼的体魄通过初试，结识好友陈默。\n关键事件：\n- 通过外门初试\n- 结识陈默\n\n第3章：暗流初现\n概要：外门弟子赵虎嫉恨林昭，暗中设局欲夺残卷，被林昭将计就计挫败。\n关键事件：\n- 赵虎设局\n- 林昭反制"
}`

const mockDecompositionJSON = `{
  "title": "残卷现世",
  "scenes": [
    {
      "goal": "交代主角处境并引出残卷",
      "setting": "黄昏的旧城书摊",
      "conflict": "摊主坐地起价，林昭倾尽积蓄",
      "outcome": "林昭买下残卷带回住处",
      "characters": ["林昭", "书摊老人"]
    },
    {
      "goal": "残卷认主，展示金手指",
      "setting": "深夜的出租屋",
      "conflict": "残卷灵光灼烧经脉，林昭险些昏死",
      "outcome": "经脉贯通一线，林昭踏入炼体一层",
      "characters": ["林昭"]
    }
  ],
  "big_outline_events": ["残卷认主"],
  "progress_status": "on-track"
}`

const mockDriftJSON = `{
  "new_characters": [
    {"name": "书摊老人", "description": "旧城书摊的神秘摊主，似乎认得残卷来历"}
  ],
  "updated_characters": [
    {"name": "林昭", "description": "获得残卷认主，踏入炼体一层"}
  ],
  "new_scenes": [],
  "updated_scenes": [],
  "new_clues": [
    {"name": "上古残卷", "description": "来历不明的功法残卷，认主后能淬炼经脉"}
  ],
  "updated_clues": [],
  "plot_twists": [],
  "relationship_changes": []
}`

const mockNarrative = "暮色四合，旧城的青石巷里行人渐稀。林昭攥着口袋里仅剩的几枚铜钱，在书摊前站定。摊上杂书堆叠，唯有角落里一册残破的皮卷透着说不出的古意。他指尖刚触到卷面，一缕凉意便顺着手臂窜入心口，像是沉睡多年的某种东西，睁开了眼睛。"
