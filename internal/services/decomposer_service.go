// internal/services/decomposer_service.go
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Corphon/ChapterForge/internal/apperrors"
	"github.com/Corphon/ChapterForge/internal/logger"
	"github.com/Corphon/ChapterForge/internal/models"
	"github.com/Corphon/ChapterForge/internal/outline"
)

// 分解调用的重试参数：整体重试，线性退避
const (
	decomposeAttempts  = 3
	decomposeRetryBase = 2 * time.Second
)

const decomposerSystemPrompt = "你是一位网文章节架构师，负责把单章大纲拆解为连贯的场景序列。严格按要求输出JSON对象，不要输出任何其他内容。"

// DecomposeInput 章节分解所需的完整上下文
type DecomposeInput struct {
	Novel           *models.Novel
	ChapterNumber   int
	Entry           outline.ChapterOutlineEntry  // 本章大纲条目
	PrevEntry       *outline.ChapterOutlineEntry // 上一章条目，可为空
	NextEntry       *outline.ChapterOutlineEntry // 下一章条目，可为空
	PrevChapterTail string                       // 上一章结尾文本
	StageGuidance   string                       // 阶段引导
	Retrieved       *RetrievedContext            // 检索到的世界观上下文
	UserInstruction string                       // 用户对本章的自由指令
}

// DecomposerService 把单章大纲分解为有序场景梗概。
// 一次结构化调用产出标题、场景列表、蓝图呼应事件与进度评估
type DecomposerService struct {
	llm *LLMService
}

// NewDecomposerService 创建章节分解服务
func NewDecomposerService(llmService *LLMService) *DecomposerService {
	return &DecomposerService{llm: llmService}
}

// Decompose 执行章节分解。JSON解析失败或场景为空时整体重试，
// 线性退避，重试耗尽后返回错误，本章生成中止。
// 场景数超过设置上限时按原顺序截断，不足不补
func (s *DecomposerService) Decompose(ctx context.Context, input DecomposeInput) (*ChapterDecomposition, error) {
	if input.Novel == nil {
		return nil, apperrors.NewValidationError("章节分解需要小说对象", nil)
	}

	settings := input.Novel.Settings
	settings.Normalize()
	prompt := s.buildPrompt(input, settings.ScenesPerChapter)

	var result ChapterDecomposition
	err := retryLinear(ctx, decomposeAttempts, decomposeRetryBase, func() error {
		result = ChapterDecomposition{}
		if err := s.llm.CreateStructuredCompletion(ctx, prompt, decomposerSystemPrompt, &result); err != nil {
			return err
		}
		result.Scenes = usableScenes(result.Scenes)
		if len(result.Scenes) == 0 {
			// 响应可解析但不可用，清掉缓存让重试真正重新生成
			s.llm.InvalidateStructuredCache(prompt, decomposerSystemPrompt)
			return fmt.Errorf("分解结果不含可用场景")
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.NewLLMError(
			fmt.Sprintf("第%d章分解失败，已重试%d次", input.ChapterNumber, decomposeAttempts), err)
	}

	if len(result.Scenes) > settings.ScenesPerChapter {
		logger.GetLogger().Info("分解场景数超出上限，按顺序截断", map[string]interface{}{
			"novel_id": input.Novel.ID,
			"chapter":  input.ChapterNumber,
			"got":      len(result.Scenes),
			"limit":    settings.ScenesPerChapter,
		})
		result.Scenes = result.Scenes[:settings.ScenesPerChapter]
	}

	result.ProgressStatus = NormalizeProgressStatus(result.ProgressStatus)
	result.Title = strings.TrimSpace(result.Title)
	if result.Title == "" {
		if input.Entry.Title != "" {
			result.Title = input.Entry.Title
		} else {
			result.Title = fmt.Sprintf("第%d章", input.ChapterNumber)
		}
	}
	return &result, nil
}

// buildPrompt 组装分解提示词
func (s *DecomposerService) buildPrompt(input DecomposeInput, sceneLimit int) string {
	var sb strings.Builder
	sb.WriteString("请把下面这一章的大纲分解为场景序列。\n\n")
	fmt.Fprintf(&sb, "小说标题：%s\n", input.Novel.Title)
	if style := styleLine(input.Novel.Settings.Style); style != "" {
		sb.WriteString(style)
	}

	fmt.Fprintf(&sb, "\n本章（第%d章）大纲：\n%s\n", input.ChapterNumber, outline.FormatEntry(input.Entry))
	if input.PrevEntry != nil {
		fmt.Fprintf(&sb, "\n上一章大纲（剧情须承接）：\n%s\n", outline.FormatEntry(*input.PrevEntry))
	}
	if input.NextEntry != nil {
		fmt.Fprintf(&sb, "\n下一章大纲（本章不要写到其中的内容）：\n%s\n", outline.FormatEntry(*input.NextEntry))
	}

	if tail := strings.TrimSpace(input.PrevChapterTail); tail != "" {
		fmt.Fprintf(&sb, "\n上一章结尾（第一个场景须与之衔接）：\n%s\n", tail)
	}
	if guidance := strings.TrimSpace(input.StageGuidance); guidance != "" {
		fmt.Fprintf(&sb, "\n阶段引导：\n%s\n", guidance)
	}
	if facts := input.Retrieved.FormatForPrompt(); facts != "" {
		fmt.Fprintf(&sb, "\n世界观参考（人物、场景、伏笔的既有设定，不得矛盾）：\n%s\n", facts)
	}
	if instruction := strings.TrimSpace(input.UserInstruction); instruction != "" {
		fmt.Fprintf(&sb, "\n用户对本章的指令（优先遵循）：\n%s\n", instruction)
	}

	fmt.Fprintf(&sb, `
输出JSON对象，字段如下：
- title: 章节标题，不带"第N章"前缀
- scenes: 场景数组，按时间顺序排列，最多%d个，每个场景包含：
  - goal: 本场景要达成的叙事目标
  - setting: 地点与时间
  - conflict: 核心冲突或张力
  - outcome: 场景结束时的局面
  - characters: 登场角色名数组
- big_outline_events: 本章呼应宏观蓝图的事件列表
- progress_status: 剧情相对大纲的偏离程度，只能取 on-track、minor-deviation、severe-deviation 之一`, sceneLimit)
	return sb.String()
}

// usableScenes 过滤掉目标、冲突、结局全空的无效场景
func usableScenes(scenes []SceneBrief) []SceneBrief {
	kept := make([]SceneBrief, 0, len(scenes))
	for _, sc := range scenes {
		if strings.TrimSpace(sc.Goal) == "" &&
			strings.TrimSpace(sc.Conflict) == "" &&
			strings.TrimSpace(sc.Outcome) == "" {
			continue
		}
		kept = append(kept, sc)
	}
	return kept
}
