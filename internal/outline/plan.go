// internal/outline/plan.go
package outline

import (
	"fmt"
	"sort"
	"strings"
)

// Plan 一部小说的结构化计划，在边界处从文本一次性解析，
// 内部逻辑只操作结构化形态，不再反复模糊解析。
// 单部小说的生成流水线串行执行，Plan 不做并发防护
type Plan struct {
	MacroText  string           // 宏观蓝图原文
	DetailText string           // 详细大纲原文
	Stages     []NarrativeStage // 解析后的叙事阶段

	entries map[int]ChapterOutlineEntry // 章节号 -> 条目，含容错查找的记忆化结果
}

// ParsePlan 解析计划文本。规范标记的条目在此一次性建表，
// 误排标记留给 Entry 的容错路径按需补查
func ParsePlan(text string) *Plan {
	macro, detailed := Split(text)
	p := &Plan{
		MacroText:  macro,
		DetailText: detailed,
		Stages:     ExtractStages(macro),
	}
	p.reindex()
	return p
}

// reindex 重建章节条目索引，大纲文本变更后调用
func (p *Plan) reindex() {
	p.entries = make(map[int]ChapterOutlineEntry)
	markers := scanMarkers(p.DetailText)
	for i, m := range markers {
		if !m.exact {
			continue
		}
		if _, dup := p.entries[m.number]; dup {
			continue // 重复章节号保留首个条目
		}
		p.entries[m.number] = sliceEntry(p.DetailText, markers, i, m.number)
	}
}

// Entry 查找章节条目。索引未命中时走一次容错提取，
// 命中结果记忆化，同一缺口最多模糊解析一次
func (p *Plan) Entry(chapterNumber int) (ChapterOutlineEntry, bool) {
	if entry, ok := p.entries[chapterNumber]; ok {
		return entry, true
	}
	entry, ok := ExtractEntry(p.DetailText, chapterNumber)
	if !ok {
		return ChapterOutlineEntry{}, false
	}
	p.entries[chapterNumber] = entry
	return entry, true
}

// HasEntry 仅探测条目是否可得，不触发记忆化以外的副作用
func (p *Plan) HasEntry(chapterNumber int) bool {
	_, ok := p.Entry(chapterNumber)
	return ok
}

// MaxPlannedChapter 已规划的最大章节号
func (p *Plan) MaxPlannedChapter() int {
	max := 0
	for n := range p.entries {
		if n > max {
			max = n
		}
	}
	if max == 0 {
		max = MaxChapterNumber(p.DetailText)
	}
	return max
}

// PlannedChapters 已建索引的章节号，升序
func (p *Plan) PlannedChapters() []int {
	numbers := make([]int, 0, len(p.entries))
	for n := range p.entries {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	return numbers
}

// StageFor 返回包含指定章节的叙事阶段。
// 阶段范围允许重叠，重叠时取最先声明的阶段
func (p *Plan) StageFor(chapterNumber int) (NarrativeStage, bool) {
	for _, s := range p.Stages {
		if s.Contains(chapterNumber) {
			return s, true
		}
	}
	return NarrativeStage{}, false
}

// AppendDetail 追加一批新的详细大纲文本并重建索引
func (p *Plan) AppendDetail(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if p.DetailText == "" {
		p.DetailText = text
	} else {
		p.DetailText = p.DetailText + "\n\n" + text
	}
	p.reindex()
}

// SplitDetailAt 以指定章节为界拆分详细大纲：
// past 为该章之前的已写部分，future 为该章起的未写部分。
// 找不到边界标记时整段视为 past
func (p *Plan) SplitDetailAt(chapterNumber int) (past, future string) {
	markers := scanMarkers(p.DetailText)
	if len(markers) == 0 {
		return p.DetailText, ""
	}

	boundary := -1
	if idx := exactMarkerIndex(markers, chapterNumber); idx >= 0 {
		boundary = markers[idx].start
	} else {
		// 目标章标记缺失时取其后最近的规范标记
		for _, m := range markers {
			if m.exact && m.number > chapterNumber {
				boundary = m.start
				break
			}
		}
	}
	if boundary < 0 {
		return p.DetailText, ""
	}
	return strings.TrimSpace(p.DetailText[:boundary]), strings.TrimSpace(p.DetailText[boundary:])
}

// ReplaceFutureDetail 用修订后的未来大纲替换指定章节起的部分，
// 已写部分原样保留
func (p *Plan) ReplaceFutureDetail(fromChapter int, revised string) {
	past, _ := p.SplitDetailAt(fromChapter)
	revised = strings.TrimSpace(revised)
	switch {
	case past == "":
		p.DetailText = revised
	case revised == "":
		p.DetailText = past
	default:
		p.DetailText = past + "\n\n" + revised
	}
	p.reindex()
}

// Render 序列化回单一计划文本，与 ParsePlan 互逆
func (p *Plan) Render() string {
	return Join(p.MacroText, p.DetailText)
}

// EntryCount 已索引条目数
func (p *Plan) EntryCount() int {
	return len(p.entries)
}

// FormatEntry 把条目格式化为提示词引用文本
func FormatEntry(entry ChapterOutlineEntry) string {
	if entry.Raw != "" {
		return entry.Raw
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "第%d章：%s\n", entry.Number, entry.Title)
	if entry.Summary != "" {
		sb.WriteString("概要：" + entry.Summary + "\n")
	}
	if len(entry.KeyEvents) > 0 {
		sb.WriteString("关键事件：\n")
		for _, e := range entry.KeyEvents {
			sb.WriteString("- " + e + "\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
