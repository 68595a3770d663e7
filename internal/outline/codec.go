// internal/outline/codec.go
package outline

import (
	"regexp"
	"strconv"
	"strings"
)

// 大纲文本中的字面标记。模型产出的计划文本用这些标记
// 划分宏观蓝图与详细大纲，解析时必须原样匹配
const (
	DetailSeparator = "=== 详细大纲 ==="
	LegacySeparator = "【分割线】"
	ElisionMarker   = "……(后续大纲省略)"
)

// NarrativeStage 宏观蓝图中的一个叙事阶段
type NarrativeStage struct {
	Name         string `json:"name"`          // 阶段名称
	StartChapter int    `json:"start_chapter"` // 起始章节（含）
	EndChapter   int    `json:"end_chapter"`   // 结束章节（含）
	Summary      string `json:"summary"`       // 核心概要
}

// Contains 判断章节是否落在该阶段范围内
func (s NarrativeStage) Contains(chapter int) bool {
	return chapter >= s.StartChapter && chapter <= s.EndChapter
}

// Completion 章节在阶段内的完成度，范围 [0,1]
func (s NarrativeStage) Completion(chapter int) float64 {
	span := s.EndChapter - s.StartChapter
	if span <= 0 {
		return 1.0
	}
	pos := float64(chapter-s.StartChapter) / float64(span)
	if pos < 0 {
		return 0
	}
	if pos > 1 {
		return 1
	}
	return pos
}

// ChapterOutlineEntry 详细大纲中单章的条目
type ChapterOutlineEntry struct {
	Number    int      `json:"number"`     // 章节号
	Title     string   `json:"title"`      // 章节标题
	Summary   string   `json:"summary"`    // 剧情概要
	KeyEvents []string `json:"key_events"` // 关键事件，按发生顺序
	Raw       string   `json:"raw"`        // 原始条目文本，供提示词直接注入
}

// Split 将计划文本拆分为宏观蓝图与详细大纲两段。
// 优先按当前分隔符拆分，找不到时回退旧版分隔符；
// 两者都不存在时整段视为详细大纲
func Split(plan string) (macro, detailed string) {
	for _, sep := range []string{DetailSeparator, LegacySeparator} {
		if idx := strings.Index(plan, sep); idx >= 0 {
			macro = strings.TrimSpace(plan[:idx])
			detailed = strings.TrimSpace(plan[idx+len(sep):])
			return macro, detailed
		}
	}
	return "", strings.TrimSpace(plan)
}

// Join 将两段文本重组为单一计划文本，是 Split 的逆操作。
// 旧版分隔符在重组时统一升级为当前分隔符；
// 宏观蓝图为空时不写分隔符，保证再次 Split 仍是纯详细大纲
func Join(macro, detailed string) string {
	macro = strings.TrimSpace(macro)
	detailed = strings.TrimSpace(detailed)
	if macro == "" {
		return detailed
	}
	if detailed == "" {
		return macro + "\n\n" + DetailSeparator
	}
	return macro + "\n\n" + DetailSeparator + "\n\n" + detailed
}

// 阶段范围，容忍“第X章-第Y章”“第X-Y章”、全角数字与 -—~至到 等连接符
var stageRangeRe = regexp.MustCompile(`第\s*([0-9０-９]+)\s*(?:章)?\s*[-—－~～至到]+\s*(?:第\s*)?([0-9０-９]+)\s*章`)

// ExtractStages 从宏观蓝图中解析叙事阶段列表。
// 含章节范围的行视为阶段标题行，其后各行累积为概要；
// 没有范围的开头行全部忽略，解析失败的阶段直接跳过
func ExtractStages(macro string) []NarrativeStage {
	var stages []NarrativeStage
	var current *NarrativeStage

	for _, line := range strings.Split(macro, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if m := stageRangeRe.FindStringSubmatchIndex(trimmed); m != nil {
			start, ok1 := parseChapterNumber(trimmed[m[2]:m[3]])
			end, ok2 := parseChapterNumber(trimmed[m[4]:m[5]])
			if !ok1 || !ok2 || end < start {
				// 范围异常的标题行并入当前阶段概要
				if current != nil {
					current.Summary = appendSummaryLine(current.Summary, trimmed)
				}
				continue
			}
			if current != nil {
				stages = append(stages, *current)
			}
			name := cleanStageName(trimmed[:m[0]] + trimmed[m[1]:])
			current = &NarrativeStage{Name: name, StartChapter: start, EndChapter: end}
			continue
		}

		if current != nil {
			current.Summary = appendSummaryLine(current.Summary, trimmed)
		}
	}

	if current != nil {
		stages = append(stages, *current)
	}
	return stages
}

func appendSummaryLine(summary, line string) string {
	line = strings.TrimSpace(strings.TrimPrefix(line, "核心概要："))
	line = strings.TrimSpace(strings.TrimPrefix(line, "核心概要:"))
	if line == "" {
		return summary
	}
	if summary == "" {
		return line
	}
	return summary + "\n" + line
}

// cleanStageName 去掉阶段标题行残留的装饰符号，
// 括号类装饰替换为空格，避免“【一】二”粘连
func cleanStageName(s string) string {
	s = strings.NewReplacer(
		"【", " ", "】", " ", "「", " ", "」", " ",
		"（", " ", "）", " ", "(", " ", ")", " ",
	).Replace(s)
	s = strings.TrimFunc(s, func(r rune) bool {
		switch r {
		case '：', ':', '、', '，', ',', '-', '—', ' ', '　', '*', '#':
			return true
		}
		return false
	})
	return strings.Join(strings.Fields(s), " ")
}

// 章节标记扫描。宽松式允许数字间混入空格、点号等模型误排字符，
// 但不跨行，避免把换行两侧的无关数字串成标记
var (
	strictMarkerRe = regexp.MustCompile(`第([0-9０-９]+)章`)
	looseMarkerRe  = regexp.MustCompile(`第[ \t　]*[0-9０-９][0-9０-９ \t　.．、]*章`)
)

// chapterMarker 详细大纲中扫描到的一个章节标记
type chapterMarker struct {
	number int  // 解析出的章节号
	start  int  // 标记起始字节偏移
	end    int  // 标记结束字节偏移
	exact  bool // 是否为规范写法（无空格、点号混入）
}

// scanMarkers 按文档顺序扫描所有行首章节标记
func scanMarkers(detailed string) []chapterMarker {
	var markers []chapterMarker
	for _, loc := range looseMarkerRe.FindAllStringIndex(detailed, -1) {
		if !lineAnchored(detailed, loc[0]) {
			continue
		}
		matched := detailed[loc[0]:loc[1]]
		num, ok := parseChapterNumber(matched)
		if !ok {
			continue
		}
		markers = append(markers, chapterMarker{
			number: num,
			start:  loc[0],
			end:    loc[1],
			exact:  strictMarkerRe.MatchString(matched) && !strings.ContainsAny(matched, " 　.．、"),
		})
	}
	return markers
}

// lineAnchored 判断偏移处的标记是否位于行首。
// 行内提及（如“回收第3章的伏笔”）不算章节标记，
// 行首允许少量列表或标题装饰符
func lineAnchored(text string, offset int) bool {
	lineStart := strings.LastIndexByte(text[:offset], '\n') + 1
	for _, r := range text[lineStart:offset] {
		switch r {
		case ' ', '\t', '　', '#', '*', '-', '>', '【', '「', '·':
		default:
			return false
		}
	}
	return true
}

// parseChapterNumber 从标记文本中提取章节号，全角数字一并归一
func parseChapterNumber(s string) (int, bool) {
	var digits []rune
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits = append(digits, r)
		case r >= '０' && r <= '９':
			digits = append(digits, rune('0'+(r-'０')))
		}
	}
	if len(digits) == 0 || len(digits) > 6 {
		return 0, false
	}
	n, err := strconv.Atoi(string(digits))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// ExtractEntry 从详细大纲中提取指定章节的条目。
// 依次尝试：规范标记精确匹配；宽松标记的数字纠偏
// （空格点号混排、数字粘连）；前后相邻标记间的位置推断；
// 最后把第 N 个标记当作第 N 章兜底
func ExtractEntry(detailed string, chapterNumber int) (ChapterOutlineEntry, bool) {
	if chapterNumber <= 0 {
		return ChapterOutlineEntry{}, false
	}
	markers := scanMarkers(detailed)
	if len(markers) == 0 {
		return ChapterOutlineEntry{}, false
	}

	if idx := exactMarkerIndex(markers, chapterNumber); idx >= 0 {
		return sliceEntry(detailed, markers, idx, chapterNumber), true
	}
	if idx := fuzzyMarkerIndex(detailed, markers, chapterNumber); idx >= 0 {
		return sliceEntry(detailed, markers, idx, chapterNumber), true
	}
	if idx := positionalMarkerIndex(markers, chapterNumber); idx >= 0 {
		return sliceEntry(detailed, markers, idx, chapterNumber), true
	}
	// 兜底：第 N 个标记视为第 N 章
	if chapterNumber <= len(markers) {
		return sliceEntry(detailed, markers, chapterNumber-1, chapterNumber), true
	}
	return ChapterOutlineEntry{}, false
}

// exactMarkerIndex 规范写法且章节号完全一致的标记
func exactMarkerIndex(markers []chapterMarker, n int) int {
	for i, m := range markers {
		if m.exact && m.number == n {
			return i
		}
	}
	return -1
}

// fuzzyMarkerIndex 数字纠偏：先找宽松解析后章节号一致的标记
// （覆盖“第 5 . 章”类误排），再在前后章标记之间找
// 数字串包含目标号的粘连标记（如“第45章”实为第4、5章粘连）
func fuzzyMarkerIndex(detailed string, markers []chapterMarker, n int) int {
	for i, m := range markers {
		if !m.exact && m.number == n {
			return i
		}
	}

	prev := exactMarkerIndex(markers, n-1)
	next := exactMarkerIndex(markers, n+1)
	target := strconv.Itoa(n)
	for i, m := range markers {
		if m.number == n {
			continue // 已在上一轮检查
		}
		if prev >= 0 && i <= prev {
			continue
		}
		if next >= 0 && i >= next {
			continue
		}
		if prev < 0 && next < 0 {
			continue
		}
		digits := digitString(detailed[m.start:m.end])
		if len(digits) > len(target) && strings.Contains(digits, target) {
			return i
		}
	}
	return -1
}

// positionalMarkerIndex 位置推断：第 N-1 与 N+1 章标记之间
// 恰好夹着唯一一个标记时，无论其解析结果如何都视为第 N 章
func positionalMarkerIndex(markers []chapterMarker, n int) int {
	prev := exactMarkerIndex(markers, n-1)
	next := exactMarkerIndex(markers, n+1)
	if prev < 0 || next < 0 || next-prev != 2 {
		return -1
	}
	return prev + 1
}

func digitString(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r >= '０' && r <= '９':
			sb.WriteRune(rune('0' + (r - '０')))
		}
	}
	return sb.String()
}

// sliceEntry 截取标记到下一标记之间的文本并解析为条目
func sliceEntry(detailed string, markers []chapterMarker, idx, chapterNumber int) ChapterOutlineEntry {
	end := len(detailed)
	if idx+1 < len(markers) {
		end = markers[idx+1].start
	}
	block := strings.TrimSpace(detailed[markers[idx].start:end])
	return parseEntryBlock(chapterNumber, block, markers[idx].end-markers[idx].start)
}

// parseEntryBlock 把单章条目文本解析为结构化条目。
// 标签缺失时按启发式归类：列表行进关键事件，其余进概要
func parseEntryBlock(chapterNumber int, block string, markerLen int) ChapterOutlineEntry {
	entry := ChapterOutlineEntry{Number: chapterNumber, Raw: block}
	lines := strings.Split(block, "\n")
	if len(lines) == 0 {
		return entry
	}

	head := lines[0]
	if markerLen <= len(head) {
		head = head[markerLen:]
	}
	entry.Title = strings.TrimFunc(head, func(r rune) bool {
		switch r {
		case '：', ':', '、', '.', '．', '-', '—', ' ', '　', '*', '】', '」', '《', '》':
			return true
		}
		return false
	})

	var summaryLines []string
	inEvents := false
	for _, line := range lines[1:] {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		switch {
		case strings.HasPrefix(trimmed, "关键事件"):
			inEvents = true
			rest := strings.TrimLeft(strings.TrimPrefix(trimmed, "关键事件"), "：: 　")
			if rest != "" {
				entry.KeyEvents = append(entry.KeyEvents, rest)
			}
		case isBulletLine(trimmed):
			entry.KeyEvents = append(entry.KeyEvents, trimBullet(trimmed))
		case inEvents:
			entry.KeyEvents = append(entry.KeyEvents, trimmed)
		default:
			text := strings.TrimLeft(strings.TrimPrefix(strings.TrimPrefix(trimmed, "概要"), "摘要"), "：: 　")
			if text != "" {
				summaryLines = append(summaryLines, text)
			}
		}
	}
	entry.Summary = strings.Join(summaryLines, "\n")
	return entry
}

func isBulletLine(line string) bool {
	for _, prefix := range []string{"- ", "• ", "· ", "* ", "－"} {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

func trimBullet(line string) string {
	return strings.TrimLeft(line, "-•·*－ 　")
}

// MaxChapterNumber 详细大纲中出现的最大章节号，
// 没有任何标记时返回 0
func MaxChapterNumber(detailed string) int {
	max := 0
	for _, m := range scanMarkers(detailed) {
		if m.exact && m.number > max {
			max = m.number
		}
	}
	if max > 0 {
		return max
	}
	for _, m := range scanMarkers(detailed) {
		if m.number > max {
			max = m.number
		}
	}
	return max
}

// TruncateRunes 按字符数截断文本，返回头部与被截掉的尾部。
// 截断点回退到最近的换行，避免拦腰斩断条目行
func TruncateRunes(s string, limit int) (head, tail string) {
	if limit <= 0 {
		return "", s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s, ""
	}
	cut := limit
	for i := limit; i > limit/2; i-- {
		if runes[i-1] == '\n' {
			cut = i
			break
		}
	}
	return string(runes[:cut]), string(runes[cut:])
}
