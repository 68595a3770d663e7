// internal/outline/plan_test.go
package outline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlanIndexesEntries(t *testing.T) {
	p := ParsePlan(samplePlan())

	require.Len(t, p.Stages, 2)
	assert.Equal(t, 2, p.EntryCount())
	assert.Equal(t, []int{1, 2}, p.PlannedChapters())
	assert.Equal(t, 2, p.MaxPlannedChapter())

	entry, ok := p.Entry(1)
	require.True(t, ok)
	assert.Equal(t, "书院夜火", entry.Title)
}

// 误排标记不进初始索引，首次查找走容错路径后记忆化
func TestPlanEntryMemoization(t *testing.T) {
	text := `第4章：渡口夜行
概要：夜航渡江。

第 5 . 章 雾锁孤村
概要：全村戒备。

第6章：祠堂对峙
概要：族老逼问。`

	p := ParsePlan(text)
	assert.Equal(t, 2, p.EntryCount())

	entry, ok := p.Entry(5)
	require.True(t, ok)
	assert.Equal(t, "雾锁孤村", entry.Title)
	assert.Equal(t, 3, p.EntryCount())

	again, ok := p.Entry(5)
	require.True(t, ok)
	assert.Equal(t, entry, again)
	assert.Equal(t, 3, p.EntryCount())
}

func TestPlanAppendDetail(t *testing.T) {
	p := ParsePlan(samplePlan())
	require.False(t, p.HasEntry(3))

	p.AppendDetail(`第3章：旧城来信
概要：匿名信到。

第4章：渡口夜行
概要：夜航渡江。`)

	assert.Equal(t, 4, p.MaxPlannedChapter())
	entry, ok := p.Entry(3)
	require.True(t, ok)
	assert.Equal(t, "旧城来信", entry.Title)

	// 追加只动细纲，蓝图不变
	assert.Equal(t, sampleMacro, p.MacroText)
}

func TestPlanSplitDetailAt(t *testing.T) {
	p := ParsePlan(samplePlan())

	past, future := p.SplitDetailAt(2)
	assert.Contains(t, past, "书院夜火")
	assert.NotContains(t, past, "漕船浮尸")
	assert.Contains(t, future, "漕船浮尸")

	// 边界超出已规划范围时全部算已写部分
	past, future = p.SplitDetailAt(99)
	assert.Equal(t, p.DetailText, past)
	assert.Empty(t, future)

	// 边界章标记缺失时取其后最近的规范标记
	past, future = p.SplitDetailAt(0)
	assert.Empty(t, past)
	assert.Equal(t, p.DetailText, future)
}

func TestPlanReplaceFutureDetail(t *testing.T) {
	p := ParsePlan(samplePlan())

	p.ReplaceFutureDetail(2, `第2章：漕船疑云
概要：修订后的第二章。

第3章：新增后续
概要：修订新增。`)

	entry, ok := p.Entry(1)
	require.True(t, ok)
	assert.Equal(t, "书院夜火", entry.Title)

	entry, ok = p.Entry(2)
	require.True(t, ok)
	assert.Equal(t, "漕船疑云", entry.Title)

	entry, ok = p.Entry(3)
	require.True(t, ok)
	assert.Equal(t, "新增后续", entry.Title)
}

func TestPlanRenderRoundTrip(t *testing.T) {
	p := ParsePlan(samplePlan())
	p2 := ParsePlan(p.Render())

	assert.Equal(t, p.MacroText, p2.MacroText)
	assert.Equal(t, p.DetailText, p2.DetailText)
	assert.Equal(t, p.EntryCount(), p2.EntryCount())
}

func TestPlanStageForOverlap(t *testing.T) {
	p := ParsePlan(`【阶段】前盟（第1章-第10章）
概要甲。

【阶段】后盟（第8章-第20章）
概要乙。

` + DetailSeparator + `

第1章：起
概要：一。`)

	require.Len(t, p.Stages, 2)

	// 重叠区间取先声明的阶段
	stage, ok := p.StageFor(9)
	require.True(t, ok)
	assert.Contains(t, stage.Name, "前盟")

	stage, ok = p.StageFor(15)
	require.True(t, ok)
	assert.Contains(t, stage.Name, "后盟")

	_, ok = p.StageFor(99)
	assert.False(t, ok)
}
