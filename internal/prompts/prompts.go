package prompts

import (
	"fmt"
	"strings"
)

// ============================================================================
// Index Enhancement Prompts (索引增强)
// ============================================================================

// indexEnhanceTemplate asks the model for search questions about one chunk.
// 生成用户可能提出的问题，作为额外的检索索引
const indexEnhanceTemplate = `
你是一个专业的问题生成助手。请根据给定的文本内容，生成用户可能会问的问题。

要求：
1. 问题要与文本内容密切相关
2. 问题要简洁明了，便于搜索
3. 问题要覆盖文本的不同角度和层面
4. 问题要使用与文本相同的语言
5. 根据文本内容的丰富程度和复杂性，自行判断生成合适数量的问题（最多%d个）
6. 如果文本内容简单，可以生成较少的问题；如果内容丰富，可以生成更多问题
7. 输出格式为JSON数组，每个元素为字符串
%s
文本内容：
"""
%s
"""

请根据上述文本内容生成相关问题（最多%d个）：`

// existingIndexesSection lists indexes the model must not repeat.
const existingIndexesSection = `8. 不要生成与现有索引重复的问题

现有索引：
%s
`

// IndexEnhance builds the index enhancement prompt for one chunk.
// The existing section is only rendered when the chunk already has indexes.
func IndexEnhance(text string, existing []string, size int) string {
	var section string
	if len(existing) > 0 {
		lines := make([]string, 0, len(existing))
		for _, idx := range existing {
			lines = append(lines, "- "+idx)
		}
		section = fmt.Sprintf(existingIndexesSection, strings.Join(lines, "\n"))
	}
	return fmt.Sprintf(indexEnhanceTemplate, size, section, text, size)
}

// ============================================================================
// Paragraph Prompts (段落优化)
// ============================================================================

// ParagraphSystemPrompt restructures plain text into headed markdown.
// 将无标题的纯文本整理为带有 Markdown 标题层级的文本，不改写原文内容
const ParagraphSystemPrompt = `你是文档结构整理助手。请为用户提供的文本补充合适的 Markdown 标题层级（#、##、###），使其按主题分段。

【规则】
1. 不得删除、改写或翻译原文内容，只允许插入标题行和空行
2. 标题使用与原文相同的语言，简洁概括下方段落
3. 标题层级不超过 5 级
4. 直接输出整理后的全文，不要附加任何解释`

// Paragraph builds the user message for the paragraph restructuring pass.
func Paragraph(rawText string) string {
	return "请整理以下文本：\n\n" + rawText
}
