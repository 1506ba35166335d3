package generation

import (
	"os"
	"strings"
)

// defaultPrompt is used when no active template exists in the database.
// Placeholders follow the $name form understood by renderPrompt.
const defaultPrompt = `你是一位熟悉小红书风格的电商文案作者。请为下面的商品写一篇种草笔记。

商品名称：$item_name
商品介绍：$description

要求：
1. 标题不超过 20 个字，口语化，带一点情绪。
2. 正文 150 到 300 字，分段清晰，贴近真实使用感受，不要出现"广告"字样。
3. 给出 3 到 6 个话题标签。
4. 严格以 JSON 返回：{"title": "...", "content": "...", "tags": ["..."]}。`

// renderPrompt substitutes $item_name and $description in the template.
// Unknown placeholders are left untouched so a typo in a stored template
// stays visible instead of silently vanishing.
func renderPrompt(template, itemName, description string) string {
	return os.Expand(template, func(name string) string {
		switch name {
		case "item_name":
			return itemName
		case "description":
			return description
		}
		return "$" + name
	})
}

// promptDescription flattens the optional catalog description.
func promptDescription(desc *string) string {
	if desc == nil {
		return ""
	}
	return strings.TrimSpace(*desc)
}
