// Package cover picks a visual style for a link and renders cover images
// through an MCP tool server.
package cover

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/link-publisher/internal/hash/sha256"
)

// Style describes one cover theme.
type Style struct {
	Key         string
	DisplayName string
	Keywords    []string
}

// styles is ordered; ties in SelectStyle go to the earlier entry.
var styles = []Style{
	{"swiss", "🇨🇭 瑞士国际", []string{"技术", "工具", "开发", "AI", "编程", "代码", "框架"}},
	{"acid", "💚 故障酸性", []string{"设计", "创意", "艺术", "潮流", "前卫"}},
	{"pop", "🎨 波普撞色", []string{"新闻", "热点", "娱乐", "有趣", "趋势"}},
	{"shock", "⚡️ 冲击波", []string{"警告", "重要", "必看", "紧急", "注意"}},
	{"diffuse", "🌈 弥散光", []string{"生活", "健康", "情感", "故事", "清新"}},
	{"sticker", "🍭 贴纸风", []string{"可爱", "轻松", "小技巧", "日常", "简单"}},
	{"journal", "📝 手账感", []string{"日记", "记录", "思考", "感悟", "文艺"}},
	{"cinema", "🎬 电影感", []string{"深度", "电影", "故事", "专题", "叙事"}},
	{"tech", "🔵 科技蓝", []string{"科技", "数据", "分析", "报告", "研究"}},
	{"minimal", "⚪️ 极简白", []string{"极简", "设计", "美学", "纯粹"}},
	{"memo", "🟡 备忘录", []string{"笔记", "清单", "总结", "备忘", "实用"}},
	{"geek", "🟢 极客黑", []string{"黑客", "极客", "编程", "开发", "系统"}},
}

// Default styles used when no keyword scores.
const (
	DefaultStyle = "swiss"
	UrgentStyle  = "shock"
)

var urgentMarkers = []string{"!", "！", "必看", "警告", "注意"}

// Styles returns the available styles in selection order.
func Styles() []Style {
	out := make([]Style, len(styles))
	copy(out, styles)
	return out
}

// ValidStyle reports whether key names a known style.
func ValidStyle(key string) bool {
	for _, s := range styles {
		if s.Key == key {
			return true
		}
	}
	return false
}

// DisplayName returns the human label for key, or key itself when unknown.
func DisplayName(key string) string {
	for _, s := range styles {
		if s.Key == key {
			return s.DisplayName
		}
	}
	return key
}

// SelectStyle scores every style against the title (+3 per keyword) and
// each category (+2 per keyword) and returns the best one.
func SelectStyle(title string, categories []string) string {
	best, bestScore := "", 0
	for _, s := range styles {
		score := 0
		for _, kw := range s.Keywords {
			if strings.Contains(title, kw) {
				score += 3
			}
			for _, c := range categories {
				if strings.Contains(c, kw) {
					score += 2
				}
			}
		}
		if score > bestScore {
			best, bestScore = s.Key, score
		}
	}
	if bestScore > 0 {
		return best
	}
	for _, m := range urgentMarkers {
		if strings.Contains(title, m) {
			return UrgentStyle
		}
	}
	return DefaultStyle
}

// FileName derives a stable cover file name for a link.
func FileName(style, rawURL string) string {
	n := sha256.New().Bucket(rawURL, 1_000_000)
	return fmt.Sprintf("cover_%s_%d.png", style, n)
}
