package analyze

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/link-publisher/internal/retrieval"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-1.5-flash"

const maxPromptRunes = 8000

// Categories offered to the model.
var Categories = []string{"技术", "AI", "产品", "设计", "商业", "新闻", "生活", "工具", "其他"}

const promptTemplate = `你是一名内容编辑。阅读下面的网页内容，输出 JSON 对象：
{"title": "不超过30字的标题", "summary": "100到200字的中文简介", "categories": ["从给定类别中选择1到3个"]}
可选类别：%s
链接：%s

内容：
%s`

// GeminiAnalyzer asks a Gemini model for a JSON analysis.
type GeminiAnalyzer struct {
	client   *genai.Client
	model    string
	logger   *zap.Logger
	generate func(ctx context.Context, prompt string) (string, error)
}

// NewGemini builds an analyzer backed by the Gemini API.
func NewGemini(ctx context.Context, apiKey, model string, logger *zap.Logger) (*GeminiAnalyzer, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	a := &GeminiAnalyzer{client: client, model: model, logger: logger.Named("analyze")}
	a.generate = a.generateJSON
	return a, nil
}

// Analyze builds a prompt from content and decodes the model's answer.
func (a *GeminiAnalyzer) Analyze(ctx context.Context, rawURL, content string) (Analysis, error) {
	prompt := fmt.Sprintf(promptTemplate,
		strings.Join(Categories, "、"), rawURL, retrieval.Prefix(content, maxPromptRunes))

	text, err := a.generate(ctx, prompt)
	if err != nil {
		return Analysis{}, err
	}
	analysis, err := ParseAnalysis([]byte(stripCodeFence(text)))
	if err != nil {
		return Analysis{}, err
	}
	a.logger.Debug("analysis generated",
		zap.String("url", rawURL),
		zap.String("title", analysis.Title),
		zap.Strings("categories", analysis.Categories),
	)
	return analysis, nil
}

// Close releases the API client.
func (a *GeminiAnalyzer) Close() error {
	if a.client == nil {
		return nil
	}
	if err := a.client.Close(); err != nil {
		return fmt.Errorf("close gemini client: %w", err)
	}
	return nil
}

func (a *GeminiAnalyzer) generateJSON(ctx context.Context, prompt string) (string, error) {
	model := a.client.GenerativeModel(a.model)
	model.SetTemperature(0.2)
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return responseText(resp)
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.New("no candidates in response")
	}
	c := resp.Candidates[0]
	if c.Content == nil {
		return "", errors.New("no content in response")
	}
	var b strings.Builder
	for _, part := range c.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if b.Len() == 0 {
		return "", errors.New("no text parts in response")
	}
	return b.String(), nil
}

func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
