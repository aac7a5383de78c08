// Package translator produces Traditional Chinese renditions of article
// titles and summaries via an OpenAI-compatible chat endpoint. Translation
// is best effort: any failure falls back to the source text so the
// pipeline never blocks on the LLM.
package translator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-pkgz/lgr"
	"github.com/sashabaranov/go-openai"

	"github.com/catowabisabi/newsfilter/pkg/config"
)

// Translator converts English news text to Traditional Chinese
type Translator interface {
	// TranslateNews returns (titleCn, summaryCn). Fields that already carry
	// a translation are passed through untouched; on any failure the source
	// text comes back so callers can always use the result.
	TranslateNews(ctx context.Context, title, summary, titleCn, summaryCn string) (string, string)
}

// OpenAI is the LLM-backed translator
type OpenAI struct {
	client *openai.Client
	cfg    config.TranslatorConfig
}

// jsonRe pulls the JSON object out of a completion that wraps it in prose
// or code fences
var jsonRe = regexp.MustCompile(`(?s)\{.*\}`)

const (
	promptBoth = `你是一個專業金融新聞翻譯員。請將以下英文新聞翻譯成繁體中文。
請以JSON格式輸出：{"title_cn": "翻譯後標題", "summary_cn": "翻譯後摘要"}
只輸出JSON，不要其他內容。`

	promptTitleOnly = `你是一個專業金融新聞翻譯員。請將以下英文標題翻譯成繁體中文。
請以JSON格式輸出：{"title_cn": "翻譯後標題"}
只輸出JSON，不要其他內容。`

	promptSummaryOnly = `你是一個專業金融新聞翻譯員。請將以下英文摘要翻譯成繁體中文。
請以JSON格式輸出：{"summary_cn": "翻譯後摘要"}
只輸出JSON，不要其他內容。`
)

// NewOpenAI creates a translator for the configured endpoint and model
func NewOpenAI(cfg config.TranslatorConfig) *OpenAI {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientConfig.BaseURL = cfg.Endpoint
	}
	return &OpenAI{client: openai.NewClientWithConfig(clientConfig), cfg: cfg}
}

type translationResponse struct {
	TitleCn   string `json:"title_cn"`
	SummaryCn string `json:"summary_cn"`
}

// TranslateNews translates the fields that still need it, in one call when
// both are missing.
func (t *OpenAI) TranslateNews(ctx context.Context, title, summary, titleCn, summaryCn string) (string, string) {
	needTitle := !hasTranslation(titleCn, title)
	needSummary := !hasTranslation(summaryCn, summary)

	if !needTitle && !needSummary {
		return titleCn, summaryCn
	}

	var prompt, content string
	switch {
	case needTitle && needSummary:
		prompt = promptBoth
		content = fmt.Sprintf("標題: %s\n\n摘要: %s", title, summary)
	case needTitle:
		prompt = promptTitleOnly
		content = "標題: " + title
	default:
		prompt = promptSummaryOnly
		content = "摘要: " + summary
	}

	resp, err := t.complete(ctx, prompt, content)
	if err != nil {
		lgr.Printf("[WARN] translation failed, using source text: %v", err)
		return fallback(title, summary, titleCn, summaryCn, needTitle, needSummary)
	}

	if needTitle {
		if resp.TitleCn != "" {
			titleCn = resp.TitleCn
		} else {
			titleCn = title
		}
	}
	if needSummary {
		if resp.SummaryCn != "" {
			summaryCn = resp.SummaryCn
		} else {
			summaryCn = summary
		}
	}
	return titleCn, summaryCn
}

func (t *OpenAI) complete(ctx context.Context, systemPrompt, content string) (translationResponse, error) {
	req := openai.ChatCompletionRequest{
		Model:       t.cfg.Model,
		Temperature: float32(t.cfg.Temperature),
		MaxTokens:   t.cfg.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: content},
		},
	}

	resp, err := t.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return translationResponse{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return translationResponse{}, fmt.Errorf("no choices in response")
	}

	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	jsonText := jsonRe.FindString(raw)
	if jsonText == "" {
		return translationResponse{}, fmt.Errorf("no JSON object in response %q", raw)
	}

	var tr translationResponse
	if err := json.Unmarshal([]byte(jsonText), &tr); err != nil {
		return translationResponse{}, fmt.Errorf("parse translation response: %w", err)
	}
	return tr, nil
}

// hasTranslation reports whether the translated value is usable, i.e.
// non-blank and not just an echo of the source text.
func hasTranslation(translated, source string) bool {
	return strings.TrimSpace(translated) != "" && translated != source
}

func fallback(title, summary, titleCn, summaryCn string, needTitle, needSummary bool) (string, string) {
	if needTitle {
		titleCn = title
	}
	if needSummary {
		summaryCn = summary
	}
	return titleCn, summaryCn
}

// Noop passes the source text through, used when no API key is configured
type Noop struct{}

// TranslateNews returns existing translations or the source text
func (Noop) TranslateNews(_ context.Context, title, summary, titleCn, summaryCn string) (string, string) {
	if !hasTranslation(titleCn, title) {
		titleCn = title
	}
	if !hasTranslation(summaryCn, summary) {
		summaryCn = summary
	}
	return titleCn, summaryCn
}
