package propose

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"google.golang.org/genai"

	"github.com/lucasnoah/repairloop/internal/checks"
	"github.com/lucasnoah/repairloop/internal/prompt"
)

const (
	defaultMaxTokens    = 4096
	maxPromptCasesBytes = 4 * 1024
	systemPrompt        = "You repair small functions so that they pass their recorded test cases. Reply with one fenced code block containing the full corrected file."
)

// HostedConfig configures a proposer backed by a hosted model API.
type HostedConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	TemplateDir string // optional override directory for propose.md
	Timeout     time.Duration
}

// RenderPrompt builds the user prompt for pc from the propose template.
func RenderPrompt(pc Context, templateDir string) (string, error) {
	tmpl, err := prompt.LoadTemplate(prompt.ProposeTemplate, templateDir)
	if err != nil {
		return "", err
	}
	cases := ""
	if len(pc.TaskPayload) > 0 {
		data, err := json.MarshalIndent(pc.TaskPayload, "", "  ")
		if err == nil {
			cases = checks.TruncateHead(string(data), maxPromptCasesBytes)
		}
	}
	stage := pc.StageFailed
	if stage == "" {
		stage = "unknown"
	}
	return prompt.Render(tmpl, prompt.Vars{
		"task_id":         pc.TaskID,
		"language":        pc.Language,
		"prompt":          pc.Prompt,
		"function_name":   pc.FunctionName,
		"signature":       pc.Signature,
		"code":            strings.TrimRight(pc.Code, "\n"),
		"stage":           stage,
		"failure_type":    pc.FailureType,
		"error_signature": pc.ErrorSignature,
		"error_message":   pc.ErrorMessage,
		"test_cases":      cases,
	})
}

// AnthropicProposer asks a Claude model for a repaired file.
type AnthropicProposer struct {
	client      anthropic.Client
	model       anthropic.Model
	maxTokens   int64
	templateDir string
}

// NewAnthropicProposer builds the client with retries disabled. An empty
// key falls back to ANTHROPIC_API_KEY.
func NewAnthropicProposer(cfg HostedConfig) (*AnthropicProposer, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &AnthropicProposer{
		client:      anthropic.NewClient(opts...),
		model:       model,
		maxTokens:   maxTokens,
		templateDir: cfg.TemplateDir,
	}, nil
}

func (p *AnthropicProposer) ID() string { return "anthropic_proposer" }

func (p *AnthropicProposer) Propose(ctx context.Context, pc Context) (*Result, error) {
	userPrompt, err := RenderPrompt(pc, p.templateDir)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic request: %w", err)
	}
	var text strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(tb.Text)
		}
	}
	code := ExtractCode(text.String(), pc.Language)
	if code == "" {
		return nil, nil
	}
	return NewResult(p.ID(), code, pc), nil
}

// GeminiProposer asks a Gemini model for a repaired file.
type GeminiProposer struct {
	client      *genai.Client
	model       string
	maxTokens   int32
	templateDir string
}

// NewGeminiProposer builds the client. An empty key falls back to
// GEMINI_API_KEY.
func NewGeminiProposer(ctx context.Context, cfg HostedConfig) (*GeminiProposer, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is not set")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	maxTokens := int32(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &GeminiProposer{client: client, model: model, maxTokens: maxTokens, templateDir: cfg.TemplateDir}, nil
}

func (p *GeminiProposer) ID() string { return "gemini_proposer" }

func (p *GeminiProposer) Propose(ctx context.Context, pc Context) (*Result, error) {
	userPrompt, err := RenderPrompt(pc, p.templateDir)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Models.GenerateContent(ctx, p.model,
		[]*genai.Content{genai.NewContentFromText(userPrompt, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
			Temperature:       genai.Ptr[float32](0),
			MaxOutputTokens:   p.maxTokens,
		})
	if err != nil {
		return nil, fmt.Errorf("gemini request: %w", err)
	}
	code := ExtractCode(resp.Text(), pc.Language)
	if code == "" {
		return nil, nil
	}
	return NewResult(p.ID(), code, pc), nil
}
