package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	openaisdk "github.com/openai/openai-go"
	"golang.org/x/time/rate"

	contractx "github.com/planforge/planforge/agent/contract"
	llmx "github.com/planforge/planforge/agent/llm"
	promptx "github.com/planforge/planforge/agent/prompt"
	perplexityx "github.com/planforge/planforge/pkg/perplexity"
)

// Toolkit bundles the model-backed chat components: intent classifier,
// answerer and section editor on the shared eino chat model, plus a
// company extractor on the raw SDK client. One rate limiter covers all
// of them.
type Toolkit struct {
	classifier *llmClassifier
	answerer   *llmAnswerer
	editor     *llmEditor
	extractor  *sdkExtractor
}

func NewToolkit(ctx context.Context, cfg llmx.Config) (*Toolkit, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	prompts := promptx.LoadPromptSet()
	providerCfg := cfg.PerplexityForChat()
	limiter := providerCfg.Limiter()

	chatModel, err := providerCfg.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: create chat model: %v", contractx.ErrModelInvoke, err)
	}

	classifierRunner, err := compileJSONGraph[intentVerdict](ctx, chatModel, prompts.ChatClassifier, "chat.classify")
	if err != nil {
		return nil, err
	}
	answerRunner, err := compileTextGraph(ctx, chatModel, prompts.ChatAnswer, "chat.answer")
	if err != nil {
		return nil, err
	}
	editorRunner, err := compileJSONGraph[json.RawMessage](ctx, chatModel, prompts.SectionEditor, "chat.edit_section")
	if err != nil {
		return nil, err
	}

	// Extraction is a single structured call with no research context, so
	// it goes through the raw SDK client instead of an eino graph.
	rawClient, err := perplexityx.NewClient(providerCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: create raw client: %v", contractx.ErrModelInvoke, err)
	}

	return &Toolkit{
		classifier: &llmClassifier{runner: classifierRunner, limiter: limiter},
		answerer:   &llmAnswerer{runner: answerRunner, limiter: limiter},
		editor:     &llmEditor{runner: editorRunner, limiter: limiter},
		extractor: &sdkExtractor{
			client:  rawClient,
			model:   providerCfg.Model,
			prompt:  prompts.CompanyExtractor,
			limiter: limiter,
		},
	}, nil
}

func (t *Toolkit) Classifier() contractx.Classifier             { return t.classifier }
func (t *Toolkit) Answerer() contractx.Answerer                 { return t.answerer }
func (t *Toolkit) SectionEditor() contractx.SectionEditor       { return t.editor }
func (t *Toolkit) CompanyExtractor() contractx.CompanyExtractor { return t.extractor }

type intentVerdict struct {
	Mode            string   `json:"mode"`
	RefreshKinds    []string `json:"refresh_kinds"`
	EditKind        string   `json:"edit_kind"`
	EditInstruction string   `json:"edit_instruction"`
}

type companyList struct {
	Companies []string `json:"companies"`
}

type llmClassifier struct {
	runner  compose.Runnable[map[string]any, intentVerdict]
	limiter *rate.Limiter
}

func (c *llmClassifier) Classify(ctx context.Context, message string) (contractx.ChatIntent, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return contractx.ChatIntent{}, err
	}
	verdict, err := c.runner.Invoke(ctx, map[string]any{"input": message})
	if err != nil {
		return contractx.ChatIntent{}, fmt.Errorf("%w: classify: %v", contractx.ErrModelInvoke, err)
	}

	intent := contractx.ChatIntent{
		Mode:            contractx.ChatMode(strings.ToLower(strings.TrimSpace(verdict.Mode))),
		EditInstruction: verdict.EditInstruction,
	}
	for _, raw := range verdict.RefreshKinds {
		if kind, ok := contractx.ParseSectionKind(raw); ok {
			intent.RefreshKinds = append(intent.RefreshKinds, kind)
		}
	}
	if kind, ok := contractx.ParseSectionKind(verdict.EditKind); ok {
		intent.EditKind = kind
	}
	return intent, nil
}

type llmAnswerer struct {
	runner  compose.Runnable[map[string]any, string]
	limiter *rate.Limiter
}

func (a *llmAnswerer) Answer(ctx context.Context, req contractx.AnswerRequest) (string, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return "", err
	}
	input, err := json.Marshal(map[string]any{
		"message": req.Message,
		"persona": map[string]any{
			"name":    req.Persona.Name,
			"role":    req.Persona.Role,
			"company": req.Persona.Company,
			"region":  req.Persona.Region,
			"goal":    req.Persona.Goal,
		},
		"report":         json.RawMessage(nonEmptyJSON(req.ReportJSON)),
		"memory_summary": req.MemorySummary,
	})
	if err != nil {
		return "", fmt.Errorf("marshal answer input: %w", err)
	}

	reply, err := a.runner.Invoke(ctx, map[string]any{"input": string(input)})
	if err != nil {
		return "", fmt.Errorf("%w: answer: %v", contractx.ErrModelInvoke, err)
	}
	return strings.TrimSpace(reply), nil
}

type llmEditor struct {
	runner  compose.Runnable[map[string]any, json.RawMessage]
	limiter *rate.Limiter
}

func (e *llmEditor) Rewrite(
	ctx context.Context,
	kind contractx.SectionKind,
	prior []byte,
	instruction string,
) ([]byte, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	input, err := json.Marshal(map[string]any{
		"kind":        string(kind),
		"prior":       json.RawMessage(nonEmptyJSON(prior)),
		"instruction": instruction,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal edit input: %w", err)
	}

	payload, err := e.runner.Invoke(ctx, map[string]any{"input": string(input)})
	if err != nil {
		return nil, fmt.Errorf("%w: rewrite section: %v", contractx.ErrModelInvoke, err)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: editor returned no payload", contractx.ErrSchemaViolation)
	}
	return payload, nil
}

type sdkExtractor struct {
	client  *openaisdk.Client
	model   string
	prompt  string
	limiter *rate.Limiter
}

func (e *sdkExtractor) Extract(ctx context.Context, text string, max int) ([]string, error) {
	if max <= 0 {
		max = 2
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	input, err := json.Marshal(map[string]any{"text": text, "max": max})
	if err != nil {
		return nil, fmt.Errorf("marshal extract input: %w", err)
	}

	resp, err := e.client.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(e.model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(e.prompt),
			openaisdk.UserMessage(string(input)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: extract companies: %v", contractx.ErrModelInvoke, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: extractor returned no choices", contractx.ErrModelInvoke)
	}

	list, err := parseCompanyList(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: extract companies: %v", contractx.ErrSchemaViolation, err)
	}

	companies := make([]string, 0, max)
	for _, name := range list.Companies {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		companies = append(companies, name)
		if len(companies) == max {
			break
		}
	}
	return companies, nil
}

// parseCompanyList tolerates prose or code fences around the JSON object
// the prompt asks for.
func parseCompanyList(content string) (companyList, error) {
	var list companyList
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return list, fmt.Errorf("no JSON object in %q", content)
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &list); err != nil {
		return list, err
	}
	return list, nil
}

func compileJSONGraph[T any](
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	systemPrompt string,
	graphName string,
) (compose.Runnable[map[string]any, T], error) {
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, fmt.Errorf("%w: %s", contractx.ErrPromptMissing, graphName)
	}

	template := einoprompt.FromMessages(
		schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.UserMessage("{input}"),
	)
	parser := schema.NewMessageJSONParser[T](&schema.MessageJSONParseConfig{
		ParseFrom: schema.MessageParseFromContent,
	})

	graph := compose.NewGraph[map[string]any, T]()
	if err := graph.AddChatTemplateNode("prompt", template); err != nil {
		return nil, fmt.Errorf("add %s prompt node: %w", graphName, err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add %s model node: %w", graphName, err)
	}
	if err := graph.AddLambdaNode("parse_json", compose.MessageParser(parser)); err != nil {
		return nil, fmt.Errorf("add %s parser node: %w", graphName, err)
	}

	edges := [][2]string{
		{compose.START, "prompt"},
		{"prompt", "model"},
		{"model", "parse_json"},
		{"parse_json", compose.END},
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add %s edge %s->%s: %w", graphName, edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName(graphName))
	if err != nil {
		return nil, fmt.Errorf("compile %s graph: %w", graphName, err)
	}
	return runner, nil
}

func compileTextGraph(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	systemPrompt string,
	graphName string,
) (compose.Runnable[map[string]any, string], error) {
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, fmt.Errorf("%w: %s", contractx.ErrPromptMissing, graphName)
	}

	template := einoprompt.FromMessages(
		schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.UserMessage("{input}"),
	)

	graph := compose.NewGraph[map[string]any, string]()
	if err := graph.AddChatTemplateNode("prompt", template); err != nil {
		return nil, fmt.Errorf("add %s prompt node: %w", graphName, err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add %s model node: %w", graphName, err)
	}
	if err := graph.AddLambdaNode("extract_text",
		compose.InvokableLambda(func(ctx context.Context, msg *schema.Message) (string, error) {
			if msg == nil {
				return "", fmt.Errorf("%w: model returned no message", contractx.ErrModelInvoke)
			}
			return msg.Content, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add %s extract node: %w", graphName, err)
	}

	edges := [][2]string{
		{compose.START, "prompt"},
		{"prompt", "model"},
		{"model", "extract_text"},
		{"extract_text", compose.END},
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add %s edge %s->%s: %w", graphName, edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName(graphName))
	if err != nil {
		return nil, fmt.Errorf("compile %s graph: %w", graphName, err)
	}
	return runner, nil
}

func nonEmptyJSON(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}
