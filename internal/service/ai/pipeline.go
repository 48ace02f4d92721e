package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/hertscortex/backend/internal/model/persona"
)

// Stage names of the default pipeline.
const (
	StageResolvePersona  = "resolve_persona"
	StagePersonaTemplate = "persona_template"
	StageChatModel       = "chat_model"
)

// Stage appends one named node to the generation chain. Stages run in slice order and each
// must accept what the previous one produces: Request, then template variables, then prompt
// messages, then the model reply.
type Stage struct {
	Name   string
	append func(s *Service, c *compose.Chain[Request, *schema.Message])
}

// DefaultStages returns resolve_persona, persona_template and chat_model.
func DefaultStages() []Stage {
	return []Stage{ResolvePersonaStage(), PersonaTemplateStage(), ChatModelStage()}
}

// ResolvePersonaStage turns a Request into template variables. Unknown persona keys fall back
// to the default persona.
func ResolvePersonaStage() Stage {
	return Stage{
		Name: StageResolvePersona,
		append: func(s *Service, c *compose.Chain[Request, *schema.Message]) {
			c.AppendLambda(compose.InvokableLambda(s.resolvePersona), compose.WithNodeName(StageResolvePersona))
		},
	}
}

// PersonaTemplateStage renders the system block, replayed history and the user query.
func PersonaTemplateStage() Stage {
	return Stage{
		Name: StagePersonaTemplate,
		append: func(_ *Service, c *compose.Chain[Request, *schema.Message]) {
			promptTemplate := prompt.FromMessages(
				schema.FString,
				schema.SystemMessage("{system}"),
				schema.MessagesPlaceholder("history", true),
				schema.UserMessage("{query}"),
			)
			c.AppendChatTemplate(promptTemplate, compose.WithNodeName(StagePersonaTemplate))
		},
	}
}

// MessageStage inserts a transformation of the rendered prompt; place it between
// persona_template and chat_model.
func MessageStage(name string, fn func(ctx context.Context, msgs []*schema.Message) ([]*schema.Message, error)) Stage {
	return Stage{
		Name: name,
		append: func(_ *Service, c *compose.Chain[Request, *schema.Message]) {
			c.AppendLambda(compose.InvokableLambda(fn), compose.WithNodeName(name))
		},
	}
}

// ChatModelStage invokes the service's chat model.
func ChatModelStage() Stage {
	return Stage{
		Name: StageChatModel,
		append: func(s *Service, c *compose.Chain[Request, *schema.Message]) {
			c.AppendChatModel(s.chatModel, compose.WithNodeName(StageChatModel))
		},
	}
}

func (s *Service) compile(ctx context.Context, stages []Stage) (compose.Runnable[Request, *schema.Message], error) {
	chain := compose.NewChain[Request, *schema.Message]()
	for _, stage := range stages {
		stage.append(s, chain)
	}

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile generation chain: %w", err)
	}
	return runnable, nil
}

func (s *Service) resolvePersona(_ context.Context, req Request) (map[string]any, error) {
	spec, known := persona.Resolve(req.Persona)
	if !known {
		s.logger.Warn("unknown persona key, using default",
			zap.String("requested", req.Persona),
			zap.String("persona", string(spec.Key)),
		)
	}

	query := req.Query
	if req.Mode == ModeOneShot && query == "" {
		query = spec.Brief
	}

	s.logger.Debug("generation state",
		zap.String("state", string(StatePromptBuilt)),
		zap.String("persona", string(spec.Key)),
		zap.String("mode", string(req.Mode)),
		zap.Int("history_turns", len(req.History)),
	)

	return map[string]any{
		"system":  buildSystemPrompt(spec, req.Content),
		"history": buildHistoryMessages(req.History, s.cfg.HistoryLimit),
		"query":   query,
	}, nil
}
