package chat

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	contractx "github.com/planforge/planforge/agent/contract"
	chatnode "github.com/planforge/planforge/agent/nodes/chat"
)

func (o *Orchestrator) compileHandleTurnGraph(
	ctx context.Context,
) (compose.Runnable[chatnode.GraphInput, chatnode.GraphOutput], error) {
	graph := compose.NewGraph[chatnode.GraphInput, chatnode.GraphOutput]()

	if err := graph.AddLambdaNode("validate_request",
		compose.InvokableLambda(func(ctx context.Context, in chatnode.GraphInput) (*chatnode.GraphState, error) {
			return chatnode.ValidateRequest(in, o.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_request: %w", err)
	}

	if err := graph.AddLambdaNode("load_context",
		compose.InvokableLambda(func(ctx context.Context, in *chatnode.GraphState) (*chatnode.GraphState, error) {
			return chatnode.LoadContext(ctx, in, o.personas, o.repo)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node load_context: %w", err)
	}

	if err := graph.AddLambdaNode("read_memory",
		compose.InvokableLambda(func(ctx context.Context, in *chatnode.GraphState) (*chatnode.GraphState, error) {
			return chatnode.ReadMemory(ctx, in, o.memory)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node read_memory: %w", err)
	}

	if err := graph.AddLambdaNode("classify",
		compose.InvokableLambda(func(ctx context.Context, in *chatnode.GraphState) (*chatnode.GraphState, error) {
			return chatnode.Classify(ctx, in, o.classifier)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node classify: %w", err)
	}

	if err := graph.AddLambdaNode("answer",
		compose.InvokableLambda(func(ctx context.Context, in *chatnode.GraphState) (*chatnode.GraphState, error) {
			return chatnode.Answer(ctx, in, o.answerer)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node answer: %w", err)
	}

	if err := graph.AddLambdaNode("refresh",
		compose.InvokableLambda(func(ctx context.Context, in *chatnode.GraphState) (*chatnode.GraphState, error) {
			return chatnode.Refresh(ctx, in, o.researcher)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node refresh: %w", err)
	}

	if err := graph.AddLambdaNode("apply_edit",
		compose.InvokableLambda(func(ctx context.Context, in *chatnode.GraphState) (*chatnode.GraphState, error) {
			return chatnode.ApplyEdit(ctx, in, o.editor, o.repo)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node apply_edit: %w", err)
	}

	if err := graph.AddLambdaNode("write_memory",
		compose.InvokableLambda(func(ctx context.Context, in *chatnode.GraphState) (*chatnode.GraphState, error) {
			return chatnode.WriteMemory(ctx, in, o.memory)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node write_memory: %w", err)
	}

	if err := graph.AddLambdaNode("finalize_reply",
		compose.InvokableLambda(func(ctx context.Context, in *chatnode.GraphState) (chatnode.GraphOutput, error) {
			return chatnode.FinalizeReply(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node finalize_reply: %w", err)
	}

	edges := [][2]string{
		{compose.START, "validate_request"},
		{"validate_request", "load_context"},
		{"load_context", "read_memory"},
		{"read_memory", "classify"},
		{"answer", "write_memory"},
		{"refresh", "write_memory"},
		{"apply_edit", "write_memory"},
		{"write_memory", "finalize_reply"},
		{"finalize_reply", compose.END},
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	branch := compose.NewGraphBranch(
		func(ctx context.Context, in *chatnode.GraphState) (string, error) {
			switch in.Intent.Mode {
			case contractx.ChatModeRefresh:
				return "refresh", nil
			case contractx.ChatModeEdit:
				return "apply_edit", nil
			default:
				return "answer", nil
			}
		},
		map[string]bool{"answer": true, "refresh": true, "apply_edit": true},
	)
	if err := graph.AddBranch("classify", branch); err != nil {
		return nil, fmt.Errorf("add chat mode branch: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("chat.handle_turn"))
	if err != nil {
		return nil, fmt.Errorf("compile chat graph: %w", err)
	}
	return runner, nil
}
