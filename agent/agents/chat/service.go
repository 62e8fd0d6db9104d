// Package chat implements the conversational orchestrator. A turn is
// classified into answer, refresh or edit and handled by exactly one
// branch; refresh delegates to the research orchestrator, edit rewrites
// one section without invoking any section agent.
package chat

import (
	"context"
	"errors"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"

	contractx "github.com/planforge/planforge/agent/contract"
	chatnode "github.com/planforge/planforge/agent/nodes/chat"
	reportx "github.com/planforge/planforge/agent/report"
)

type Orchestrator struct {
	personas   reportx.PersonaStore
	repo       reportx.Repository
	memory     contractx.MemoryStore
	classifier contractx.Classifier
	answerer   contractx.Answerer
	editor     contractx.SectionEditor
	researcher chatnode.Researcher

	graphRunner compose.Runnable[chatnode.GraphInput, chatnode.GraphOutput]

	now func() time.Time
}

func New(
	personas reportx.PersonaStore,
	repo reportx.Repository,
	memory contractx.MemoryStore,
	classifier contractx.Classifier,
	answerer contractx.Answerer,
	editor contractx.SectionEditor,
	researcher chatnode.Researcher,
) (*Orchestrator, error) {
	if personas == nil {
		return nil, errors.New("persona store is required")
	}
	if repo == nil {
		return nil, errors.New("report repository is required")
	}
	if classifier == nil {
		return nil, errors.New("classifier is required")
	}
	if answerer == nil {
		return nil, errors.New("answerer is required")
	}
	if editor == nil {
		return nil, errors.New("section editor is required")
	}
	if researcher == nil {
		return nil, errors.New("researcher is required")
	}
	if memory == nil {
		memory = noopMemoryStore{}
	}

	o := &Orchestrator{
		personas:   personas,
		repo:       repo,
		memory:     memory,
		classifier: classifier,
		answerer:   answerer,
		editor:     editor,
		researcher: researcher,
		now:        time.Now,
	}

	graphRunner, err := o.compileHandleTurnGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

// HandleTurn runs one chat turn end to end and returns the reply plus
// the report as it stands after the turn.
func (o *Orchestrator) HandleTurn(
	ctx context.Context,
	userID string,
	personaID uuid.UUID,
	company string,
	message string,
) (chatnode.GraphOutput, error) {
	return o.graphRunner.Invoke(ctx, chatnode.GraphInput{
		UserID:    userID,
		PersonaID: personaID,
		Company:   company,
		Message:   message,
	})
}

type noopMemoryStore struct{}

func (noopMemoryStore) Add(context.Context, contractx.MemoryFact) (string, error) {
	return "", nil
}

func (noopMemoryStore) Search(context.Context, string, uuid.UUID, string, int) ([]contractx.MemoryFact, error) {
	return nil, nil
}
