package chatnode

import (
	"fmt"
	"strings"

	contractx "github.com/planforge/planforge/agent/contract"
)

func FinalizeReply(in *GraphState) (GraphOutput, error) {
	if in == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrInvalidRequest)
	}

	reply := strings.TrimSpace(in.Reply)
	if reply == "" {
		reply = "I could not produce a reply for that message. Try rephrasing, or ask me to refresh a report section."
	}

	return GraphOutput{
		Reply:  reply,
		Mode:   in.Intent.Mode,
		Report: in.Report,
	}, nil
}
