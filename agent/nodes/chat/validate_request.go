package chatnode

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	contractx "github.com/planforge/planforge/agent/contract"
	reportx "github.com/planforge/planforge/agent/report"
)

func ValidateRequest(in GraphInput, now func() time.Time) (*GraphState, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return nil, fmt.Errorf("%w: user id is empty", contractx.ErrInvalidRequest)
	}
	if in.PersonaID == uuid.Nil {
		return nil, fmt.Errorf("%w: persona id is empty", contractx.ErrInvalidRequest)
	}
	if strings.TrimSpace(in.Message) == "" {
		return nil, fmt.Errorf("%w: message is empty", contractx.ErrInvalidRequest)
	}
	companyKey := reportx.NormalizeCompanyKey(in.Company)
	if companyKey == "" {
		return nil, fmt.Errorf("%w: company name is empty", contractx.ErrInvalidRequest)
	}

	return &GraphState{
		In:         in,
		CompanyKey: companyKey,
		Now:        now(),
	}, nil
}
