package domain

import (
	"encoding/json"
	"fmt"
)

// refinementTracePayload is the schema for refinement_trace content.
type refinementTracePayload struct {
	Task  string `json:"task"`
	Steps []struct {
		Iteration int    `json:"iteration"`
		Output    string `json:"output"`
	} `json:"steps"`
}

// expertConsensusPayload is the schema for expert_consensus content.
type expertConsensusPayload struct {
	Question string `json:"question"`
	Opinions []struct {
		Expert  string `json:"expert"`
		Opinion string `json:"opinion"`
	} `json:"opinions"`
	Consensus string `json:"consensus"`
}

// ValidateContent checks content size and, for the structured variants,
// that the payload parses against its per-variant schema.
func ValidateContent(t MemoryType, content string) error {
	if content == "" {
		return fmt.Errorf("%w: content is empty", ErrInvalidInput)
	}
	if len(content) > MaxContentBytes {
		return fmt.Errorf("%w: content exceeds %d bytes", ErrInvalidInput, MaxContentBytes)
	}

	switch t {
	case MemoryTypeRefinementTrace:
		var p refinementTracePayload
		if err := json.Unmarshal([]byte(content), &p); err != nil {
			return fmt.Errorf("%w: refinement_trace payload: %v", ErrInvalidInput, err)
		}
		if p.Task == "" || len(p.Steps) == 0 {
			return fmt.Errorf("%w: refinement_trace requires task and at least one step", ErrInvalidInput)
		}
	case MemoryTypeExpertConsensus:
		var p expertConsensusPayload
		if err := json.Unmarshal([]byte(content), &p); err != nil {
			return fmt.Errorf("%w: expert_consensus payload: %v", ErrInvalidInput, err)
		}
		if p.Question == "" || len(p.Opinions) == 0 || p.Consensus == "" {
			return fmt.Errorf("%w: expert_consensus requires question, opinions, and consensus", ErrInvalidInput)
		}
	}
	return nil
}
