package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/caseworks/mysteryforge/internal/modelclient"
)

// systemPreamble is shared by every generative stage: it frames the
// model as a collaborator producing strict JSON, never prose.
const systemPreamble = "You are generating structured content for a procedurally-assembled detective mystery. " +
	"Respond with a single JSON value matching the requested shape and nothing else: no surrounding prose, " +
	"no markdown fences unless explicitly requested, no commentary."

// buildMessages assembles the system/user turn for one generative
// call, injecting repair-mode context when prevErrors carries the
// previous attempt's validation failures (§4.1).
func buildMessages(userPrompt string, prevErrors []string) []modelclient.Message {
	messages := []modelclient.Message{
		{Role: modelclient.RoleSystem, Content: systemPreamble},
	}

	if len(prevErrors) > 0 {
		userPrompt = fmt.Sprintf(
			"%s\n\nYour previous attempt failed validation with these errors. Fix every one of them:\n- %s",
			userPrompt, strings.Join(prevErrors, "\n- "),
		)
	}

	messages = append(messages, modelclient.Message{Role: modelclient.RoleUser, Content: userPrompt})
	return messages
}

// generateJSON issues one generative call and decodes its JSON output
// into out. A parse failure (not a validation failure — the text
// plain didn't extract as JSON at all) gets exactly one in-call repair
// retry via modelclient's fenced/bracket contract before the call is
// considered failed outright (§6); this is independent of, and nested
// inside, the stage-level validator retry loop the orchestrator runs.
func generateJSON(
	ctx context.Context,
	client modelclient.Client,
	stageName string,
	userPrompt string,
	prevErrors []string,
	temperature float64,
	maxTokens int,
	out any,
) error {
	messages := buildMessages(userPrompt, prevErrors)

	resp, err := client.Generate(ctx, modelclient.GenerateRequest{
		StageName:   stageName,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return fmt.Errorf("%s: model call failed: %w", stageName, err)
	}

	if err := modelclient.ExtractJSON(resp.RawText, out); err == nil {
		return nil
	} else {
		repairMessages := append(messages, modelclient.RepairMessages(resp.RawText, err)...)
		resp2, genErr := client.Generate(ctx, modelclient.GenerateRequest{
			StageName:   stageName,
			Messages:    repairMessages,
			Temperature: temperature,
			MaxTokens:   maxTokens,
		})
		if genErr != nil {
			return fmt.Errorf("%s: model call failed on repair retry: %w", stageName, genErr)
		}
		if err := modelclient.ExtractJSON(resp2.RawText, out); err != nil {
			return fmt.Errorf("%s: could not extract JSON after repair retry: %w", stageName, err)
		}
		return nil
	}
}
