// Package assistant is the in-app chat assistant and the CSV column mapper
// used by client imports. Both run on an OpenAI-compatible model.
package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/domain/crm"
	"github.com/clinicdesk/clinicdesk/internal/domain/identity"
	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
	"github.com/clinicdesk/clinicdesk/internal/platform/llm"
)

const (
	// HistoryLimit is how many of the latest chat messages reach the model.
	HistoryLimit   = 20
	maxMessageLen  = 4000
	sampleRows     = 5
	defaultTimeout = 30 * time.Second
)

type Organizations interface {
	GetOrganization(ctx context.Context, id uuid.UUID) (*identity.Organization, error)
}

type Service struct {
	llm     llm.Client
	orgs    Organizations
	timeout time.Duration
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(client llm.Client, orgs Organizations, timeout time.Duration, logger zerolog.Logger) *Service {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Service{llm: client, orgs: orgs, timeout: timeout, logger: logger, now: time.Now}
}

// Chat answers the conversation's last user message. Only the latest
// HistoryLimit messages are sent, after a system prompt describing the clinic.
func (s *Service) Chat(ctx context.Context, orgID uuid.UUID, history []llm.Message) (string, error) {
	msgs, err := trimHistory(history)
	if err != nil {
		return "", err
	}
	org, err := s.orgs.GetOrganization(ctx, orgID)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req := llm.Request{
		Messages:    append([]llm.Message{{Role: llm.RoleSystem, Content: s.systemPrompt(org)}}, msgs...),
		MaxTokens:   800,
		Temperature: 0.3,
	}
	reply, err := s.llm.Complete(ctx, req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("%w: timed out after %s", llm.ErrProviderDown, s.timeout)
		}
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

func trimHistory(history []llm.Message) ([]llm.Message, error) {
	var v apperr.ValidationError
	out := make([]llm.Message, 0, len(history))
	for i, m := range history {
		m.Content = strings.TrimSpace(m.Content)
		switch {
		case m.Role != llm.RoleUser && m.Role != llm.RoleAssistant:
			v.Add(fmt.Sprintf("messages[%d].role", i), "must be user or assistant")
		case m.Content == "":
			v.Add(fmt.Sprintf("messages[%d].content", i), "is required")
		case len(m.Content) > maxMessageLen:
			v.Add(fmt.Sprintf("messages[%d].content", i), fmt.Sprintf("must be at most %d characters", maxMessageLen))
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		v.Add("messages", "is required")
	} else if out[len(out)-1].Role != llm.RoleUser {
		v.Add("messages", "must end with a user message")
	}
	if err := v.OrNil(); err != nil {
		return nil, err
	}
	if len(out) > HistoryLimit {
		out = out[len(out)-HistoryLimit:]
	}
	return out, nil
}

func (s *Service) systemPrompt(org *identity.Organization) string {
	local := s.now().In(org.Location())
	var b strings.Builder
	b.WriteString("You are the assistant inside ClinicDesk, the management software of a health clinic. ")
	b.WriteString("Help the staff with scheduling, clients, invoicing, consent forms and WhatsApp messaging. ")
	b.WriteString("Answer in the language of the user's last message. Be brief and concrete. ")
	b.WriteString("Never invent patient data; if you do not know, say so.\n\n")
	fmt.Fprintf(&b, "Clinic: %s\n", org.Name)
	if org.Address != "" {
		fmt.Fprintf(&b, "Address: %s\n", org.Address)
	}
	fmt.Fprintf(&b, "Time zone: %s\n", org.Location())
	fmt.Fprintf(&b, "Current local time: %s\n", local.Format("Monday 02/01/2006 15:04"))
	return b.String()
}

// MapColumns proposes a header to client field mapping for a CSV import. The
// model's answer is checked against the importable fields; when the model is
// unavailable or its answer is unusable the synonym table is used.
func (s *Service) MapColumns(ctx context.Context, headers []string, sample [][]string) (map[string]string, error) {
	if len(headers) == 0 {
		return nil, apperr.Invalid("headers", "is required")
	}
	mapping, err := s.modelMapping(ctx, headers, sample)
	if err != nil {
		s.logger.Warn().Err(err).Msg("column mapping by model failed, using header synonyms")
		return crm.HeuristicMapping(headers), nil
	}
	mapping = crm.CleanMapping(mapping, headers)
	if len(mapping) == 0 {
		s.logger.Warn().Msg("column mapping by model was empty, using header synonyms")
		return crm.HeuristicMapping(headers), nil
	}
	return mapping, nil
}

func (s *Service) modelMapping(ctx context.Context, headers []string, sample [][]string) (map[string]string, error) {
	if len(sample) > sampleRows {
		sample = sample[:sampleRows]
	}
	payload, err := json.Marshal(map[string]interface{}{"headers": headers, "sample_rows": sample})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	reply, err := s.llm.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: mappingPrompt},
			{Role: llm.RoleUser, Content: string(payload)},
		},
		JSON:        true,
		MaxTokens:   400,
		Temperature: 0,
	})
	if err != nil {
		return nil, err
	}
	return parseMapping(reply)
}

var mappingPrompt = "Map the columns of a clinic's client spreadsheet to these fields: " +
	strings.Join(crm.ImportFields, ", ") + ". " +
	"Use full_name only when first and last name share one column. " +
	"Reply with a JSON object whose keys are the original column headers, exactly as given, " +
	"and whose values are field names. Leave out columns that match no field."

// parseMapping accepts a flat object of strings, optionally wrapped in
// {"mapping": {...}}.
func parseMapping(reply string) (map[string]string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(reply), &raw); err != nil {
		return nil, fmt.Errorf("mapping is not a JSON object: %w", err)
	}
	if inner, ok := raw["mapping"]; ok && len(raw) == 1 {
		raw = nil
		if err := json.Unmarshal(inner, &raw); err != nil {
			return nil, fmt.Errorf("mapping is not a JSON object: %w", err)
		}
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		var field string
		if err := json.Unmarshal(v, &field); err != nil {
			continue
		}
		out[k] = field
	}
	return out, nil
}
