package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"coachline/internal/config"
	"coachline/internal/credential"
	"coachline/internal/domain"
	"coachline/internal/events"
	"coachline/internal/repo"
	"coachline/internal/webhook"
)

// ErrAgentUnavailable wraps every upstream call failure surfaced to
// the caller. Retries are exhausted internally; the caller sees one
// error with a human-readable cause.
var ErrAgentUnavailable = errors.New("agent service unavailable")

const fallbackDisplayName = "athlete"

// Orchestrator routes one user turn to the right agent, chains the
// data agent into the routine agent when a routine is requested, and
// persists the exchange best-effort.
type Orchestrator struct {
	Store   *repo.Repo
	Events  events.Writer
	Minter  credential.Minter
	Invoker webhook.Invoker
	Config  *config.Config
	Now     func() time.Time
}

// New wires an orchestrator over a database session. A nil db yields
// an orchestrator without a write-capable store; exchanges still run,
// persistence is skipped.
func New(db *sql.DB, cfg *config.Config, minter credential.Minter) *Orchestrator {
	o := &Orchestrator{
		Minter: minter,
		Config: cfg,
		Now:    time.Now,
	}
	if db != nil {
		o.Store = &repo.Repo{DB: db}
		o.Events = events.Writer{DB: db}
	}
	return o
}

type agentRequest struct {
	User    string         `json:"user"`
	Text    string         `json:"text"`
	Name    string         `json:"name"`
	History []historyEntry `json:"history,omitempty"`
}

type historyEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SendMessage relays one user turn and returns the assistant's reply
// text. conversationID may be empty; the latest conversation for the
// user is then reused or a new one created at persist time.
func (o *Orchestrator) SendMessage(ctx context.Context, userID, text, conversationID string, agentType domain.AgentType) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}
	if text == "" {
		return "", errors.New("text is required")
	}
	if !agentType.Valid() {
		return "", fmt.Errorf("unknown agent type %q", agentType)
	}

	convID := o.resolveConversation(ctx, userID, conversationID)

	var replyText string
	var err error
	if agentType == domain.AgentRoutine {
		replyText, err = o.routineChain(ctx, userID, text, convID)
	} else {
		replyText, err = o.singleHop(ctx, userID, text, convID, agentType)
	}
	if err != nil {
		o.Events.AppendBestEffort(ctx, events.TypeAgentFailed, userID, convID, events.EventPayload{
			"agent": string(agentType),
			"error": err.Error(),
		})
		return "", err
	}

	o.persistExchange(ctx, userID, convID, text, replyText, agentType)
	return replyText, nil
}

// singleHop handles the reception and data agents: one bounded,
// retried call with profile name and prior history attached.
func (o *Orchestrator) singleHop(ctx context.Context, userID, text, convID string, agentType domain.AgentType) (string, error) {
	body, err := json.Marshal(agentRequest{
		User:    userID,
		Text:    text,
		Name:    o.displayName(ctx, userID),
		History: o.history(ctx, convID),
	})
	if err != nil {
		return "", err
	}
	res, err := o.callAgent(ctx, string(agentType), userID, body, o.boundedPolicy())
	if err != nil {
		return "", classifyExternal(err)
	}
	return Normalize(res).Text, nil
}

// routineChain runs the two-hop routine flow. Neither hop carries a
// timeout or retries: generation can legitimately run for minutes.
// The chain only proceeds when the data agent signals completeness
// with both text and structured data; its structured data is then the
// entire body of the generation call.
func (o *Orchestrator) routineChain(ctx context.Context, userID, text, convID string) (string, error) {
	body, err := json.Marshal(agentRequest{
		User:    userID,
		Text:    text,
		Name:    o.displayName(ctx, userID),
		History: o.history(ctx, convID),
	})
	if err != nil {
		return "", err
	}
	first, err := o.callAgent(ctx, "data", userID, body, webhook.Unbounded)
	if err != nil {
		return "", classifyExternal(err)
	}
	reply := Normalize(first)
	if reply.Text == "" || len(reply.Data) == 0 {
		// Still gathering information; the data agent's reply is the
		// turn's answer.
		return reply.Text, nil
	}

	payload, err := json.Marshal(reply.Data)
	if err != nil {
		return "", err
	}
	second, err := o.callAgent(ctx, "routine", userID, payload, webhook.Unbounded)
	if err != nil {
		return "", classifyExternal(err)
	}
	return RenderRoutineBody(second.Body), nil
}

// callAgent mints a fresh credential per attempt and performs the
// webhook call.
func (o *Orchestrator) callAgent(ctx context.Context, agentName, userID string, body []byte, policy webhook.Policy) (*webhook.Response, error) {
	agentCfg, ok := o.Config.Agents[agentName]
	if !ok {
		return nil, fmt.Errorf("agent %s not configured", agentName)
	}
	mint := func() (string, error) {
		return o.Minter.Mint(userID, agentCfg.Audience)
	}
	return o.Invoker.Invoke(ctx, agentCfg.URL, body, mint, policy)
}

func (o *Orchestrator) boundedPolicy() webhook.Policy {
	retry := o.Config.Retry
	return webhook.Policy{
		Timeout:           retry.Timeout(),
		MaxAttempts:       retry.MaxAttempts,
		BaseDelay:         retry.BaseDelay(),
		RetryableStatuses: retry.RetryableStatuses,
	}
}

// displayName looks up the user's profile. Lookup failure is not
// fatal; the agent gets a generic name.
func (o *Orchestrator) displayName(ctx context.Context, userID string) string {
	if o.Store == nil {
		return fallbackDisplayName
	}
	profile, err := o.Store.GetProfile(ctx, userID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			log.Printf("orchestrator: profile lookup for %s failed: %v", userID, err)
		}
		return fallbackDisplayName
	}
	if profile.DisplayName == "" {
		return fallbackDisplayName
	}
	return profile.DisplayName
}

func (o *Orchestrator) history(ctx context.Context, convID string) []historyEntry {
	if o.Store == nil || convID == "" {
		return nil
	}
	messages, err := o.Store.History(ctx, convID)
	if err != nil {
		log.Printf("orchestrator: history lookup for %s failed: %v", convID, err)
		return nil
	}
	entries := make([]historyEntry, 0, len(messages))
	for _, m := range messages {
		entries = append(entries, historyEntry{Role: m.Role, Content: m.Content})
	}
	return entries
}

// resolveConversation picks the conversation the turn belongs to: the
// explicit id when given, else the user's latest. Returning "" defers
// creation to persist time. The find-latest lookup races with a
// concurrent first message from the same user and can produce two
// conversations; accepted, see DESIGN.md.
func (o *Orchestrator) resolveConversation(ctx context.Context, userID, conversationID string) string {
	if conversationID != "" {
		return conversationID
	}
	if o.Store == nil {
		return ""
	}
	conv, err := o.Store.FindLatestConversation(ctx, userID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			log.Printf("orchestrator: conversation lookup for %s failed: %v", userID, err)
		}
		return ""
	}
	return conv.ID
}

// persistExchange stores the user/assistant pair. Best-effort: a
// persistence failure is logged and recorded as an event, never
// surfaced, so a successful agent reply always reaches the caller.
func (o *Orchestrator) persistExchange(ctx context.Context, userID, convID, userText, replyText string, agentType domain.AgentType) {
	if o.Store == nil {
		log.Printf("orchestrator: no store configured; skipping persistence for %s", userID)
		return
	}
	degraded := func(stage string, err error) {
		log.Printf("orchestrator: persistence degraded (%s) for %s: %v", stage, userID, err)
		o.Events.AppendBestEffort(ctx, events.TypePersistenceDegraded, userID, convID, events.EventPayload{
			"stage": stage,
			"error": err.Error(),
		})
	}
	if convID == "" {
		conv, err := o.Store.CreateConversation(ctx, userID, userText)
		if err != nil {
			degraded("create_conversation", err)
			return
		}
		convID = conv.ID
	}
	if _, err := o.Store.AppendMessage(ctx, convID, "user", userText); err != nil {
		degraded("append_user", err)
		return
	}
	if _, err := o.Store.AppendMessage(ctx, convID, "assistant", replyText); err != nil {
		degraded("append_assistant", err)
		return
	}
	if err := o.Store.TouchConversation(ctx, convID); err != nil {
		degraded("touch_conversation", err)
	}
	o.Events.AppendBestEffort(ctx, events.TypeAgentExchange, userID, convID, events.EventPayload{
		"agent": string(agentType),
	})
}

// classifyExternal collapses transport-level failures into one
// caller-facing error; everything else (credential defects, encoding
// bugs) passes through unchanged.
func classifyExternal(err error) error {
	switch err.(type) {
	case webhook.TimeoutError,
		webhook.ConnectionRefusedError,
		webhook.NetworkError,
		webhook.UpstreamError,
		webhook.ServiceUnavailableError,
		webhook.EndpointNotRegisteredError:
		return fmt.Errorf("%w: %v", ErrAgentUnavailable, err)
	}
	return err
}
