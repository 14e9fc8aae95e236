package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"coachline/internal/config"
	"coachline/internal/credential"
	"coachline/internal/db"
	"coachline/internal/domain"
	"coachline/internal/events"
	"coachline/internal/migrate"
	"coachline/internal/repo"
)

type testEnv struct {
	Orchestrator *Orchestrator
	Repo         repo.Repo
	Ctx          context.Context
}

func newTestEnv(t *testing.T, cfg *config.Config) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	key, err := credential.Generate()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	minter := credential.Minter{Issuer: "coachline-test", Key: key, TTL: time.Minute}
	return testEnv{
		Orchestrator: New(conn, cfg, minter),
		Repo:         repo.Repo{DB: conn},
		Ctx:          context.Background(),
	}
}

func testConfig(t *testing.T, receptionURL, dataURL, routineURL string) *config.Config {
	t.Helper()
	cfg := config.Default("coachline-test")
	cfg.Agents["reception"] = config.AgentConfig{URL: receptionURL, Audience: "reception-agent"}
	cfg.Agents["data"] = config.AgentConfig{URL: dataURL, Audience: "data-agent"}
	cfg.Agents["routine"] = config.AgentConfig{URL: routineURL, Audience: "routine-agent"}
	cfg.Retry.BaseDelayMillis = 1
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func jsonAgent(t *testing.T, handler func(body map[string]any) string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); !strings.HasPrefix(auth, "Bearer ") {
			t.Errorf("missing bearer credential, got %q", auth)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(handler(body)))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func eventTypes(t *testing.T, env testEnv, userID string) []string {
	t.Helper()
	rows, err := env.Repo.DB.QueryContext(env.Ctx, `SELECT type FROM events WHERE user_id=? ORDER BY id`, userID)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	defer rows.Close()
	var types []string
	for rows.Next() {
		var typ string
		if err := rows.Scan(&typ); err != nil {
			t.Fatalf("scan event: %v", err)
		}
		types = append(types, typ)
	}
	return types
}

func TestSingleHopPersistsExchange(t *testing.T) {
	reception := jsonAgent(t, func(body map[string]any) string {
		if body["user"] != "user-1" {
			t.Errorf("expected user-1 in request, got %v", body["user"])
		}
		return `{"response":"hello there"}`
	})
	cfg := testConfig(t, reception.URL, reception.URL, reception.URL)
	env := newTestEnv(t, cfg)

	reply, err := env.Orchestrator.SendMessage(env.Ctx, "user-1", "hi", "", domain.AgentReception)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply != "hello there" {
		t.Fatalf("unexpected reply %q", reply)
	}

	conv, err := env.Repo.FindLatestConversation(env.Ctx, "user-1")
	if err != nil {
		t.Fatalf("expected conversation created: %v", err)
	}
	messages, err := env.Repo.History(env.Ctx, conv.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected user+assistant messages, got %d", len(messages))
	}
	if messages[0].Role != "user" || messages[0].Content != "hi" {
		t.Fatalf("expected user message first, got %+v", messages[0])
	}
	if messages[1].Role != "assistant" || messages[1].Content != "hello there" {
		t.Fatalf("expected assistant message second, got %+v", messages[1])
	}
	if types := eventTypes(t, env, "user-1"); len(types) != 1 || types[0] != events.TypeAgentExchange {
		t.Fatalf("expected one %s event, got %v", events.TypeAgentExchange, types)
	}
}

func TestPersistenceFailureDegradesQuietly(t *testing.T) {
	reception := jsonAgent(t, func(body map[string]any) string {
		return `{"response":"still here"}`
	})
	cfg := testConfig(t, reception.URL, reception.URL, reception.URL)
	env := newTestEnv(t, cfg)

	// An explicit id for a conversation that does not exist makes the
	// message insert fail its foreign key; the reply must survive.
	reply, err := env.Orchestrator.SendMessage(env.Ctx, "user-1", "hi", "no-such-conversation", domain.AgentReception)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply != "still here" {
		t.Fatalf("unexpected reply %q", reply)
	}
	if types := eventTypes(t, env, "user-1"); len(types) != 1 || types[0] != events.TypePersistenceDegraded {
		t.Fatalf("expected one %s event, got %v", events.TypePersistenceDegraded, types)
	}
	messages, err := env.Repo.History(env.Ctx, "no-such-conversation")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("expected no orphan messages, got %d", len(messages))
	}
}

func TestProfileNameAndHistoryAttached(t *testing.T) {
	var seen map[string]any
	agent := jsonAgent(t, func(body map[string]any) string {
		seen = body
		return `{"response":"ok"}`
	})
	cfg := testConfig(t, agent.URL, agent.URL, agent.URL)
	env := newTestEnv(t, cfg)

	if _, err := env.Repo.EnsureProfile(env.Ctx, "user-1", "Joan"); err != nil {
		t.Fatalf("profile: %v", err)
	}
	conv, err := env.Repo.CreateConversation(env.Ctx, "user-1", "earlier")
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	if _, err := env.Repo.AppendMessage(env.Ctx, conv.ID, "user", "earlier question"); err != nil {
		t.Fatalf("append: %v", err)
	}

	if _, err := env.Orchestrator.SendMessage(env.Ctx, "user-1", "next", "", domain.AgentData); err != nil {
		t.Fatalf("send: %v", err)
	}
	if seen["name"] != "Joan" {
		t.Fatalf("expected profile name, got %v", seen["name"])
	}
	history, ok := seen["history"].([]any)
	if !ok || len(history) != 1 {
		t.Fatalf("expected one history entry, got %v", seen["history"])
	}
	entry := history[0].(map[string]any)
	if entry["role"] != "user" || entry["content"] != "earlier question" {
		t.Fatalf("unexpected history entry %v", entry)
	}
}

func TestDisplayNameFallsBack(t *testing.T) {
	var seen map[string]any
	agent := jsonAgent(t, func(body map[string]any) string {
		seen = body
		return `{"response":"ok"}`
	})
	cfg := testConfig(t, agent.URL, agent.URL, agent.URL)
	env := newTestEnv(t, cfg)

	if _, err := env.Orchestrator.SendMessage(env.Ctx, "stranger", "hi", "", domain.AgentReception); err != nil {
		t.Fatalf("send: %v", err)
	}
	if seen["name"] != fallbackDisplayName {
		t.Fatalf("expected fallback name, got %v", seen["name"])
	}
}

func TestRoutineChainNotReadyStopsAtDataAgent(t *testing.T) {
	data := jsonAgent(t, func(body map[string]any) string {
		return `{"response":"What's your goal?"}`
	})
	routineCalls := 0
	routine := jsonAgent(t, func(body map[string]any) string {
		routineCalls++
		return `{}`
	})
	cfg := testConfig(t, data.URL, data.URL, routine.URL)
	env := newTestEnv(t, cfg)

	reply, err := env.Orchestrator.SendMessage(env.Ctx, "user-1", "make me a routine", "", domain.AgentRoutine)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply != "What's your goal?" {
		t.Fatalf("expected data agent text unchanged, got %q", reply)
	}
	if routineCalls != 0 {
		t.Fatalf("expected routine agent untouched, got %d calls", routineCalls)
	}
}

func TestRoutineChainForwardsStructuredData(t *testing.T) {
	data := jsonAgent(t, func(body map[string]any) string {
		return `{"response":"all set","datos":{"edat":30,"objectiu":"força"}}`
	})
	var forwarded map[string]any
	routine := jsonAgent(t, func(body map[string]any) string {
		forwarded = body
		return `{"routine":{"objectiu":"força","sessions":[{"dia":"Monday","exercicis":[{"nom":"Squat","series":3,"repeticions":10}]}]}}`
	})
	cfg := testConfig(t, data.URL, data.URL, routine.URL)
	env := newTestEnv(t, cfg)

	reply, err := env.Orchestrator.SendMessage(env.Ctx, "user-1", "ready", "", domain.AgentRoutine)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if forwarded["edat"] != float64(30) || forwarded["objectiu"] != "força" {
		t.Fatalf("expected structured data as entire second body, got %v", forwarded)
	}
	if _, hasUser := forwarded["user"]; hasUser {
		t.Fatalf("second hop must not carry the chat envelope, got %v", forwarded)
	}
	if !strings.Contains(reply, "Monday") || !strings.Contains(reply, "Squat") {
		t.Fatalf("expected formatted routine, got %q", reply)
	}

	conv, err := env.Repo.FindLatestConversation(env.Ctx, "user-1")
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	messages, _ := env.Repo.History(env.Ctx, conv.ID)
	if len(messages) != 2 || messages[1].Content != reply {
		t.Fatalf("expected formatted routine persisted as assistant reply")
	}
}

func TestUpstreamFailureSurfacedOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad request"}`))
	}))
	t.Cleanup(srv.Close)
	cfg := testConfig(t, srv.URL, srv.URL, srv.URL)
	env := newTestEnv(t, cfg)

	_, err := env.Orchestrator.SendMessage(env.Ctx, "user-1", "hi", "", domain.AgentReception)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, ErrAgentUnavailable) {
		t.Fatalf("expected external-service error, got %v", err)
	}
	if _, convErr := env.Repo.FindLatestConversation(env.Ctx, "user-1"); convErr == nil {
		t.Fatalf("failed exchange must not persist a conversation")
	}
	if types := eventTypes(t, env, "user-1"); len(types) != 1 || types[0] != events.TypeAgentFailed {
		t.Fatalf("expected one %s event, got %v", events.TypeAgentFailed, types)
	}
}

func TestNoStoreStillAnswers(t *testing.T) {
	agent := jsonAgent(t, func(body map[string]any) string {
		return `{"response":"ok"}`
	})
	cfg := testConfig(t, agent.URL, agent.URL, agent.URL)
	key, err := credential.Generate()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	o := New(nil, cfg, credential.Minter{Issuer: "t", Key: key})

	reply, err := o.SendMessage(context.Background(), "user-1", "hi", "", domain.AgentReception)
	if err != nil {
		t.Fatalf("send without store: %v", err)
	}
	if reply != "ok" {
		t.Fatalf("unexpected reply %q", reply)
	}
}

func TestExplicitConversationReused(t *testing.T) {
	agent := jsonAgent(t, func(body map[string]any) string {
		return `{"response":"ok"}`
	})
	cfg := testConfig(t, agent.URL, agent.URL, agent.URL)
	env := newTestEnv(t, cfg)

	first, err := env.Repo.CreateConversation(env.Ctx, "user-1", "first")
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	if _, err := env.Orchestrator.SendMessage(env.Ctx, "user-1", "hi", first.ID, domain.AgentReception); err != nil {
		t.Fatalf("send: %v", err)
	}
	messages, err := env.Repo.History(env.Ctx, first.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected exchange in the explicit conversation, got %d messages", len(messages))
	}
}

func TestRejectsBadInput(t *testing.T) {
	agent := jsonAgent(t, func(body map[string]any) string { return `{}` })
	cfg := testConfig(t, agent.URL, agent.URL, agent.URL)
	env := newTestEnv(t, cfg)

	if _, err := env.Orchestrator.SendMessage(env.Ctx, "", "hi", "", domain.AgentReception); err == nil {
		t.Fatalf("expected user id error")
	}
	if _, err := env.Orchestrator.SendMessage(env.Ctx, "u", "", "", domain.AgentReception); err == nil {
		t.Fatalf("expected text error")
	}
	if _, err := env.Orchestrator.SendMessage(env.Ctx, "u", "hi", "", domain.AgentType("bogus")); err == nil {
		t.Fatalf("expected agent type error")
	}
}
