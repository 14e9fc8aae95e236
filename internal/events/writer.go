package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

// Event types recorded by the orchestrator.
const (
	TypeAgentExchange       = "agent.exchange"
	TypeAgentFailed         = "agent.failed"
	TypePersistenceDegraded = "persistence.degraded"
)

// Writer appends operational events. It is the observable side channel
// for outcomes that must not fail the user's turn, such as degraded
// persistence.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, evtType, userID, conversationID string, payload EventPayload) error {
	if w.DB == nil {
		return nil
	}
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = w.DB.ExecContext(ctx, `INSERT INTO events(ts,type,user_id,conversation_id,payload_json) VALUES (?,?,?,?,?)`,
		ts, evtType, userID, nullable(conversationID), string(data))
	return err
}

// AppendBestEffort logs instead of returning when the write fails. The
// event log must never take down the exchange it describes.
func (w Writer) AppendBestEffort(ctx context.Context, evtType, userID, conversationID string, payload EventPayload) {
	if err := w.Append(ctx, evtType, userID, conversationID, payload); err != nil {
		log.Printf("events: append %s failed: %v", evtType, err)
	}
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
