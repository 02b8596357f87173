// Package audit writes security events (failed logins, revocations, refresh
// rejections) into an Elasticsearch index so operators can search them. The
// trail is best-effort: indexing failures are logged and never fail the
// request that produced the event.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v9"

	"github.com/avdonin/webmarket/internal/logging"
)

const Index = "auth_audit"

type Event struct {
	Type     string    `json:"type"`
	UserID   uint      `json:"user_id,omitempty"`
	Username string    `json:"username,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}

// Trail is nil-safe: a nil *Trail swallows events so the core runs without ES.
type Trail struct {
	ES *elasticsearch.Client
}

func NewClient(url, user, password string) (*elasticsearch.Client, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{url},
		Username:  user,
		Password:  password,
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	res, err := client.Info()
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		log.Printf("elasticsearch error response: %s", body)
		return nil, errStatus(res.Status())
	}
	return client, nil
}

type errStatus string

func (e errStatus) Error() string { return "elasticsearch error: " + string(e) }

func NewTrail(es *elasticsearch.Client) *Trail {
	if es == nil {
		return nil
	}
	return &Trail{ES: es}
}

func (t *Trail) Record(ctx context.Context, ev Event) {
	if t == nil || t.ES == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		logging.FromContext(ctx).Error("audit_marshal_failed", "error", err)
		return
	}

	res, err := t.ES.Index(Index, bytes.NewReader(data))
	if err != nil {
		logging.FromContext(ctx).Error("audit_index_failed", "error", err)
		return
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusBadRequest {
		logging.FromContext(ctx).Error("audit_index_failed", "status", res.StatusCode)
	}
}
