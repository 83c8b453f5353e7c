// Package events publishes annotation lifecycle events to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Event is a message with a subject suffix.
type Event interface {
	Subject() string
}

// BatchCompleted is emitted after every committed stage batch.
type BatchCompleted struct {
	Stage     string    `json:"stage"`
	Attempted int       `json:"attempted"`
	Succeeded int       `json:"succeeded"`
	Missing   int       `json:"missing"`
	Failed    int       `json:"failed"`
	At        time.Time `json:"at"`
}

func (e BatchCompleted) Subject() string { return "batch." + e.Stage }

// IdentitiesMerged is emitted after a committed merge.
type IdentitiesMerged struct {
	TargetID       int64     `json:"target_id"`
	SourceIDs      []int64   `json:"source_ids"`
	DetectionCount int       `json:"detection_count"`
	At             time.Time `json:"at"`
}

func (e IdentitiesMerged) Subject() string { return "identity.merged" }

// EmbeddingsBackfilled is emitted after an embedding backfill batch.
type EmbeddingsBackfilled struct {
	Stored int       `json:"stored"`
	Failed int       `json:"failed"`
	At     time.Time `json:"at"`
}

func (e EmbeddingsBackfilled) Subject() string { return "embedding.backfilled" }

// Publisher delivers events. Publishing is best effort: callers log errors
// and carry on.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close()
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(ctx context.Context, e Event) error { return nil }
func (Nop) Close()                                     {}

// NATS publishes JSON events on "<prefix>.<event subject>".
type NATS struct {
	nc     *nats.Conn
	prefix string
}

// NewNATS connects to the server at url.
func NewNATS(url, prefix string) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name("photo-annotator"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATS{nc: nc, prefix: prefix}, nil
}

// New returns a NATS publisher when url is set and a Nop otherwise.
func New(url, prefix string) (Publisher, error) {
	if url == "" {
		return Nop{}, nil
	}
	return NewNATS(url, prefix)
}

// SubjectFor returns the full subject of e under prefix.
func SubjectFor(prefix string, e Event) string {
	if prefix == "" {
		return e.Subject()
	}
	return prefix + "." + e.Subject()
}

func (p *NATS) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := SubjectFor(p.prefix, e)
	if err := p.nc.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Ping reports whether the connection is up.
func (p *NATS) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *NATS) Close() {
	p.nc.Close()
}
