package events

import (
	"context"
	"testing"
)

func TestSubjectFor(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		event  Event
		want   string
	}{
		{"batch", "annotator", BatchCompleted{Stage: "face"}, "annotator.batch.face"},
		{"merge", "annotator", IdentitiesMerged{TargetID: 1}, "annotator.identity.merged"},
		{"backfill without prefix", "", EmbeddingsBackfilled{}, "embedding.backfilled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SubjectFor(tt.prefix, tt.event); got != tt.want {
				t.Errorf("SubjectFor() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewWithoutURL(t *testing.T) {
	p, err := New("", "annotator")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := p.(Nop); !ok {
		t.Fatalf("expected Nop publisher, got %T", p)
	}
	if err := p.Publish(context.Background(), BatchCompleted{Stage: "tag"}); err != nil {
		t.Errorf("Nop.Publish() error = %v", err)
	}
	p.Close()
}
