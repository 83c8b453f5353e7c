package database

import (
	"math"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name   string
		input  []float32
		wantOK bool
	}{
		{"unit axis", []float32{1, 0, 0}, true},
		{"scaled", []float32{3, 4}, true},
		{"negative", []float32{-2, -2, -1}, true},
		{"zero vector", []float32{0, 0, 0}, false},
		{"empty", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Normalize(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("Normalize(%v) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if n := math.Sqrt(Dot(got, got)); math.Abs(n-1) > 1e-5 {
				t.Errorf("norm = %f, want 1", n)
			}
		})
	}
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	in := []float32{3, 4}
	_, _ = Normalize(in)
	if in[0] != 3 || in[1] != 4 {
		t.Errorf("input mutated: %v", in)
	}
}

func TestDot_LengthMismatch(t *testing.T) {
	if got := Dot([]float32{1, 2}, []float32{1}); got != 0 {
		t.Errorf("Dot = %f, want 0", got)
	}
	if got := Dot([]float32{1, 2}, []float32{3, 4}); got != 11 {
		t.Errorf("Dot = %f, want 11", got)
	}
}

func TestStageColumn(t *testing.T) {
	tests := []struct {
		stage   Stage
		want    string
		wantErr bool
	}{
		{StageMetadata, "metadata_done", false},
		{StageTag, "tag_done", false},
		{StageDetect, "detect_done", false},
		{StageFace, "face_done", false},
		{Stage("exif; DROP TABLE media_item"), "", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.stage), func(t *testing.T) {
			got, err := tt.stage.Column()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Column() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Column() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStagePrerequisite(t *testing.T) {
	for _, s := range AnnotationStages {
		if s.Prerequisite() != StageMetadata {
			t.Errorf("%s prerequisite = %q, want metadata", s, s.Prerequisite())
		}
	}
	if StageMetadata.Prerequisite() != "" {
		t.Errorf("metadata prerequisite = %q, want empty", StageMetadata.Prerequisite())
	}
}

func TestIdentityLabel(t *testing.T) {
	name := "Jan Novák"
	empty := ""

	tests := []struct {
		name  string
		ident Identity
		want  string
	}{
		{"named", Identity{ID: 3, DisplayName: &name}, "Jan Novák"},
		{"unnamed", Identity{ID: 7}, "Person #7"},
		{"empty name", Identity{ID: 9, DisplayName: &empty}, "Person #9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ident.Label(); got != tt.want {
				t.Errorf("Label() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestItemFilterNormalize(t *testing.T) {
	f := ItemFilter{Sort: "filesize; DROP", Page: 0, PerPage: 1000}
	f.Normalize(50, 200)

	if f.Sort != SortTakenAt || !f.Desc {
		t.Errorf("expected default sort taken_at desc, got %s desc=%v", f.Sort, f.Desc)
	}
	if f.Page != 1 {
		t.Errorf("expected page 1, got %d", f.Page)
	}
	if f.PerPage != 200 {
		t.Errorf("expected per page capped at 200, got %d", f.PerPage)
	}
	if f.Offset() != 0 {
		t.Errorf("expected offset 0, got %d", f.Offset())
	}

	f = ItemFilter{Sort: SortFilename, Page: 3}
	f.Normalize(50, 200)
	if f.Sort != SortFilename || f.Desc {
		t.Errorf("expected filename asc, got %s desc=%v", f.Sort, f.Desc)
	}
	if f.Offset() != 100 {
		t.Errorf("expected offset 100, got %d", f.Offset())
	}
}
