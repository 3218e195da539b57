// Package tagging attaches free-form tags to catalog records.
package tagging

import (
	"context"
	"strings"
)

// DefaultContext is the context tags are filed under when none is given.
const DefaultContext = "tags"

// Tag is a unique, case-sensitive label.
type Tag struct {
	ID   string
	Name string
}

// Tagging links a tag to a taggable record, optionally on behalf of a tagger.
// The whole tuple is unique: the same tagger cannot apply the same tag to the
// same record in the same context twice.
type Tagging struct {
	TagID        string
	TaggableID   string
	TaggableType string
	Context      string
	TaggerID     string
	TaggerType   string
}

// Target is the record being tagged.
type Target struct {
	ID   string
	Type string
}

// Tagger is who applies the tags. The zero value means the system.
type Tagger struct {
	ID   string
	Type string
}

// Repository persists tags and taggings.
type Repository interface {
	// Tag ensures every name exists as a Tag and links it to target.
	// Already existing taggings are left as they are.
	Tag(ctx context.Context, target Target, tagContext string, names []string, tagger Tagger) ([]Tag, error)
	// List returns the tags linked to target in tagContext.
	List(ctx context.Context, target Target, tagContext string) ([]Tag, error)
}

// ParseList splits a comma separated tag list, trimming whitespace and
// dropping blanks and duplicates. Order of first appearance is kept.
func ParseList(raw string) []string {
	return Normalize(strings.Split(raw, ","))
}

// Normalize trims names, dropping blanks and exact duplicates.
func Normalize(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
