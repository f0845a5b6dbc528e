package grading

import "github.com/skillpulse/skillpulse/internal/registry"

// placeholderMarker is the prompt text stored for skills graded before any
// content source knows them. Operators spot these rows and backfill content.
const placeholderMarker = "[unregistered skill - content pending]"

// ContentProvider resolves prompt content for a skill during
// auto-registration. Providers form an ordered chain: the first one that
// knows the skill wins.
type ContentProvider interface {
	// Resolve returns the skill's content, or ok=false when unknown here.
	Resolve(skillID string) (*registry.Content, bool)
}

// ContentProviderFunc adapts a function to the ContentProvider interface.
type ContentProviderFunc func(skillID string) (*registry.Content, bool)

func (f ContentProviderFunc) Resolve(skillID string) (*registry.Content, bool) {
	return f(skillID)
}

// placeholderContent is the end of the chain: a minimal community-typed entry
// named after the skill ID with marker prompt text.
func placeholderContent(skillID string) registry.Content {
	return registry.Content{
		ID:                 skillID,
		Name:               skillID,
		Type:               registry.TypeCommunity,
		SystemInstruction:  placeholderMarker,
		UserPromptTemplate: placeholderMarker,
	}
}
