package memory

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/restflow/restflow/pkg/models"
)

// sourceIcon renders a short glyph per MemorySourceType for the export
// header, matching the at-a-glance provenance markers elsewhere in
// RestFlow's operator-facing text output.
func sourceIcon(t models.MemorySourceType) string {
	switch t {
	case models.MemorySourceTaskExecution:
		return "⚙"
	case models.MemorySourceConversation:
		return "💬"
	case models.MemorySourceManualNote:
		return "📝"
	case models.MemorySourceAgentGenerated:
		return "🤖"
	default:
		return "•"
	}
}

// ExportAgentMarkdown renders every chunk belonging to agentID as a single
// Markdown document. Chunks are grouped by session, each session header
// followed by its chunks in chronological (created_at_ms) ascending order;
// sessions themselves are ordered by updated_at_ms descending, newest
// activity first. Chunks with no session are rendered last, under an
// "Unsorted" heading, in chronological ascending order.
func (s *Store) ExportAgentMarkdown(agentID string) (string, error) {
	chunks, err := s.ListByAgent(agentID)
	if err != nil {
		return "", err
	}
	sessions, err := s.ListSessionsByAgent(agentID)
	if err != nil {
		return "", err
	}

	bySession := make(map[string][]models.MemoryChunk)
	var unsorted []models.MemoryChunk
	for _, c := range chunks {
		if c.SessionID == "" {
			unsorted = append(unsorted, c)
			continue
		}
		bySession[c.SessionID] = append(bySession[c.SessionID], c)
	}

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].UpdatedAtMs > sessions[j].UpdatedAtMs })
	sort.Slice(unsorted, func(i, j int) bool { return unsorted[i].CreatedAtMs < unsorted[j].CreatedAtMs })

	var b strings.Builder
	fmt.Fprintf(&b, "<!-- agent_id: %s -->\n<!-- exported_at: %s -->\n<!-- chunk_count: %d -->\n\n", agentID, time.Now().UTC().Format(time.RFC3339), len(chunks))
	fmt.Fprintf(&b, "# Memory export: %s\n\n", agentID)

	seen := make(map[string]bool, len(sessions))
	for _, sess := range sessions {
		seen[sess.ID] = true
		items := bySession[sess.ID]
		sort.Slice(items, func(i, j int) bool { return items[i].CreatedAtMs < items[j].CreatedAtMs })
		fmt.Fprintf(&b, "## Session: %s\n\n", nonEmpty(sess.Name, sess.ID))
		if sess.Description != "" {
			fmt.Fprintf(&b, "%s\n\n", sess.Description)
		}
		for _, c := range items {
			writeChunk(&b, c)
		}
	}

	// A session referenced by a chunk but missing its own record is still
	// rendered, chronological within the session, after the known sessions.
	var orphanSessionIDs []string
	for id := range bySession {
		if !seen[id] {
			orphanSessionIDs = append(orphanSessionIDs, id)
		}
	}
	sort.Strings(orphanSessionIDs)
	for _, id := range orphanSessionIDs {
		items := bySession[id]
		sort.Slice(items, func(i, j int) bool { return items[i].CreatedAtMs < items[j].CreatedAtMs })
		fmt.Fprintf(&b, "## Session: %s\n\n", id)
		for _, c := range items {
			writeChunk(&b, c)
		}
	}

	if len(unsorted) > 0 {
		b.WriteString("## Unsorted\n\n")
		for _, c := range unsorted {
			writeChunk(&b, c)
		}
	}

	return b.String(), nil
}

// ExportSessionMarkdown renders a single session's chunks, chronological
// ascending, as a Markdown document.
func (s *Store) ExportSessionMarkdown(sessionID string) (string, error) {
	chunks, err := s.ListBySession(sessionID)
	if err != nil {
		return "", err
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].CreatedAtMs < chunks[j].CreatedAtMs })

	name := sessionID
	if sess, err := s.GetSession(sessionID); err == nil {
		name = nonEmpty(sess.Name, sessionID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<!-- session_id: %s -->\n<!-- exported_at: %s -->\n<!-- chunk_count: %d -->\n\n", sessionID, time.Now().UTC().Format(time.RFC3339), len(chunks))
	fmt.Fprintf(&b, "# Memory export: %s\n\n", name)
	for _, c := range chunks {
		writeChunk(&b, c)
	}
	return b.String(), nil
}

func writeChunk(b *strings.Builder, c models.MemoryChunk) {
	ts := time.UnixMilli(c.CreatedAtMs).UTC().Format(time.RFC3339)
	fmt.Fprintf(b, "### %s %s\n\n", sourceIcon(c.Source.Type), ts)
	fmt.Fprintf(b, "%s\n\n", c.Content)
	if len(c.Tags) > 0 {
		fmt.Fprintf(b, "Tags: %s\n\n", strings.Join(c.Tags, ", "))
	}
	tokens := 0
	if c.TokenCount != nil {
		tokens = *c.TokenCount
	}
	hashPrefix := c.ContentHash
	if len(hashPrefix) > 12 {
		hashPrefix = hashPrefix[:12]
	}
	fmt.Fprintf(b, "<!-- chunk_id: %s, tokens: %d, hash: %s -->\n\n", c.ID, tokens, hashPrefix)
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
