// Package history implements the session's message-history budget and
// pruning described in spec §4.6: preserved-message selection, FIFO
// archival of displaced messages, and keyword-triggered reinjection.
package history

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/haasonsaas/agentkernel/pkg/models"
)

// SoftTrim configures the first-stage, lossy-but-recoverable shrink of an
// oversized tool result (kept head/tail, elided middle).
type SoftTrim struct {
	MaxChars  int
	HeadChars int
	TailChars int
}

// HardClear configures the second-stage, destructive replacement applied
// when soft trimming alone isn't enough to get back under budget.
type HardClear struct {
	Enabled     bool
	Placeholder string
}

// Config bounds one Manager.
type Config struct {
	TokenBudget        int
	PreserveKeywords   []string
	MaxArchiveSegments int
	SoftTrim           SoftTrim
	HardClear          HardClear
}

// DefaultConfig mirrors the teacher's context-pruning defaults,
// generalized to whole-message (not just tool-result) pruning.
func DefaultConfig() Config {
	return Config{
		TokenBudget:        8000,
		MaxArchiveSegments: 20,
		SoftTrim:           SoftTrim{MaxChars: 4000, HeadChars: 1500, TailChars: 1500},
		HardClear:          HardClear{Enabled: true, Placeholder: "[pruned tool result]"},
	}
}

// PrunedSegment is one displaced slice of history, archived so it can be
// reinjected later if the user's next message references it.
type PrunedSegment struct {
	ID                uint64
	Messages          []models.Message
	Summary           string
	ExtractedMemories []string
	TokensSaved       int
	Timestamp         int64
}

// Manager owns the bounded FIFO archive and applies the pruning
// algorithm between kernel steps. It never touches history mid-step
// (spec §4.5's pruning-notification rule).
type Manager struct {
	cfg     Config
	archive []PrunedSegment
	nextID  uint64
}

// NewManager builds a Manager from cfg.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// estimateTokens is the same chars/4 heuristic the teacher's context
// packer uses elsewhere for budgeting without a real tokenizer.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

func estimateMessageTokens(m models.Message) int {
	total := estimateTokens(m.Content)
	for _, tc := range m.ToolCalls {
		total += estimateTokens(tc.Name) + estimateTokens(string(tc.Input))
	}
	for _, tr := range m.ToolResults {
		total += estimateTokens(tr.Content)
	}
	return total
}

func totalTokens(messages []models.Message) int {
	total := 0
	for _, m := range messages {
		total += estimateMessageTokens(m)
	}
	return total
}

var correctionPhrases = []string{"actually", "i meant", "no, i meant", "correction", "that's wrong", "scratch that"}

func isUserCorrection(m models.Message) bool {
	if m.Role != models.RoleUser {
		return false
	}
	lower := strings.ToLower(m.Content)
	for _, p := range correctionPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func matchesKeyword(m models.Message, keywords []string) bool {
	if len(keywords) == 0 {
		return false
	}
	lower := strings.ToLower(m.Content)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func isPreserved(m models.Message, keywords []string) bool {
	switch m.Role {
	case models.RoleSystem, models.RoleTool:
		return true
	}
	if len(m.ToolResults) > 0 {
		return true
	}
	if matchesKeyword(m, keywords) {
		return true
	}
	return isUserCorrection(m)
}

// Prune applies spec §4.6 steps 1-4: if the history fits the budget it
// is returned unchanged; otherwise preserved messages plus as many
// recent non-preserved messages as fit are kept, in original order, and
// the displaced messages are archived as a new PrunedSegment.
func (m *Manager) Prune(nowUnix int64, messages []models.Message) []models.Message {
	if totalTokens(messages) <= m.cfg.TokenBudget {
		return messages
	}

	preservedIdx := make(map[int]bool, len(messages))
	preservedTokens := 0
	for i, msg := range messages {
		if isPreserved(msg, m.cfg.PreserveKeywords) {
			preservedIdx[i] = true
			preservedTokens += estimateMessageTokens(msg)
		}
	}

	remaining := m.cfg.TokenBudget - preservedTokens
	keptIdx := make(map[int]bool, len(messages))
	for i := len(messages) - 1; i >= 0; i-- {
		if preservedIdx[i] {
			continue
		}
		cost := estimateMessageTokens(messages[i])
		if cost > remaining {
			continue
		}
		keptIdx[i] = true
		remaining -= cost
	}

	kept := make([]models.Message, 0, len(messages))
	var displaced []models.Message
	displacedTokens := 0
	for i, msg := range messages {
		if preservedIdx[i] || keptIdx[i] {
			kept = append(kept, msg)
			continue
		}
		displaced = append(displaced, msg)
		displacedTokens += estimateMessageTokens(msg)
	}

	if len(displaced) == 0 {
		return kept
	}

	m.archiveSegment(PrunedSegment{
		Messages:    displaced,
		Summary:     summarize(displaced),
		TokensSaved: displacedTokens,
		Timestamp:   nowUnix,
	})

	return kept
}

func (m *Manager) archiveSegment(seg PrunedSegment) {
	m.nextID++
	seg.ID = m.nextID
	m.archive = append(m.archive, seg)
	if len(m.archive) > m.cfg.MaxArchiveSegments {
		m.archive = m.archive[len(m.archive)-m.cfg.MaxArchiveSegments:]
	}
}

func summarize(messages []models.Message) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(len(messages)))
	b.WriteString(" archived message(s)")
	return b.String()
}

// Archive returns the current FIFO archive, oldest first.
func (m *Manager) Archive() []PrunedSegment {
	return m.archive
}

// softTrimContent shrinks an oversized tool result's content to its
// configured head/tail, eliding the middle with a note — the first,
// lossy-but-recoverable stage ahead of whole-message eviction. Mirrors
// the teacher's softTrimToolResult (internal/agent/context/pruning.go).
func softTrimContent(content string, cfg SoftTrim) (string, bool) {
	if len(content) <= cfg.MaxChars {
		return content, false
	}
	head, tail := maxInt(cfg.HeadChars, 0), maxInt(cfg.TailChars, 0)
	if head+tail >= len(content) {
		return content, false
	}
	trimmed := content[:head] + "\n...\n" + content[len(content)-tail:]
	note := "\n\n[tool result trimmed: kept first " + strconv.Itoa(head) +
		" and last " + strconv.Itoa(tail) + " chars of " + strconv.Itoa(len(content)) + "]"
	return trimmed + note, true
}

// hardClearContent replaces content outright with the configured
// placeholder — the second, destructive stage applied only when soft
// trimming alone doesn't recover enough budget.
func hardClearContent(content string, cfg HardClear) (string, bool) {
	if !cfg.Enabled || content == cfg.Placeholder {
		return content, false
	}
	return cfg.Placeholder, true
}

func maxInt(v, min int) int {
	if v < min {
		return min
	}
	return v
}

func cloneToolResults(trs []models.ToolResult) []models.ToolResult {
	return append([]models.ToolResult(nil), trs...)
}

// ApplyToolResultPruning runs the two-stage soft-trim-then-hard-clear
// pass over oversized tool results, supplementing spec §4.6's
// message-level preserve/archive algorithm (Prune) with the teacher's
// in-place tool-result shrinking (internal/agent/context/pruning.go,
// internal/sessions/compaction.go): large tool outputs are trimmed, and
// only cleared outright if trimming isn't enough, before any whole
// message is evicted. A caller typically runs this ahead of Prune.
func (m *Manager) ApplyToolResultPruning(messages []models.Message) []models.Message {
	if totalTokens(messages) <= m.cfg.TokenBudget {
		return messages
	}

	out := append([]models.Message(nil), messages...)
	softTrimStage(out, m.cfg.SoftTrim)
	if totalTokens(out) <= m.cfg.TokenBudget {
		return out
	}
	if !m.cfg.HardClear.Enabled {
		return out
	}
	hardClearStage(out, m.cfg.HardClear)
	return out
}

func softTrimStage(messages []models.Message, cfg SoftTrim) {
	for i := range messages {
		if len(messages[i].ToolResults) == 0 {
			continue
		}
		results := cloneToolResults(messages[i].ToolResults)
		changed := false
		for j, tr := range results {
			if trimmed, ok := softTrimContent(tr.Content, cfg); ok {
				results[j].Content = trimmed
				changed = true
			}
		}
		if changed {
			messages[i].ToolResults = results
		}
	}
}

func hardClearStage(messages []models.Message, cfg HardClear) {
	for i := range messages {
		if len(messages[i].ToolResults) == 0 {
			continue
		}
		results := cloneToolResults(messages[i].ToolResults)
		changed := false
		for j, tr := range results {
			if cleared, ok := hardClearContent(tr.Content, cfg); ok {
				results[j].Content = cleared
				changed = true
			}
		}
		if changed {
			messages[i].ToolResults = results
		}
	}
}

var historyStopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "to": {}, "of": {}, "and": {},
	"in": {}, "it": {}, "that": {}, "for": {}, "on": {}, "with": {},
	"was": {}, "this": {}, "are": {}, "be": {}, "at": {}, "by": {}, "i": {},
}

// tokenize lowercases s and splits it on non-letter/non-digit runes,
// dropping stop words and empty tokens — a simple keyword extractor, not
// a real tokenizer, matching spec §4.6 step 5's "simple tokenize,
// stop-word filter".
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, stop := historyStopWords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

func keywordSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func segmentKeywords(seg PrunedSegment) map[string]struct{} {
	set := make(map[string]struct{})
	for _, msg := range seg.Messages {
		for _, w := range tokenize(msg.Content) {
			set[w] = struct{}{}
		}
	}
	return set
}

// Reinject implements spec §4.6 step 5: before the next user message
// reaches the kernel, scan it for keyword overlap against each archived
// segment (>=2 shared keywords, or >=50% overlap with the segment's own
// keyword set) and return the messages of every matching segment, in
// archive order, to be spliced back into history ahead of the user
// message.
func (m *Manager) Reinject(userMessage string) []models.Message {
	userWords := tokenize(userMessage)
	if len(userWords) == 0 {
		return nil
	}
	userSet := keywordSet(userWords)

	var reinjected []models.Message
	for _, seg := range m.archive {
		segWords := segmentKeywords(seg)
		if len(segWords) == 0 {
			continue
		}
		overlap := 0
		for w := range segWords {
			if _, ok := userSet[w]; ok {
				overlap++
			}
		}
		ratio := float64(overlap) / float64(len(segWords))
		if overlap >= 2 || ratio >= 0.5 {
			reinjected = append(reinjected, seg.Messages...)
		}
	}
	return reinjected
}
