// Package summarizer condenses consolidated cluster members into a single
// summary content. The default implementation is extractive and fully
// deterministic, so repeated consolidation of the same cluster produces the
// same summary.
package summarizer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mnemo-ai/mnemo/internal/domain"
)

// maxSentencesPerMember bounds how much of each member survives into the
// summary before the byte cap applies.
const maxSentencesPerMember = 2

// Extractive picks the leading sentences of each member, deduplicates them,
// and joins them under the content byte cap.
type Extractive struct{}

func NewExtractive() *Extractive {
	return &Extractive{}
}

func (s *Extractive) Summarize(ctx context.Context, contents []string) (string, error) {
	if len(contents) == 0 {
		return "", fmt.Errorf("%w: no contents to summarize", domain.ErrInvalidInput)
	}

	// Sort inputs so the summary does not depend on member order.
	sorted := append([]string(nil), contents...)
	sort.Strings(sorted)

	seen := make(map[string]struct{})
	var parts []string
	for _, content := range sorted {
		for i, sentence := range splitSentences(content) {
			if i >= maxSentencesPerMember {
				break
			}
			key := strings.ToLower(sentence)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			parts = append(parts, sentence)
		}
	}

	summary := strings.Join(parts, " ")
	if len(summary) > domain.MaxContentBytes {
		summary = truncateUTF8(summary, domain.MaxContentBytes)
	}
	return summary, nil
}

func splitSentences(content string) []string {
	var out []string
	var b strings.Builder
	for _, r := range content {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if s := strings.TrimSpace(b.String()); s != "" && s != "." {
				out = append(out, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		out = append(out, s)
	}
	return out
}

// truncateUTF8 cuts at the last rune boundary at or below n bytes.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}

// Mock is a configurable summarizer for tests.
type Mock struct {
	Response string
	Err      error

	Calls [][]string
}

func (m *Mock) Summarize(ctx context.Context, contents []string) (string, error) {
	m.Calls = append(m.Calls, contents)
	if m.Err != nil {
		return "", m.Err
	}
	if m.Response != "" {
		return m.Response, nil
	}
	return "summary of " + fmt.Sprint(len(contents)) + " memories", nil
}
