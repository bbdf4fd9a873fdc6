package usage

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// HumanTokens formats token counts with K/M suffixes for quick scanning.
func HumanTokens(n int) string {
	switch {
	case n >= 1_000_000:
		return scaled(float64(n)/1_000_000, "M")
	case n >= 1_000:
		return scaled(float64(n)/1_000, "K")
	}
	return strconv.Itoa(n)
}

func scaled(value float64, suffix string) string {
	return strings.TrimSuffix(fmt.Sprintf("%.1f", value), ".0") + suffix
}

// Summary renders one line per provider, highest token spend first.
func Summary(records []Record) string {
	breakdown := ProviderBreakdown(records)
	if len(breakdown) == 0 {
		return "no LLM calls recorded"
	}

	names := make([]string, 0, len(breakdown))
	for name := range breakdown {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := breakdown[names[i]], breakdown[names[j]]
		if a.TotalTokens != b.TotalTokens {
			return a.TotalTokens > b.TotalTokens
		}
		return names[i] < names[j]
	})

	lines := make([]string, 0, len(names))
	for _, name := range names {
		agg := breakdown[name]
		line := fmt.Sprintf("%s: %d calls, %s tokens (%s in / %s out)",
			name, agg.Calls, HumanTokens(agg.TotalTokens), HumanTokens(agg.PromptTokens), HumanTokens(agg.CompletionTokens))
		if agg.UnknownCalls > 0 {
			line += fmt.Sprintf(", %d without usage", agg.UnknownCalls)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
