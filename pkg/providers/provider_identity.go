package providers

import "strings"

// InferProviderFromModel maps a model identifier to one of the configured
// provider names. It returns "" when the model does not reveal a provider.
func InferProviderFromModel(model string) string {
	m := strings.TrimSpace(strings.ToLower(model))
	if m == "" {
		return ""
	}

	if idx := strings.Index(m, "/"); idx > 0 {
		switch m[:idx] {
		case "anthropic":
			return "anthropic"
		case "openai":
			return "openai"
		case "venice":
			return "venice"
		}
	}

	switch {
	case strings.Contains(m, "claude"):
		return "anthropic"
	case strings.HasPrefix(m, "gpt") || strings.HasPrefix(m, "o1") || strings.HasPrefix(m, "o3") || strings.HasPrefix(m, "o4"):
		return "openai"
	case strings.HasPrefix(m, "venice") || strings.Contains(m, "qwen") || strings.Contains(m, "mistral") || strings.Contains(m, "llama"):
		return "venice"
	default:
		return ""
	}
}
