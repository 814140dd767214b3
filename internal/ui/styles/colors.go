// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/termchat/internal/llm"
)

// =============================================================================
// ACCENT COLORS
// =============================================================================

// Purple - primary accent, assistant messages
var Purple = lipgloss.AdaptiveColor{Light: "#7C3AED", Dark: "#A78BFA"}

// Cyan - brand color, user prompt
var Cyan = lipgloss.AdaptiveColor{Light: "#0891B2", Dark: "#22D3EE"}

// Emerald - success, local models
var Emerald = lipgloss.AdaptiveColor{Light: "#059669", Dark: "#34D399"}

// Rose - errors
var Rose = lipgloss.AdaptiveColor{Light: "#E11D48", Dark: "#FB7185"}

// Amber - warnings, loading
var Amber = lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"}

// =============================================================================
// SURFACE AND TEXT COLORS
// =============================================================================

var (
	SurfaceDim    = lipgloss.AdaptiveColor{Light: "#F5F5F5", Dark: "#181825"}
	Overlay       = lipgloss.AdaptiveColor{Light: "#E5E5E5", Dark: "#313244"}
	TextPrimary   = lipgloss.AdaptiveColor{Light: "#1F2937", Dark: "#CDD6F4"}
	TextSecondary = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#A6ADC8"}
	TextMuted     = lipgloss.AdaptiveColor{Light: "#9CA3AF", Dark: "#6C7086"}
)

// =============================================================================
// PROVIDER COLORS
// =============================================================================

var (
	OpenAIColor     = lipgloss.AdaptiveColor{Light: "#10A37F", Dark: "#19C37D"}
	AnthropicColor  = lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#D97757"}
	OllamaColor     = Emerald
	CompatibleColor = lipgloss.AdaptiveColor{Light: "#2563EB", Dark: "#60A5FA"}
)

// ProviderColor returns the badge color for kind.
func ProviderColor(kind llm.Kind) lipgloss.AdaptiveColor {
	switch kind {
	case llm.KindOpenAI:
		return OpenAIColor
	case llm.KindAnthropic:
		return AnthropicColor
	case llm.KindOllama:
		return OllamaColor
	case llm.KindOpenAICompatible:
		return CompatibleColor
	default:
		return TextSecondary
	}
}
