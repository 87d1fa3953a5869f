package assistant

import (
	"strings"

	"github.com/tidwall/gjson"
)

// defaultConfidence is reported when the model does not state one
const defaultConfidence = 0.5

// Response is the assistant's answer to one turn
type Response struct {
	Message               string   `json:"message"`
	Confidence            float64  `json:"confidence"`
	Sources               []string `json:"sources,omitempty"`
	SuggestedActions      []string `json:"suggested_actions,omitempty"`
	RequiresClarification bool     `json:"requires_clarification"`
}

// ParseResponse decodes the model's final text. Models are prompted to emit
// a JSON object but drift under pressure, so parsing is tolerant: anything
// that is not a well-formed response object becomes the message verbatim.
func ParseResponse(text string) Response {
	raw := stripFences(text)
	parsed := gjson.Parse(raw)
	if !parsed.IsObject() || !parsed.Get("message").Exists() {
		return Response{
			Message:    strings.TrimSpace(text),
			Confidence: defaultConfidence,
		}
	}

	resp := Response{
		Message:               parsed.Get("message").String(),
		Confidence:            clampConfidence(parsed.Get("confidence")),
		RequiresClarification: parsed.Get("requires_clarification").Bool(),
	}
	for _, source := range parsed.Get("sources").Array() {
		resp.Sources = append(resp.Sources, source.String())
	}
	for _, action := range parsed.Get("suggested_actions").Array() {
		resp.SuggestedActions = append(resp.SuggestedActions, action.String())
	}
	return resp
}

// stripFences removes a markdown code fence wrapping the payload
func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

func clampConfidence(value gjson.Result) float64 {
	if !value.Exists() {
		return defaultConfidence
	}
	confidence := value.Float()
	switch {
	case confidence < 0:
		return 0
	case confidence > 1:
		return 1
	default:
		return confidence
	}
}
