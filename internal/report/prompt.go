package report

import (
	"fmt"
	"strings"

	"github.com/jo-hoe/reelcheck/internal/common"
)

// SystemPrompt instructs a model how to fact-check a short-form video transcript.
const SystemPrompt = `You are a meticulous, skeptical fact-checker for short-form videos (Instagram Reels/TikTok style).

Goal: Evaluate factual accuracy of statements in the transcript and assess potential harm.

Method:
1) Extract distinct, checkable factual claims (including implied numeric/statistical claims).
2) Use web search to verify each claim.
3) Decide a per-claim verdict and confidence, then compute an overall verdict and score.
4) Assess danger/harm potential (especially medical/financial/illegal/self-harm/dangerous challenges).

Rules:
- Separate factual claims from opinions, jokes, satire, rhetorical questions, or pure anecdotes.
- Prefer primary/authoritative sources (government, academic/peer-reviewed, major institutions, reputable news).
- Never hallucinate sources. Only cite sources you actually found.
- If evidence is weak/conflicting, say so explicitly and lower confidence.
- If the transcript is ambiguous or likely mistranscribed, call that out in limitations.
- Avoid doxxing or unnecessary personal details; focus on verifying claims, not identifying individuals.
- Every field in the JSON schema is required. Never omit keys; use null for unknown strings, 0 for unknown numbers (only when allowed), and [] for empty lists.

Scoring guidance (0-100):
- 90-100: strong evidence most claims correct; minor quibbles only.
- 70-89: mostly correct but some missing context or small errors.
- 40-69: mixed; multiple important issues or cherry-picking.
- 10-39: largely misleading/incorrect.
- 0-9: wholly false or promotes dangerous misinformation.

Overall verdict must be one of:
accurate, mostly_accurate, mixed, misleading, false, unverifiable.

Per-claim verdict must be one of:
supported, contradicted, mixed, unverifiable, not_a_factual_claim.

Danger items:
- category must be one of: medical_misinformation, financial_scam, illegal_instructions, self_harm,
  dangerous_challenge, hate_or_harassment, privacy_or_doxxing, other.
- severity is 0-5 (0 = none, 5 = severe/imminent).
- include a short mitigation suggestion when applicable.

Output must follow the provided JSON schema exactly.`

// Schema is the JSON schema of Report handed to models that cannot enforce a
// structured output natively.
const Schema = `{
  "type": "object",
  "required": ["generated_at", "overall_score", "overall_verdict", "summary", "sources_used", "whats_right", "whats_wrong", "missing_context", "claims", "danger", "limitations"],
  "properties": {
    "generated_at": {"type": "string", "format": "date-time"},
    "overall_score": {"type": "integer", "minimum": 0, "maximum": 100},
    "overall_verdict": {"enum": ["accurate", "mostly_accurate", "mixed", "misleading", "false", "unverifiable"]},
    "summary": {"type": "string"},
    "sources_used": {"type": "array", "items": {"$ref": "#/$defs/source"}},
    "whats_right": {"type": "array", "items": {"type": "string"}},
    "whats_wrong": {"type": "array", "items": {"type": "string"}},
    "missing_context": {"type": "array", "items": {"type": "string"}},
    "claims": {"type": "array", "items": {
      "type": "object",
      "required": ["claim", "verdict", "confidence", "explanation", "correction", "sources"],
      "properties": {
        "claim": {"type": "string"},
        "verdict": {"enum": ["supported", "contradicted", "mixed", "unverifiable", "not_a_factual_claim"]},
        "confidence": {"type": "integer", "minimum": 0, "maximum": 100},
        "explanation": {"type": "string"},
        "correction": {"type": ["string", "null"]},
        "sources": {"type": "array", "items": {"$ref": "#/$defs/source"}}
      }
    }},
    "danger": {"type": "array", "items": {
      "type": "object",
      "required": ["category", "severity", "description", "mitigation"],
      "properties": {
        "category": {"enum": ["medical_misinformation", "financial_scam", "illegal_instructions", "self_harm", "dangerous_challenge", "hate_or_harassment", "privacy_or_doxxing", "other"]},
        "severity": {"type": "integer", "minimum": 0, "maximum": 5},
        "description": {"type": "string"},
        "mitigation": {"type": ["string", "null"]}
      }
    }},
    "limitations": {"type": ["string", "null"]}
  },
  "$defs": {
    "source": {
      "type": "object",
      "required": ["title", "publisher", "url", "accessed_at"],
      "properties": {
        "title": {"type": "string"},
        "publisher": {"type": ["string", "null"]},
        "url": {"type": "string"},
        "accessed_at": {"type": ["string", "null"]}
      }
    }
  }
}`

var languageNames = map[string]string{
	"ar": "Arabic",
	"bn": "Bengali",
	"cs": "Czech",
	"da": "Danish",
	"de": "German",
	"el": "Greek",
	"en": "English",
	"es": "Spanish",
	"fa": "Persian",
	"fi": "Finnish",
	"fr": "French",
	"he": "Hebrew",
	"hi": "Hindi",
	"hu": "Hungarian",
	"id": "Indonesian",
	"it": "Italian",
	"ja": "Japanese",
	"ko": "Korean",
	"ms": "Malay",
	"nl": "Dutch",
	"no": "Norwegian",
	"pl": "Polish",
	"pt": "Portuguese",
	"ro": "Romanian",
	"ru": "Russian",
	"sv": "Swedish",
	"sw": "Swahili",
	"th": "Thai",
	"tl": "Filipino (Tagalog)",
	"tr": "Turkish",
	"uk": "Ukrainian",
	"ur": "Urdu",
	"vi": "Vietnamese",
	"zh": "Chinese",
}

// NormalizeLanguage trims and lower-cases code, falling back to the default output language.
func NormalizeLanguage(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return common.DefaultOutputLanguage
	}
	return code
}

// LanguageName returns the English name of a language code, or the code itself when unknown.
func LanguageName(code string) string {
	code = NormalizeLanguage(code)
	if name, ok := languageNames[code]; ok {
		return name
	}
	return code
}

// BuildUserPrompt assembles the per-request instructions for a fact-check.
func BuildUserPrompt(transcript, videoURL, outputLanguage string) string {
	code := NormalizeLanguage(outputLanguage)
	var b strings.Builder
	if videoURL != "" {
		fmt.Fprintf(&b, "Video URL: %s\n\n", videoURL)
	}
	fmt.Fprintf(&b, "Requested output language: %s (code: %s).\n", LanguageName(code), code)
	b.WriteString("Write all human-readable text fields (summary, whats_right/wrong, missing_context, claim explanations, corrections, danger descriptions/mitigations, limitations) in that language.\n")
	b.WriteString("Do NOT translate JSON keys or enum values.\n")
	b.WriteString("For sources_used and per-claim sources: keep source titles/publishers as they appear on the source (do not translate).\n\n")
	b.WriteString("Transcript (verbatim, may contain errors):\n")
	b.WriteString(transcript)
	b.WriteString("\n\n")
	b.WriteString("Task:\n")
	b.WriteString("1) Extract the distinct factual claims (including implied numeric/statistical claims).\n")
	b.WriteString("2) Verify each claim using web search.\n")
	b.WriteString("3) Produce an overall accuracy score (0-100) and a plain-language summary of what is right vs wrong.\n")
	b.WriteString("4) Assess danger/harm potential and recommend an on-screen warning if needed.\n")
	b.WriteString("5) Populate sources_used with the unique sources you relied on (deduplicate URLs).\n")
	return b.String()
}

// SystemPromptWithSchema appends the JSON schema to the system prompt.
func SystemPromptWithSchema() string {
	return SystemPrompt + "\n\nYou must respond with a valid JSON object matching this schema:\n" + Schema
}
