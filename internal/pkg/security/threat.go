package security

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultThreatThreshold is the score above which retrieved sources are suppressed.
const DefaultThreatThreshold = 0.5

// Threat tags.
const (
	TagInstructionOverride  = "instruction_override"
	TagSystemPromptRequest  = "system_prompt_request"
	TagRoleReassignment     = "role_reassignment"
	TagDelimiterEscape      = "delimiter_escape"
	TagSecretExtraction     = "secret_extraction"
	TagRuleBypass           = "rule_bypass"
	TagContextManipulation  = "context_manipulation"
	TagSuspiciousKeyword    = "suspicious_keyword"
	TagRepeatedInstructions = "repeated_instructions"
	TagExcessiveLength      = "excessive_length"
)

// ThreatAssessment is the prompt-injection score of a query.
type ThreatAssessment struct {
	Score float64  `json:"score"`
	Tags  []string `json:"tags,omitempty"`
}

// Exceeds reports whether the score is strictly above threshold.
func (a ThreatAssessment) Exceeds(threshold float64) bool {
	return a.Score > threshold
}

type signature struct {
	tag    string
	re     *regexp.Regexp
	weight float64
}

// signatures are evaluated in order against folded text.
var signatures = []signature{
	{
		tag:    TagInstructionOverride,
		re:     regexp.MustCompile(`\b(ignore|forget|disregard|skip|drop)\b.{0,40}\b(previous|prior|above|earlier|preceding|all|any|your|the)\b.{0,20}\b(instructions?|prompts?|rules|directions|directives|commands?|messages?)\b`),
		weight: 0.35,
	},
	{
		tag:    TagInstructionOverride,
		re:     regexp.MustCompile(`\bnew (instructions?|directives?|rules)\b|\bfrom now on\b`),
		weight: 0.2,
	},
	{
		tag:    TagSystemPromptRequest,
		re:     regexp.MustCompile(`\b(reveal|show|print|display|output|repeat|dump|leak|tell me|what (is|are|was|were)|list|give me)\b.{0,40}\b(system ?prompts?|system messages?|initial (prompt|instructions)|hidden (prompt|instructions)|your (instructions|rules|prompt|guidelines|configuration))\b`),
		weight: 0.35,
	},
	{
		tag:    TagRoleReassignment,
		re:     regexp.MustCompile(`\b(you are now|you're now|act as|pretend (to be|you are|you're)|roleplay as|role-play as|behave as|you will now be|switch to)\b`),
		weight: 0.3,
	},
	{
		tag:    TagRoleReassignment,
		re:     regexp.MustCompile(`\b(developer|dan|jailbreak|god|admin) mode\b`),
		weight: 0.3,
	},
	{
		tag:    TagDelimiterEscape,
		re:     regexp.MustCompile("</?\\s*(system|query|question|context|sources?|instructions?|user|assistant)\\s*>|\\[/?(inst|system|sys)\\]|<<+\\s*/?\\s*(sys|system|question|sources|end)|<\\|(im_start|im_end|system|endoftext)\\|>|#{2,}\\s*(system|instructions?)\\b|```\\s*system"),
		weight: 0.3,
	},
	{
		tag:    TagSecretExtraction,
		re:     regexp.MustCompile(`\b(reveal|show|display|output|print|give me|tell me|what is|send|leak)\b.{0,40}\b(api[ _-]?keys?|secret keys?|secrets|passwords?|access tokens?|credentials?|env(ironment)? variables?)\b`),
		weight: 0.3,
	},
	{
		tag:    TagRuleBypass,
		re:     regexp.MustCompile(`\b(bypass|override|circumvent|disable|skip|ignore|turn off)\b.{0,30}\b(rules|guidelines|restrictions|constraints|filters?|safety|guardrails?|policies|polic(y|ies))\b`),
		weight: 0.25,
	},
	{
		tag:    TagContextManipulation,
		re:     regexp.MustCompile(`\b(do not|don't|dont|never|stop)\b.{0,20}\b(use|rely on|cite|consult|look at)\b.{0,20}\b(the )?(context|documents|sources|excerpts)\b`),
		weight: 0.2,
	},
}

// suspiciousKeywords add a small weight each, up to keywordCap.
var suspiciousKeywords = []string{
	"ignore previous",
	"forget all",
	"new instructions",
	"override",
	"system prompt",
	"api key",
	"jailbreak",
	"bypass",
	"exploit",
	"prompt injection",
}

var instructionVerb = regexp.MustCompile(`\b(ignore|forget|disregard|override|new instructions?)\b`)

const (
	keywordWeight      = 0.1
	keywordCap         = 0.3
	repeatedWeight     = 0.2
	lengthWeight       = 0.1
	excessiveRuneCount = 1000
)

// ScoreThreat scores text for prompt-injection intent. The result depends on
// the text alone. Matching runs on a folded copy so case changes, accents,
// zero-width characters, look-alike letters and leetspeak do not evade it.
func ScoreThreat(text string) ThreatAssessment {
	if strings.TrimSpace(text) == "" {
		return ThreatAssessment{}
	}

	folded := FoldForMatching(text)

	var score float64
	var tags []string
	seen := make(map[string]bool)
	tag := func(t string) {
		if !seen[t] {
			seen[t] = true
			tags = append(tags, t)
		}
	}

	for _, sig := range signatures {
		if sig.re.MatchString(folded) {
			score += sig.weight
			tag(sig.tag)
		}
	}

	var kw float64
	for _, k := range suspiciousKeywords {
		if strings.Contains(folded, k) {
			kw += keywordWeight
		}
	}
	if kw > 0 {
		score += min(kw, keywordCap)
		tag(TagSuspiciousKeyword)
	}

	if len(instructionVerb.FindAllStringIndex(folded, -1)) > 1 {
		score += repeatedWeight
		tag(TagRepeatedInstructions)
	}

	if utf8.RuneCountInString(text) > excessiveRuneCount {
		score += lengthWeight
		tag(TagExcessiveLength)
	}

	return ThreatAssessment{Score: clamp01(score), Tags: tags}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
