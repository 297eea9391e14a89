package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// ErrUnrecoverable is returned by RecoverJSON when none of the recovery
// stages could extract a parseable JSON value from the model's response
// (§7 ParseError).
var ErrUnrecoverable = errors.New("memscreen: llm response is not recoverable as JSON")

// RecoverJSON implements the §4.2 response-handler pipeline: strip a
// reasoning prelude separated from the JSON payload by the last blank
// line, strip triple-backtick code fences, trim whitespace, attempt a
// standard JSON parse, and only on failure fall back to a tolerant
// Python-literal-style extractor (single quotes, True/False/None).
func RecoverJSON(raw string, out any) error {
	candidate := raw

	if stripped, ok := stripAfterLastBlankLine(candidate); ok {
		candidate = stripped
	}

	candidate = stripCodeFences(candidate)
	candidate = strings.TrimSpace(candidate)

	if candidate == "" {
		return ErrUnrecoverable
	}

	if err := json.Unmarshal([]byte(candidate), out); err == nil {
		return nil
	}

	tolerant := toTolerantJSON(candidate)
	if err := json.Unmarshal([]byte(tolerant), out); err == nil {
		return nil
	}

	return ErrUnrecoverable
}

// stripAfterLastBlankLine drops everything up to and including the last
// blank-line separator, which the model uses to separate a reasoning
// prelude from its final JSON answer. Returns ok=false when there is no
// blank-line separator, leaving the input untouched.
func stripAfterLastBlankLine(s string) (string, bool) {
	idx := strings.LastIndex(s, "\n\n")
	if idx == -1 {
		return s, false
	}
	return s[idx+2:], true
}

var codeFenceRe = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)\\s*```")

func stripCodeFences(s string) string {
	if m := codeFenceRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	// No complete fence pair; strip any stray leading/trailing fence marker.
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return s
}

var (
	singleQuotedKeyRe = regexp.MustCompile(`'([^'\\]*)'\s*:`)
	singleQuotedValRe = regexp.MustCompile(`:\s*'([^'\\]*)'`)
	pyTrueRe          = regexp.MustCompile(`\bTrue\b`)
	pyFalseRe         = regexp.MustCompile(`\bFalse\b`)
	pyNoneRe          = regexp.MustCompile(`\bNone\b`)
	trailingCommaRe   = regexp.MustCompile(`,\s*([}\]])`)
)

// toTolerantJSON rewrites the common ways an LLM emits a Python-literal
// instead of strict JSON: single-quoted keys/strings, True/False/None, and
// trailing commas before a closing brace/bracket.
func toTolerantJSON(s string) string {
	s = singleQuotedKeyRe.ReplaceAllString(s, `"$1":`)
	s = singleQuotedValRe.ReplaceAllString(s, `: "$1"`)
	s = pyTrueRe.ReplaceAllString(s, "true")
	s = pyFalseRe.ReplaceAllString(s, "false")
	s = pyNoneRe.ReplaceAllString(s, "null")
	s = trailingCommaRe.ReplaceAllString(s, "$1")
	return s
}

// ExtractFirstInt returns the first (optionally negative) integer found in
// s, for pulling a confidence-like scalar out of an otherwise-unparseable
// fragment. No package in this module calls it.
func ExtractFirstInt(s string) (int, bool) {
	m := regexp.MustCompile(`-?\d+`).FindString(s)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return n, true
}
