// Copyright 2026 Altus4
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package search

import (
	"strings"
	"unicode/utf8"
)

const (
	snippetWindow        = 50
	snippetMinFieldLen   = 50
	fallbackMinFieldLen  = 20
	fallbackTruncateLen  = 100
)

// extractSnippet builds the contextual excerpt for a row. Fields are scanned
// in the given order; the first field of at least 50 characters containing
// any whitespace-tokenised search term wins, windowed 50 characters either
// side of the match and bracketed by ellipses. When no field matches, the
// first field of at least 20 characters is returned truncated to 100.
func extractSnippet(fields []string, query string) string {
	terms := tokenize(query)

	for _, field := range fields {
		if len(field) < snippetMinFieldLen {
			continue
		}
		lower := strings.ToLower(field)
		for _, term := range terms {
			pos := strings.Index(lower, strings.ToLower(term))
			if pos < 0 {
				continue
			}
			return window(field, pos, len(term))
		}
	}

	for _, field := range fields {
		if len(field) < fallbackMinFieldLen {
			continue
		}
		if len(field) > fallbackTruncateLen {
			return field[:snapRuneStart(field, fallbackTruncateLen)]
		}
		return field
	}

	return ""
}

func window(field string, pos, termLen int) string {
	start := pos - snippetWindow
	prefix := "..."
	if start <= 0 {
		start = 0
		prefix = ""
	}
	start = snapRuneStart(field, start)

	end := pos + termLen + snippetWindow
	suffix := "..."
	if end >= len(field) {
		end = len(field)
		suffix = ""
	} else {
		end = snapRuneStart(field, end)
	}

	return prefix + field[start:end] + suffix
}

// snapRuneStart moves a byte index back to the nearest rune boundary so the
// window never slices through a multi-byte character.
func snapRuneStart(s string, i int) int {
	for i > 0 && i < len(s) && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

func tokenize(query string) []string {
	raw := strings.Fields(query)
	terms := make([]string, 0, len(raw))
	for _, t := range raw {
		if t != "" {
			terms = append(terms, t)
		}
	}
	return terms
}
