package extraction

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/sentiment-ranker/comment-ranker/internal/models"
	"github.com/sirupsen/logrus"
)

var validate = validator.New()

// listKeys are the object fields that may hold the fact list.
var listKeys = []string{"products", "facts", "results"}

// ParseResponse turns raw service output into facts. Code fences are stripped; if the
// payload is not valid JSON the first balanced {...} block is tried. An unexpected but
// well-formed shape yields no facts and no error.
func ParseResponse(raw string) ([]models.ExtractedFact, error) {
	clean := strings.TrimSpace(stripFences(raw))

	var payload any
	if err := json.Unmarshal([]byte(clean), &payload); err != nil {
		block, ok := firstObject(clean)
		if !ok {
			return nil, &ParseError{Raw: raw, Err: err}
		}
		if err := json.Unmarshal([]byte(block), &payload); err != nil {
			return nil, &ParseError{Raw: raw, Err: err}
		}
	}

	entries, ok := factList(payload)
	if !ok {
		logrus.Warnf("Unexpected extraction payload shape %T, ignoring", payload)
		return nil, nil
	}

	facts := make([]models.ExtractedFact, 0, len(entries))
	for _, e := range entries {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		pf := toProductFact(m)
		if err := validate.Struct(pf); err != nil {
			logrus.Warnf("Dropping invalid extraction entry %v: %v", m, err)
			continue
		}
		facts = append(facts, models.ExtractedFact{
			ProductName: pf.Product,
			Sentiment:   models.ParseSentiment(pf.Sentiment),
			Evidence:    pf.Reason,
			FeatureTags: pf.Features,
		})
	}
	return facts, nil
}

const fence = "```"

// stripFences removes one leading fence (with its language tag) and one trailing fence.
// Backticks inside the payload are left alone.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, fence); ok {
		if i := strings.IndexByte(rest, '\n'); i >= 0 {
			rest = rest[i+1:]
		} else {
			rest = strings.TrimLeftFunc(rest, unicode.IsLetter)
		}
		s = rest
	}
	s = strings.TrimSpace(s)
	return strings.TrimSuffix(s, fence)
}

func factList(payload any) ([]any, bool) {
	switch v := payload.(type) {
	case []any:
		return v, true
	case map[string]any:
		for _, key := range listKeys {
			val, present := v[key]
			if !present {
				continue
			}
			if val == nil {
				return nil, true
			}
			if list, ok := val.([]any); ok {
				return list, true
			}
		}
		// a single fact object
		if _, ok := v["product"]; ok {
			return []any{v}, true
		}
		return nil, false
	default:
		return nil, false
	}
}

func toProductFact(m map[string]any) productFact {
	return productFact{
		Product:   strings.TrimSpace(firstString(m, "product", "product_name", "name")),
		Sentiment: firstString(m, "sentiment", "attitude"),
		Reason:    strings.TrimSpace(firstString(m, "reason", "evidence")),
		Features:  featureTags(firstValue(m, "features", "feature_tags")),
	}
}

func firstValue(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstString(m map[string]any, keys ...string) string {
	switch v := firstValue(m, keys...).(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func featureTags(v any) []string {
	var out []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if item != nil {
				add(fmt.Sprint(item))
			}
		}
	case string:
		for _, part := range strings.FieldsFunc(t, func(r rune) bool {
			return r == '、' || r == ',' || r == '，' || r == ';' || r == '；'
		}) {
			add(part)
		}
	}
	return out
}

// firstObject returns the first balanced {...} substring, honoring JSON string escapes.
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// IsParseError reports whether err is a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
