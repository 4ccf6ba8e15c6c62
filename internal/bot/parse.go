package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

var (
	ErrNotNumeric = errors.New("group id must be numeric")
	ErrGroupLink  = errors.New("group links are not supported")
)

// ParseGroupInput reads "<id> [name]". Public t.me links are refused: the
// bot can only address a group by its numeric chat id.
func ParseGroupInput(text string) (id, name string, err error) {
	text = strings.TrimSpace(text)
	if strings.Contains(strings.ToLower(text), "t.me/") {
		return "", "", ErrGroupLink
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", "", ErrNotNumeric
	}
	id = fields[0]
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		return "", "", ErrNotNumeric
	}
	name = strings.TrimSpace(strings.TrimPrefix(text, id))
	if name == "" {
		name = "Group " + id
	}
	return id, name, nil
}

// ParseIDList splits on commas and whitespace. Every token must be a numeric
// chat id; duplicates are dropped, first occurrence wins.
func ParseIDList(text string) ([]string, error) {
	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ';' || unicode.IsSpace(r)
	})
	if len(tokens) == 0 {
		return nil, errors.New("no group ids given")
	}
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, err := strconv.ParseInt(t, 10, 64); err != nil {
			return nil, fmt.Errorf("%q: %w", t, ErrNotNumeric)
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}

// ParsePositiveInt accepts integers in [1, limit].
func ParsePositiveInt(text string, limit int64) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil || v <= 0 {
		return 0, errors.New("enter a whole number greater than 0")
	}
	if v > limit {
		return 0, fmt.Errorf("enter a number no larger than %d", limit)
	}
	return v, nil
}

// ParseNonNegativeInt accepts integers in [0, limit].
func ParseNonNegativeInt(text string, limit int64) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil || v < 0 {
		return 0, errors.New("enter a whole number of 0 or more")
	}
	if v > limit {
		return 0, fmt.Errorf("enter a number no larger than %d", limit)
	}
	return v, nil
}
