// internal/apistep/extract.go
package apistep

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/itchyny/gojq"
)

/*
 * Response field extraction.
 *
 * Mapping paths are JSONPath-style expressions evaluated with gojq:
 *
 *   $.data.items[0].id      root-anchored JSONPath, translated to jq
 *   data.items[*].id        bare path, treated as "$." + path
 *   $..id                   recursive descent
 *   .data.items[] | .id     raw jq, passed through untouched
 *
 * Translation table:
 *   .name / ['name']   ->  .["name"]
 *   [n]                ->  .[n]
 *   [*] / .*           ->  .[]
 *   ..name             ->  .. | objects | select(has("name")) | .["name"]
 *
 * Result unwrapping: zero results -> nil, one -> the value, several -> a
 * []any holding all of them in emission order.
 */

// ToJQ converts a mapping path to a jq program.
func ToJQ(path string) (string, error) {
	path = strings.TrimSpace(path)
	switch {
	case path == "":
		return "", fmt.Errorf("empty path")
	case strings.HasPrefix(path, "."):
		return path, nil
	case strings.HasPrefix(path, "$"):
		return translateJSONPath(path[1:])
	default:
		return translateJSONPath("." + path)
	}
}

// translateJSONPath translates everything after the leading "$".
func translateJSONPath(rest string) (string, error) {
	var segs []string
	for i := 0; i < len(rest); {
		switch {
		case strings.HasPrefix(rest[i:], ".."):
			name, n := readName(rest[i+2:])
			if name == "" {
				return "", fmt.Errorf("recursive descent needs a field name at offset %d", i)
			}
			segs = append(segs, fmt.Sprintf(".. | objects | select(has(%s)) | .[%s]", strconv.Quote(name), strconv.Quote(name)))
			i += 2 + n

		case rest[i] == '.':
			if strings.HasPrefix(rest[i+1:], "*") {
				segs = append(segs, ".[]")
				i += 2
				continue
			}
			name, n := readName(rest[i+1:])
			if name == "" {
				return "", fmt.Errorf("empty field name at offset %d", i)
			}
			segs = append(segs, fmt.Sprintf(".[%s]", strconv.Quote(name)))
			i += 1 + n

		case rest[i] == '[':
			end := strings.IndexByte(rest[i:], ']')
			if end < 0 {
				return "", fmt.Errorf("unterminated bracket at offset %d", i)
			}
			seg, err := translateBracket(rest[i+1 : i+end])
			if err != nil {
				return "", err
			}
			segs = append(segs, seg)
			i += end + 1

		default:
			return "", fmt.Errorf("unexpected %q at offset %d", rest[i], i)
		}
	}

	if len(segs) == 0 {
		return ".", nil
	}
	return strings.Join(segs, " | "), nil
}

// readName reads a field name up to the next '.' or '['.
func readName(s string) (string, int) {
	n := strings.IndexAny(s, ".[")
	if n < 0 {
		n = len(s)
	}
	return s[:n], n
}

func translateBracket(inner string) (string, error) {
	inner = strings.TrimSpace(inner)
	if inner == "*" {
		return ".[]", nil
	}
	if len(inner) >= 2 {
		q := inner[0]
		if (q == '\'' || q == '"') && inner[len(inner)-1] == q {
			return fmt.Sprintf(".[%s]", strconv.Quote(inner[1:len(inner)-1])), nil
		}
	}
	idx, err := strconv.Atoi(inner)
	if err != nil {
		return "", fmt.Errorf("unsupported bracket expression %q", inner)
	}
	return fmt.Sprintf(".[%d]", idx), nil
}

// Extract evaluates path against a decoded JSON document.
func Extract(path string, doc any) (any, error) {
	program, err := ToJQ(path)
	if err != nil {
		return nil, fmt.Errorf("path %q: %w", path, err)
	}
	parsed, err := gojq.Parse(program)
	if err != nil {
		return nil, fmt.Errorf("path %q: %w", path, err)
	}
	code, err := gojq.Compile(parsed)
	if err != nil {
		return nil, fmt.Errorf("path %q: %w", path, err)
	}

	iter := code.Run(doc)
	var results []any
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, fmt.Errorf("path %q: %w", path, err)
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}
