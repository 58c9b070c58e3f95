package workflow

import (
	"fmt"
	"regexp"
	"strings"
)

// refPattern matches {{reference}} placeholders in prompts, URLs, bodies,
// and header values.
var refPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.-]*)\s*\}\}`)

// interpolate substitutes {{reference}} placeholders through lookup.
// Unresolved references become empty strings and are returned so the caller
// can log them.
func interpolate(s string, lookup func(string) (string, bool)) (string, []string) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}
	var missing []string
	out := refPattern.ReplaceAllStringFunc(s, func(m string) string {
		ref := strings.TrimSpace(m[2 : len(m)-2])
		v, ok := lookup(ref)
		if !ok {
			missing = append(missing, ref)
		}
		return v
	})
	return out, missing
}

// resolver builds the reference lookup for one execution: "context.key"
// reads the caller-supplied context, "task_id.output" reads a completed
// task's output, and a bare key falls back to the context so conditions can
// use the shorthand.
func resolver(vars map[string]any, outputs map[string]string) func(string) (string, bool) {
	return func(ref string) (string, bool) {
		if key, ok := strings.CutPrefix(ref, "context."); ok {
			if v, present := vars[key]; present {
				return fmt.Sprint(v), true
			}
			return "", false
		}
		if id, ok := strings.CutSuffix(ref, ".output"); ok {
			if v, present := outputs[id]; present {
				return v, true
			}
			return "", false
		}
		if v, present := vars[ref]; present {
			return fmt.Sprint(v), true
		}
		return "", false
	}
}
