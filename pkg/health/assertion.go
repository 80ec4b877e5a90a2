package health

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/cuemby/fleetcore/pkg/types"
)

// EvaluateAssertion applies a types.Assertion against one probe's outcome.
// statusCode and body are only meaningful for HTTP/HTTPS checks; only
// HTTPChecker calls it, and TCPChecker ignores cfg.Custom entirely.
func EvaluateAssertion(assertion types.Assertion, statusCode int, body []byte) (bool, string, error) {
	switch assertion.Kind {
	case types.AssertionResponseStatus:
		return evaluateStatus(assertion, statusCode), fmt.Sprintf("status %d", statusCode), nil

	case types.AssertionResponseContainsStr:
		ok := strings.Contains(string(body), assertion.Substring)
		msg := fmt.Sprintf("body contains %q: %v", assertion.Substring, ok)
		return ok, msg, nil

	case types.AssertionJSONValueExists:
		return evaluateJSONPath(assertion, body)

	default:
		return false, "", fmt.Errorf("unknown assertion kind %q", assertion.Kind)
	}
}

func evaluateStatus(assertion types.Assertion, statusCode int) bool {
	if len(assertion.AllowedCodes) == 0 {
		return statusCode >= 200 && statusCode < 300
	}
	for _, code := range assertion.AllowedCodes {
		if code == statusCode {
			return true
		}
	}
	return false
}

// evaluateJSONPath walks a dotted path (e.g. "data.status" or "items.0.ok")
// through the decoded JSON body and compares the leaf value against
// ExpectedValue. A nil ExpectedValue only checks that the path resolves.
func evaluateJSONPath(assertion types.Assertion, body []byte) (bool, string, error) {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return false, "", fmt.Errorf("decoding response body as JSON: %w", err)
	}

	value, ok := resolvePath(decoded, assertion.JSONPath)
	if !ok {
		return false, fmt.Sprintf("path %q not found", assertion.JSONPath), nil
	}

	if assertion.ExpectedValue == nil {
		return true, fmt.Sprintf("path %q resolved to %v", assertion.JSONPath, value), nil
	}

	matches := reflect.DeepEqual(value, assertion.ExpectedValue)
	return matches, fmt.Sprintf("path %q = %v (expected %v)", assertion.JSONPath, value, assertion.ExpectedValue), nil
}

func resolvePath(root any, path string) (any, bool) {
	current := root
	for _, segment := range strings.Split(path, ".") {
		if segment == "" {
			continue
		}
		switch node := current.(type) {
		case map[string]any:
			val, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}
