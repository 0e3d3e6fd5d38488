// Copyright 2025 The Evergreen Dragon OS Authors
//
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

package saga

import (
	"encoding/json"
	"fmt"
)

// ExpectArgs checks the number of signal arguments.
func ExpectArgs(args []any, n int) error {
	if len(args) != n {
		return fmt.Errorf("expected %d argument(s), got %d", n, len(args))
	}
	return nil
}

// ArgFloat reads a numeric signal argument. Arguments arrive as Go values
// from in-process callers and as decoded JSON or MessagePack numbers after
// replay, so every numeric kind is accepted.
func ArgFloat(arg any) (float64, error) {
	switch v := arg.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int8:
		return float64(v), nil
	case int16:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint8:
		return float64(v), nil
	case uint16:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	default:
		return 0, fmt.Errorf("expected a number, got %T", arg)
	}
}

func ArgString(arg any) (string, error) {
	s, ok := arg.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("expected a non-empty string, got %T", arg)
	}
	return s, nil
}

// ArgStrings accepts either variadic strings or a single list of strings.
func ArgStrings(args []any) ([]string, error) {
	if len(args) == 1 {
		switch list := args[0].(type) {
		case []string:
			return list, nil
		case []any:
			args = list
		}
	}
	out := make([]string, 0, len(args))
	for i, a := range args {
		s, err := ArgString(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}
