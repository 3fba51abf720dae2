// Copyright 2025 Philipp Hossner
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

package introspection

import (
	"encoding/json"
	"fmt"

	"k8s.io/client-go/util/jsonpath"
)

// ExtractField evaluates a kubectl-style JSONPath expression such as
// "{.available}" or "{[*].name}" against data. Missing keys yield nil.
//
// data is round-tripped through JSON first so struct tags decide the field
// names the expression sees.
func ExtractField(data any, expr string) (any, error) {
	if expr == "" {
		return data, nil
	}

	j := jsonpath.New("field").AllowMissingKeys(true)
	if err := j.Parse(expr); err != nil {
		return nil, fmt.Errorf("invalid jsonpath expression %q: %w", expr, err)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal data: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("failed to unmarshal data: %w", err)
	}

	results, err := j.FindResults(generic)
	if err != nil {
		return nil, fmt.Errorf("failed to execute jsonpath: %w", err)
	}

	var values []any
	for _, group := range results {
		for _, v := range group {
			if v.IsValid() && v.CanInterface() {
				values = append(values, v.Interface())
			}
		}
	}

	switch len(values) {
	case 0:
		return nil, nil
	case 1:
		return values[0], nil
	default:
		return values, nil
	}
}
