// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package docpipe

import "fmt"

// Action is the bulk operation applied to every document sent by an Appender.
type Action int

const (
	// ActionCreate adds documents, failing for ids that already exist.
	ActionCreate Action = iota
	// ActionIndex adds or replaces documents.
	ActionIndex
	// ActionUpdate merges documents into existing ones, identified by
	// their _id field.
	ActionUpdate
)

// String returns the action name used in bulk request action lines.
func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionIndex:
		return "index"
	case ActionUpdate:
		return "update"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// ParseAction returns the Action named s.
func ParseAction(s string) (Action, error) {
	switch s {
	case "create":
		return ActionCreate, nil
	case "index":
		return ActionIndex, nil
	case "update":
		return ActionUpdate, nil
	}
	return 0, fmt.Errorf("unknown bulk action %q", s)
}

func (a Action) valid() bool {
	return a >= ActionCreate && a <= ActionUpdate
}
