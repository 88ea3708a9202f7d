package adapters

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ChoiceKind discriminates the shape of a vote's choice value.
type ChoiceKind string

// Recognized choice shapes.
const (
	ChoiceKindIndex    ChoiceKind = "index"     // 0-based integer, on-chain For/Against/Abstain
	ChoiceKindOneBased ChoiceKind = "one_based" // 1-based integer, Snapshot single-choice/basic
	ChoiceKindList     ChoiceKind = "list"      // 1-based integer list, Snapshot approval/ranked-choice
	ChoiceKindWeighted ChoiceKind = "weighted"  // 1-based-keyed weight object, Snapshot weighted/quadratic
	ChoiceKindHidden   ChoiceKind = "hidden"    // shutter pre-reveal hex sentinel
)

// ChoiceValue is the tagged, in-memory form of a vote's choice, already
// normalized to 0-based indices where the source shape calls for it.
type ChoiceValue struct {
	Kind     ChoiceKind
	Index    int
	Indices  []int
	Weights  map[int]float64
	HexValue string
}

// MarshalJSON serializes the normalized value back to the shape persistence
// stores: a plain int for Index, an array for Indices, an object with
// string keys for Weights, or the raw hex string for Hidden.
func (c ChoiceValue) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case ChoiceKindIndex, ChoiceKindOneBased:
		return json.Marshal(c.Index)
	case ChoiceKindList:
		return json.Marshal(c.Indices)
	case ChoiceKindWeighted:
		obj := make(map[string]float64, len(c.Weights))
		for idx, weight := range c.Weights {
			obj[strconv.Itoa(idx)] = weight
		}
		return json.Marshal(obj)
	case ChoiceKindHidden:
		return json.Marshal(c.HexValue)
	default:
		return nil, fmt.Errorf("adapters: unknown choice kind %q", c.Kind)
	}
}

// DecodeOnChainChoice maps a governor's fixed support code (0=against,
// 1=for, 2=abstain) to the canonical [For, Against, Abstain] index order:
// support 0 -> choice 1, 1 -> 0, 2 -> 2.
func DecodeOnChainChoice(support uint8) (ChoiceValue, error) {
	var idx int
	switch support {
	case 0:
		idx = 1
	case 1:
		idx = 0
	case 2:
		idx = 2
	default:
		return ChoiceValue{}, fmt.Errorf("adapters: unrecognized support code %d", support)
	}
	return ChoiceValue{Kind: ChoiceKindIndex, Index: idx}, nil
}

// DecodeApprovalChoice builds a list-shaped choice from an Optimism
// approval-module vote's chosen option indices (already 0-based on-chain).
func DecodeApprovalChoice(indices []int) ChoiceValue {
	return ChoiceValue{Kind: ChoiceKindList, Indices: indices}
}

// DecodeSnapshotChoice normalizes a raw Snapshot GraphQL `choice` JSON value
// into a ChoiceValue.
func DecodeSnapshotChoice(raw json.RawMessage) (ChoiceValue, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ChoiceValue{}, fmt.Errorf("adapters: empty choice value")
	}

	// Hex string sentinel (shutter pre-reveal).
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if looksHex(asString) {
			return ChoiceValue{Kind: ChoiceKindHidden, HexValue: asString}, nil
		}
		return ChoiceValue{}, fmt.Errorf("adapters: unrecognized string choice %q", asString)
	}

	// 1-based single integer.
	var asInt int
	if err := json.Unmarshal(raw, &asInt); err == nil {
		if asInt < 1 {
			return ChoiceValue{}, fmt.Errorf("adapters: choice index %d is not 1-based", asInt)
		}
		return ChoiceValue{Kind: ChoiceKindOneBased, Index: asInt - 1}, nil
	}

	// Array of 1-based integers.
	var asList []int
	if err := json.Unmarshal(raw, &asList); err == nil {
		zeroBased := make([]int, len(asList))
		for i, v := range asList {
			if v < 1 {
				return ChoiceValue{}, fmt.Errorf("adapters: list choice index %d is not 1-based", v)
			}
			zeroBased[i] = v - 1
		}
		return ChoiceValue{Kind: ChoiceKindList, Indices: zeroBased}, nil
	}

	// Object of 1-based-string-key -> weight (weighted/quadratic).
	var asObject map[string]float64
	if err := json.Unmarshal(raw, &asObject); err == nil {
		weights := make(map[int]float64, len(asObject))
		for key, weight := range asObject {
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 1 {
				return ChoiceValue{}, fmt.Errorf("adapters: weighted choice key %q is not a 1-based index", key)
			}
			weights[idx-1] = weight
		}
		return ChoiceValue{Kind: ChoiceKindWeighted, Weights: weights}, nil
	}

	return ChoiceValue{}, fmt.Errorf("adapters: unrecognized choice shape: %s", trimmed)
}

func looksHex(s string) bool {
	if !strings.HasPrefix(s, "0x") || len(s) <= 2 {
		return false
	}
	for _, r := range s[2:] {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return true
}

// IsHidden reports whether the choice is a shutter pre-reveal sentinel.
func (c ChoiceValue) IsHidden() bool {
	return c.Kind == ChoiceKindHidden
}
