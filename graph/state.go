package graph

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// State represents the state that flows through the graph.
// It is owned by a single execution at a time; the engine never shares a
// live State between goroutines.
type State map[string]any

// Clone creates a shallow copy of the state.
func (s State) Clone() State {
	clone := make(State, len(s))
	for k, v := range s {
		clone[k] = v
	}
	return clone
}

// StateReducer determines how a state update is merged with the current
// value of a field.
type StateReducer func(existing, update any) any

// StateField defines a field in the state schema.
//
// Decode restores a field from its checkpoint JSON. Fields without a Decode
// hook are unmarshaled into their natural JSON shape (string, float64, map),
// which is lossy for typed slices; any field holding domain types should set
// one.
type StateField struct {
	Type     reflect.Type
	Reducer  StateReducer
	Default  func() any
	Decode   func(data []byte) (any, error)
	Required bool
}

// StateSchema defines the structure and merge behavior of graph state.
type StateSchema struct {
	mu     sync.RWMutex
	Fields map[string]StateField
}

// NewStateSchema creates a new state schema.
func NewStateSchema() *StateSchema {
	return &StateSchema{Fields: make(map[string]StateField)}
}

// AddField adds a field to the state schema.
func (s *StateSchema) AddField(name string, field StateField) *StateSchema {
	s.mu.Lock()
	defer s.mu.Unlock()
	if field.Reducer == nil {
		field.Reducer = DefaultReducer
	}
	s.Fields[name] = field
	return s
}

// ApplyUpdate applies a state update using the defined reducers and returns
// the merged state. The input state is not modified.
func (s *StateSchema) ApplyUpdate(current State, update State) State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := current.Clone()
	for key, updateValue := range update {
		field, exists := s.Fields[key]
		if !exists {
			result[key] = updateValue
			continue
		}
		currentValue, hasCurrent := result[key]
		if !hasCurrent && field.Default != nil {
			currentValue = field.Default()
		}
		result[key] = field.Reducer(currentValue, updateValue)
	}
	return result
}

// Validate validates a state against the schema.
func (s *StateSchema) Validate(state State) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for name, field := range s.Fields {
		value, exists := state[name]
		if field.Required && !exists {
			return fmt.Errorf("required field %s is missing", name)
		}
		if exists && value != nil && field.Type != nil {
			valueType := reflect.TypeOf(value)
			if !valueType.AssignableTo(field.Type) {
				return fmt.Errorf("field %s has wrong type: expected %v, got %v",
					name, field.Type, valueType)
			}
		}
	}
	return nil
}

// reservedKeyPrefix marks transient engine keys that never persist.
const reservedKeyPrefix = "__"

// MarshalState serializes a state for checkpointing. Keys with the reserved
// "__" prefix are transient engine plumbing and are skipped.
func MarshalState(state State) (json.RawMessage, error) {
	persistable := make(map[string]any, len(state))
	for k, v := range state {
		if strings.HasPrefix(k, reservedKeyPrefix) {
			continue
		}
		persistable[k] = v
	}
	data, err := json.Marshal(persistable)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	return data, nil
}

// UnmarshalState restores a state from checkpoint JSON, running each field's
// Decode hook so typed values survive the round trip.
func (s *StateSchema) UnmarshalState(data json.RawMessage) (State, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	state := make(State, len(raw))
	for key, fieldData := range raw {
		if field, ok := s.Fields[key]; ok && field.Decode != nil {
			value, err := field.Decode(fieldData)
			if err != nil {
				return nil, fmt.Errorf("failed to decode state field %s: %w", key, err)
			}
			state[key] = value
			continue
		}
		var value any
		if err := json.Unmarshal(fieldData, &value); err != nil {
			return nil, fmt.Errorf("failed to unmarshal state field %s: %w", key, err)
		}
		state[key] = value
	}
	return state, nil
}

// Common reducer functions.

// DefaultReducer overwrites the existing value with the update.
func DefaultReducer(existing, update any) any {
	return update
}

// StringSliceReducer appends string slices.
func StringSliceReducer(existing, update any) any {
	if existing == nil {
		existing = []string{}
	}
	existingSlice, ok1 := existing.([]string)
	updateSlice, ok2 := update.([]string)
	if !ok1 || !ok2 {
		return update
	}
	return append(existingSlice, updateSlice...)
}

// MergeReducer merges an update map into the existing map.
func MergeReducer(existing, update any) any {
	if existing == nil {
		existing = make(map[string]any)
	}
	existingMap, ok1 := existing.(map[string]any)
	updateMap, ok2 := update.(map[string]any)
	if !ok1 || !ok2 {
		return update
	}
	result := make(map[string]any, len(existingMap)+len(updateMap))
	for k, v := range existingMap {
		result[k] = v
	}
	for k, v := range updateMap {
		result[k] = v
	}
	return result
}
