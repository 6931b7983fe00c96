package optimizer

import (
	"fmt"

	"github.com/tsawler/cxr-probe/checkpoints"
)

// extractBufferState copies one state buffer into a checkpoint tensor.
func extractBufferState(buffer []float32, shape []int, name string, stateType string) *checkpoints.OptimizerTensor {
	if buffer == nil {
		return nil
	}
	return &checkpoints.OptimizerTensor{
		Name:      name,
		Shape:     append([]int(nil), shape...),
		Data:      append([]float32(nil), buffer...),
		StateType: stateType,
	}
}

// restoreBufferState returns a copy of data after checking it fills a buffer
// of expectedElements.
func restoreBufferState(data []float32, expectedElements int, name string) ([]float32, error) {
	if len(data) != expectedElements {
		return nil, fmt.Errorf("data size mismatch for %s: expected %d elements, got %d",
			name, expectedElements, len(data))
	}
	return append([]float32(nil), data...), nil
}

// extractFloat64Param safely extracts a float64 parameter from the state map
func extractFloat64Param(params map[string]interface{}, key string, defaultValue float64) float64 {
	switch val := params[key].(type) {
	case float64:
		return val
	case float32:
		return float64(val)
	}
	return defaultValue
}

// extractBoolParam safely extracts a bool parameter from the state map
func extractBoolParam(params map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := params[key].(bool); ok {
		return val
	}
	return defaultValue
}

// extractUint64Param safely extracts a uint64 parameter from the state map
func extractUint64Param(params map[string]interface{}, key string, defaultValue uint64) uint64 {
	switch val := params[key].(type) {
	case float64:
		return uint64(val)
	case uint64:
		return val
	case int:
		return uint64(val)
	}
	return defaultValue
}

// extractFloat64Slice reads a list of numbers. Decoded checkpoints hold
// []interface{}; freshly captured state holds []float64.
func extractFloat64Slice(params map[string]interface{}, key string) ([]float64, bool) {
	switch val := params[key].(type) {
	case []float64:
		return append([]float64(nil), val...), true
	case []interface{}:
		out := make([]float64, len(val))
		for i, v := range val {
			f, ok := v.(float64)
			if !ok {
				return nil, false
			}
			out[i] = f
		}
		return out, true
	}
	return nil, false
}
