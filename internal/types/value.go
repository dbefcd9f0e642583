package types

import (
	"fmt"
	"math"
	"strconv"
)

type DataType string

const (
	DataTypeBool    DataType = "bool"
	DataTypeInt16   DataType = "int16"
	DataTypeUint16  DataType = "uint16"
	DataTypeInt32   DataType = "int32"
	DataTypeUint32  DataType = "uint32"
	DataTypeInt64   DataType = "int64"
	DataTypeFloat32 DataType = "float32"
	DataTypeFloat64 DataType = "float64"
	DataTypeString  DataType = "string"
	DataTypeBytes   DataType = "bytes"
)

// ParseDataType validates a data type name from configuration.
func ParseDataType(s string) (DataType, error) {
	dt := DataType(s)
	switch dt {
	case DataTypeBool, DataTypeInt16, DataTypeUint16, DataTypeInt32,
		DataTypeUint32, DataTypeInt64, DataTypeFloat32, DataTypeFloat64,
		DataTypeString, DataTypeBytes:
		return dt, nil
	}
	return "", fmt.Errorf("unknown data type: %q", s)
}

// Coerce converts an arbitrary value to the canonical Go representation of
// the data type. Values that cannot be represented are rejected, so a
// variable declared once never changes its shape.
func (dt DataType) Coerce(value any) (any, error) {
	switch dt {
	case DataTypeBool:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("cannot convert %q to bool", v)
			}
			return b, nil
		}
		if f, ok := toFloat(value); ok {
			return f != 0, nil
		}
	case DataTypeInt16:
		if f, ok := toFloat(value); ok {
			if !integerInRange(f, math.MinInt16, math.MaxInt16) {
				return nil, fmt.Errorf("value %v out of range for %s", value, dt)
			}
			return int16(f), nil
		}
		if s, ok := value.(string); ok {
			i, err := strconv.ParseInt(s, 10, 16)
			if err == nil {
				return int16(i), nil
			}
		}
	case DataTypeUint16:
		if f, ok := toFloat(value); ok {
			if !integerInRange(f, 0, math.MaxUint16) {
				return nil, fmt.Errorf("value %v out of range for %s", value, dt)
			}
			return uint16(f), nil
		}
		if s, ok := value.(string); ok {
			i, err := strconv.ParseUint(s, 10, 16)
			if err == nil {
				return uint16(i), nil
			}
		}
	case DataTypeInt32:
		if f, ok := toFloat(value); ok {
			if !integerInRange(f, math.MinInt32, math.MaxInt32) {
				return nil, fmt.Errorf("value %v out of range for %s", value, dt)
			}
			return int32(f), nil
		}
		if s, ok := value.(string); ok {
			i, err := strconv.ParseInt(s, 10, 32)
			if err == nil {
				return int32(i), nil
			}
		}
	case DataTypeUint32:
		if f, ok := toFloat(value); ok {
			if !integerInRange(f, 0, math.MaxUint32) {
				return nil, fmt.Errorf("value %v out of range for %s", value, dt)
			}
			return uint32(f), nil
		}
		if s, ok := value.(string); ok {
			i, err := strconv.ParseUint(s, 10, 32)
			if err == nil {
				return uint32(i), nil
			}
		}
	case DataTypeInt64:
		if i, ok := toInt(value); ok {
			return i, nil
		}
		switch value.(type) {
		case uint, uint64:
			return nil, fmt.Errorf("value %v out of range for %s", value, dt)
		}
		if f, ok := toFloat(value); ok {
			if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
				return nil, fmt.Errorf("value %v out of range for %s", value, dt)
			}
			return int64(f), nil
		}
		if s, ok := value.(string); ok {
			i, err := strconv.ParseInt(s, 10, 64)
			if err == nil {
				return int64(i), nil
			}
		}
	case DataTypeFloat32:
		if f, ok := toFloat(value); ok {
			return float32(f), nil
		}
		if s, ok := value.(string); ok {
			f, err := strconv.ParseFloat(s, 32)
			if err == nil {
				return float32(f), nil
			}
		}
	case DataTypeFloat64:
		if f, ok := toFloat(value); ok {
			return f, nil
		}
		if s, ok := value.(string); ok {
			f, err := strconv.ParseFloat(s, 64)
			if err == nil {
				return f, nil
			}
		}
	case DataTypeString:
		switch v := value.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		case fmt.Stringer:
			return v.String(), nil
		}
		if f, ok := toFloat(value); ok {
			return strconv.FormatFloat(f, 'g', -1, 64), nil
		}
		if b, ok := value.(bool); ok {
			return strconv.FormatBool(b), nil
		}
	case DataTypeBytes:
		switch v := value.(type) {
		case []byte:
			return v, nil
		case string:
			return []byte(v), nil
		}
	}
	return nil, fmt.Errorf("cannot convert %T to %s", value, dt)
}

// integerInRange accepts only whole numbers that fit the target width, so an
// out-of-range or fractional value is rejected instead of silently truncated.
func integerInRange(f, lo, hi float64) bool {
	return f == math.Trunc(f) && f >= lo && f <= hi
}

// toInt converts the integer kinds without a float64 round trip, which
// cannot carry a full 64-bit value. Unsigned values above MaxInt64 report
// !ok and the caller rejects them.
func toInt(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		if uint64(v) <= math.MaxInt64 {
			return int64(v), true
		}
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		if v <= math.MaxInt64 {
			return int64(v), true
		}
	}
	return 0, false
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// Zero returns the default value a write-mode variable starts with before
// the engine sets anything.
func (dt DataType) Zero() any {
	switch dt {
	case DataTypeBool:
		return false
	case DataTypeInt16:
		return int16(0)
	case DataTypeUint16:
		return uint16(0)
	case DataTypeInt32:
		return int32(0)
	case DataTypeUint32:
		return uint32(0)
	case DataTypeInt64:
		return int64(0)
	case DataTypeFloat32:
		return float32(0)
	case DataTypeFloat64:
		return float64(0)
	case DataTypeString:
		return ""
	case DataTypeBytes:
		return []byte{}
	}
	return nil
}
