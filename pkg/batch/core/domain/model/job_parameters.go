package model

import (
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/tigerroll/seekbatch/pkg/batch/support/util/serialization"
)

var (
	maskedKeysMu sync.RWMutex
	maskedKeys   = []string{"password", "api_key", "secret"}
)

// SetMaskedParameterKeys replaces the parameter names whose values are masked by String.
func SetMaskedParameterKeys(keys []string) {
	maskedKeysMu.Lock()
	defer maskedKeysMu.Unlock()
	maskedKeys = append([]string(nil), keys...)
}

func currentMaskedKeys() []string {
	maskedKeysMu.RLock()
	defer maskedKeysMu.RUnlock()
	return maskedKeys
}

// JobParameters is the immutable set of named scalar values a job is launched with.
// Use NewJobParameters or With to build one; accessors never modify it.
type JobParameters struct {
	params map[string]interface{}
}

// NewJobParameters copies params into a new JobParameters.
func NewJobParameters(params map[string]interface{}) JobParameters {
	cp := make(map[string]interface{}, len(params))
	for k, v := range params {
		cp[k] = v
	}
	return JobParameters{params: cp}
}

// With returns a copy of jp with key set to value.
func (jp JobParameters) With(key string, value interface{}) JobParameters {
	out := NewJobParameters(jp.params)
	out.params[key] = value
	return out
}

// WithDate returns a copy of jp with key set to date in "YYYY-MM-DD" form.
func (jp JobParameters) WithDate(key string, date time.Time) JobParameters {
	return jp.With(key, date.Format(DateLayout))
}

// Len returns the number of parameters.
func (jp JobParameters) Len() int {
	return len(jp.params)
}

// ToMap returns a copy of the parameters.
func (jp JobParameters) ToMap() map[string]interface{} {
	return NewJobParameters(jp.params).params
}

// Get returns the raw value for key.
func (jp JobParameters) Get(key string) (interface{}, bool) {
	v, ok := jp.params[key]
	return v, ok
}

// GetString returns the value for key as a string.
func (jp JobParameters) GetString(key string) (string, bool) {
	v, ok := jp.params[key].(string)
	return v, ok
}

// GetInt64 returns the value for key as an int64. String values are parsed.
func (jp JobParameters) GetInt64(key string) (int64, bool) {
	v, ok := jp.params[key]
	if !ok {
		return 0, false
	}
	if s, isString := v.(string); isString {
		i, err := strconv.ParseInt(s, 10, 64)
		return i, err == nil
	}
	return toInt64(v)
}

// GetBool returns the value for key as a bool. String values are parsed.
func (jp JobParameters) GetBool(key string) (bool, bool) {
	switch v := jp.params[key].(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(v)
		return b, err == nil
	default:
		return false, false
	}
}

// GetDate returns the value for key parsed as a "YYYY-MM-DD" date.
// It returns an error when the key is present but malformed.
func (jp JobParameters) GetDate(key string) (time.Time, bool, error) {
	v, ok := jp.params[key]
	if !ok {
		return time.Time{}, false, nil
	}
	switch d := v.(type) {
	case time.Time:
		return d, true, nil
	case string:
		t, err := time.Parse(DateLayout, d)
		if err != nil {
			return time.Time{}, true, fmt.Errorf("job parameter %q: %w", key, err)
		}
		return t, true, nil
	default:
		return time.Time{}, true, fmt.Errorf("job parameter %q: unsupported date type %T", key, v)
	}
}

// Hash returns the hex sha256 of the parameters' canonical JSON (sorted keys).
func (jp JobParameters) Hash() (string, error) {
	data, err := serialization.MarshalMap(jp.params)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// InstanceKey identifies the logical run of jobName with these parameters. Executions
// sharing an instance key share checkpoints, which is what makes a restart resume.
func (jp JobParameters) InstanceKey(jobName string) (string, error) {
	hash, err := jp.Hash()
	if err != nil {
		return "", err
	}
	return jobName + "#" + hash[:16], nil
}

// String returns the parameters as JSON with sensitive values masked.
func (jp JobParameters) String() string {
	data, err := serialization.MarshalMap(serialization.MaskKeys(jp.params, currentMaskedKeys()))
	if err != nil {
		return fmt.Sprintf("{[ERROR: %v]}", err)
	}
	return string(data)
}

// Value implements driver.Valuer; sensitive values are masked before persisting.
func (jp JobParameters) Value() (driver.Value, error) {
	data, err := serialization.MarshalMap(serialization.MaskKeys(jp.params, currentMaskedKeys()))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (jp *JobParameters) Scan(value interface{}) error {
	var b []byte
	switch v := value.(type) {
	case nil:
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for JobParameters: %T", value)
	}
	m, err := serialization.UnmarshalMap(b)
	if err != nil {
		return err
	}
	jp.params = m
	return nil
}
