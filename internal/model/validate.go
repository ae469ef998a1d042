package model

import (
	"fmt"
	"strings"
)

// Validation ceilings applied before any write reaches a backend. These
// match the limits existing clients were built against; loosening them would
// break the relational schema, tightening them would reject data that older
// clients log today.
const (
	MaxEntityKeyLen      = 250
	MaxParamValueLen     = 6000
	MaxTagValueLen       = 5000 // registered-model and model-version tags
	MaxExperimentNameLen = 500

	MaxBatchMetrics = 1000
	MaxBatchParams  = 100
	MaxBatchTags    = 100
)

// validKeyChar reports whether c may appear in a metric, param, or tag key.
func validKeyChar(c rune) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_', c == '-', c == '.', c == '/', c == ' ':
		return true
	}
	return false
}

// ValidateKey checks a metric/param/tag key name. what names the field in
// error messages ("metric key", "param key", ...).
func ValidateKey(key, what string) error {
	if key == "" {
		return Errorf(ErrCodeInvalidParameterValue, "%s cannot be empty", what)
	}
	if len(key) > MaxEntityKeyLen {
		return Errorf(ErrCodeInvalidParameterValue,
			"%s %q exceeds maximum length of %d", what, truncate(key, 40), MaxEntityKeyLen)
	}
	for _, c := range key {
		if !validKeyChar(c) {
			return Errorf(ErrCodeInvalidParameterValue,
				"%s %q may only contain alphanumerics, underscores, dashes, periods, slashes and spaces", what, key)
		}
	}
	// Path-style keys must stay inside the run directory on the file backend.
	if key == "." || key == ".." || strings.Contains(key, "..") {
		return Errorf(ErrCodeInvalidParameterValue, "%s %q is not a valid path component", what, key)
	}
	return nil
}

// ValidateParam checks one param key/value pair.
func ValidateParam(p Param) error {
	if err := ValidateKey(p.Key, "param key"); err != nil {
		return err
	}
	if len(p.Value) > MaxParamValueLen {
		return Errorf(ErrCodeInvalidParameterValue,
			"param value for key %q exceeds maximum length of %d", p.Key, MaxParamValueLen)
	}
	return nil
}

// ValidateMetric checks one metric point. Non-finite values are accepted;
// backends store them as logged.
func ValidateMetric(m Metric) error {
	if err := ValidateKey(m.Key, "metric key"); err != nil {
		return err
	}
	if m.Timestamp < 0 {
		return Errorf(ErrCodeInvalidParameterValue,
			"metric timestamp must be non-negative, got %d", m.Timestamp)
	}
	return nil
}

// ValidateRunTag checks one run tag.
func ValidateRunTag(t RunTag) error {
	return ValidateKey(t.Key, "tag key")
}

// ValidateModelTag checks a registered-model or model-version tag.
func ValidateModelTag(t ModelTag) error {
	if err := ValidateKey(t.Key, "tag key"); err != nil {
		return err
	}
	if len(t.Value) > MaxTagValueLen {
		return Errorf(ErrCodeInvalidParameterValue,
			"tag value for key %q exceeds maximum length of %d", t.Key, MaxTagValueLen)
	}
	return nil
}

// ValidateExperimentName checks an experiment name at creation or rename.
func ValidateExperimentName(name string) error {
	if name == "" {
		return Errorf(ErrCodeInvalidParameterValue, "experiment name cannot be empty")
	}
	if len(name) > MaxExperimentNameLen {
		return Errorf(ErrCodeInvalidParameterValue,
			"experiment name exceeds maximum length of %d", MaxExperimentNameLen)
	}
	return nil
}

// ValidateModelName checks a registered-model name.
func ValidateModelName(name string) error {
	if name == "" {
		return Errorf(ErrCodeInvalidParameterValue, "registered model name cannot be empty")
	}
	if strings.ContainsAny(name, "/\\") {
		return Errorf(ErrCodeInvalidParameterValue,
			"registered model name %q may not contain path separators", name)
	}
	return nil
}

// ValidateRunID checks the 32-hex run identifier format.
func ValidateRunID(id string) error {
	if len(id) != 32 {
		return Errorf(ErrCodeInvalidParameterValue, "invalid run id %q", id)
	}
	for _, c := range id {
		isHex := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
		if !isHex {
			return Errorf(ErrCodeInvalidParameterValue, "invalid run id %q", id)
		}
	}
	return nil
}

// ValidateBatch checks log_batch sizes and each contained entry.
func ValidateBatch(metrics []Metric, params []Param, tags []RunTag) error {
	if len(metrics) > MaxBatchMetrics {
		return Errorf(ErrCodeRequestLimitExceeded,
			"batch contains %d metrics, maximum is %d", len(metrics), MaxBatchMetrics)
	}
	if len(params) > MaxBatchParams {
		return Errorf(ErrCodeRequestLimitExceeded,
			"batch contains %d params, maximum is %d", len(params), MaxBatchParams)
	}
	if len(tags) > MaxBatchTags {
		return Errorf(ErrCodeRequestLimitExceeded,
			"batch contains %d tags, maximum is %d", len(tags), MaxBatchTags)
	}
	for _, m := range metrics {
		if err := ValidateMetric(m); err != nil {
			return err
		}
	}
	for _, p := range params {
		if err := ValidateParam(p); err != nil {
			return err
		}
	}
	for _, t := range tags {
		if err := ValidateRunTag(t); err != nil {
			return err
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
