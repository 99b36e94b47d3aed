// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeStoreRecordInvalid      Code = "store.record.validate.invalid_input"
	CodeStoreRecordNotFound     Code = "store.record.get.not_found"
	CodeStoreDatabaseFailure    Code = "store.database.failure"
	CodeStoreBackendUnsupported Code = "store.backend.unsupported"
	CodeStoreCapacityExceeded   Code = "store.capacity.exceeded"
	CodeStoreMigrationFailure   Code = "store.migration.failure"
	CodeStoreMigrationCorrupted Code = "store.migration.row_corrupted"
	CodeStoreLayerInvalid       Code = "store.layer.invalid_input"

	CodeIndexVectorInvalid     Code = "index.add.invalid_input"
	CodeIndexDimensionMismatch Code = "index.search.dimension_mismatch"
	CodeIndexNotBuilt          Code = "index.layer.not_built"
	CodeIndexCorrupted         Code = "index.graph.corrupted"
	CodeIndexRebuildFailure    Code = "index.rebuild.failure"

	CodeEmbedProviderFailure   Code = "embed.provider.failure"
	CodeEmbedDimensionMismatch Code = "embed.provider.dimension_mismatch"

	CodePromotionMoveFailure Code = "promotion.record.move.failure"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigParseInvalidFormat   Code = "config.parse.invalid_format"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeCLIInputInvalid Code = "cli.input.invalid"
	CodeCLISetupFailure Code = "cli.setup.failure"
	CodeInternalFailure Code = "internal.failure"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldRecordID(value string) Attr {
	return Field("record_id", value)
}

func FieldLayer(value string) Attr {
	return Field("layer", value)
}

func FieldDimensions(want, got int) Attr {
	return Field("dimensions", fmt.Sprintf("want=%d got=%d", want, got))
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

// With adds structured fields to an existing error chain.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeInternalFailure
	}

	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// IsValidation reports whether the error is caller-correctable bad input:
// empty text, wrong embedding dimension, unknown layer.
func IsValidation(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

// IsStorage reports a persistence I/O failure. The caller may retry;
// the store never retries internally.
func IsStorage(err error) bool {
	code := CodeOf(err)
	return strings.HasPrefix(string(code), "store.") && reason(code) == "failure"
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsDimensionMismatch(err error) bool {
	return reason(CodeOf(err)) == "dimension_mismatch"
}

func IsNotBuilt(err error) bool {
	return reason(CodeOf(err)) == "not_built"
}

// IsCorrupted reports index or row corruption; an index reporting this
// is unusable until rebuilt.
func IsCorrupted(err error) bool {
	r := reason(CodeOf(err))
	return r == "corrupted" || r == "row_corrupted"
}

func IsCapacity(err error) bool {
	return reason(CodeOf(err)) == "exceeded"
}

func IsEmbedding(err error) bool {
	return strings.HasPrefix(string(CodeOf(err)), "embed.")
}

func Join(errs ...error) error {
	return oops.Code(CodeInternalFailure).Wrap(stderrors.Join(errs...))
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
