package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// ErrInvalidBody is returned by DecodeJSON for unreadable request bodies.
var ErrInvalidBody = errors.New("invalid request body")

var validate = validator.New(validator.WithRequiredStructEnabled())

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{"error": message})
}

// DecodeJSON 解析请求体并按 validate 标签校验。空请求体按 {} 处理。
func DecodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	return Validate(dst)
}

// Validate runs struct validation and flattens failures into one message.
func Validate(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return &ValidationError{Fields: fieldErrs, msg: strings.Join(parts, "; ")}
}

// ValidationError wraps field failures from the validator.
type ValidationError struct {
	Fields validator.ValidationErrors
	msg    string
}

func (e *ValidationError) Error() string { return e.msg }

// Failed reports whether the named struct field failed validation.
func (e *ValidationError) Failed(field string) bool {
	for _, fe := range e.Fields {
		if fe.Field() == field {
			return true
		}
	}
	return false
}
