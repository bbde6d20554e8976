// Package httputil holds the JSON response and request helpers shared by all
// handlers. Errors are rendered from their domain code so the envelope is the
// same everywhere.
package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	dErrors "certo/pkg/domain-errors"
)

// MaxBodyBytes caps request bodies read by ReadBody and DecodeAndPrepare.
const MaxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	Retryable        bool   `json:"retryable"`
}

// Validatable is implemented by request DTOs that normalise and check themselves
// after decoding and struct-tag validation.
type Validatable interface {
	Validate() error
}

// WriteJSON writes v as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteRaw writes an already rendered JSON body.
func WriteRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// ErrorResponse renders err into its status and envelope bytes. Internal
// errors never leak their message.
func ErrorResponse(err error) (int, []byte) {
	code := dErrors.CodeOf(err)
	status := dErrors.ToHTTPStatus(code)

	body := ErrorBody{
		Error:     string(code),
		Retryable: dErrors.IsRetryable(err),
	}
	if status != http.StatusInternalServerError {
		// the message only, never the wrapped cause
		if de, ok := dErrors.As(err); ok {
			body.ErrorDescription = de.Message
		}
	}

	buf := &bytes.Buffer{}
	_ = json.NewEncoder(buf).Encode(body)
	return status, buf.Bytes()
}

// WriteError writes err using the shared error envelope.
func WriteError(w http.ResponseWriter, err error) {
	status, body := ErrorResponse(err)
	WriteRaw(w, status, body)
}

// ReadBody reads the request body up to MaxBodyBytes.
func ReadBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "failed to read request body")
	}
	if len(body) > MaxBodyBytes {
		return nil, dErrors.New(dErrors.CodeBadRequest, "request body too large")
	}
	return body, nil
}

// Prepare decodes body into T, applies its `validate` struct tags and, when T
// implements Validatable, its own Validate method.
func Prepare[T any](body []byte) (*T, error) {
	var req T
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid JSON body")
	}
	if err := validate.Struct(&req); err != nil {
		return nil, validationError(err)
	}
	if v, ok := any(&req).(Validatable); ok {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	return &req, nil
}

// DecodeAndPrepare reads, decodes and validates the request body, writing the
// error response itself when it fails.
func DecodeAndPrepare[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (*T, bool) {
	body, err := ReadBody(r)
	if err == nil {
		var req *T
		req, err = Prepare[T](body)
		if err == nil {
			return req, true
		}
	}
	if logger != nil {
		logger.WarnContext(ctx, "invalid request",
			"request_id", requestID,
			"error", err,
		)
	}
	WriteError(w, err)
	return nil, false
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid request")
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return dErrors.New(dErrors.CodeValidation, strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
