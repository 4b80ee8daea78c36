package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jensholdgaard/auctionhub/internal/auction"
	"github.com/jensholdgaard/auctionhub/internal/auth"
	"github.com/jensholdgaard/auctionhub/internal/negotiation"
	"github.com/jensholdgaard/auctionhub/internal/store"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// errorBody is the JSON shape of every failed request.
type errorBody struct {
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// validationError is a malformed or invalid request body.
type validationError struct {
	msg     string
	details map[string]string
}

func (e *validationError) Error() string { return e.msg }

func decodeJSON(r *http.Request, dst any) error {
	defer func() {
		_, _ = io.Copy(io.Discard, r.Body)
	}()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &validationError{msg: "invalid request body", details: map[string]string{"body": err.Error()}}
	}
	if err := validate.Struct(dst); err != nil {
		var errs validator.ValidationErrors
		if !errors.As(err, &errs) {
			return &validationError{msg: "validation failed"}
		}
		details := make(map[string]string, len(errs))
		for _, fe := range errs {
			details[fe.Field()] = validationMessage(fe)
		}
		return &validationError{msg: "validation failed", details: details}
	}
	return nil
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "email":
		return "must be a valid email"
	case "oneof":
		return fmt.Sprintf("must be one of %s", fe.Param())
	}
	return "is invalid"
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf maps a domain error to an HTTP status. Unknown errors are 500.
func statusOf(err error) int {
	var ve *validationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, negotiation.ErrNotSeller),
		errors.Is(err, negotiation.ErrNotBidder):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrEmailTaken),
		errors.Is(err, negotiation.ErrNotEnded),
		errors.Is(err, negotiation.ErrOfferClosed),
		errors.Is(err, auction.ErrNotScheduled):
		return http.StatusConflict
	case errors.Is(err, auth.ErrInvalidRole),
		errors.Is(err, auction.ErrInvalidAuction),
		errors.Is(err, negotiation.ErrNoBids),
		errors.Is(err, negotiation.ErrInvalidAmount):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		writeJSON(w, code, errorBody{Message: "Internal server error"})
		return
	}

	body := errorBody{Message: err.Error()}
	var ve *validationError
	if errors.As(err, &ve) {
		body.Details = ve.details
	}
	writeJSON(w, code, body)
}
