package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"ticketing-core/internal/apperr"
	"ticketing-core/internal/logger"
)

var validate = validator.New()

// ErrBadRequest wraps body decoding and validation failures.
var ErrBadRequest = apperr.Invalid("bad_request", "invalid request body")

type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict, apperr.KindInsufficientResource:
		return http.StatusConflict
	case apperr.KindUnauthorized:
		return http.StatusForbidden
	case apperr.KindInvalid:
		return http.StatusBadRequest
	case apperr.KindUpstreamFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// WriteError writes err as a JSON error body. Internal errors are logged and
// their details hidden from the caller.
func WriteError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	status := StatusFor(err)
	body := ErrorBody{Error: apperr.CodeOf(err), Message: err.Error()}
	if status == http.StatusInternalServerError {
		log.Error("API", fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, err))
		body.Message = "internal error"
	}
	WriteJSON(w, status, body)
}

// DecodeJSON reads the request body into dst and runs its validate tags.
func DecodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Wrap(ErrBadRequest, err)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return apperr.Wrap(ErrBadRequest, errors.New(strings.Join(fields, "; ")))
		}
		return apperr.Wrap(ErrBadRequest, err)
	}
	return nil
}
