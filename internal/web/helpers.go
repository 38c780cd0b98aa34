package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"attendcal/internal/dates"
	appLog "attendcal/internal/log"
	"attendcal/internal/recurrence"
	"attendcal/internal/tzdate"
)

const maxBodyBytes = 1_048_576

func jsonBody(v any) ([]byte, error) {
	js, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(js, '\n'), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	js, err := jsonBody(v)
	if err != nil {
		appLog.Error("failed to encode JSON response", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeRaw(w, status, "application/json; charset=utf-8", js)
}

func writeRaw(w http.ResponseWriter, status int, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// readJSON decodes a single JSON object from the request body into dst. The
// returned error is safe to show to the client.
func readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var syntaxError *json.SyntaxError
		var unmarshalTypeError *json.UnmarshalTypeError
		var maxBytesError *http.MaxBytesError

		switch {
		case errors.As(err, &syntaxError):
			return fmt.Errorf("body contains badly-formed JSON (at character %d)", syntaxError.Offset)
		case errors.Is(err, io.ErrUnexpectedEOF):
			return errors.New("body contains badly-formed JSON")
		case errors.As(err, &unmarshalTypeError):
			if unmarshalTypeError.Field != "" {
				return fmt.Errorf("body contains incorrect JSON type for field %q", unmarshalTypeError.Field)
			}
			return fmt.Errorf("body contains incorrect JSON type (at character %d)", unmarshalTypeError.Offset)
		case errors.Is(err, io.EOF):
			return errors.New("body must not be empty")
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			return fmt.Errorf("body contains unknown key %s", strings.TrimPrefix(err.Error(), "json: unknown field "))
		case errors.As(err, &maxBytesError):
			return fmt.Errorf("body must not be larger than %d bytes", maxBodyBytes)
		default:
			return err
		}
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("body must only contain a single JSON value")
	}
	return nil
}

func (s *Server) errorResponse(w http.ResponseWriter, r *http.Request, status int, message any) {
	writeJSON(w, status, map[string]any{
		"error":      message,
		"request_id": requestID(r),
	})
}

func (s *Server) serverErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	appLog.Error("server error", err, "path", r.URL.Path, "request_id", requestID(r))
	s.errorResponse(w, r, http.StatusInternalServerError,
		"the server encountered a problem and could not process your request")
}

func (s *Server) clientErrorResponse(w http.ResponseWriter, r *http.Request, status int, message any) {
	appLog.Debug("client error", "status", status, "err", message, "request_id", requestID(r))
	s.errorResponse(w, r, status, message)
}

func (s *Server) notFoundResponse(w http.ResponseWriter, r *http.Request) {
	s.clientErrorResponse(w, r, http.StatusNotFound, "the requested resource could not be found")
}

func (s *Server) methodNotAllowedResponse(w http.ResponseWriter, r *http.Request) {
	s.clientErrorResponse(w, r, http.StatusMethodNotAllowed,
		fmt.Sprintf("the %s method is not supported for this resource", r.Method))
}

func (s *Server) badRequestResponse(w http.ResponseWriter, r *http.Request, err error) {
	s.clientErrorResponse(w, r, http.StatusBadRequest, err.Error())
}

// domainErrorResponse answers 422 for input the date and recurrence
// packages rejected, 500 for anything else.
func (s *Server) domainErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	if isValidationError(err) {
		s.clientErrorResponse(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.serverErrorResponse(w, r, err)
}

func isValidationError(err error) bool {
	for _, target := range []error{
		tzdate.ErrFormat,
		dates.ErrValidation,
		recurrence.ErrGrammar,
		recurrence.ErrWindow,
		recurrence.ErrNoAnchor,
		errInvalidRequest,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// errInvalidRequest marks well-formed JSON carrying unusable field values.
var errInvalidRequest = errors.New("invalid request")
