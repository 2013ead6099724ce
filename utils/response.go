package utils

import (
	"crowdfund-bend/models"
	"encoding/json"
	"log"
	"net/http"
)

// Response represents a generic response
type Response struct {
	Status  string      `json:"status"`
	Success bool        `json:"success"`
	Code    int         `json:"code"`
	Data    interface{} `json:"data"`
	Message string      `json:"message"`
	Error   string      `json:"error"`
}

// RespondWithError sends an error response
func RespondWithError(w http.ResponseWriter, code int, msg string) {
	RespondWithJSON(w, code, Response{
		Status:  "error",
		Code:    code,
		Error:   msg,
		Message: msg,
	})
}

// RespondWithErr maps an engine error to its status code. Structured errors
// keep their machine code; anything else is an infrastructure failure.
func RespondWithErr(w http.ResponseWriter, tag string, err error) {
	e, ok := models.AsError(err)
	if !ok {
		log.Printf("%s: %v", tag, err)
		RespondWithJSON(w, http.StatusInternalServerError, Response{
			Status:  "error",
			Code:    http.StatusInternalServerError,
			Error:   "internal_error",
			Message: "Error processing request",
		})
		return
	}

	code := StatusFor(e.Kind)
	RespondWithJSON(w, code, Response{
		Status:  "error",
		Code:    code,
		Data:    errorData(e),
		Error:   e.Code,
		Message: e.Message,
	})
}

func errorData(e *models.Error) interface{} {
	if e.Resource == "" && !e.Retryable {
		return nil
	}
	return map[string]interface{}{
		"resource":  e.Resource,
		"retryable": e.Retryable,
	}
}

// StatusFor returns the HTTP status of an error kind
func StatusFor(kind models.ErrorKind) int {
	switch kind {
	case models.KindValidation:
		return http.StatusBadRequest
	case models.KindAuthorization:
		return http.StatusForbidden
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindConflict:
		return http.StatusConflict
	case models.KindExternal:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// RespondWithOk response
func RespondWithOk(w http.ResponseWriter, msg string) {
	RespondWithJSON(w, http.StatusOK, Response{
		Status:  "success",
		Success: true,
		Code:    http.StatusOK,
		Message: msg,
	})
}

// RespondWithData sends a success envelope around data
func RespondWithData(w http.ResponseWriter, code int, msg string, data interface{}) {
	RespondWithJSON(w, code, Response{
		Status:  "success",
		Success: true,
		Code:    code,
		Data:    data,
		Message: msg,
	})
}

// RespondWithJSON ... This
func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
