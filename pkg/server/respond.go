package server

import (
	"encoding/json"
	"net/http"

	"github.com/rvlink-network/rvlink/pkg/util"
)

// errorBody is the uniform error envelope.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		util.Debugf("writing response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := util.ErrorCode(err)
	writeJSON(w, httpStatus(code), errorBody{Error: errorDetail{Code: code, Message: err.Error()}})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{
		Error: errorDetail{Code: "INVALID_PARAMETER", Message: message},
	})
}

// httpStatus maps command failure codes to HTTP statuses.
func httpStatus(code string) int {
	switch code {
	case "UNKNOWN_ENTITY":
		return http.StatusNotFound
	case "UNSUPPORTED_COMMAND", "INVALID_PARAMETER":
		return http.StatusBadRequest
	case "ENTITY_UNAVAILABLE":
		return http.StatusConflict
	case "INTERFACE_DOWN", "TX_FAILED":
		return http.StatusServiceUnavailable
	case "TX_TIMEOUT":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
