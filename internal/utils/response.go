package utils

import (
	"encoding/json"
	"net/http"

	"talentai/learning/internal/models"
)

func JSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// WriteOK wraps info in a successful models.Resp.
func WriteOK(w http.ResponseWriter, statusCode int, info interface{}) {
	JSON(w, statusCode, models.Resp{OK: true, Info: info})
}

// WriteError reports a failure as models.Resp with a reason string.
func WriteError(w http.ResponseWriter, statusCode int, reason string) {
	JSON(w, statusCode, models.Resp{OK: false, Info: reason})
}
