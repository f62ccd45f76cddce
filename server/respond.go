// Copyright 2026 Altus4
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"encoding/json"
	"net/http"
	"time"

	"altus4/core/shared/apperror"
)

// Version is reported in every response envelope.
const Version = "1.0.0"

type meta struct {
	Timestamp string `json:"timestamp"`
	RequestID string `json:"requestId"`
	Version   string `json:"version"`
}

type successEnvelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Meta    meta        `json:"meta"`
}

type errorBody struct {
	Code    apperror.Code          `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

func respond(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(successEnvelope{
		Success: true,
		Data:    data,
		Meta: meta{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			RequestID: requestIDFrom(r.Context()),
			Version:   Version,
		},
	})
}

func respondError(w http.ResponseWriter, aerr *apperror.Error) {
	details := aerr.Details
	if len(aerr.Suggestions) > 0 {
		if details == nil {
			details = map[string]interface{}{}
		}
		details["suggestions"] = aerr.Suggestions
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(aerr.Status())
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Success: false,
		Error: errorBody{
			Code:    aerr.Code,
			Message: aerr.Message,
			Details: details,
		},
	})
}

// decodeJSON reads a request body into dest, rejecting malformed JSON with a
// typed error.
func decodeJSON(r *http.Request, dest interface{}) *apperror.Error {
	defer func() { _ = r.Body.Close() }()
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return apperror.Wrap(apperror.CodeInvalidJSON, "request body is not valid JSON", err,
			"Check the request body syntax")
	}
	return nil
}
