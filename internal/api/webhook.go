package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	apperrors "immo-alerts/internal/common/errors"
	"immo-alerts/internal/common/logger"
	"immo-alerts/internal/common/validation"
)

const maxWebhookBody = 1 << 20

// The endpoint accepts either a direct {from, text} message or a WhatsApp
// Cloud change notification carrying one or more messages.
var webhookSchema = validation.MustCompile(`{
  "type": "object",
  "anyOf": [
    {
      "required": ["from", "text"],
      "properties": {
        "from": {"type": "string", "minLength": 1},
        "text": {"type": "string"}
      }
    },
    {
      "required": ["entry"],
      "properties": {"entry": {"type": "array"}}
    }
  ]
}`)

type webhookPayload struct {
	From  string       `json:"from"`
	Text  string       `json:"text"`
	Entry []cloudEntry `json:"entry"`
}

type cloudEntry struct {
	Changes []struct {
		Value struct {
			Messages []cloudMessage `json:"messages"`
		} `json:"value"`
	} `json:"changes"`
}

type cloudMessage struct {
	From string `json:"from"`
	Type string `json:"type"`
	Text struct {
		Body string `json:"body"`
	} `json:"text"`
	Button struct {
		Text string `json:"text"`
	} `json:"button"`
}

// body returns the user-visible text; non-text messages yield "".
func (m cloudMessage) body() string {
	switch m.Type {
	case "text":
		return m.Text.Body
	case "button":
		return m.Button.Text
	}
	return ""
}

// handleVerify answers the subscription handshake of the WhatsApp Cloud API.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if s.deps.VerifyToken == "" || q.Get("hub.mode") != "subscribe" || q.Get("hub.verify_token") != s.deps.VerifyToken {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, q.Get("hub.challenge"))
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.writeError(w, r, apperrors.NewMalformedPayloadError("webhook", err))
		return
	}

	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.writeError(w, r, apperrors.NewMalformedPayloadError("webhook", err))
		return
	}
	result, err := webhookSchema.Validate(doc)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !result.Valid {
		s.writeError(w, r, apperrors.NewInvalidInputError(strings.Join(result.GetErrorMessages(), "; ")))
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.writeError(w, r, apperrors.NewMalformedPayloadError("webhook", err))
		return
	}

	if len(payload.Entry) == 0 {
		res, err := s.deps.Conversation.HandleMessage(r.Context(), payload.From, payload.Text)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	// The provider retries anything but a 2xx, so per-message failures are
	// logged rather than returned.
	processed, failed, ignored := 0, 0, 0
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				text := msg.body()
				if text == "" {
					ignored++
					continue
				}
				if _, err := s.deps.Conversation.HandleMessage(r.Context(), "+"+strings.TrimPrefix(msg.From, "+"), text); err != nil {
					failed++
					s.logger.Warn("inbound message failed", map[string]interface{}{
						"from":  logger.MaskPhone(msg.From),
						"error": err,
					})
					continue
				}
				processed++
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"processed": processed, "failed": failed, "ignored": ignored})
}
