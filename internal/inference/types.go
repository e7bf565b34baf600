package inference

import "encoding/json"

type SimilarityInputs struct {
	SourceSentence string   `json:"source_sentence"`
	Sentences      []string `json:"sentences"`
}

type SimilarityRequest struct {
	Inputs SimilarityInputs `json:"inputs"`
}

type PairInputs struct {
	Text     string `json:"text"`
	TextPair string `json:"text_pair"`
}

type ClassificationRequest struct {
	Inputs PairInputs `json:"inputs"`
}

type LabelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

type APIErrorEnvelope struct {
	Message       string  `json:"error"`
	EstimatedTime float64 `json:"estimated_time,omitempty"`
}

type APIError struct {
	StatusCode int
	Envelope   APIErrorEnvelope
	Body       []byte
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Envelope.Message != "" {
		return e.Envelope.Message
	}
	return string(e.Body)
}

// ModelUnavailableError is the terminal failure of a model call: retries
// exhausted, a non-retryable response, or the request deadline expired.
// Callers recover from it locally; it never aborts a scoring request.
type ModelUnavailableError struct {
	Model    string
	Attempts int
	Err      error
}

func (e *ModelUnavailableError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return "model " + e.Model + " unavailable: " + e.Err.Error()
	}
	return "model " + e.Model + " unavailable"
}

func (e *ModelUnavailableError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func ParseAPIErrorEnvelope(body []byte) (APIErrorEnvelope, bool) {
	var envelope APIErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return APIErrorEnvelope{}, false
	}
	if envelope.Message == "" {
		return APIErrorEnvelope{}, false
	}
	return envelope, true
}

// parseLabelScores accepts both the flat `[{label,score}]` shape and the
// nested `[[{label,score}]]` shape that classification endpoints return
// depending on the model wrapper version.
func parseLabelScores(body []byte) ([]LabelScore, error) {
	var flat []LabelScore
	if err := json.Unmarshal(body, &flat); err == nil {
		return flat, nil
	}
	var nested [][]LabelScore
	if err := json.Unmarshal(body, &nested); err != nil {
		return nil, err
	}
	if len(nested) == 0 {
		return []LabelScore{}, nil
	}
	return nested[0], nil
}
