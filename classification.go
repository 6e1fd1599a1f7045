/*
Copyright 2025 Docpipe Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package docpipe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/docpipehq/docpipe/config"
	"github.com/docpipehq/docpipe/internal/request"
	"github.com/docpipehq/docpipe/model"
)

// classificationLabels are the document categories the model is asked to
// choose from.
var classificationLabels = []string{"Invoice", "Receipt", "Contract", "Letter", "Report", "Other"}

// maxClassifierInput caps how much extracted text is sent to the model.
const maxClassifierInput = 4000

// Classifier assigns a category label to extracted document text.
type Classifier interface {
	Classify(ctx context.Context, text string) (*model.Classification, error)
}

// OllamaClassifier classifies text by prompting a local Ollama model. The
// model is instructed to answer with a single "Label|Confidence" line.
type OllamaClassifier struct {
	endpoint string
	model    string
	client   *http.Client
}

// NewOllamaClassifier creates a classifier from the classification config
// section.
func NewOllamaClassifier(cfg config.ClassificationConfig) *OllamaClassifier {
	return &OllamaClassifier{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		client:   &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
	}
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (c *OllamaClassifier) Classify(ctx context.Context, text string) (*model.Classification, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("no text to classify")
	}
	if len(text) > maxClassifierInput {
		text = text[:maxClassifierInput]
	}

	prompt := fmt.Sprintf(
		"Classify the following document into exactly one of these categories: %s. "+
			"Respond with only the category name and a confidence from 0 to 100, separated by a pipe. "+
			"Example: Invoice|92\n\nDocument:\n%s",
		strings.Join(classificationLabels, ", "), text)

	payload, err := request.ToJsonReq(&ollamaRequest{Model: c.model, Prompt: prompt, Stream: false})
	if err != nil {
		return nil, errors.Wrap(err, "failed to build classifier request")
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create classifier request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "classifier request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Errorf("classifier returned status %d", resp.StatusCode)
	}

	var body ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "failed to decode classifier response")
	}

	label, confidence, err := parseClassifierAnswer(body.Response)
	if err != nil {
		return nil, err
	}

	return &model.Classification{
		Label:      label,
		Confidence: confidence,
		ModelName:  c.model,
	}, nil
}

// parseClassifierAnswer parses a "Label|Confidence" line. Unknown labels
// fall back to Other with the reported confidence; a missing or malformed
// confidence is an error because retrying is the caller's decision.
func parseClassifierAnswer(answer string) (string, int, error) {
	answer = strings.TrimSpace(answer)
	parts := strings.SplitN(answer, "|", 2)
	if len(parts) != 2 {
		return "", 0, errors.Errorf("malformed classifier answer: %q", answer)
	}

	label := strings.TrimSpace(parts[0])
	confidence, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return "", 0, errors.Errorf("malformed classifier confidence: %q", answer)
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}

	known := false
	for _, l := range classificationLabels {
		if strings.EqualFold(label, l) {
			label = l
			known = true
			break
		}
	}
	if !known {
		label = "Other"
	}

	return label, confidence, nil
}
