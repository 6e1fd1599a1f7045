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
package model

import (
	"encoding/base64"
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/docpipehq/docpipe/model"
)

// UploadDocument is the request body for a document upload. Content carries
// the raw file bytes base64-encoded.
type UploadDocument struct {
	Name     string                 `json:"name"`
	Type     string                 `json:"type"`
	Content  string                 `json:"content"`
	MetaData map[string]interface{} `json:"meta_data"`
}

type CreateSubscription struct {
	URL        string   `json:"url"`
	OwnerID    string   `json:"owner_id"`
	EventTypes []string `json:"event_types"`
}

type RegisterCallback struct {
	URL string `json:"url"`
}

var supportedDocumentTypes = []interface{}{
	model.TypePDF, model.TypePNG, model.TypeJPG, model.TypeTIFF, model.TypePlain,
}

var knownEventTypes = map[string]bool{
	model.EventDocumentQueued:    true,
	model.EventDocumentCompleted: true,
	model.EventDocumentFailed:    true,
	model.EventSystemError:       true,
}

func (u *UploadDocument) ValidateUploadDocument() error {
	return validation.ValidateStruct(u,
		validation.Field(&u.Name, validation.Required),
		validation.Field(&u.Type, validation.Required, validation.In(supportedDocumentTypes...)),
		validation.Field(&u.Content, validation.Required, validation.By(func(value interface{}) error {
			content, ok := value.(string)
			if !ok {
				return errors.New("invalid content type")
			}
			if _, err := base64.StdEncoding.DecodeString(content); err != nil {
				return errors.New("content must be base64 encoded")
			}
			return nil
		})),
	)
}

// DecodeContent returns the raw file bytes. Validate first.
func (u *UploadDocument) DecodeContent() ([]byte, error) {
	return base64.StdEncoding.DecodeString(u.Content)
}

func (s *CreateSubscription) ValidateCreateSubscription() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.URL, validation.Required, is.URL),
		validation.Field(&s.OwnerID, validation.Required),
		validation.Field(&s.EventTypes, validation.Required, validation.By(func(value interface{}) error {
			events, ok := value.([]string)
			if !ok {
				return errors.New("invalid event types")
			}
			for _, e := range events {
				if !knownEventTypes[e] {
					return errors.New("unknown event type: " + e)
				}
			}
			return nil
		})),
	)
}

func (r *RegisterCallback) ValidateRegisterCallback() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.URL, validation.Required, is.URL),
	)
}
