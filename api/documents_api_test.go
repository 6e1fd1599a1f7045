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
package api

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/docpipehq/docpipe"
	model2 "github.com/docpipehq/docpipe/api/model"
	"github.com/docpipehq/docpipe/config"
	"github.com/docpipehq/docpipe/database"
	"github.com/docpipehq/docpipe/internal/request"
	"github.com/docpipehq/docpipe/model"
)

type TestRequest struct {
	Payload  io.Reader
	Router   *gin.Engine
	Response interface{}
	Method   string
	Route    string
	Header   map[string]string
}

func SetUpTestRequest(s TestRequest) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(s.Method, s.Route, s.Payload)
	for key, value := range s.Header {
		req.Header.Set(key, value)
	}
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	s.Router.ServeHTTP(resp, req)

	err := json.NewDecoder(resp.Body).Decode(&s.Response)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func setupRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock, error) {
	t.Helper()
	mr := miniredis.RunT(t)
	config.MockConfig(&config.Configuration{
		Redis:      config.RedisConfig{Dns: mr.Addr()},
		DataSource: config.DataSourceConfig{Dns: "postgres://postgres:@localhost:5432/docpipe?sslmode=disable"},
	})

	db, mock, err := sqlmock.New()
	if err != nil {
		return nil, nil, err
	}
	newDocpipe, err := docpipe.NewDocpipe(database.Datasource{Conn: db})
	if err != nil {
		return nil, nil, err
	}
	router := NewAPI(newDocpipe).Router()

	return router, mock, nil
}

func TestUploadDocumentAPI(t *testing.T) {
	router, mock, err := setupRouter(t)
	if err != nil {
		t.Fatalf("Failed to setup router: %v", err)
	}

	name := gofakeit.Word() + ".txt"
	mock.ExpectExec("INSERT INTO docpipe.documents").
		WithArgs(sqlmock.AnyArg(), name, model.TypePlain, model.StatusReceived, "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	payload := model2.UploadDocument{
		Name:    name,
		Type:    model.TypePlain,
		Content: base64.StdEncoding.EncodeToString([]byte("hello world")),
	}
	body, err := request.ToJsonReq(&payload)
	assert.NoError(t, err)

	var response model.Document
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  body,
		Router:   router,
		Response: &response,
		Method:   "POST",
		Route:    "/documents",
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Code)
}

func TestUploadDocumentRejectsUnsupportedType(t *testing.T) {
	router, _, err := setupRouter(t)
	if err != nil {
		t.Fatalf("Failed to setup router: %v", err)
	}

	payload := model2.UploadDocument{
		Name:    "archive.zip",
		Type:    "ZIP",
		Content: base64.StdEncoding.EncodeToString([]byte("content")),
	}
	body, err := request.ToJsonReq(&payload)
	assert.NoError(t, err)

	var response map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  body,
		Router:   router,
		Response: &response,
		Method:   "POST",
		Route:    "/documents",
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestGetDocumentStatusAPI(t *testing.T) {
	router, mock, err := setupRouter(t)
	if err != nil {
		t.Fatalf("Failed to setup router: %v", err)
	}

	documentID := "doc_" + gofakeit.UUID()
	mock.ExpectQuery("SELECT status FROM docpipe.documents").
		WithArgs(documentID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(model.StatusProcessing))

	var response map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{
		Router:   router,
		Response: &response,
		Method:   "GET",
		Route:    "/documents/" + documentID + "/status",
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, model.StatusProcessing, response["status"])
	assert.NotEmpty(t, resp.Header().Get("X-RateLimit-Limit"))
}

func TestListDocumentsFilteredByStatus(t *testing.T) {
	router, mock, err := setupRouter(t)
	if err != nil {
		t.Fatalf("Failed to setup router: %v", err)
	}

	documentID := "doc_" + gofakeit.UUID()
	rows := sqlmock.NewRows([]string{"document_id", "original_name", "document_type", "status", "error_message", "created_at", "meta_data"}).
		AddRow(documentID, "scan.pdf", model.TypePDF, model.StatusQueued, "", gofakeit.Date(), []byte(`{}`))
	mock.ExpectQuery("SELECT document_id, .* FROM docpipe.documents WHERE status").
		WithArgs(model.StatusQueued, 20, 0).
		WillReturnRows(rows)

	var response []model.Document
	resp, err := SetUpTestRequest(TestRequest{
		Router:   router,
		Response: &response,
		Method:   "GET",
		Route:    "/documents?status=queued",
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, response, 1)
	assert.Equal(t, documentID, response[0].DocumentID)
	assert.Equal(t, model.StatusQueued, response[0].Status)
}

func TestListDocumentsRejectsUnknownStatus(t *testing.T) {
	router, _, err := setupRouter(t)
	if err != nil {
		t.Fatalf("Failed to setup router: %v", err)
	}

	var response map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{
		Router:   router,
		Response: &response,
		Method:   "GET",
		Route:    "/documents?status=ARCHIVED",
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestRegisterCallbackValidation(t *testing.T) {
	router, _, err := setupRouter(t)
	if err != nil {
		t.Fatalf("Failed to setup router: %v", err)
	}

	payload := model2.RegisterCallback{URL: "not a url"}
	body, err := request.ToJsonReq(&payload)
	assert.NoError(t, err)

	var response map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  body,
		Router:   router,
		Response: &response,
		Method:   "POST",
		Route:    "/documents/doc_123/callbacks",
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestUploadAdmissionLimit(t *testing.T) {
	router, mock, err := setupRouter(t)
	if err != nil {
		t.Fatalf("Failed to setup router: %v", err)
	}

	for i := 0; i < 10; i++ {
		mock.ExpectExec("INSERT INTO docpipe.documents").
			WillReturnResult(sqlmock.NewResult(1, 1))
	}

	content := base64.StdEncoding.EncodeToString([]byte("hello"))
	for i := 0; i < 10; i++ {
		payload := model2.UploadDocument{Name: gofakeit.Word() + ".txt", Type: model.TypePlain, Content: content}
		body, err := request.ToJsonReq(&payload)
		assert.NoError(t, err)

		var response map[string]interface{}
		resp, err := SetUpTestRequest(TestRequest{
			Payload:  body,
			Router:   router,
			Response: &response,
			Method:   "POST",
			Route:    "/documents",
		})
		assert.NoError(t, err)
		assert.Equal(t, http.StatusCreated, resp.Code)
	}

	// The upload class admits 10 per hour per identity; the next request
	// must be rejected with retry guidance.
	payload := model2.UploadDocument{Name: "over.txt", Type: model.TypePlain, Content: content}
	body, err := request.ToJsonReq(&payload)
	assert.NoError(t, err)

	var response map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  body,
		Router:   router,
		Response: &response,
		Method:   "POST",
		Route:    "/documents",
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.NotEmpty(t, resp.Header().Get("Retry-After"))
	assert.Equal(t, "10", resp.Header().Get("X-RateLimit-Limit"))
}

func TestCreateSubscriptionAPI(t *testing.T) {
	router, mock, err := setupRouter(t)
	if err != nil {
		t.Fatalf("Failed to setup router: %v", err)
	}

	mock.ExpectExec("INSERT INTO docpipe.webhook_subscriptions").
		WillReturnResult(sqlmock.NewResult(1, 1))

	payload := model2.CreateSubscription{
		URL:        "https://example.com/hooks",
		OwnerID:    "owner_1",
		EventTypes: []string{model.EventDocumentCompleted},
	}
	body, err := request.ToJsonReq(&payload)
	assert.NoError(t, err)

	var response model.Subscription
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  body,
		Router:   router,
		Response: &response,
		Method:   "POST",
		Route:    "/webhooks",
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Code)
	assert.True(t, response.Active)
}

func TestCreateSubscriptionRejectsUnknownEvent(t *testing.T) {
	router, _, err := setupRouter(t)
	if err != nil {
		t.Fatalf("Failed to setup router: %v", err)
	}

	payload := model2.CreateSubscription{
		URL:        "https://example.com/hooks",
		OwnerID:    "owner_1",
		EventTypes: []string{"document.deleted"},
	}
	body, err := request.ToJsonReq(&payload)
	assert.NoError(t, err)

	var response map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  body,
		Router:   router,
		Response: &response,
		Method:   "POST",
		Route:    "/webhooks",
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}
