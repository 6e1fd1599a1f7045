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
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	model2 "github.com/docpipehq/docpipe/api/model"
	"github.com/docpipehq/docpipe/model"
)

// UploadDocument handles a new document upload. The document is stored in
// the RECEIVED state; processing starts only on an explicit process request.
//
// Responses:
// - 400 Bad Request: If there's an error in binding JSON or validating the upload.
// - 201 Created: If the document is successfully stored.
func (a Api) UploadDocument(c *gin.Context) {
	var upload model2.UploadDocument
	if err := c.ShouldBindJSON(&upload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := upload.ValidateUploadDocument(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	content, err := upload.DecodeContent()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.docpipe.CreateDocument(c.Request.Context(), upload.Name, upload.Type, content, upload.MetaData)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// ProcessDocument queues a RECEIVED document for the processing pipeline.
// When the pipeline pool is saturated this request blocks until a slot
// frees up; that is the backpressure surface.
func (a Api) ProcessDocument(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.docpipe.SubmitForProcessing(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, resp)
}

// ReprocessDocument re-queues a COMPLETED or FAILED document.
func (a Api) ReprocessDocument(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.docpipe.Reprocess(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, resp)
}

// GetDocument retrieves a document with its full processing history.
func (a Api) GetDocument(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.docpipe.GetDocument(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetAllDocuments lists documents, newest first. An optional ?status= query
// narrows the listing to one lifecycle state.
func (a Api) GetAllDocuments(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
		return
	}

	var resp []*model.Document
	if status := c.Query("status"); status != "" {
		status = strings.ToUpper(status)
		if !model.IsValidStatus(status) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown status %q", status)})
			return
		}
		resp, err = a.docpipe.GetDocumentsByStatus(c.Request.Context(), status, limit, offset)
	} else {
		resp, err = a.docpipe.GetAllDocuments(c.Request.Context(), limit, offset)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetDocumentStatus returns only the current lifecycle status of a document.
func (a Api) GetDocumentStatus(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	status, err := a.docpipe.GetStatus(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"document_id": id, "status": status})
}

// WaitForDocumentStatus long-polls a document until it reaches a terminal
// state or the timeout elapses. A timeout still returns the last observed
// status with 200.
func (a Api) WaitForDocumentStatus(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	timeoutSec, err := strconv.Atoi(c.DefaultQuery("timeout", "30"))
	if err != nil || timeoutSec <= 0 || timeoutSec > 120 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "timeout must be between 1 and 120 seconds"})
		return
	}

	status, err := a.docpipe.PollStatus(c.Request.Context(), id, time.Duration(timeoutSec)*time.Second)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"document_id": id, "status": status})
}

// RegisterCallback adds a one-shot notification callback for a document.
// The registration lives in memory only and fires on the next terminal
// event.
func (a Api) RegisterCallback(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	var callback model2.RegisterCallback
	if err := c.ShouldBindJSON(&callback); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := callback.ValidateRegisterCallback(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	a.docpipe.RegisterCallback(id, callback.URL)
	c.JSON(http.StatusCreated, gin.H{"document_id": id, "url": callback.URL})
}
