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
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetBreakerStatus reports the processing circuit breaker's window. The
// breaker is advisory: an open state is a signal for operators and
// dashboards, processing is never blocked by it.
func (a Api) GetBreakerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, a.docpipe.Breaker().Status())
}

// ResetBreaker clears the breaker's sample window.
func (a Api) ResetBreaker(c *gin.Context) {
	a.docpipe.Breaker().Reset()
	c.JSON(http.StatusOK, gin.H{"message": "breaker reset"})
}
