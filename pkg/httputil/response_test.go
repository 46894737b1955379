package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jwalitptl/clinic-portal/pkg/errors"
)

func respond(fn func(c *gin.Context)) (*httptest.ResponseRecorder, Response) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	fn(c)
	var resp Response
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestRespondWithSuccess(t *testing.T) {
	w, resp := respond(func(c *gin.Context) { RespondWithSuccess(c, []string{"a"}) })
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
}

func TestRespondWithErrorMapsAppErrors(t *testing.T) {
	w, resp := respond(func(c *gin.Context) {
		RespondWithError(c, apperrors.FieldError("query", "Query is too long"))
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "Query is too long", resp.Error.Message)
	assert.Equal(t, map[string]string{"query": "Query is too long"}, resp.Error.Fields)

	w, resp = respond(func(c *gin.Context) { RespondWithError(c, errors.New("boom")) })
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Internal server error", resp.Error.Message)
}
