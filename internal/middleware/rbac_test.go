package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/campus-core/enrollment-api/internal/models"
)

func performRBAC(claims *models.JWTClaims, paramID string, allowed ...string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/resource/"+paramID, nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: paramID}}
	if claims != nil {
		c.Set(ContextUserKey, claims)
	}

	RBAC(allowed...)(c)
	if !c.IsAborted() {
		c.Status(http.StatusOK)
	}
	return w
}

func TestRBACAllowsMatchingRole(t *testing.T) {
	w := performRBAC(&models.JWTClaims{UserID: "u1", Role: models.RoleAdmin}, "x", "ADMIN")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRBACRejectsOtherRole(t *testing.T) {
	w := performRBAC(&models.JWTClaims{UserID: "u1", Role: models.RoleStudent}, "x", "ADMIN")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRBACSelfMatchesRouteParam(t *testing.T) {
	w := performRBAC(&models.JWTClaims{UserID: "s1", Role: models.RoleStudent}, "s1", "SELF", "FACULTY", "ADMIN")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRBACSelfRejectsOtherStudent(t *testing.T) {
	w := performRBAC(&models.JWTClaims{UserID: "s2", Role: models.RoleStudent}, "s1", "SELF", "FACULTY", "ADMIN")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRBACRequiresClaims(t *testing.T) {
	w := performRBAC(nil, "x", "ADMIN")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
