package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	original := log.Logger
	log.Logger = zerolog.New(&buf).Level(zerolog.DebugLevel)
	defer func() { log.Logger = original }()

	router := gin.New()
	router.Use(RequestLogger())
	router.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "fine") })
	router.GET("/missing", func(c *gin.Context) { c.AbortWithStatus(http.StatusNotFound) })

	tests := []struct {
		path      string
		wantLevel string
		wantCode  float64
	}{
		{path: "/ok", wantLevel: "debug", wantCode: 200},
		{path: "/missing", wantLevel: "warn", wantCode: 404},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			buf.Reset()

			req := httptest.NewRequest(http.MethodGet, tt.path+"?x=1", nil)
			req.Header.Set("User-Agent", "SEC_HHP_Camera/1.0")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			var entry map[string]interface{}
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, tt.wantLevel, entry["level"])
			assert.Equal(t, tt.path, entry["path"])
			assert.Equal(t, "x=1", entry["query"])
			assert.Equal(t, tt.wantCode, entry["status"])
			assert.Equal(t, "SEC_HHP_Camera/1.0", entry["user_agent"])
			assert.Equal(t, "192.0.2.1", entry["client"])
		})
	}
}
