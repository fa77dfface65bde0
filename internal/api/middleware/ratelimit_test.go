package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func TestNewRateLimiter_MemoryStore(t *testing.T) {
	mw, err := NewRateLimiter(2, time.Minute, "", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRateLimiter: %v", err)
	}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw)
	r.GET("/limited", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/limited", nil)
		req.RemoteAddr = "203.0.113.9:1234"
		r.ServeHTTP(w, req)
		statuses = append(statuses, w.Code)
	}

	if statuses[0] != http.StatusOK || statuses[1] != http.StatusOK {
		t.Fatalf("first two requests should pass, got %v", statuses)
	}
	if statuses[2] != http.StatusTooManyRequests {
		t.Fatalf("third request should be limited, got %v", statuses)
	}
}

func TestNewRateLimiter_BadRedisURL(t *testing.T) {
	if _, err := NewRateLimiter(10, time.Minute, "not-a-url", zerolog.Nop()); err == nil {
		t.Fatal("expected error for malformed redis url")
	}
}
