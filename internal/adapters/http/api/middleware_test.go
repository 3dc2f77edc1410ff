package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestClientIP(t *testing.T) {
	Convey("Given requests arriving through proxies", t, func() {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.9:5555"

		Convey("Then the first forwarded address wins", func() {
			req.Header.Set("X-Forwarded-For", "203.0.113.1, 10.0.0.1")
			req.Header.Set("X-Real-IP", "198.51.100.7")
			So(clientIP(req), ShouldEqual, "203.0.113.1")
		})

		Convey("Then X-Real-IP is used without X-Forwarded-For", func() {
			req.Header.Set("X-Real-IP", "198.51.100.7")
			So(clientIP(req), ShouldEqual, "198.51.100.7")
		})

		Convey("Then the peer address is the fallback", func() {
			So(clientIP(req), ShouldEqual, "192.0.2.9")
		})
	})
}

func TestRateLimiter(t *testing.T) {
	Convey("Given a limiter with a burst of one", t, func() {
		now := time.Unix(1_700_000_000, 0)
		l := NewRateLimiter(1, 1)
		l.now = func() time.Time { return now }

		Convey("When a client sends twice at once", func() {
			So(l.Allow("a"), ShouldBeTrue)
			So(l.Allow("a"), ShouldBeFalse)

			Convey("Then a token returns after a second", func() {
				now = now.Add(time.Second)
				So(l.Allow("a"), ShouldBeTrue)
			})
		})

		Convey("When a client goes idle", func() {
			l.Allow("idle")
			now = now.Add(2 * limiterIdleTTL)
			l.Allow("fresh")

			Convey("Then its bucket is dropped", func() {
				l.mu.Lock()
				defer l.mu.Unlock()
				_, ok := l.clients["idle"]
				So(ok, ShouldBeFalse)
				So(l.clients, ShouldContainKey, "fresh")
			})
		})
	})
}

func TestErrorClassification(t *testing.T) {
	Convey("Status codes map to error types", t, func() {
		So(getErrorType(503), ShouldEqual, "server_error")
		So(getErrorType(429), ShouldEqual, "rate_limit")
		So(getErrorType(413), ShouldEqual, "too_large")
		So(getErrorType(400), ShouldEqual, "client_error")
		So(getErrorSeverity(500), ShouldEqual, "high")
		So(getErrorSeverity(400), ShouldEqual, "medium")
	})
}
