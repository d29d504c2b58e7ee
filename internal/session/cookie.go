package session

import (
	"net/http"
	"time"
)

const (
	// CookieName 是路由守卫读取的 cookie 名称。
	CookieName = "wallet-connected"
	// TTL 是连接标记的有效期。
	TTL = 24 * time.Hour
)

// WriteCookie 写入或清除连接标记 cookie。
func WriteCookie(w http.ResponseWriter, connected bool) {
	http.SetCookie(w, Cookie(connected))
}

// Cookie 构造连接标记 cookie；connected 为 false 时返回立即过期的 cookie。
func Cookie(connected bool) *http.Cookie {
	c := &http.Cookie{
		Name:     CookieName,
		Value:    "true",
		Path:     "/",
		MaxAge:   int(TTL / time.Second),
		SameSite: http.SameSiteLaxMode,
	}
	if !connected {
		c.Value = ""
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
	}
	return c
}

// CookieConnected 判断请求是否携带有效的连接标记。
func CookieConnected(r *http.Request) bool {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return false
	}
	return c.Value == "true"
}
