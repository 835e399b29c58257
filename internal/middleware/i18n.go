// internal/middleware/i18n.go
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/datamarket-backend/internal/i18n"
)

func I18nMiddleware(defaultLang string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("lang", ParseLanguage(c.GetHeader("Accept-Language"), defaultLang))
		c.Next()
	}
}

// ParseLanguage picks the first supported tag of an Accept-Language header.
func ParseLanguage(header, defaultLang string) string {
	// Handle cases like "zh-TW,zh;q=0.9,en;q=0.8"
	for _, part := range strings.Split(header, ",") {
		tag := strings.TrimSpace(strings.Split(part, ";")[0])

		var lang string
		switch tag {
		case "zh-TW", "zh-Hant", "zh_TW", "zh":
			lang = "zh_TW"
		case "en", "en-US", "en-GB":
			lang = "en"
		default:
			continue
		}
		if i18n.IsSupported(lang) {
			return lang
		}
	}
	return defaultLang
}
