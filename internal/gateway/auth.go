package gateway

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/tgifai/butler/internal/pkg/logs"
)

const bearerPrefix = "Bearer "

// apiKeyAuth rejects requests whose Authorization header does not carry
// "Bearer <key>". An empty key disables the check.
func apiKeyAuth(key string) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		if key == "" {
			c.Next(ctx)
			return
		}

		header := string(c.GetHeader("Authorization"))
		token, found := strings.CutPrefix(header, bearerPrefix)
		if !found || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(key)) != 1 {
			logs.CtxInfo(ctx, "[gateway] rejected unauthenticated request %s %s from %s",
				c.Method(), c.Path(), c.ClientIP())
			c.AbortWithStatusJSON(consts.StatusUnauthorized, utils.H{"error": "invalid or missing api key"})
			return
		}
		c.Next(ctx)
	}
}
