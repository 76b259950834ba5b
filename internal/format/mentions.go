package format

import (
	"context"
	"fmt"
	"regexp"
)

var mentionPattern = regexp.MustCompile(`<@(\d+)>`)

// ReplaceMentions rewrites raw Discord mention tokens (<@123...>) into
// @displayname so the model sees readable names. Ids the resolver does not
// know stay as raw tokens.
func ReplaceMentions(ctx context.Context, content string, users UserNamer) string {
	return mentionPattern.ReplaceAllStringFunc(content, func(token string) string {
		userID := mentionPattern.FindStringSubmatch(token)[1]
		name := users.UserName(ctx, userID)
		if name == "" {
			return token
		}
		return fmt.Sprintf("@%s", name)
	})
}
