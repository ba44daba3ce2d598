package repl

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"smith/internal/chat"
	"smith/internal/security"
)

var mentionPattern = regexp.MustCompile(`@([^\s]+)`)

// mentionMaxRunes caps inlined file content so a fat @mention cannot eat
// the whole context window in one line.
const mentionMaxRunes = 4000

var imageMIMETypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// expandMentions resolves @path tokens in user input. Text files are inlined
// as fenced blocks appended to the message; image files become attachments,
// which in turn routes the request to an image-capable model. Unresolvable
// mentions turn into error notes so the model knows the file never arrived.
func expandMentions(input string, ws *security.Workspace, cwd string) (string, []chat.ImageContent) {
	if ws == nil || strings.TrimSpace(input) == "" {
		return input, nil
	}
	matches := mentionPattern.FindAllStringSubmatch(input, -1)
	if len(matches) == 0 {
		return input, nil
	}

	var snippets []string
	var images []chat.ImageContent
	seen := map[string]struct{}{}
	for _, m := range matches {
		if len(m) < 2 {
			continue
		}
		path := strings.TrimSpace(m[1])
		if path == "" {
			continue
		}
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}

		resolved, err := ws.ResolveFrom(cwd, path)
		if err != nil {
			snippets = append(snippets, fmt.Sprintf("@%s -> [error] %v", path, err))
			continue
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			snippets = append(snippets, fmt.Sprintf("@%s -> [error] %v", path, err))
			continue
		}

		if mimeType, ok := imageMIMETypes[strings.ToLower(filepath.Ext(resolved))]; ok {
			images = append(images, chat.ImageContent{
				Type: "image_url",
				ImageURL: chat.ImageURL{
					URL: "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data),
				},
			})
			snippets = append(snippets, fmt.Sprintf("@%s: attached as image", path))
			continue
		}

		content := string(data)
		if runes := []rune(content); len(runes) > mentionMaxRunes {
			content = string(runes[:mentionMaxRunes]) + "\n...[truncated]"
		}
		snippets = append(snippets, fmt.Sprintf("@%s:\n```\n%s\n```", path, content))
	}

	if len(snippets) == 0 && len(images) == 0 {
		return input, nil
	}
	text := input
	if len(snippets) > 0 {
		text += "\n\n[attached files]\n" + strings.Join(snippets, "\n\n")
	}
	return text, images
}
