package utils

import (
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("(?s)```([A-Za-z0-9_+.-]*)[^\\n]*\\n(.*?)```")

// CodeBlock is one fenced block found in model output.
type CodeBlock struct {
	Language string
	Code     string
}

// FencedBlocks returns every fenced block of text in order.
func FencedBlocks(text string) []CodeBlock {
	matches := fencedBlock.FindAllStringSubmatch(text, -1)
	blocks := make([]CodeBlock, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, CodeBlock{
			Language: strings.ToLower(m[1]),
			Code:     strings.TrimRight(m[2], " \t\r\n"),
		})
	}
	return blocks
}

// ExtractCode picks the code to run from an assistant reply: the first
// python block if any, else the first fenced block of any language.
func ExtractCode(text string) (string, bool) {
	blocks := FencedBlocks(text)
	for _, b := range blocks {
		if b.Language == "python" || b.Language == "py" || b.Language == "python3" {
			if strings.TrimSpace(b.Code) != "" {
				return b.Code, true
			}
		}
	}
	for _, b := range blocks {
		if strings.TrimSpace(b.Code) != "" {
			return b.Code, true
		}
	}
	return "", false
}
