// Package prompts — клиентские утилиты редактора шаблонов промптов:
// проверка плейсхолдеров и оценка числа токенов до отправки на сервер.
package prompts

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// encodingName — кодировка токенизатора моделей, используемых бэкендом.
const encodingName = "cl100k_base"

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// Placeholders возвращает имена плейсхолдеров вида {{name}} в порядке появления,
// без дубликатов.
func Placeholders(content string) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, match := range placeholderPattern.FindAllStringSubmatch(content, -1) {
		name := match[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// Validate проверяет шаблон перед сохранением: непустое содержимое,
// сбалансированные скобки плейсхолдеров и полный набор обязательных имен.
func Validate(content string, required []string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("template content is empty")
	}

	if strings.Count(content, "{{") != strings.Count(content, "}}") {
		return fmt.Errorf("unbalanced placeholder braces in template")
	}

	present := make(map[string]struct{})
	for _, name := range Placeholders(content) {
		present[name] = struct{}{}
	}
	var missing []string
	for _, name := range required {
		if _, ok := present[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("template is missing required placeholders: %s", strings.Join(missing, ", "))
	}
	return nil
}

// EstimateTokens оценивает число токенов шаблона той же кодировкой,
// которой считает бэкенд. Оценка показывается в редакторе до отправки.
func EstimateTokens(content string) (int, error) {
	encoding, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return 0, fmt.Errorf("failed to load tokenizer encoding: %w", err)
	}
	return len(encoding.Encode(content, nil, nil)), nil
}
