package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// parseInputs собирает начальные данные запуска из файла и пар KEY=VALUE.
//
// Файл — JSON или YAML объект. Значение пары разбирается как JSON
// (числа, true/false, объекты), иначе остаётся строкой. Пары перекрывают файл.
func parseInputs(file string, pairs []string) (map[string]any, error) {
	inputs := make(map[string]any)

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read inputs file: %w", err)
		}
		// JSON является подмножеством YAML
		if err := yaml.Unmarshal(data, &inputs); err != nil {
			return nil, fmt.Errorf("parse inputs file %s: %w", file, err)
		}
	}

	for _, kv := range pairs {
		key, raw, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input format %q, expected KEY=VALUE", kv)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		inputs[key] = value
	}

	if len(inputs) == 0 {
		return nil, nil
	}
	return inputs, nil
}
