package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/flowgraph/internal/domain"
)

// ParseJSON разбирает определение workflow из JSON.
//
// Принимает документ вида {"workflow": {...}} или само определение.
func ParseJSON(data []byte) (*domain.WorkflowDefinition, error) {
	var doc domain.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if doc.Workflow != nil {
		return doc.Workflow, nil
	}

	var def domain.WorkflowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return &def, nil
}

// ParseYAML разбирает определение workflow из YAML.
// Структура документа та же, что и у JSON.
func ParseYAML(data []byte) (*domain.WorkflowDefinition, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	// Приводим к JSON, чтобы использовать одни и те же теги полей
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return ParseJSON(jsonData)
}

// Parse разбирает определение, определяя формат по содержимому.
func Parse(data []byte) (*domain.WorkflowDefinition, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return ParseJSON(trimmed)
	}
	return ParseYAML(data)
}

// LoadFile читает определение из файла (.json, .yaml, .yml).
func LoadFile(path string) (*domain.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	case ".json":
		return ParseJSON(data)
	default:
		return Parse(data)
	}
}

// Validate выполняет полную валидацию определения.
//
// Проверяет:
// - Наличие узлов
// - Непустые и уникальные ID узлов
// - Регистрацию типа каждого узла в registry
// - Допустимость errorHandling
// - Конфигурацию узла (если executor реализует ConfigValidator)
// - Что from/to каждой связи ссылаются на существующие узлы
//
// Возвращает ValidationErrors со всеми найденными нарушениями.
func Validate(def *domain.WorkflowDefinition, registry Registry) error {
	if def == nil || len(def.Nodes) == 0 {
		return ValidationErrors{NewValidationError("", "nodes", "workflow has no nodes", ErrNoNodes)}
	}

	var errs ValidationErrors
	nodeIDs := make(map[string]bool, len(def.Nodes))

	for i := range def.Nodes {
		errs = append(errs, validateNode(i, &def.Nodes[i], nodeIDs, registry)...)
	}

	for i := range def.Connections {
		errs = append(errs, validateConnection(i, &def.Connections[i], nodeIDs)...)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// validateNode проверяет один узел.
// nodeIDs — уже встреченные ID узлов (для проверки уникальности).
func validateNode(index int, node *domain.NodeSpec, nodeIDs map[string]bool, registry Registry) ValidationErrors {
	var errs ValidationErrors

	if node.ID == "" {
		errs = append(errs, NewValidationError("", "id",
			fmt.Sprintf("node %d has empty ID", index), ErrEmptyNodeID))
	} else if nodeIDs[node.ID] {
		errs = append(errs, NewValidationError(node.ID, "id",
			fmt.Sprintf("duplicate node ID: %s", node.ID), ErrDuplicateNodeID))
	}
	if node.ID != "" {
		nodeIDs[node.ID] = true
	}

	ref := node.ID
	if ref == "" {
		ref = fmt.Sprintf("#%d", index)
	}

	if !node.ErrorHandling.IsValid() {
		errs = append(errs, NewValidationError(ref, "errorHandling",
			fmt.Sprintf("invalid errorHandling %q (expected stop or continue)", node.ErrorHandling),
			ErrInvalidErrorHandling))
	}

	switch {
	case node.Type == "":
		errs = append(errs, NewValidationError(ref, "type",
			"node has empty type", ErrUnknownNodeType))
	case registry == nil || !registry.Has(node.Type):
		errs = append(errs, NewValidationError(ref, "type",
			fmt.Sprintf("unknown node type: %s", node.Type), ErrUnknownNodeType))
	default:
		if err := validateNodeConfig(node, registry); err != nil {
			errs = append(errs, NewValidationError(ref, "config", err.Error(), err))
		}
	}

	return errs
}

// validateNodeConfig вызывает ConfigValidator executor'а, если он есть.
func validateNodeConfig(node *domain.NodeSpec, registry Registry) error {
	executor, err := registry.Get(node.Type)
	if err != nil {
		return nil
	}
	v, ok := executor.(ConfigValidator)
	if !ok {
		return nil
	}
	if err := v.ValidateConfig(node); err != nil {
		if errors.Is(err, ErrInvalidNodeConfig) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrInvalidNodeConfig, err)
	}
	return nil
}

// validateConnection проверяет, что связь ссылается на существующие узлы.
func validateConnection(index int, conn *domain.ConnectionSpec, nodeIDs map[string]bool) ValidationErrors {
	var errs ValidationErrors

	for _, end := range []struct {
		field string
		id    string
	}{
		{"from", conn.From},
		{"to", conn.To},
	} {
		if nodeIDs[end.id] {
			continue
		}
		errs = append(errs, &ValidationError{
			NodeID:     end.id,
			Connection: index,
			Field:      end.field,
			Message: fmt.Sprintf("%s -> %s: %s references unknown node %q",
				conn.From, conn.To, end.field, end.id),
			Err: ErrUnknownNode,
		})
	}

	return errs
}

// FindStartNodes возвращает ID узлов без входящих связей в порядке объявления.
func FindStartNodes(def *domain.WorkflowDefinition) ([]string, error) {
	starts, err := BuildGraph(def).StartNodes()
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(starts))
	for i, n := range starts {
		ids[i] = n.ID
	}
	return ids, nil
}
