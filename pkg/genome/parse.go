package genome

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Parse decodes and structurally validates a genome. The input may be a JSON
// array of nodes, a single node object, or a JSON string whose content is
// itself an encoded genome.
func Parse(raw []byte) (Genome, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, ValidationError{Path: "$", Reason: "empty input"}
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, ValidationError{Path: "$", Reason: fmt.Sprintf("decode: %v", err)}
	}
	return ParseValue(decoded)
}

// ParseValue validates an already-decoded value. Strings are decoded once more.
func ParseValue(decoded any) (Genome, error) {
	if s, ok := decoded.(string); ok {
		var inner any
		if err := json.Unmarshal([]byte(s), &inner); err != nil {
			return nil, ValidationError{Path: "$", Reason: fmt.Sprintf("decode embedded json: %v", err)}
		}
		if _, again := inner.(string); again {
			return nil, ValidationError{Path: "$", Reason: "doubly encoded genome"}
		}
		decoded = inner
	}

	var g Genome
	switch t := decoded.(type) {
	case []any:
		g = make(Genome, 0, len(t))
		for i, item := range t {
			n, err := parseNode(item, fmt.Sprintf("[%d]", i))
			if err != nil {
				return nil, err
			}
			g = append(g, n)
		}
	case map[string]any:
		n, err := parseNode(t, "$")
		if err != nil {
			return nil, err
		}
		g = Genome{n}
	case nil:
		return Genome{}, nil
	default:
		return nil, ValidationError{Path: "$", Reason: fmt.Sprintf("expected array or object, got %T", decoded)}
	}
	if err := checkUniqueIDs(g); err != nil {
		return nil, err
	}
	return g, nil
}

func parseNode(raw any, path string) (Node, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return Node{}, ValidationError{Path: path, Reason: fmt.Sprintf("expected object, got %T", raw)}
	}
	var n Node

	id, ok := obj["id"].(string)
	if !ok || strings.TrimSpace(id) == "" {
		return Node{}, ValidationError{Path: path + ".id", Reason: "must be a non-empty string"}
	}
	n.ID = id

	typ, ok := obj["type"].(string)
	if !ok || strings.TrimSpace(typ) == "" {
		return Node{}, ValidationError{Path: path + ".type", Reason: "must be a non-empty string"}
	}
	n.Type = typ

	switch p := obj["props"].(type) {
	case nil:
		n.Props = Props{}
	case map[string]any:
		props, err := PropsFromMap(p)
		if err != nil {
			return Node{}, ValidationError{Path: path + ".props", Reason: err.Error()}
		}
		n.Props = props
	default:
		return Node{}, ValidationError{Path: path + ".props", Reason: "must be an object"}
	}

	switch c := obj["children"].(type) {
	case nil:
		n.Children = []Node{}
	case []any:
		n.Children = make([]Node, 0, len(c))
		for i, item := range c {
			child, err := parseNode(item, fmt.Sprintf("%s.children[%d]", path, i))
			if err != nil {
				return Node{}, err
			}
			n.Children = append(n.Children, child)
		}
	default:
		return Node{}, ValidationError{Path: path + ".children", Reason: "must be an array"}
	}

	if rawMeta, present := obj["metadata"]; present && rawMeta != nil {
		meta, err := parseMetadata(rawMeta, path+".metadata")
		if err != nil {
			return Node{}, err
		}
		n.Metadata = meta
	}

	if rawZone, present := obj["zone"]; present && rawZone != nil {
		zone, ok := rawZone.(string)
		if !ok {
			return Node{}, ValidationError{Path: path + ".zone", Reason: "must be a string"}
		}
		n.Zone = zone
	}
	return n, nil
}

func parseMetadata(raw any, path string) (Metadata, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return Metadata{}, ValidationError{Path: path, Reason: "must be an object"}
	}
	var m Metadata
	for key, dst := range map[string]*string{"createdAt": &m.CreatedAt, "mutatedAt": &m.MutatedAt} {
		v, present := obj[key]
		if !present || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return Metadata{}, ValidationError{Path: path + "." + key, Reason: "must be a string"}
		}
		*dst = s
	}
	if v, present := obj["confidence"]; present && v != nil {
		f, ok := v.(float64)
		if !ok {
			return Metadata{}, ValidationError{Path: path + ".confidence", Reason: "must be a number"}
		}
		m.Confidence = f
	}
	if err := validate.Struct(m); err != nil {
		return Metadata{}, ValidationError{Path: path + ".confidence", Reason: "must be within [0,1]"}
	}
	return m, nil
}

// Validate checks a genome built in code: non-empty ids and types, confidence
// bounds, and id uniqueness across the whole forest.
func Validate(g Genome) error {
	var walk func(nodes []Node, prefix string) error
	walk = func(nodes []Node, prefix string) error {
		for i, n := range nodes {
			path := fmt.Sprintf("%s[%d]", prefix, i)
			if strings.TrimSpace(n.ID) == "" {
				return ValidationError{Path: path + ".id", Reason: "must be a non-empty string"}
			}
			if strings.TrimSpace(n.Type) == "" {
				return ValidationError{Path: path + ".type", Reason: "must be a non-empty string"}
			}
			if err := validate.Struct(n.Metadata); err != nil {
				return ValidationError{Path: path + ".metadata.confidence", Reason: "must be within [0,1]"}
			}
			if err := walk(n.Children, path+".children"); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(g, ""); err != nil {
		return err
	}
	return checkUniqueIDs(g)
}

func checkUniqueIDs(g Genome) error {
	seen := make(map[string]struct{})
	var dup string
	var walk func(nodes []Node, prefix string) string
	walk = func(nodes []Node, prefix string) string {
		for i, n := range nodes {
			path := fmt.Sprintf("%s[%d]", prefix, i)
			if _, ok := seen[n.ID]; ok {
				dup = n.ID
				return path
			}
			seen[n.ID] = struct{}{}
			if p := walk(n.Children, path+".children"); p != "" {
				return p
			}
		}
		return ""
	}
	if path := walk(g, ""); path != "" {
		return ValidationError{Path: path + ".id", Reason: fmt.Sprintf("duplicate id %q", dup)}
	}
	return nil
}
