package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// valueTree 本地维护的 JSON 树，用于合并 Firebase put/patch 增量
type valueTree struct {
	root interface{}
}

func decodeJSON(raw json.RawMessage) (interface{}, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func splitPath(path string) []string {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// apply 应用一条 put/patch 事件
func (t *valueTree) apply(kind, path string, raw json.RawMessage) error {
	data, err := decodeJSON(raw)
	if err != nil {
		return fmt.Errorf("invalid %s data at %s: %w", kind, path, err)
	}

	if kind == "patch" {
		children, ok := data.(map[string]interface{})
		if !ok {
			return fmt.Errorf("patch data at %s is not an object", path)
		}
		base := splitPath(path)
		for key, value := range children {
			t.put(append(append([]string(nil), base...), splitPath(key)...), value)
		}
		return nil
	}

	t.put(splitPath(path), data)
	return nil
}

// put 设置 segments 处的值；value 为 nil 表示删除
func (t *valueTree) put(segments []string, value interface{}) {
	if len(segments) == 0 {
		t.root = value
		return
	}

	node, ok := t.root.(map[string]interface{})
	if !ok {
		if value == nil {
			return
		}
		node = make(map[string]interface{})
		t.root = node
	}

	for _, seg := range segments[:len(segments)-1] {
		child, ok := node[seg].(map[string]interface{})
		if !ok {
			if value == nil {
				return
			}
			child = make(map[string]interface{})
			node[seg] = child
		}
		node = child
	}

	last := segments[len(segments)-1]
	if value == nil {
		delete(node, last)
	} else {
		node[last] = value
	}

	if m, ok := t.root.(map[string]interface{}); ok && len(m) == 0 {
		t.root = nil
	}
}

// snapshot 当前整树的 JSON 表示
func (t *valueTree) snapshot() json.RawMessage {
	b, err := json.Marshal(t.root)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}
