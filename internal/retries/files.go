package retries

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
)

// StoredFile describes an uploaded file persisted to blob storage during capture.
type StoredFile struct {
	Path         string `json:"path"`
	OriginalName string `json:"original_name"`
	MimeType     string `json:"mime_type"`
}

// FileNode is one entry of a FileTree. Exactly one of File, List or Children is set:
// a single upload, several uploads under the same field, or a nested field group.
type FileNode struct {
	File     *StoredFile
	List     []StoredFile
	Children FileTree
}

// FileTree maps form field names to stored uploads, nesting for bracketed names
// such as "user[avatar]".
type FileTree map[string]*FileNode

// MarshalJSON encodes a single file as {"path",...}, a list as an array and a group as an object.
func (n *FileNode) MarshalJSON() ([]byte, error) {
	switch {
	case n.File != nil:
		return json.Marshal(n.File)
	case n.List != nil:
		return json.Marshal(n.List)
	default:
		if n.Children == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(map[string]*FileNode(n.Children))
	}
}

// UnmarshalJSON reverses MarshalJSON. An object with a string "path" key is a file.
func (n *FileNode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("file node: empty input")
	}
	if data[0] == '[' {
		var list []StoredFile
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("file node list: %w", err)
		}
		n.List = list
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("file node: %w", err)
	}
	if p, ok := raw["path"]; ok && len(p) > 0 && p[0] == '"' {
		var f StoredFile
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("file node file: %w", err)
		}
		n.File = &f
		return nil
	}

	children := make(FileTree, len(raw))
	for k, v := range raw {
		child := &FileNode{}
		if err := child.UnmarshalJSON(v); err != nil {
			return err
		}
		children[k] = child
	}
	n.Children = children
	return nil
}

// Walk visits every stored file in key order. field is the full form field name
// ("docs[]", "user[avatar]") the file was uploaded under.
func (t FileTree) Walk(fn func(field string, f StoredFile)) {
	t.walk("", fn)
}

func (t FileTree) walk(prefix string, fn func(string, StoredFile)) {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		node := t[k]
		if node == nil {
			continue
		}
		field := FieldName(prefix, k)
		switch {
		case node.File != nil:
			fn(field, *node.File)
		case node.List != nil:
			for _, f := range node.List {
				fn(field, f)
			}
		default:
			node.Children.walk(field, fn)
		}
	}
}

// Paths returns the storage path of every stored file.
func (t FileTree) Paths() []string {
	var out []string
	t.Walk(func(_ string, f StoredFile) {
		if f.Path != "" {
			out = append(out, f.Path)
		}
	})
	return out
}

// Len counts stored files.
func (t FileTree) Len() int {
	n := 0
	t.Walk(func(string, StoredFile) { n++ })
	return n
}

// FieldName joins a parent field and a child key the way HTML forms nest names:
// FieldName("user", "avatar") is "user[avatar]" and FieldName("user", "docs[]") is "user[docs][]".
func FieldName(prefix, key string) string {
	if prefix == "" {
		return key
	}
	if strings.HasSuffix(key, "[]") {
		return prefix + "[" + strings.TrimSuffix(key, "[]") + "][]"
	}
	return prefix + "[" + key + "]"
}
