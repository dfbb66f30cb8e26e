package capture

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/imrishuroy/go-route-retry/internal/retries"
)

// formMemory bounds how much of a multipart form is held in memory; larger
// files spill to temporary files that close removes.
var formMemory int64 = 32 << 20

// parsed is the structured input of a request: parameters and uploads keyed by
// form field name.
type parsed struct {
	params  map[string]any
	uploads map[string][]*multipart.FileHeader
	form    *multipart.Form
}

// close removes temporary files behind uploads. Call it once they are copied.
func (p *parsed) close() {
	if p.form != nil {
		_ = p.form.RemoveAll()
	}
}

// parseRequest reads parameters from the query string and the snapshotted body.
// Body parameters win over query parameters with the same name.
func parseRequest(req *http.Request, body []byte) (*parsed, error) {
	p := &parsed{params: map[string]any{}}
	setValues(p.params, req.URL.Query())

	if len(body) == 0 {
		return p, nil
	}

	mediaType, mparams, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))
	switch {
	case isJSON(mediaType):
		v, err := retries.DecodeJSON(body)
		if err != nil {
			return nil, err
		}
		switch doc := v.(type) {
		case map[string]any:
			for k, val := range doc {
				p.params[k] = val
			}
		case []any:
			for i, val := range doc {
				p.params[strconv.Itoa(i)] = val
			}
		}

	case mediaType == "application/x-www-form-urlencoded":
		vals, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, err
		}
		setValues(p.params, vals)

	case mediaType == "multipart/form-data":
		boundary := mparams["boundary"]
		if boundary == "" {
			return nil, http.ErrMissingBoundary
		}
		form, err := multipart.NewReader(bytes.NewReader(body), boundary).ReadForm(formMemory)
		if err != nil && err != io.EOF {
			return nil, err
		}
		if form != nil {
			p.form = form
			setValues(p.params, form.Value)
			p.uploads = form.File
		}
	}
	return p, nil
}

func isJSON(mediaType string) bool {
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// setValues assigns form values into root, nesting bracketed names.
// Keys are applied in sorted order so the result does not depend on map iteration.
func setValues(root map[string]any, vals map[string][]string) {
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		vs := vals[k]
		if len(vs) == 0 {
			continue
		}
		segs := splitKey(k)
		parent := root
		for _, s := range segs[:len(segs)-1] {
			child, ok := parent[s].(map[string]any)
			if !ok {
				child = map[string]any{}
				parent[s] = child
			}
			parent = child
		}

		leaf := segs[len(segs)-1]
		if strings.HasSuffix(leaf, "[]") || len(vs) > 1 {
			list := make([]any, len(vs))
			for i, v := range vs {
				list[i] = v
			}
			parent[leaf] = list
			continue
		}
		parent[leaf] = vs[0]
	}
}

// splitKey splits a form field name into its nesting path.
// "user[address][city]" gives [user address city]. A trailing "[]" stays on the
// last segment: "user[docs][]" gives [user docs[]]. Malformed names are kept whole.
func splitKey(key string) []string {
	i := strings.IndexByte(key, '[')
	if i <= 0 {
		return []string{key}
	}
	segs := []string{key[:i]}
	rest := key[i:]
	for len(rest) > 0 {
		if rest[0] != '[' {
			return []string{key}
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return []string{key}
		}
		segs = append(segs, rest[1:end])
		rest = rest[end+1:]
	}
	if last := len(segs) - 1; segs[last] == "" {
		segs = segs[:last]
		segs[len(segs)-1] += "[]"
	}
	return segs
}
