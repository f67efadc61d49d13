package contract

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const (
	RequestSchemaURL  = "https://ironwill.internal/schemas/audit_request.schema.json"
	ResponseSchemaURL = "https://ironwill.internal/schemas/audit_response.schema.json"
)

var (
	requestSchema  = mustCompile("schemas/audit_request.schema.json", RequestSchemaURL)
	responseSchema = mustCompile("schemas/audit_response.schema.json", ResponseSchemaURL)
)

// Field error types, named after the tags existing callers
// already match on.
const (
	ErrTypeMissing    = "value_error.missing"
	ErrTypeType       = "type_error"
	ErrTypeValue      = "value_error"
	ErrTypeJSONDecode = "value_error.jsondecode"
)

var ErrNonConformingResponse = errors.New("audit response violates contract")

type FieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// Path renders the location without the leading "body" segment,
// e.g. "criteria.target".
func (e FieldError) Path() string {
	loc := e.Loc
	if len(loc) > 0 && loc[0] == "body" {
		loc = loc[1:]
	}
	if len(loc) == 0 {
		return "body"
	}
	return strings.Join(loc, ".")
}

// ValidationError reports every structural violation of an inbound payload.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Errors) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.Path()+": "+fe.Msg)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Fields lists the offending field paths.
func (e *ValidationError) Fields() []string {
	out := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		out = append(out, fe.Path())
	}
	return out
}

// DecodeRequest validates body against the request schema and decodes it.
// A malformed payload is never partially accepted.
func DecodeRequest(body []byte) (AuditRequest, error) {
	doc, err := decodeDocument(body)
	if err != nil {
		return AuditRequest{}, &ValidationError{Errors: []FieldError{{
			Loc:  []string{"body"},
			Msg:  err.Error(),
			Type: ErrTypeJSONDecode,
		}}}
	}
	if err := requestSchema.Validate(doc); err != nil {
		return AuditRequest{}, fromSchemaError(err, requestSchema, doc)
	}
	var req AuditRequest
	if err := json.Unmarshal(body, &req); err != nil {
		fe := FieldError{Loc: []string{"body"}, Msg: "request body could not be decoded", Type: ErrTypeValue}
		if errors.Is(err, ErrInvalidTarget) {
			fe.Loc = []string{"body", "criteria", "target"}
			fe.Msg = "value is not a representable number"
		}
		return AuditRequest{}, &ValidationError{Errors: []FieldError{fe}}
	}
	return req, nil
}

// EncodeResponse serializes resp and checks the result against the response
// schema, so only conforming bytes ever leave the service.
func EncodeResponse(resp AuditResponse) ([]byte, error) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNonConformingResponse, err)
	}
	doc, err := decodeDocument(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNonConformingResponse, err)
	}
	if err := responseSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNonConformingResponse, fromSchemaError(err, responseSchema, doc))
	}
	return raw, nil
}

func ValidateResponse(resp AuditResponse) error {
	_, err := EncodeResponse(resp)
	return err
}

func decodeDocument(body []byte) (any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("request body is empty")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %v", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("invalid JSON: unexpected data after top-level value")
	}
	return doc, nil
}

func mustCompile(path, url string) *jsonschema.Schema {
	raw, err := schemaFS.ReadFile(path)
	if err != nil {
		panic(fmt.Sprintf("contract: read %s: %v", path, err))
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		panic(fmt.Sprintf("contract: load %s: %v", path, err))
	}
	s, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("contract: compile %s: %v", path, err))
	}
	return s
}

func fromSchemaError(err error, root *jsonschema.Schema, doc any) *ValidationError {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &ValidationError{Errors: []FieldError{{Loc: []string{"body"}, Msg: err.Error(), Type: ErrTypeValue}}}
	}
	var out []FieldError
	seen := map[string]struct{}{}
	add := func(fe FieldError) {
		key := strings.Join(fe.Loc, "\x00") + "\x00" + fe.Type
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, fe)
	}
	for _, leaf := range leaves(ve) {
		loc := append([]string{"body"}, pointerTokens(leaf.InstanceLocation)...)
		keyword := pointerTokens(leaf.KeywordLocation)
		last := ""
		if len(keyword) > 0 {
			last = keyword[len(keyword)-1]
		}
		switch last {
		case "required":
			for _, name := range missingProperties(root, keyword[:len(keyword)-1], doc, leaf) {
				add(FieldError{Loc: appendLoc(loc, name), Msg: "field required", Type: ErrTypeMissing})
			}
		case "type":
			add(FieldError{Loc: loc, Msg: leaf.Message, Type: ErrTypeType})
		default:
			add(FieldError{Loc: loc, Msg: leaf.Message, Type: ErrTypeValue})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.Join(out[i].Loc, ".") < strings.Join(out[j].Loc, ".")
	})
	return &ValidationError{Errors: out}
}

func leaves(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var out []*jsonschema.ValidationError
	for _, c := range ve.Causes {
		out = append(out, leaves(c)...)
	}
	return out
}

var quotedName = regexp.MustCompile(`'([^']+)'`)

// missingProperties resolves the schema node that raised a "required" error
// and reports which of its required names are absent from the instance.
func missingProperties(root *jsonschema.Schema, schemaPath []string, doc any, leaf *jsonschema.ValidationError) []string {
	var missing []string
	node := schemaAt(root, schemaPath)
	obj, ok := instanceAt(doc, pointerTokens(leaf.InstanceLocation)).(map[string]any)
	if node != nil && ok {
		for _, name := range node.Required {
			if _, present := obj[name]; !present {
				missing = append(missing, name)
			}
		}
	}
	if len(missing) == 0 {
		for _, m := range quotedName.FindAllStringSubmatch(leaf.Message, -1) {
			missing = append(missing, m[1])
		}
	}
	return missing
}

func schemaAt(s *jsonschema.Schema, path []string) *jsonschema.Schema {
	for i := 0; s != nil && i < len(path); {
		switch path[i] {
		case "properties":
			if i+1 >= len(path) {
				return nil
			}
			s = s.Properties[path[i+1]]
			i += 2
		case "$ref":
			s = s.Ref
			i++
		default:
			return nil
		}
	}
	return s
}

func instanceAt(doc any, path []string) any {
	cur := doc
	for _, tok := range path {
		switch v := cur.(type) {
		case map[string]any:
			cur = v[tok]
		case []any:
			idx, err := strconv.Atoi(tok)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil
			}
			cur = v[idx]
		default:
			return nil
		}
	}
	return cur
}

func pointerTokens(ptr string) []string {
	ptr = strings.TrimPrefix(ptr, "#")
	if ptr == "" || ptr == "/" {
		return nil
	}
	parts := strings.Split(strings.TrimPrefix(ptr, "/"), "/")
	for i, p := range parts {
		p = strings.ReplaceAll(p, "~1", "/")
		parts[i] = strings.ReplaceAll(p, "~0", "~")
	}
	return parts
}

func appendLoc(loc []string, name string) []string {
	out := make([]string, 0, len(loc)+1)
	out = append(out, loc...)
	return append(out, name)
}
