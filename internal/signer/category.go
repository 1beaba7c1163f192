package signer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Category is the logical endpoint family a request is addressed to.
type Category int

const (
	CategoryGraphQuery Category = iota
	CategoryGraphUpdate
	CategoryPropertyGraphQuery
	CategoryBulkLoader
	CategoryStatus
	CategorySystemAdmin
)

var categoryNames = map[Category]string{
	CategoryGraphQuery:         "sparql",
	CategoryGraphUpdate:        "sparqlupdate",
	CategoryPropertyGraphQuery: "gremlin",
	CategoryBulkLoader:         "loader",
	CategoryStatus:             "status",
	CategorySystemAdmin:        "system",
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return fmt.Sprintf("category(%d)", int(c))
}

// ParseCategory maps a category name as used on the command line
// ("sparql", "loader", ...) to a Category.
func ParseCategory(name string) (Category, error) {
	for c, n := range categoryNames {
		if n == name {
			return c, nil
		}
	}
	return 0, configErrorf("unknown query category %q", name)
}

// Path returns the canonical URI path for the category.
func (c Category) Path() string {
	switch c {
	case CategoryGraphQuery, CategoryGraphUpdate:
		return "/sparql/"
	case CategoryPropertyGraphQuery:
		return "/gremlin/"
	case CategoryBulkLoader:
		return "/loader/"
	case CategoryStatus:
		return "/status/"
	case CategorySystemAdmin:
		return "/system/"
	}
	return ""
}

// Param is a single form parameter. Order is significant for POST bodies.
type Param struct {
	Key   string
	Value string
}

// Params is an ordered list of form parameters.
type Params []Param

// Add appends a parameter and returns the extended list.
func (p Params) Add(key, value string) Params {
	return append(p, Param{Key: key, Value: value})
}

// Get returns the first value stored under key.
func (p Params) Get(key string) (string, bool) {
	for _, kv := range p {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// params nests the caller's query content the way the category expects it.
func (c Category) params(query string) (Params, error) {
	switch c {
	case CategoryGraphQuery:
		return Params{{Key: "query", Value: query}}, nil
	case CategoryGraphUpdate:
		return Params{{Key: "update", Value: query}}, nil
	case CategoryPropertyGraphQuery:
		return Params{{Key: "gremlin", Value: query}}, nil
	case CategoryBulkLoader, CategorySystemAdmin:
		return paramsFromJSON(query)
	case CategoryStatus:
		return nil, nil
	}
	return nil, configErrorf("unknown query category %d", int(c))
}

// paramsFromJSON decodes a flat JSON object into Params, preserving key order.
func paramsFromJSON(query string) (Params, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(query)))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, configErrorf("query is not a JSON object: %v", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, configErrorf("query is not a JSON object")
	}

	var params Params
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, configErrorf("malformed JSON query: %v", err)
		}
		key, _ := keyTok.(string)

		valTok, err := dec.Token()
		if err != nil {
			return nil, configErrorf("malformed JSON query: %v", err)
		}

		var value string
		switch v := valTok.(type) {
		case string:
			value = v
		case json.Number:
			value = v.String()
		case bool:
			value = fmt.Sprintf("%t", v)
		default:
			return nil, configErrorf("query parameter %q must be a string, number or boolean", key)
		}
		params = params.Add(key, value)
	}

	if _, err := dec.Token(); err != nil {
		return nil, configErrorf("malformed JSON query: %v", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, configErrorf("trailing data after JSON query")
	}
	return params, nil
}

// validateMethod rejects the method/category combinations the endpoint
// does not accept.
func validateMethod(method string, c Category) error {
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodDelete:
	default:
		return configErrorf("method must be GET, POST or DELETE, got %q", method)
	}

	if c.Path() == "" {
		return configErrorf("unknown query category %d", int(c))
	}
	if method == http.MethodGet && c == CategoryGraphUpdate {
		return configErrorf("%s does not support GET, use POST", c)
	}
	if method == http.MethodPost && c == CategoryPropertyGraphQuery {
		return configErrorf("%s does not support POST", c)
	}
	return nil
}
