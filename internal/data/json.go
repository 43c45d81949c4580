package data

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type wireItem struct {
	Path    string          `json:"path"`
	Dir     string          `json:"dir,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
	Context *Context        `json:"context,omitempty"`
}

type wireLink struct {
	Name    string   `json:"name"`
	Context *Context `json:"context"`
}

type wireContext struct {
	Name      string     `json:"name"`
	Items     []wireItem `json:"items"`
	Links     []wireLink `json:"links,omitempty"`
	Finalized bool       `json:"finalized,omitempty"`
}

// MarshalJSON encodes the Context with its path order. Deferred entries are
// not serializable and fail encoding.
func (c *Context) MarshalJSON() ([]byte, error) {
	w := wireContext{Name: c.name, Items: make([]wireItem, 0, len(c.keys))}
	for _, k := range c.keys {
		item := wireItem{Path: k, Dir: c.dirs[k].String()}
		switch v := c.vals[k].(type) {
		case *Context:
			item.Context = v
		case *Entry:
			return nil, fmt.Errorf("path %q holds deferred entry %s", k, v.Name())
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("path %q: %w", k, err)
			}
			item.Value = raw
		}
		w.Items = append(w.Items, item)
	}
	for _, name := range c.linkOrder {
		w.Links = append(w.Links, wireLink{Name: name, Context: c.links[name]})
	}
	w.Finalized = c.finalized
	return json.Marshal(w)
}

// UnmarshalJSON decodes a Context written by MarshalJSON. Whole numbers
// decode as int64, others as float64.
func (c *Context) UnmarshalJSON(b []byte) error {
	var w wireContext
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*c = *New(w.Name)
	for _, item := range w.Items {
		if item.Context != nil {
			c.Put(item.Path, item.Context)
		} else {
			v, err := DecodeValue(item.Value)
			if err != nil {
				return fmt.Errorf("path %q: %w", item.Path, err)
			}
			c.Put(item.Path, v)
		}
		c.Mark(item.Path, ParseDirection(item.Dir))
	}
	for _, l := range w.Links {
		c.Link(l.Name, l.Context)
	}
	c.finalized = w.Finalized
	return nil
}

// DecodeValue decodes one JSON value, keeping whole numbers integral.
func DecodeValue(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return normalizeNumbers(v), nil
}

func normalizeNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case []any:
		for i := range x {
			x[i] = normalizeNumbers(x[i])
		}
		return x
	case map[string]any:
		for k := range x {
			x[k] = normalizeNumbers(x[k])
		}
		return x
	}
	return v
}
