package notion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Section is one workbook element and its details.
type Section struct {
	Name  string
	Items []string
}

// Workbook is an ordered list of sections. It decodes from a JSON object
// whose values are strings or arrays of strings, keeping key order.
type Workbook []Section

// UnmarshalJSON implements json.Unmarshaler.
func (w *Workbook) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("workbook must be a JSON object")
	}

	var out Workbook
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key := tok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}

		items, err := decodeItems(raw)
		if err != nil {
			return fmt.Errorf("workbook element %q: %w", key, err)
		}
		out = append(out, Section{Name: key, Items: items})
	}

	if _, err := dec.Token(); err != nil {
		return err
	}

	*w = out
	return nil
}

// MarshalJSON encodes the workbook as an object in section order.
func (w Workbook) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, s := range w {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(s.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		items := s.Items
		if items == nil {
			items = []string{}
		}
		val, err := json.Marshal(items)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ParseWorkbook decodes a workbook from a generic value, typically tool call
// arguments. A map loses key order, so callers wanting order should decode
// JSON directly.
func ParseWorkbook(v any) (Workbook, error) {
	switch t := v.(type) {
	case Workbook:
		return t, nil
	case string:
		var wb Workbook
		if err := json.Unmarshal([]byte(t), &wb); err != nil {
			return nil, err
		}
		return wb, nil
	case json.RawMessage:
		var wb Workbook
		if err := json.Unmarshal(t, &wb); err != nil {
			return nil, err
		}
		return wb, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("invalid workbook contents: %w", err)
	}

	var wb Workbook
	if err := json.Unmarshal(data, &wb); err != nil {
		return nil, err
	}
	return wb, nil
}

func decodeItems(raw json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}

	switch t := v.(type) {
	case nil:
		return nil, nil
	case []any:
		items := make([]string, 0, len(t))
		for _, e := range t {
			item, ok := scalarText(e)
			if !ok {
				return nil, errors.New("value must be a string or a list of strings")
			}
			items = append(items, item)
		}
		return items, nil
	}

	item, ok := scalarText(v)
	if !ok {
		return nil, errors.New("value must be a string or a list of strings")
	}
	return []string{item}, nil
}

// scalarText renders strings, numbers and booleans as item text.
func scalarText(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return fmt.Sprint(t), true
	}
	return "", false
}
