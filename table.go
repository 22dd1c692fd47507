package seriesplot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	headersSuffix = "Headers"
	valuesSuffix  = "Values"
)

// Cell is a single table cell as handed over by the host. The host may send
// either a JSON string or a JSON number; both are kept as text so that the
// category column survives untouched and the data columns can be parsed
// later.
type Cell string

func (c *Cell) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty cell")
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Cell(s)
		return nil
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*c = Cell(n.String())
		return nil
	default:
		return fmt.Errorf("cell must be a string or a number, got %s", data)
	}
}

// ResultTable is a header row plus a matrix of cells. Headers[0] labels the
// category column, the remaining headers name the series.
type ResultTable struct {
	Name    string
	Headers []string
	Rows    [][]Cell
}

// Validate checks the table shape: at least one category column and one data
// column, and every row exactly as wide as the header.
func (t ResultTable) Validate() error {
	if len(t.Headers) < 2 {
		return &MalformedTableError{
			Table:  t.Name,
			Row:    -1,
			Reason: fmt.Sprintf("need at least 2 headers, got %d", len(t.Headers)),
		}
	}

	for i, row := range t.Rows {
		if len(row) != len(t.Headers) {
			return &MalformedTableError{
				Table:  t.Name,
				Row:    i,
				Reason: fmt.Sprintf("row has %d cells, headers have %d", len(row), len(t.Headers)),
			}
		}
	}

	return nil
}

// ResultSet is the host's result object split into named tables. Order lists
// the table names in the order they appear in the source document.
type ResultSet struct {
	Tables map[string]ResultTable
	Order  []string
}

func (s ResultSet) Table(name string) (ResultTable, error) {
	t, ok := s.Tables[name]
	if !ok {
		return ResultTable{}, &MalformedTableError{Table: name, Row: -1, Reason: "table not present in result set"}
	}

	return t, nil
}

// DecodeResultSet decodes a JSON result object made of <Name>Headers and
// <Name>Values pairs. Keys that are not part of a pair are ignored.
//
// Without names, every pair found in the document is decoded and a dangling
// half of a pair is an error. With names, only those tables are decoded and
// all of them must be present.
func DecodeResultSet(data []byte, names ...string) (ResultSet, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return ResultSet{}, &MalformedTableError{Row: -1, Reason: fmt.Sprintf("result object is not a JSON object: %v", err)}
	}

	if len(names) == 0 {
		var err error
		names, err = discoverTableNames(data)
		if err != nil {
			return ResultSet{}, err
		}
	}

	set := ResultSet{
		Tables: make(map[string]ResultTable, len(names)),
		Order:  make([]string, 0, len(names)),
	}

	for _, name := range names {
		if _, seen := set.Tables[name]; seen {
			continue
		}

		table, err := decodeTable(name, raw)
		if err != nil {
			return ResultSet{}, err
		}

		set.Tables[name] = table
		set.Order = append(set.Order, name)
	}

	return set, nil
}

func decodeTable(name string, raw map[string]json.RawMessage) (ResultTable, error) {
	headersRaw, hasHeaders := raw[name+headersSuffix]
	valuesRaw, hasValues := raw[name+valuesSuffix]
	if !hasHeaders || !hasValues {
		return ResultTable{}, &MalformedTableError{
			Table:  name,
			Row:    -1,
			Reason: fmt.Sprintf("expected both %s%s and %s%s", name, headersSuffix, name, valuesSuffix),
		}
	}

	table := ResultTable{Name: name}
	if err := json.Unmarshal(headersRaw, &table.Headers); err != nil {
		return ResultTable{}, &MalformedTableError{Table: name, Row: -1, Reason: fmt.Sprintf("headers are not a list of strings: %v", err)}
	}

	if err := json.Unmarshal(valuesRaw, &table.Rows); err != nil {
		return ResultTable{}, &MalformedTableError{Table: name, Row: -1, Reason: fmt.Sprintf("values are not a matrix of cells: %v", err)}
	}

	if err := table.Validate(); err != nil {
		return ResultTable{}, err
	}

	return table, nil
}

// discoverTableNames finds every <Name>Headers / <Name>Values pair and returns
// the names in document order.
func discoverTableNames(data []byte) ([]string, error) {
	keys, err := objectKeys(data)
	if err != nil {
		return nil, &MalformedTableError{Row: -1, Reason: fmt.Sprintf("result object is not a JSON object: %v", err)}
	}

	halves := make(map[string]int)
	var names []string
	for _, key := range keys {
		var name string
		var bit int
		if n, ok := strings.CutSuffix(key, headersSuffix); ok && n != "" {
			name, bit = n, 1
		} else if n, ok := strings.CutSuffix(key, valuesSuffix); ok && n != "" {
			name, bit = n, 2
		} else {
			continue
		}

		if halves[name] == 0 {
			names = append(names, name)
		}
		halves[name] |= bit
	}

	for _, name := range names {
		if halves[name] != 3 {
			return nil, &MalformedTableError{
				Table:  name,
				Row:    -1,
				Reason: fmt.Sprintf("expected both %s%s and %s%s", name, headersSuffix, name, valuesSuffix),
			}
		}
	}

	return names, nil
}

// objectKeys returns the top level keys of a JSON object in document order.
func objectKeys(data []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected '{', got %v", tok)
	}

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", tok)
		}
		keys = append(keys, key)

		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}

	return keys, nil
}
