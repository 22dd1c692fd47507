package seriesplot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// ResultSetReader yields result sets one after another until io.EOF.
type ResultSetReader interface {
	Read(context.Context) (ResultSet, error)
}

// JSONResultSetReader reads a stream of JSON result objects, one result set
// per object. Objects may be separated by any whitespace.
type JSONResultSetReader struct {
	decoder *json.Decoder
	tables  []string

	count  int
	logger logrus.FieldLogger
}

// Creates a reader of JSON result objects.
//
//   - input: usually STDIN or a file.
//   - tables: the tables each object must contain. If empty, every
//     <Name>Headers/<Name>Values pair found is decoded.
func NewJSONResultSetReader(input io.Reader, tables ...string) *JSONResultSetReader {
	return &JSONResultSetReader{
		decoder: json.NewDecoder(input),
		tables:  tables,
		logger:  logrus.WithField("tag", "JSONResultSet"),
	}
}

func (r *JSONResultSetReader) Read(ctx context.Context) (ResultSet, error) {
	if err := ctx.Err(); err != nil {
		return ResultSet{}, err
	}

	var raw json.RawMessage
	err := r.decoder.Decode(&raw)
	if err == io.EOF {
		return ResultSet{}, io.EOF
	}

	if err != nil {
		// A syntax error leaves the decoder in an unknown position; there is no
		// way to resynchronise on the next object.
		r.logger.WithError(err).WithField("object", r.count).Error("unable to decode result object")
		return ResultSet{}, fmt.Errorf("result object %d: %w", r.count, err)
	}

	r.count++

	set, err := DecodeResultSet(raw, r.tables...)
	if err != nil {
		r.logger.WithError(err).WithField("object", r.count-1).Error("result object failed validation")
		return ResultSet{}, err
	}

	r.logger.WithField("tables", set.Order).Debug("decoded result object")
	return set, nil
}

// TableResultSetReader wraps a TableReader: its single table becomes a single
// result set, after which the reader is exhausted.
type TableResultSetReader struct {
	Input TableReader

	done bool
}

func (r *TableResultSetReader) Read(ctx context.Context) (ResultSet, error) {
	if r.done {
		return ResultSet{}, io.EOF
	}
	r.done = true

	table, err := r.Input.ReadTable(ctx)
	if err != nil {
		return ResultSet{}, err
	}

	return ResultSet{
		Tables: map[string]ResultTable{table.Name: table},
		Order:  []string{table.Name},
	}, nil
}

// ReadAllResultSets drains a reader. It is used when rendering a static page
// from the last result set of a stream.
func ReadAllResultSets(ctx context.Context, r ResultSetReader) ([]ResultSet, error) {
	var sets []ResultSet
	for {
		set, err := r.Read(ctx)
		if errors.Is(err, io.EOF) {
			return sets, nil
		}
		if err != nil {
			return sets, err
		}
		sets = append(sets, set)
	}
}
