// Package util contains some methods that can be used by every other package.
package util

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml"
)

// Write writes the report file according to a specific scheme. It writes the
// date, parses the structure in a TOML format and writes it. This method
// returns the file for further writing. It must be closed at the end of the
// calculation.
func Write(path string, structure interface{}) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(f, "Date: %v\n", time.Now().Format("2006-01-02 15:04:05 -0700 MST"))

	enc := toml.NewEncoder(f)
	err = enc.Encode(structure)
	if err != nil {
		f.Close()
		return nil, err
	}

	f.Write([]byte{'\n'})
	return f, nil
}

// Table writes one line per row: the row index followed by the value of every
// column. The first line is the header. Every column must have the same
// length.
func Table(w io.Writer, header []string, cols ...[]float64) error {
	if len(header) != len(cols)+1 {
		return fmt.Errorf("%d names for %d columns", len(header), len(cols)+1)
	}

	var rows int
	for k, c := range cols {
		if k > 0 && len(c) != rows {
			return fmt.Errorf("column %s has %d rows (expected %d)", header[k+1], len(c), rows)
		}
		rows = len(c)
	}

	var b []byte
	for k, v := range header {
		if k > 0 {
			b = append(b, ' ')
		}
		b = append(b, v...)
	}
	b = append(b, '\n')

	for i := 0; i < rows; i++ {
		b = strconv.AppendInt(b, int64(i), 10)
		for _, c := range cols {
			b = append(b, ' ')
			b = strconv.AppendFloat(b, c[i], 'g', -1, 64)
		}
		b = append(b, '\n')
	}

	_, err := w.Write(b)
	return err
}
