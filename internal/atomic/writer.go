package atomic

import (
	"bufio"
	"encoding/binary"
	"os"
	"path/filepath"
)

// WriteFile stores rec in dir under DefaultFileName, little endian.
func WriteFile(dir string, rec *Record) (string, error) {
	path := filepath.Join(dir, DefaultFileName(rec.Symbol))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := Encode(w, binary.LittleEndian, rec); err != nil {
		return "", err
	}
	if err := w.Flush(); err != nil {
		return "", err
	}
	return path, f.Close()
}
