// Package archive opens the password-protected zip bundles the controller
// exports and extracts the startup and running configs inside them.
package archive

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/yeka/zip"

	"cfgvault/core-go/internal/failure"
)

// Config types stored for each backup row.
const (
	CLIStartup = "CLI Startup"
	CLIRunning = "CLI Running"
	Restconf   = "RESTCONF"
)

type Archive struct {
	password string
	files    map[string]*zip.File
	names    []string
}

// Open parses data as a zip archive. Entries are decrypted lazily by Read.
func Open(data []byte, password string) (*Archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, failure.New(failure.Decode, "open archive", err)
	}

	a := &Archive{password: password, files: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		a.files[f.Name] = f
		a.names = append(a.names, f.Name)
	}
	return a, nil
}

func (a *Archive) Entries() []string {
	out := make([]string, len(a.names))
	copy(out, a.names)
	return out
}

// Read decrypts an entry and returns it as text. Entries must be pure ASCII.
func (a *Archive) Read(name string) (string, error) {
	f, ok := a.files[name]
	if !ok {
		return "", failure.Newf(failure.Decode, "read entry", "entry %q not found", name)
	}
	if f.IsEncrypted() {
		f.SetPassword(a.password)
	}

	rc, err := f.Open()
	if err != nil {
		return "", failure.New(failure.Decode, "read entry "+name, err)
	}
	defer rc.Close()

	b, err := io.ReadAll(rc)
	if err != nil {
		return "", failure.New(failure.Decode, "read entry "+name, err)
	}
	if i := firstNonASCII(b); i >= 0 {
		return "", failure.Newf(failure.Decode, "read entry "+name, "non-ASCII byte 0x%02x at offset %d", b[i], i)
	}
	return string(b), nil
}

// Classify maps an entry name to its config type.
func Classify(name string) (string, bool) {
	switch {
	case strings.Contains(name, "STARTUP"):
		return CLIStartup, true
	case strings.Contains(name, "RUNNING"):
		return CLIRunning, true
	default:
		return "", false
	}
}

// Config is one extracted, classified entry.
type Config struct {
	Entry      string
	ConfigType string
	Content    string
}

// Configs reads every classified entry. Unclassified entries are skipped.
func (a *Archive) Configs() ([]Config, error) {
	var out []Config
	for _, name := range a.names {
		typ, ok := Classify(name)
		if !ok {
			continue
		}
		text, err := a.Read(name)
		if err != nil {
			return nil, err
		}
		out = append(out, Config{Entry: name, ConfigType: typ, Content: text})
	}
	if len(out) == 0 {
		return nil, failure.Newf(failure.Decode, "extract configs", "archive has no startup or running entries (%s)", fmt.Sprint(a.names))
	}
	return out, nil
}

func firstNonASCII(b []byte) int {
	for i, c := range b {
		if c > 0x7f {
			return i
		}
	}
	return -1
}
