// Package script reads SQL script files and runs their statements against a
// warehouse session.
//
// Statements are found by splitting the file text on every ';'. The split is
// purely textual: a ';' inside a string literal, a comment or a procedural
// block also ends a statement. Scripts that need such statements must be
// written so that no ';' appears inside them.
package script

import (
	"os"
	"strings"
)

// Delimiter separates statements in a script.
const Delimiter = ";"

// Split returns the statements of text in order. Segments that are empty or
// whitespace-only are dropped, the rest are returned trimmed.
func Split(text string) []string {
	var statements []string
	for _, segment := range strings.Split(text, Delimiter) {
		if statement := strings.TrimSpace(segment); statement != "" {
			statements = append(statements, statement)
		}
	}
	return statements
}

// Load reads the script at path and splits it into statements.
func Load(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &IOError{Path: path, Err: err}
	}
	return Split(string(data)), nil
}
