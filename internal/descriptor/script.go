package descriptor

import (
	"bufio"
	"fmt"
	"strings"
)

const (
	scriptBlockOpen  = "# /// script"
	scriptBlockClose = "# ///"
)

// ExtractInlineBlock scans a single-file script's source for the
// `# /// script` ... `# ///` metadata block, stripping the two-character
// `# ` prefix (or one-character `#` prefix from blank comment lines) from
// each interior line and returning the concatenated TOML text. More than one
// matching block is an error.
func ExtractInlineBlock(source []byte) (string, error) {
	scanner := bufio.NewScanner(strings.NewReader(string(source)))

	var (
		blocks  []string
		current strings.Builder
		inBlock bool
	)

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case !inBlock && strings.TrimRight(line, " \t") == scriptBlockOpen:
			inBlock = true
			current.Reset()
		case inBlock && strings.TrimRight(line, " \t") == scriptBlockClose:
			inBlock = false
			blocks = append(blocks, current.String())
		case inBlock:
			switch {
			case strings.HasPrefix(line, "# "):
				current.WriteString(strings.TrimPrefix(line, "# "))
			case line == "#":
				current.WriteString("")
			default:
				current.WriteString(strings.TrimPrefix(line, "#"))
			}

			current.WriteString("\n")
		}
	}

	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scanning inline script source: %w", err)
	}

	if len(blocks) == 0 {
		return "", fmt.Errorf("no inline `# /// script` metadata block found")
	}

	if len(blocks) > 1 {
		return "", fmt.Errorf("found %d inline metadata blocks, expected exactly one", len(blocks))
	}

	return blocks[0], nil
}

// ParseScript parses a single-file script's inline metadata block.
func ParseScript(source []byte) (*Descriptor, error) {
	tomlText, err := ExtractInlineBlock(source)
	if err != nil {
		return nil, err
	}

	d, err := Parse([]byte(tomlText))
	if err != nil {
		return nil, err
	}

	d.isScript = true

	return d, nil
}

// IsScript reports whether d was parsed from an inline-script block rather
// than a project descriptor file.
func (d *Descriptor) IsScript() bool { return d.isScript }
