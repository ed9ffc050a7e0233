package providers

import (
	"fmt"
	"os"
	"strings"

	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/utils"
)

const (
	credentialInline = "api_key"
	credentialFile   = "api_key_file"
)

// credential is a provider API key given inline or through a key file.
// Field is the config path used in error messages.
type credential struct {
	Field  string
	Inline string
	File   string
}

func (c credential) mode() (string, error) {
	inline := strings.TrimSpace(c.Inline) != ""
	file := strings.TrimSpace(c.File) != ""
	switch {
	case inline && file:
		return "", fmt.Errorf("both %s and %s_file are set; keep exactly one", c.Field, c.Field)
	case inline:
		return credentialInline, nil
	case file:
		return credentialFile, nil
	}
	return "", nil
}

// Key returns the trimmed key. Key files are re-read on every call so a
// rotated secret is picked up without a restart.
func (c credential) Key() (string, error) {
	mode, err := c.mode()
	if err != nil {
		return "", err
	}
	var key string
	switch mode {
	case credentialInline:
		key = strings.TrimSpace(c.Inline)
	case credentialFile:
		path := expandHome(c.File)
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read %s_file: %w", c.Field, err)
		}
		key = strings.TrimSpace(string(data))
		if key == "" {
			return "", fmt.Errorf("%s_file %s is empty", c.Field, path)
		}
	default:
		return "", fmt.Errorf("%s is not set", c.Field)
	}
	if looksUnresolved(key) {
		return "", fmt.Errorf("%s looks like an unresolved placeholder", c.Field)
	}
	return key, nil
}

// status reports whether the credential resolves, and how it is supplied.
func (c credential) status() (bool, string) {
	mode, err := c.mode()
	if err != nil || mode == "" {
		return false, ""
	}
	if _, err := c.Key(); err != nil {
		return false, mode
	}
	return true, mode
}

// looksUnresolved catches "<KEY>" and "${KEY}" copied verbatim from docs.
func looksUnresolved(tok string) bool {
	if strings.HasPrefix(tok, "<") && strings.HasSuffix(tok, ">") {
		return true
	}
	return strings.HasPrefix(tok, "${") && strings.HasSuffix(tok, "}")
}

func expandHome(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return strings.TrimSpace(path)
	}
	return utils.ExpandHome(path, home)
}
