package prompt

import (
	"crypto/rand"
	_ "embed"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
)

// FileName overrides the built-in system prompt when found in the working
// directory or one of its parents.
const FileName = "PROMPT.md"

//go:embed prompt.txt
var Default string

type Kind string

const (
	KindText     Kind = "text"
	KindInterest Kind = "interest"
	KindImage    Kind = "image"
	KindWebPage  Kind = "web_page"
	KindPDF      Kind = "pdf"
)

// Section is one resolved piece of user content.
type Section struct {
	Kind       Kind
	Identifier string
	Body       string
}

type Envelope struct {
	Nonce        string
	SystemPrompt string
	UserPrompt   string
}

// NewNonce returns a random 8-digit decimal string.
func NewNonce() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(90000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", n.Int64()+10000000), nil
}

// Build draws a fresh nonce and assembles the envelope.
func Build(template string, sections []Section) (Envelope, error) {
	nonce, err := NewNonce()
	if err != nil {
		return Envelope{}, fmt.Errorf("generate nonce: %w", err)
	}
	return Assemble(template, nonce, sections), nil
}

func Assemble(template, nonce string, sections []Section) Envelope {
	var b strings.Builder
	fmt.Fprintf(&b, "<random number: %s>\n", nonce)
	for _, s := range sections {
		b.WriteString(s.header())
		b.WriteString("\n")
		b.WriteString(s.Body)
		fmt.Fprintf(&b, "\n</type: %s>\n", s.Kind)
	}
	fmt.Fprintf(&b, "</random number: %s>\n", nonce)
	return Envelope{
		Nonce:        nonce,
		SystemPrompt: template + nonce,
		UserPrompt:   b.String(),
	}
}

func (s Section) header() string {
	if s.Identifier == "" {
		return fmt.Sprintf("<type: %s>", s.Kind)
	}
	switch s.Kind {
	case KindWebPage, KindPDF:
		return fmt.Sprintf("<type: %s, url: %s>", s.Kind, s.Identifier)
	default:
		return fmt.Sprintf("<type: %s, id: %s>", s.Kind, s.Identifier)
	}
}

// Load returns the on-disk override if present, otherwise Default.
func Load() string {
	if text, err := ReadFromDisk(); err == nil && text != "" {
		return text + "\n"
	}
	return Default
}

func ReadFromDisk() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	path, err := findInParents(cwd, FileName)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func findInParents(startDir string, filename string) (string, error) {
	dir := startDir
	for {
		candidate := filepath.Join(dir, filename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", os.ErrNotExist
		}
		dir = parent
	}
}
