package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/picklr-io/apphost/internal/eval"
	"github.com/picklr-io/apphost/internal/ir"
)

// DefaultPath is where the local backend keeps generated values.
const DefaultPath = ".apphost/state.pkl"

// Manager handles reading and writing of local state.
type Manager struct {
	path      string
	evaluator *eval.Evaluator
}

var _ Backend = (*Manager)(nil)

func NewManager(path string, evaluator *eval.Evaluator) *Manager {
	return &Manager{
		path:      path,
		evaluator: evaluator,
	}
}

// Path returns the state file location.
func (m *Manager) Path() string { return m.path }

// Read loads the state from the configured path.
// If the state file is encrypted, it is transparently decrypted before loading.
func (m *Manager) Read(ctx context.Context) (*ir.State, error) {
	raw, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return ir.NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", m.path, err)
	}

	state, err := parse(ctx, m.evaluator, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load state from %s: %w", m.path, err)
	}
	return state, nil
}

// Write saves the state to the configured path.
// If APPHOST_STATE_ENCRYPTION_KEY is set, the file is transparently encrypted.
func (m *Manager) Write(ctx context.Context, state *ir.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	encrypted, err := encode(state)
	if err != nil {
		return err
	}

	// Generated secrets live here, so keep the file private.
	if err := os.WriteFile(m.path, encrypted, 0600); err != nil {
		return fmt.Errorf("failed to write state file %s: %w", m.path, err)
	}
	return nil
}

func parse(ctx context.Context, evaluator *eval.Evaluator, raw []byte) (*ir.State, error) {
	content, err := DecryptState(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt state: %w", err)
	}
	if evaluator == nil {
		return nil, fmt.Errorf("no evaluator configured for state")
	}
	return evaluator.LoadStateText(ctx, string(content))
}

func encode(state *ir.State) ([]byte, error) {
	if state.Lineage == "" {
		state.Lineage = uuid.New().String()
	}
	encrypted, err := EncryptState([]byte(SerializeState(state)))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt state: %w", err)
	}
	return encrypted, nil
}

// SerializeState converts a State to its PKL text representation. Keys are
// sorted so unchanged state serializes identically.
func SerializeState(state *ir.State) string {
	var b strings.Builder

	fmt.Fprintf(&b, "// apphost generated values\n")
	fmt.Fprintf(&b, "version = %d\n", state.Version)
	fmt.Fprintf(&b, "serial = %d\n", state.Serial+1)
	fmt.Fprintf(&b, "lineage = %q\n\n", state.Lineage)

	if len(state.Parameters) == 0 {
		fmt.Fprintf(&b, "parameters = new Mapping {}\n")
		return b.String()
	}

	keys := make([]string, 0, len(state.Parameters))
	for k := range state.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(&b, "parameters = new Mapping {\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "  [%s] = %s\n", pklString(k), pklString(state.Parameters[k]))
	}
	fmt.Fprintf(&b, "}\n")
	return b.String()
}

// pklString quotes s as a Pkl string literal. Pkl interpolates \( so a
// backslash is always escaped.
func pklString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(&b, `\u{%x}`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}
