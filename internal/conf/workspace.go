package conf

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/vibrolab/daqbench/internal/errors"
)

// Workspace is the per-user workspace file: line-oriented key=value pairs
// with single-quoted strings and 0/1 flags. Unknown keys are ignored.
type Workspace struct {
	Name               string
	Path               string
	AddOnsEnabled      bool
	PyqtgraphInverted  bool
	PyqtgraphAntialias bool
}

// Recognized workspace keys
const (
	WorkspaceKeyName               = "name"
	WorkspaceKeyPath               = "path"
	WorkspaceKeyAddOnsEnabled      = "add_ons_enabled"
	WorkspaceKeyPyqtgraphInverted  = "pyqtgraph_inverted"
	WorkspaceKeyPyqtgraphAntialias = "pyqtgraph_antialias"
)

var (
	workspaceInstance *Workspace
	workspaceMutex    sync.RWMutex
)

// DefaultWorkspace returns the workspace used when no file is given
func DefaultWorkspace() *Workspace {
	return &Workspace{
		Name:               "default",
		Path:               ".",
		PyqtgraphAntialias: true,
	}
}

// LoadWorkspace parses a workspace file.
func LoadWorkspace(fs afero.Fs, path string) (*Workspace, error) {
	v := viper.New()
	v.SetFs(fs)
	v.SetConfigFile(path)
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "read-workspace").
			FileContext(path, 0).
			Build()
	}

	ws := DefaultWorkspace()
	if v.IsSet(WorkspaceKeyName) {
		ws.Name = unquote(v.GetString(WorkspaceKeyName))
	}
	if v.IsSet(WorkspaceKeyPath) {
		ws.Path = unquote(v.GetString(WorkspaceKeyPath))
	}

	flags := []struct {
		key string
		dst *bool
	}{
		{WorkspaceKeyAddOnsEnabled, &ws.AddOnsEnabled},
		{WorkspaceKeyPyqtgraphInverted, &ws.PyqtgraphInverted},
		{WorkspaceKeyPyqtgraphAntialias, &ws.PyqtgraphAntialias},
	}
	for _, f := range flags {
		if !v.IsSet(f.key) {
			continue
		}
		b, err := parseFlag(v.GetString(f.key))
		if err != nil {
			return nil, errors.New(fmt.Errorf("workspace key %s: %w", f.key, err)).
				Component("conf").
				Category(errors.CategoryValidation).
				Context("operation", "parse-workspace").
				Build()
		}
		*f.dst = b
	}

	return ws, nil
}

// Save writes the workspace in its line-oriented form.
func (ws *Workspace) Save(fs afero.Fs, path string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s='%s'\n", WorkspaceKeyName, ws.Name)
	fmt.Fprintf(&b, "%s='%s'\n", WorkspaceKeyPath, ws.Path)
	fmt.Fprintf(&b, "%s=%d\n", WorkspaceKeyAddOnsEnabled, flagValue(ws.AddOnsEnabled))
	fmt.Fprintf(&b, "%s=%d\n", WorkspaceKeyPyqtgraphInverted, flagValue(ws.PyqtgraphInverted))
	fmt.Fprintf(&b, "%s=%d\n", WorkspaceKeyPyqtgraphAntialias, flagValue(ws.PyqtgraphAntialias))

	if err := afero.WriteFile(fs, path, []byte(b.String()), 0o644); err != nil {
		return errors.FileError(err, path, int64(b.Len()))
	}
	return nil
}

// InstallWorkspace makes ws the process-wide workspace.
func InstallWorkspace(ws *Workspace) {
	workspaceMutex.Lock()
	defer workspaceMutex.Unlock()
	workspaceInstance = ws
}

// CurrentWorkspace returns the installed workspace or the default one.
func CurrentWorkspace() *Workspace {
	workspaceMutex.RLock()
	defer workspaceMutex.RUnlock()
	if workspaceInstance == nil {
		return DefaultWorkspace()
	}
	return workspaceInstance
}

// unquote strips a surrounding pair of single quotes left by editors that
// write the value with extra whitespace.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return s[1 : len(s)-1]
	}
	return s
}

func parseFlag(s string) (bool, error) {
	switch strings.ToLower(unquote(s)) {
	case "1", "true":
		return true, nil
	case "0", "false", "":
		return false, nil
	default:
		return false, fmt.Errorf("flag value %q is not 0 or 1", s)
	}
}

func flagValue(b bool) int {
	if b {
		return 1
	}
	return 0
}
