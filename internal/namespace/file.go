package namespace

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

type fileEntry struct {
	Namespace   string          `json:"namespace"`
	DisplayName string          `json:"display_name"`
	Features    map[string]bool `json:"features"`
	Users       []User          `json:"users"`
}

// Load reads a JSON list of namespaces. Entries listing users get a
// StaticResolver over them; the rest get fallback, which may be nil.
func Load(r io.Reader, fallback UserResolver) ([]Info, error) {
	var entries []fileEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode namespaces: %w", err)
	}

	infos := make([]Info, 0, len(entries))
	for i, e := range entries {
		if e.Namespace == "" {
			return nil, fmt.Errorf("namespace entry %d has no namespace", i)
		}
		info := Info{
			Namespace:           e.Namespace,
			DisplayName:         e.DisplayName,
			Features:            e.Features,
			DefaultUserResolver: fallback,
		}
		if len(e.Users) > 0 {
			info.DefaultUserResolver = NewStaticResolver(map[string][]User{e.Namespace: e.Users})
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// LoadFile loads namespaces from path and registers them.
func (r *Registry) LoadFile(path string, fallback UserResolver) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open namespaces file: %w", err)
	}
	defer f.Close()

	infos, err := Load(f, fallback)
	if err != nil {
		return 0, err
	}
	for _, info := range infos {
		if err := r.Register(info); err != nil {
			return 0, err
		}
	}
	return len(infos), nil
}
