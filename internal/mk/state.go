package mk

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/mblsha/pfcore/internal/fsutil"
)

const stateVersion = 1

// state is the persisted record of the last successful build of each target.
type state struct {
	Version    int               `cbor:"1,keyasint"`
	Signatures map[string][]byte `cbor:"2,keyasint"`
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("mk: CBOR encoder initialization failed: " + err.Error())
	}
}

// loadState reads path. A missing, unreadable or older file starts empty so
// everything is rebuilt.
func loadState(path string) (*state, error) {
	s := &state{Version: stateVersion, Signatures: make(map[string][]byte)}
	if path == "" {
		return s, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read build state: %w", err)
	}
	var loaded state
	if err := cbor.Unmarshal(raw, &loaded); err != nil || loaded.Version != stateVersion || loaded.Signatures == nil {
		return s, nil
	}
	return &loaded, nil
}

func (s *state) save(path string) error {
	if path == "" {
		return nil
	}
	raw, err := encMode.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode build state: %w", err)
	}
	if err := fsutil.WriteBytesAtomic(path, raw, 0o644); err != nil {
		return fmt.Errorf("write build state: %w", err)
	}
	return nil
}

// hasher memoizes file digests for one build; rebuilt targets are
// forgotten so dependents see their new content.
type hasher struct {
	digests map[string][]byte
}

func newHasher() *hasher {
	return &hasher{digests: make(map[string][]byte)}
}

func (h *hasher) forget(path string) {
	delete(h.digests, path)
}

func (h *hasher) file(path string) ([]byte, error) {
	if d, ok := h.digests[path]; ok {
		return d, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	sum := blake3.New()
	if fi.IsDir() {
		// Folders only contribute their existence.
		_, _ = sum.Write([]byte("dir"))
	} else if _, err := io.Copy(sum, f); err != nil {
		return nil, fmt.Errorf("hash %s: %w", path, err)
	}
	d := sum.Sum(nil)
	h.digests[path] = d
	return d, nil
}

// signature combines the action key with the name and content of every
// dependency. Phony dependencies contribute only their name.
func (g *Graph) signature(h *hasher, t *Target) ([]byte, error) {
	sum := blake3.New()
	writeField(sum, t.Key)
	for _, d := range t.Deps {
		writeField(sum, d)
		if dep, ok := g.targets[d]; ok && dep.Phony {
			continue
		}
		digest, err := h.file(d)
		if err != nil {
			return nil, fmt.Errorf("%s needed by %s: %w", d, t.Name, err)
		}
		_, _ = sum.Write(digest)
	}
	return sum.Sum(nil), nil
}

func writeField(w io.Writer, s string) {
	_, _ = fmt.Fprintf(w, "%d:%s", len(s), s)
}
