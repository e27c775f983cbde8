package compose

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// session owns everything one Compose call opens. close releases all of it
// and is safe to call more than once.
type session struct {
	engine  *Engine
	dir     string
	handles []*os.File
	closed  bool
}

func (e *Engine) newSession(root string) (*session, error) {
	dir := filepath.Join(root, "compose-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "create compose workspace")
	}
	return &session{engine: e, dir: dir}, nil
}

// open keeps a read handle on path for the lifetime of the session.
func (s *session) open(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	if info.IsDir() {
		f.Close()
		return errors.Errorf("%s is a directory", path)
	}
	s.handles = append(s.handles, f)
	s.engine.openHandles.Add(1)
	return nil
}

func (s *session) path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *session) writeText(name, text string) (string, error) {
	p := s.path(name)
	if err := os.WriteFile(p, []byte(text), 0644); err != nil {
		return "", errors.Wrapf(err, "write %s", name)
	}
	return p, nil
}

func (s *session) close() {
	if s.closed {
		return
	}
	s.closed = true
	for _, f := range s.handles {
		f.Close()
		s.engine.openHandles.Add(-1)
	}
	s.handles = nil
	os.RemoveAll(s.dir)
}
