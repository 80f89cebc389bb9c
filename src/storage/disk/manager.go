package disk

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/go-faster/errors"
	"github.com/spf13/afero"

	"github.com/Blackdeer1524/PageStore/src/pkg/common"
	"github.com/Blackdeer1524/PageStore/src/storage/page"
)

var (
	ErrUnknownTable = errors.New("unknown table")
	ErrNoSuchPage   = errors.New("page is beyond end of file")
	ErrBadPageSize  = errors.New("page image has wrong size")
)

// Manager maps tables to backing files. Page n of a table lives at byte offset
// n*pageSize of the table's file.
type Manager struct {
	fs       afero.Fs
	basePath string
	registry *page.Registry

	mu          sync.RWMutex
	tableToPath map[common.TableID]string
}

// New creates a manager. With a non-empty basePath, tables that were not
// registered explicitly are stored at <basePath>/<tableID>.dat.
func New(basePath string, registry *page.Registry, fs afero.Fs) *Manager {
	return &Manager{
		fs:          fs,
		basePath:    basePath,
		registry:    registry,
		tableToPath: map[common.TableID]string{},
	}
}

func (m *Manager) PageSize() int {
	return m.registry.PageSize()
}

func (m *Manager) RegisterFile(tableID common.TableID, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tableToPath[tableID] = path
}

func (m *Manager) UpdateFileMap(mp map[common.TableID]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tableToPath = make(map[common.TableID]string, len(mp))
	for k, v := range mp {
		m.tableToPath[k] = v
	}
}

func (m *Manager) pathOf(tableID common.TableID) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if path, ok := m.tableToPath[tableID]; ok {
		return path, nil
	}

	if m.basePath == "" {
		return "", errors.Wrapf(ErrUnknownTable, "table %d", tableID)
	}

	return filepath.Join(m.basePath, strconv.FormatUint(uint64(tableID), 10)+".dat"), nil
}

// ReadPage returns the stored image of the page. A page at or past the end of
// the file is allocated as a zero-filled image.
func (m *Manager) ReadPage(id common.PageIdentity) (page.Page, error) {
	data, err := m.read(id, true)
	if err != nil {
		return nil, err
	}

	return m.registry.Decode(page.KindOf(id), id, data)
}

// ReadPageNoCreate is ReadPage that refuses to allocate new slots.
func (m *Manager) ReadPageNoCreate(id common.PageIdentity) (page.Page, error) {
	data, err := m.read(id, false)
	if err != nil {
		return nil, err
	}

	return m.registry.Decode(page.KindOf(id), id, data)
}

func (m *Manager) read(id common.PageIdentity, allowNew bool) ([]byte, error) {
	path, err := m.pathOf(id.TableID)
	if err != nil {
		return nil, err
	}

	pageSize := m.registry.PageSize()
	data := make([]byte, pageSize)

	file, err := m.fs.Open(filepath.Clean(path))
	if errors.Is(err, os.ErrNotExist) {
		if !allowNew {
			return nil, errors.Wrapf(ErrNoSuchPage, "page %v", id)
		}

		return data, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer file.Close()

	//nolint:gosec
	offset := int64(id.PageNo) * int64(pageSize)

	n, err := file.ReadAt(data, offset)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		if n == 0 && !allowNew {
			return nil, errors.Wrapf(ErrNoSuchPage, "page %v", id)
		}
	default:
		return nil, errors.Wrapf(err, "failed to read page %v", id)
	}

	return data, nil
}

// WritePage stores the full image at its slot and syncs the file. The caller
// holds at least the page's read latch.
func (m *Manager) WritePage(p page.Page) error {
	id := p.ID()

	path, err := m.pathOf(id.TableID)
	if err != nil {
		return err
	}

	data := p.Data()
	pageSize := m.registry.PageSize()
	if len(data) != pageSize {
		return errors.Wrapf(
			ErrBadPageSize,
			"page %v: got %d bytes, want %d",
			id,
			len(data),
			pageSize,
		)
	}

	file, err := m.fs.OpenFile(filepath.Clean(path), os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", path)
	}
	defer file.Close()

	//nolint:gosec
	offset := int64(id.PageNo) * int64(pageSize)
	if _, err := file.WriteAt(data, offset); err != nil {
		return errors.Wrapf(err, "failed to write page %v", id)
	}

	if err := file.Sync(); err != nil {
		return errors.Wrapf(err, "failed to sync %s", path)
	}

	return nil
}

// NumPages returns the number of whole or partial pages in the table's file.
func (m *Manager) NumPages(tableID common.TableID) (int, error) {
	path, err := m.pathOf(tableID)
	if err != nil {
		return 0, err
	}

	info, err := m.fs.Stat(filepath.Clean(path))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "failed to stat %s", path)
	}

	pageSize := int64(m.registry.PageSize())

	return int((info.Size() + pageSize - 1) / pageSize), nil
}
