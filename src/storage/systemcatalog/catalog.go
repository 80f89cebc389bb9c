package systemcatalog

import (
	"cmp"
	"context"
	"encoding/binary"
	"encoding/json"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"

	"github.com/go-faster/errors"
	"github.com/spf13/afero"

	"github.com/Blackdeer1524/PageStore/src/pkg/common"
	"github.com/Blackdeer1524/PageStore/src/storage/engine"
)

const (
	zeroVersion = uint64(0)

	// CatalogTableID is reserved for the file holding the current catalog
	// version. Its first page is updated transactionally, so a catalog change
	// becomes visible exactly when the transaction that made it commits.
	CatalogTableID  = common.TableID(0)
	versionFileName = "catalog.dat"
)

var (
	ErrEntityNotFound = errors.New("entity not found")
	ErrEntityExists   = errors.New("entity already exists")
)

func CatalogVersionPageIdent() common.PageIdentity {
	return common.NewHeapPageIdentity(CatalogTableID, 0)
}

type TableMeta struct {
	ID   common.TableID `json:"id"`
	Name string         `json:"name"`
	Path string         `json:"path"`
}

type Data struct {
	Tables map[string]TableMeta `json:"tables"`
}

func NewEmptyData() *Data {
	return &Data{Tables: map[string]TableMeta{}}
}

func (d *Data) Copy() Data {
	return Data{Tables: maps.Clone(d.Tables)}
}

// Catalog maps table names to table ids and backing files.
//
// Every committed change is stored as a new system_catalog_<version>.json
// file; the version page says which of them is current.
type Catalog struct {
	fs       afero.Fs
	basePath string
	db       *engine.Database

	mu         sync.RWMutex
	data       *Data
	maxTableID common.TableID

	// masterVersion is the version data was read from. When the version page
	// still holds it there is no need to reread the file.
	masterVersion uint64
	isDirty       bool
}

func getSystemCatalogFilename(basePath string, v uint64) string {
	return filepath.Join(basePath, "system_catalog_"+strconv.FormatUint(v, 10)+".json")
}

func versionOf(data []byte) uint64 {
	return binary.BigEndian.Uint64(data)
}

// New reads the catalog kept in the data directory of db and registers its
// tables. It must run after recovery, since it trusts the version stored in
// the backing file.
func New(db *engine.Database) (*Catalog, error) {
	if db.Disk().PageSize() < 8 {
		return nil, errors.Errorf("page size %d cannot hold a catalog version", db.Disk().PageSize())
	}

	basePath := db.DataDir()
	db.RegisterTable(CatalogTableID, filepath.Join(basePath, versionFileName))

	p, err := db.Disk().ReadPage(CatalogVersionPageIdent())
	if err != nil {
		return nil, errors.Wrap(err, "failed to read catalog version")
	}

	c := &Catalog{
		fs:       db.Fs(),
		basePath: basePath,
		db:       db,
	}

	if err := c.loadLocked(versionOf(p.Data())); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Catalog) loadLocked(version uint64) error {
	data := NewEmptyData()

	sysCatFilename := getSystemCatalogFilename(c.basePath, version)

	dataBytes, err := afero.ReadFile(c.fs, sysCatFilename)
	switch {
	case err == nil:
		if err := json.Unmarshal(dataBytes, data); err != nil {
			return errors.Wrap(err, "failed to unmarshal system catalog file")
		}

		if data.Tables == nil {
			data.Tables = map[string]TableMeta{}
		}
	case errors.Is(err, os.ErrNotExist) && version == zeroVersion:
	default:
		return errors.Wrapf(err, "failed to read system catalog file %s", sysCatFilename)
	}

	c.data = data
	c.masterVersion = version
	c.isDirty = false
	c.maxTableID = CatalogTableID

	for _, meta := range data.Tables {
		c.maxTableID = max(c.maxTableID, meta.ID)
		c.db.RegisterTable(meta.ID, meta.Path)
	}

	return nil
}

// Load rereads the catalog when the committed version differs from the one
// in memory or when uncommitted changes have to be dropped.
func (c *Catalog) Load(ctx context.Context, txnID common.TxnID) error {
	p, err := c.db.GetPage(ctx, txnID, CatalogVersionPageIdent(), engine.ReadOnly)
	if err != nil {
		return errors.Wrap(err, "failed to get page with version")
	}

	p.RLock()
	onDiskVersion := versionOf(p.Data())
	p.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.masterVersion == onDiskVersion && !c.isDirty {
		return nil
	}

	return c.loadLocked(onDiskVersion)
}

func (c *Catalog) CurrentVersion() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.masterVersion
}

// CommitChanges writes the pending changes as a new version and points the
// version page at it on behalf of txnID. The change is durable once txnID
// commits. If it aborts, Load brings the catalog back.
func (c *Catalog) CommitChanges(ctx context.Context, txnID common.TxnID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isDirty {
		return nil
	}

	p, err := c.db.GetPage(ctx, txnID, CatalogVersionPageIdent(), engine.ReadWrite)
	if err != nil {
		return errors.Wrap(err, "failed to lock catalog version")
	}

	nVersion := c.masterVersion + 1

	data, err := json.Marshal(c.data)
	if err != nil {
		return errors.Wrap(err, "failed to marshal system catalog data")
	}

	if err := c.writeVersionFile(nVersion, data); err != nil {
		return err
	}

	p.Lock()
	binary.BigEndian.PutUint64(p.Data(), nVersion)
	p.Unlock()

	if err := c.db.AdmitDirtyPages(txnID, p); err != nil {
		return errors.Wrap(err, "failed to mark version page dirty")
	}

	c.masterVersion = nVersion
	c.isDirty = false

	return nil
}

func (c *Catalog) writeVersionFile(version uint64, data []byte) (err error) {
	sysCatFilename := getSystemCatalogFilename(c.basePath, version)

	file, err := c.fs.OpenFile(
		filepath.Clean(sysCatFilename),
		os.O_WRONLY|os.O_CREATE|os.O_TRUNC,
		0o600,
	)
	if err != nil {
		return errors.Wrap(err, "failed to open system catalog file")
	}

	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "failed to close system catalog file")
		}
	}()

	if _, err := file.Write(data); err != nil {
		return errors.Wrap(err, "failed to write system catalog file")
	}

	if err := file.Sync(); err != nil {
		return errors.Wrap(err, "failed to sync system catalog file")
	}

	return nil
}

// AddTable reserves a new table id. An empty path places the backing file in
// the catalog directory. The table is usable right away but only survives a
// restart once CommitChanges has run in a committed transaction.
func (c *Catalog) AddTable(name, path string) (TableMeta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.data.Tables[name]; ok {
		return TableMeta{}, errors.Wrapf(ErrEntityExists, "table %q", name)
	}

	c.maxTableID++
	if path == "" {
		path = filepath.Join(c.basePath, "table_"+strconv.FormatUint(uint64(c.maxTableID), 10)+".dat")
	}

	meta := TableMeta{ID: c.maxTableID, Name: name, Path: path}
	c.data.Tables[name] = meta
	c.isDirty = true

	c.db.RegisterTable(meta.ID, meta.Path)

	return meta, nil
}

// DropTable forgets a table. Its backing file is left in place.
func (c *Catalog) DropTable(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.data.Tables[name]; !ok {
		return errors.Wrapf(ErrEntityNotFound, "table %q", name)
	}

	delete(c.data.Tables, name)
	c.isDirty = true

	return nil
}

func (c *Catalog) GetTable(name string) (TableMeta, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	meta, ok := c.data.Tables[name]
	if !ok {
		return TableMeta{}, errors.Wrapf(ErrEntityNotFound, "table %q", name)
	}

	return meta, nil
}

func (c *Catalog) TableExists(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.data.Tables[name]
	return ok
}

// Tables lists the known tables ordered by id.
func (c *Catalog) Tables() []TableMeta {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return slices.SortedFunc(maps.Values(c.data.Tables), func(a, b TableMeta) int {
		return cmp.Compare(a.ID, b.ID)
	})
}

func (c *Catalog) CopyData() Data {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.data.Copy()
}
