package bufferpool

import (
	"github.com/stretchr/testify/mock"

	"github.com/Blackdeer1524/PageStore/src/pkg/common"
	"github.com/Blackdeer1524/PageStore/src/storage/page"
)

type MockDiskManager struct {
	mock.Mock
}

var (
	_ DiskManager = &MockDiskManager{}
	_ WAL         = &MockWAL{}
)

func (m *MockDiskManager) ReadPage(pageIdent common.PageIdentity) (page.Page, error) {
	args := m.Called(pageIdent)

	p, _ := args.Get(0).(page.Page)
	return p, args.Error(1)
}

func (m *MockDiskManager) WritePage(p page.Page) error {
	args := m.Called(p)
	return args.Error(0)
}

type MockWAL struct {
	mock.Mock
}

func (m *MockWAL) LogWrite(txnID common.TxnID, before page.Page, after page.Page) error {
	args := m.Called(txnID, before, after)
	return args.Error(0)
}

func (m *MockWAL) Force() error {
	args := m.Called()
	return args.Error(0)
}
