package dummydb

import (
	"sync"

	"github.com/trezcool/folha/core/folha"
)

type (
	DB struct {
		folha *folhaTables
	}

	folhaTables struct {
		sync.RWMutex
		employees map[string]*folha.Employee     // keyed by matricula
		records   map[string]*folha.PeriodRecord // keyed by surrogate ID
	}
)

func Open() *DB {
	return &DB{
		folha: &folhaTables{
			employees: make(map[string]*folha.Employee),
			records:   make(map[string]*folha.PeriodRecord),
		},
	}
}
