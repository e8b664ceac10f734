package dummydb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/folha/core"
	"github.com/trezcool/folha/core/folha"
)

// folhaRepository is an in-memory folha.Repository with the same merge and
// aggregation semantics as the sqlx implementation. It backs the test suites
// and local development without Postgres.
type folhaRepository struct {
	db *folhaTables
}

var _ folha.Repository = (*folhaRepository)(nil) // interface compliance check

func NewFolhaRepository(db *DB) *folhaRepository {
	return &folhaRepository{db: db.folha}
}

// mergeEmployee applies fill-don't-erase: empty incoming fields keep the
// stored value. Caller holds the write lock.
func (repo *folhaRepository) mergeEmployee(emp folha.Employee) folha.Employee {
	orig, ok := repo.db.employees[emp.Matricula]
	if !ok {
		repo.db.employees[emp.Matricula] = &emp
		return emp
	}

	if emp.Name != "" {
		orig.Name = emp.Name
	}
	if emp.Role != "" {
		orig.Role = emp.Role
	}
	if emp.EmploymentType != "" {
		orig.EmploymentType = emp.EmploymentType
	}
	if emp.Workload != "" {
		orig.Workload = emp.Workload
	}
	if emp.School != "" {
		orig.School = emp.School
	}
	orig.UpdatedAt = emp.UpdatedAt
	return *orig
}

func (repo *folhaRepository) UpsertEmployee(_ context.Context, emp folha.Employee) (folha.Employee, error) {
	repo.db.Lock()
	defer repo.db.Unlock()
	return repo.mergeEmployee(emp), nil
}

func (repo *folhaRepository) QueryEmployees(_ context.Context, filter *folha.EmployeeFilter, ordering []core.DBOrdering) ([]folha.Employee, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	emps := make([]folha.Employee, 0, len(repo.db.employees))
	for _, emp := range repo.db.employees {
		if filter != nil && !filter.IsEmpty() {
			search := strings.ToLower(filter.Search)
			if !strings.Contains(strings.ToLower(emp.Matricula), search) &&
				!strings.Contains(strings.ToLower(emp.Name), search) &&
				!strings.Contains(strings.ToLower(emp.School), search) {
				continue
			}
		}
		emps = append(emps, *emp)
	}
	sortEmployees(emps, ordering)
	return emps, nil
}

func (repo *folhaRepository) SaveSubmission(_ context.Context, emp folha.Employee, rec folha.PeriodRecord) (folha.PeriodRecord, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	repo.mergeEmployee(emp)

	// full replace on the natural key; the surrogate ID survives
	for _, orig := range repo.db.records {
		if orig.Period == rec.Period && orig.Matricula == rec.Matricula && orig.School == rec.School {
			rec.ID = orig.ID
			*orig = rec
			return rec, nil
		}
	}
	rec.ID = uuid.New().String()
	repo.db.records[rec.ID] = &rec
	return rec, nil
}

func (repo *folhaRepository) GetRecord(_ context.Context, id string) (folha.PeriodRecord, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if rec, ok := repo.db.records[id]; ok {
		return *rec, nil
	}
	return folha.PeriodRecord{}, folha.ErrRecordNotFound
}

func (repo *folhaRepository) UpdateRecord(_ context.Context, rec folha.PeriodRecord, prevUpdatedAt time.Time) (folha.PeriodRecord, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.records[rec.ID]
	if !ok {
		return folha.PeriodRecord{}, folha.ErrRecordNotFound
	}
	if !orig.UpdatedAt.Equal(prevUpdatedAt) {
		return folha.PeriodRecord{}, folha.ErrRecordStale
	}
	for _, other := range repo.db.records {
		if other.ID != rec.ID && other.Period == rec.Period && other.Matricula == rec.Matricula && other.School == rec.School {
			return folha.PeriodRecord{}, folha.ErrRecordExists
		}
	}
	*orig = rec
	return rec, nil
}

func (repo *folhaRepository) DeleteRecord(_ context.Context, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.records[id]; !ok {
		return folha.ErrRecordNotFound
	}
	delete(repo.db.records, id)
	return nil
}

func (repo *folhaRepository) QueryRoster(_ context.Context, period, school string) ([]folha.RosterRow, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	roster := make([]folha.RosterRow, 0, len(repo.db.employees))
	for _, emp := range repo.db.employees {
		// one row per matching record; an employee reporting at several
		// schools in the period appears once per school
		matches := make([]*folha.PeriodRecord, 0)
		for _, rec := range repo.db.records {
			if rec.Matricula == emp.Matricula && rec.Period == period && (school == "" || rec.School == school) {
				matches = append(matches, rec)
			}
		}
		if len(matches) == 0 {
			if school == "" || emp.School == school {
				roster = append(roster, folha.RosterRow{Employee: *emp, Period: period})
			}
			continue
		}
		sort.Slice(matches, func(i, j int) bool { return matches[i].School < matches[j].School })
		for _, rec := range matches {
			row := folha.RosterRow{Employee: *emp, Period: period}
			row.RecordID = rec.ID
			row.Absences = rec.Absences
			row.ExcusedAbsences = rec.ExcusedAbsences
			row.OvertimeHours = rec.OvertimeHours
			row.Notes = rec.Notes
			row.Submitted = true
			// a submitted row shows the school it was reported for
			if rec.School != "" {
				row.School = rec.School
			}
			roster = append(roster, row)
		}
	}
	sort.SliceStable(roster, func(i, j int) bool {
		return lessByName(roster[i].Name, roster[j].Name, roster[i].Matricula, roster[j].Matricula)
	})
	return roster, nil
}

func (repo *folhaRepository) QueryPeriodTotals(_ context.Context, period, school string) (folha.PeriodTotals, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	totals := folha.PeriodTotals{Period: period, School: school}
	for _, rec := range repo.db.records {
		if rec.Period != period || (school != "" && rec.School != school) {
			continue
		}
		totals.Count++
		totals.SumOvertime += rec.OvertimeHours
		totals.SumAbsences += rec.Absences
		totals.SumExcusedAbsences += rec.ExcusedAbsences
	}
	return totals, nil
}

func (repo *folhaRepository) QueryConsolidated(_ context.Context, period string) ([]folha.ConsolidatedRow, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	type agg struct {
		row     folha.ConsolidatedRow
		schools map[string]bool
		notes   map[string]bool
	}
	byMatricula := make(map[string]*agg)

	for _, rec := range repo.db.records {
		if period != "" && rec.Period != period {
			continue
		}
		a, ok := byMatricula[rec.Matricula]
		if !ok {
			a = &agg{
				row:     folha.ConsolidatedRow{Matricula: rec.Matricula},
				schools: make(map[string]bool),
				notes:   make(map[string]bool),
			}
			if emp, ok := repo.db.employees[rec.Matricula]; ok {
				a.row.Name = emp.Name
			}
			byMatricula[rec.Matricula] = a
		}
		a.row.Records++
		a.row.Absences += rec.Absences
		a.row.ExcusedAbsences += rec.ExcusedAbsences
		a.row.OvertimeHours += rec.OvertimeHours
		if rec.School != "" {
			a.schools[rec.School] = true
		}
		if rec.Notes != "" {
			a.notes[rec.Notes] = true
		}
	}

	consolidated := make([]folha.ConsolidatedRow, 0, len(byMatricula))
	for _, a := range byMatricula {
		a.row.Schools = joinSorted(a.schools, ", ")
		a.row.Notes = joinSorted(a.notes, "; ")
		consolidated = append(consolidated, a.row)
	}
	sort.Slice(consolidated, func(i, j int) bool {
		return lessByName(consolidated[i].Name, consolidated[j].Name, consolidated[i].Matricula, consolidated[j].Matricula)
	})
	return consolidated, nil
}

// lessByName orders by name ascending with empty names last, ties broken by
// matricula; matches the SQL `NULLIF(name, '') ASC NULLS LAST` ordering.
func lessByName(name1, name2, mat1, mat2 string) bool {
	switch {
	case name1 == name2:
		return mat1 < mat2
	case name1 == "":
		return false
	case name2 == "":
		return true
	default:
		return name1 < name2
	}
}

func joinSorted(set map[string]bool, sep string) string {
	vals := make([]string, 0, len(set))
	for v := range set {
		vals = append(vals, v)
	}
	sort.Strings(vals)
	return strings.Join(vals, sep)
}

func sortEmployees(emps []folha.Employee, ordering []core.DBOrdering) {
	field := func(emp folha.Employee, name string) string {
		switch strings.ToLower(name) {
		case "matricula":
			return emp.Matricula
		case "nome":
			return emp.Name
		case "funcao":
			return emp.Role
		case "escola":
			return emp.School
		default:
			return ""
		}
	}
	sort.Slice(emps, func(i, j int) bool {
		for _, ord := range ordering {
			vi, vj := field(emps[i], ord.Field), field(emps[j], ord.Field)
			if vi == vj {
				continue
			}
			if ord.Ascending {
				return vi < vj
			}
			return vi > vj
		}
		return lessByName(emps[i].Name, emps[j].Name, emps[i].Matricula, emps[j].Matricula)
	})
}
