package folha

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx/types"

	"github.com/trezcool/folha/core"
)

var (
	// errors
	ErrEmployeeNotFound = errors.New("employee not found")
	ErrRecordNotFound   = errors.New("record not found")
	ErrRecordExists     = errors.New("a record already exists for this period, matricula and school")
	ErrRecordStale      = errors.New("the record was modified concurrently, retry the edit")
)

type (
	Repository interface {
		// UpsertEmployee creates the employee or merges the given fields into
		// the existing row with fill-don't-erase semantics: an empty incoming
		// value never overwrites a stored non-empty one.
		UpsertEmployee(ctx context.Context, emp Employee) (Employee, error)
		// QueryEmployees applies EmployeeFilter and ordering; a nil filter
		// returns all employees.
		QueryEmployees(ctx context.Context, filter *EmployeeFilter, ordering []core.DBOrdering) ([]Employee, error)
		// SaveSubmission atomically upserts the employee (fill-don't-erase)
		// then the record (full replace on conflict). Either both writes
		// commit or neither does.
		SaveSubmission(ctx context.Context, emp Employee, rec PeriodRecord) (PeriodRecord, error)
		GetRecord(ctx context.Context, id string) (PeriodRecord, error)
		// UpdateRecord overwrites every field of the stored row with rec's,
		// but only while the stored updated_at still equals prevUpdatedAt;
		// ErrRecordStale on a lost race, ErrRecordNotFound if id is unknown,
		// ErrRecordExists if the new (period, matricula, school) key collides
		// with another row.
		UpdateRecord(ctx context.Context, rec PeriodRecord, prevUpdatedAt time.Time) (PeriodRecord, error)
		// DeleteRecord hard-deletes; ErrRecordNotFound when id does not
		// resolve, including on repeat deletes.
		DeleteRecord(ctx context.Context, id string) error
		// QueryRoster returns one row per known employee, left-joined to that
		// employee's record for the period (and school, when given).
		QueryRoster(ctx context.Context, period, school string) ([]RosterRow, error)
		QueryPeriodTotals(ctx context.Context, period, school string) (PeriodTotals, error)
		// QueryConsolidated sums records per matricula across schools, and
		// across all periods when period is "". Ordered by employee name
		// ascending, empty names last.
		QueryConsolidated(ctx context.Context, period string) ([]ConsolidatedRow, error)
	}

	Service struct {
		repo Repository
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Submit merges a monthly submission into the employee and period records.
func (svc *Service) Submit(ctx context.Context, ns NewSubmission) (PeriodRecord, error) {
	now := time.Now().UTC()
	emp := Employee{
		Matricula:      ns.Matricula,
		Name:           ns.Name,
		Role:           ns.Role,
		EmploymentType: ns.EmploymentType,
		Workload:       ns.Workload,
		School:         ns.School,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	rec := PeriodRecord{
		Period:          ns.Period,
		Matricula:       ns.Matricula,
		School:          ns.School,
		Absences:        int(ns.Absences),
		ExcusedAbsences: int(ns.ExcusedAbsences),
		OvertimeHours:   float64(ns.OvertimeHours),
		Notes:           ns.Notes,
		Extra:           extraOrEmpty(ns.Extra),
		UpdatedAt:       now,
	}
	return svc.repo.SaveSubmission(ctx, emp, rec)
}

func (svc *Service) UpsertEmployee(ctx context.Context, matricula string, ue UpdateEmployee) (Employee, error) {
	now := time.Now().UTC()
	emp := Employee{
		Matricula:      matricula,
		Name:           ue.Name,
		Role:           ue.Role,
		EmploymentType: ue.EmploymentType,
		Workload:       ue.Workload,
		School:         ue.School,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return svc.repo.UpsertEmployee(ctx, emp)
}

func (svc *Service) QueryEmployees(ctx context.Context, filter *EmployeeFilter, ordering []core.DBOrdering) ([]Employee, error) {
	return svc.repo.QueryEmployees(ctx, filter, ordering)
}

func (svc *Service) GetRecord(ctx context.Context, id string) (PeriodRecord, error) {
	return svc.repo.GetRecord(ctx, id)
}

// UpdateRecord applies a partial admin edit: supplied fields are set as-is,
// omitted fields keep their stored value. The write is conditional on the
// record's updated_at, so a concurrent edit never gets silently overwritten;
// on a lost race the edit is re-read and re-applied.
func (svc *Service) UpdateRecord(ctx context.Context, id string, ur UpdateRecord) (PeriodRecord, error) {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		var rec PeriodRecord
		if rec, err = svc.repo.GetRecord(ctx, id); err != nil {
			return PeriodRecord{}, err
		}
		prev := rec.UpdatedAt

		if ur.School != nil {
			rec.School = *ur.School
		}
		if ur.Absences != nil {
			rec.Absences = int(*ur.Absences)
		}
		if ur.ExcusedAbsences != nil {
			rec.ExcusedAbsences = int(*ur.ExcusedAbsences)
		}
		if ur.OvertimeHours != nil {
			rec.OvertimeHours = float64(*ur.OvertimeHours)
		}
		if ur.Notes != nil {
			rec.Notes = *ur.Notes
		}
		if ur.Extra != nil {
			rec.Extra = extraOrEmpty(ur.Extra)
		}
		rec.UpdatedAt = time.Now().UTC()

		var updated PeriodRecord
		if updated, err = svc.repo.UpdateRecord(ctx, rec, prev); err == ErrRecordStale {
			continue
		} else if err != nil {
			return PeriodRecord{}, err
		}
		return updated, nil
	}
	return PeriodRecord{}, err
}

func (svc *Service) DeleteRecord(ctx context.Context, id string) error {
	return svc.repo.DeleteRecord(ctx, id)
}

func (svc *Service) Roster(ctx context.Context, period, school string) ([]RosterRow, error) {
	return svc.repo.QueryRoster(ctx, period, school)
}

func (svc *Service) PeriodTotals(ctx context.Context, period, school string) (PeriodTotals, error) {
	return svc.repo.QueryPeriodTotals(ctx, period, school)
}

func (svc *Service) Consolidated(ctx context.Context, period string) ([]ConsolidatedRow, error) {
	return svc.repo.QueryConsolidated(ctx, period)
}

func extraOrEmpty(raw json.RawMessage) types.JSONText {
	if len(raw) == 0 || !json.Valid(raw) {
		return types.JSONText("{}")
	}
	return types.JSONText(raw)
}
