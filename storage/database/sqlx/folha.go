package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/folha/core"
	"github.com/trezcool/folha/core/folha"
)

const (
	employeeColumns = "matricula, name, role, employment_type, workload, school, created_at, updated_at"
	recordColumns   = "id, period, matricula, school, absences, excused_absences, overtime_hours, notes, extra, updated_at"

	// fill-don't-erase: an empty incoming value keeps the stored one;
	// created_at survives conflicts.
	upsertEmployeeSQL = `
INSERT INTO employee (` + employeeColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
ON CONFLICT (matricula) DO UPDATE
SET name            = CASE WHEN EXCLUDED.name = '' THEN employee.name ELSE EXCLUDED.name END,
    role            = CASE WHEN EXCLUDED.role = '' THEN employee.role ELSE EXCLUDED.role END,
    employment_type = CASE WHEN EXCLUDED.employment_type = '' THEN employee.employment_type ELSE EXCLUDED.employment_type END,
    workload        = CASE WHEN EXCLUDED.workload = '' THEN employee.workload ELSE EXCLUDED.workload END,
    school          = CASE WHEN EXCLUDED.school = '' THEN employee.school ELSE EXCLUDED.school END,
    updated_at      = EXCLUDED.updated_at
RETURNING ` + employeeColumns

	// full replace: every field, including zero, overwrites the prior value;
	// the surrogate id survives conflicts.
	upsertRecordSQL = `
INSERT INTO period_record (` + recordColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (period, matricula, school) DO UPDATE
SET absences         = EXCLUDED.absences,
    excused_absences = EXCLUDED.excused_absences,
    overtime_hours   = EXCLUDED.overtime_hours,
    notes            = EXCLUDED.notes,
    extra            = EXCLUDED.extra,
    updated_at       = EXCLUDED.updated_at
RETURNING ` + recordColumns
)

// uniqueViolation is the postgres error code raised on constraint races.
const uniqueViolation = "23505"

type folhaRepository struct {
	db      *sqlx.DB
	timeout time.Duration
}

var _ folha.Repository = (*folhaRepository)(nil) // interface compliance check

func NewFolhaRepository(db *sqlx.DB, timeout time.Duration) *folhaRepository {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &folhaRepository{db: db, timeout: timeout}
}

func (repo folhaRepository) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, repo.timeout)
}

// trapNoRowsErr maps psql "no rows" err to folha.ErrRecordNotFound
func (repo folhaRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return folha.ErrRecordNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo folhaRepository) UpsertEmployee(ctx context.Context, emp folha.Employee) (folha.Employee, error) {
	ctx, cancel := repo.ctx(ctx)
	defer cancel()

	row := repo.db.QueryRowxContext(ctx, upsertEmployeeSQL,
		emp.Matricula, emp.Name, emp.Role, emp.EmploymentType, emp.Workload, emp.School, emp.UpdatedAt)
	if err := row.StructScan(&emp); err != nil {
		return folha.Employee{}, errors.Wrap(err, "upserting employee")
	}
	return emp, nil
}

func (repo folhaRepository) QueryEmployees(ctx context.Context, filter *folha.EmployeeFilter, ordering []core.DBOrdering) ([]folha.Employee, error) {
	ctx, cancel := repo.ctx(ctx)
	defer cancel()

	query := "SELECT " + employeeColumns + " FROM employee"
	var args []interface{}
	if filter != nil && !filter.IsEmpty() {
		query += " WHERE matricula ILIKE $1 OR name ILIKE $1 OR school ILIKE $1"
		args = append(args, "%"+filter.Search+"%")
	}
	query += orderBy(ordering)

	emps := make([]folha.Employee, 0)
	if err := repo.db.SelectContext(ctx, &emps, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying employees")
	}
	return emps, nil
}

func (repo folhaRepository) SaveSubmission(ctx context.Context, emp folha.Employee, rec folha.PeriodRecord) (folha.PeriodRecord, error) {
	ctx, cancel := repo.ctx(ctx)
	defer cancel()

	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return folha.PeriodRecord{}, errors.Wrap(err, "beginning submission tx")
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowxContext(ctx, upsertEmployeeSQL,
		emp.Matricula, emp.Name, emp.Role, emp.EmploymentType, emp.Workload, emp.School, emp.UpdatedAt)
	if err = row.StructScan(&emp); err != nil {
		return folha.PeriodRecord{}, errors.Wrap(err, "upserting employee")
	}

	row = tx.QueryRowxContext(ctx, upsertRecordSQL,
		uuid.New().String(), rec.Period, rec.Matricula, rec.School,
		rec.Absences, rec.ExcusedAbsences, rec.OvertimeHours, rec.Notes, rec.Extra, rec.UpdatedAt)
	if err = row.StructScan(&rec); err != nil {
		return folha.PeriodRecord{}, errors.Wrap(err, "upserting period record")
	}

	if err = tx.Commit(); err != nil {
		return folha.PeriodRecord{}, errors.Wrap(err, "committing submission tx")
	}
	return rec, nil
}

func (repo folhaRepository) GetRecord(ctx context.Context, id string) (folha.PeriodRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return folha.PeriodRecord{}, folha.ErrRecordNotFound
	}

	ctx, cancel := repo.ctx(ctx)
	defer cancel()

	var rec folha.PeriodRecord
	row := repo.db.QueryRowxContext(ctx, "SELECT "+recordColumns+" FROM period_record WHERE id = $1", id)
	if err := row.StructScan(&rec); err != nil {
		return folha.PeriodRecord{}, repo.trapNoRowsErr(err, "finding record by ID")
	}
	return rec, nil
}

func (repo folhaRepository) UpdateRecord(ctx context.Context, rec folha.PeriodRecord, prevUpdatedAt time.Time) (folha.PeriodRecord, error) {
	ctx, cancel := repo.ctx(ctx)
	defer cancel()

	// the updated_at guard keeps concurrent admin edits from silently
	// overwriting each other
	row := repo.db.QueryRowxContext(ctx, `
UPDATE period_record
SET school           = $2,
    absences         = $3,
    excused_absences = $4,
    overtime_hours   = $5,
    notes            = $6,
    extra            = $7,
    updated_at       = $8
WHERE id = $1 AND updated_at = $9
RETURNING `+recordColumns,
		rec.ID, rec.School, rec.Absences, rec.ExcusedAbsences, rec.OvertimeHours, rec.Notes, rec.Extra, rec.UpdatedAt, prevUpdatedAt)
	if err := row.StructScan(&rec); err != nil {
		if pqErr, ok := errors.Cause(err).(*pq.Error); ok && pqErr.Code == uniqueViolation {
			return folha.PeriodRecord{}, folha.ErrRecordExists
		}
		if err == sql.ErrNoRows {
			// deleted or concurrently modified; look again to tell which
			if _, err = repo.GetRecord(ctx, rec.ID); err != nil {
				return folha.PeriodRecord{}, err
			}
			return folha.PeriodRecord{}, folha.ErrRecordStale
		}
		return folha.PeriodRecord{}, errors.Wrap(err, "updating record")
	}
	return rec, nil
}

func (repo folhaRepository) DeleteRecord(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return folha.ErrRecordNotFound
	}

	ctx, cancel := repo.ctx(ctx)
	defer cancel()

	res, err := repo.db.ExecContext(ctx, "DELETE FROM period_record WHERE id = $1", id)
	if err != nil {
		return errors.Wrap(err, "deleting record")
	}
	if cnt, err := res.RowsAffected(); err != nil {
		return errors.Wrap(err, "deleting record")
	} else if cnt == 0 {
		return folha.ErrRecordNotFound
	}
	return nil
}

func (repo folhaRepository) QueryRoster(ctx context.Context, period, school string) ([]folha.RosterRow, error) {
	ctx, cancel := repo.ctx(ctx)
	defer cancel()

	// one roster row per matching record; an employee reporting at several
	// schools in the period appears once per school
	rows, err := repo.db.QueryContext(ctx, `
SELECT e.matricula, e.name, e.role, e.employment_type, e.workload, e.school, e.created_at, e.updated_at,
       r.id, r.school, r.absences, r.excused_absences, r.overtime_hours, r.notes
FROM employee e
LEFT JOIN period_record r
    ON r.matricula = e.matricula AND r.period = $1 AND ($2 = '' OR r.school = $2)
WHERE $2 = '' OR e.school = $2 OR r.id IS NOT NULL
ORDER BY NULLIF(e.name, '') ASC NULLS LAST, e.matricula, r.school`,
		period, school)
	if err != nil {
		return nil, errors.Wrap(err, "querying roster")
	}
	defer func() { _ = rows.Close() }()

	roster := make([]folha.RosterRow, 0)
	for rows.Next() {
		var row folha.RosterRow
		var (
			recID     null.String
			recSchool null.String
			absences  null.Int
			excused   null.Int
			overtime  null.Float64
			notes     null.String
		)
		if err = rows.Scan(
			&row.Matricula, &row.Name, &row.Role, &row.EmploymentType, &row.Workload, &row.School,
			&row.CreatedAt, &row.UpdatedAt,
			&recID, &recSchool, &absences, &excused, &overtime, &notes,
		); err != nil {
			return nil, errors.Wrap(err, "scanning roster row")
		}
		row.Period = period
		row.RecordID = recID.String
		row.Absences = absences.Int
		row.ExcusedAbsences = excused.Int
		row.OvertimeHours = overtime.Float64
		row.Notes = notes.String
		row.Submitted = recID.Valid
		// a submitted row shows the school it was reported for
		if recSchool.String != "" {
			row.School = recSchool.String
		}
		roster = append(roster, row)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "querying roster")
	}
	return roster, nil
}

func (repo folhaRepository) QueryPeriodTotals(ctx context.Context, period, school string) (folha.PeriodTotals, error) {
	ctx, cancel := repo.ctx(ctx)
	defer cancel()

	totals := folha.PeriodTotals{Period: period, School: school}
	// SUM over NUMERIC stays exact; rounding is a display concern
	row := repo.db.QueryRowContext(ctx, `
SELECT COUNT(*),
       COALESCE(SUM(overtime_hours), 0),
       COALESCE(SUM(absences), 0),
       COALESCE(SUM(excused_absences), 0)
FROM period_record
WHERE period = $1 AND ($2 = '' OR school = $2)`,
		period, school)
	if err := row.Scan(&totals.Count, &totals.SumOvertime, &totals.SumAbsences, &totals.SumExcusedAbsences); err != nil {
		return folha.PeriodTotals{}, errors.Wrap(err, "querying period totals")
	}
	return totals, nil
}

func (repo folhaRepository) QueryConsolidated(ctx context.Context, period string) ([]folha.ConsolidatedRow, error) {
	ctx, cancel := repo.ctx(ctx)
	defer cancel()

	rows, err := repo.db.QueryContext(ctx, `
SELECT r.matricula,
       COALESCE(e.name, ''),
       STRING_AGG(DISTINCT NULLIF(r.school, ''), ', '),
       COUNT(*),
       COALESCE(SUM(r.absences), 0),
       COALESCE(SUM(r.excused_absences), 0),
       COALESCE(SUM(r.overtime_hours), 0),
       STRING_AGG(DISTINCT NULLIF(r.notes, ''), '; ')
FROM period_record r
LEFT JOIN employee e ON e.matricula = r.matricula
WHERE $1 = '' OR r.period = $1
GROUP BY r.matricula, e.name
ORDER BY NULLIF(e.name, '') ASC NULLS LAST, r.matricula`,
		period)
	if err != nil {
		return nil, errors.Wrap(err, "querying consolidated records")
	}
	defer func() { _ = rows.Close() }()

	consolidated := make([]folha.ConsolidatedRow, 0)
	for rows.Next() {
		var row folha.ConsolidatedRow
		var schools, notes null.String
		if err = rows.Scan(
			&row.Matricula, &row.Name, &schools, &row.Records,
			&row.Absences, &row.ExcusedAbsences, &row.OvertimeHours, &notes,
		); err != nil {
			return nil, errors.Wrap(err, "scanning consolidated row")
		}
		row.Schools = schools.String
		row.Notes = notes.String
		consolidated = append(consolidated, row)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "querying consolidated records")
	}
	return consolidated, nil
}

// orderBy builds an ORDER BY clause from whitelisted fields; unknown fields
// are dropped.
func orderBy(ordering []core.DBOrdering) string {
	columns := map[string]string{
		"matricula":  "matricula",
		"nome":       "name",
		"funcao":     "role",
		"escola":     "school",
		"created_at": "created_at",
		"updated_at": "updated_at",
	}
	orderList := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		if col, ok := columns[strings.ToLower(ord.Field)]; ok {
			orderList = append(orderList, core.DBOrdering{Field: col, Ascending: ord.Ascending}.String())
		}
	}
	if len(orderList) == 0 {
		return " ORDER BY NULLIF(name, '') ASC NULLS LAST, matricula"
	}
	return " ORDER BY " + strings.Join(orderList, ", ")
}
