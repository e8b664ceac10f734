package folha

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx/types"

	"github.com/trezcool/folha/core"
)

// Employee is a school staff member. The matricula (registration number) is
// externally assigned and serves as the natural primary key; rows are created
// implicitly by the first submission (or admin upsert) referencing them.
type Employee struct {
	Matricula      string    `json:"matricula" db:"matricula"`
	Name           string    `json:"nome" db:"name"`
	Role           string    `json:"funcao" db:"role"`
	EmploymentType string    `json:"vinculo" db:"employment_type"`
	Workload       string    `json:"carga" db:"workload"`
	School         string    `json:"escola" db:"school"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"` // UTC
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"` // UTC
}

// PeriodRecord is one employee's attendance/overtime report for one calendar
// month, optionally scoped to a school. At most one row exists per
// (period, matricula, school); school is "" when not scoped.
type PeriodRecord struct {
	ID              string         `json:"id" db:"id"`
	Period          string         `json:"period" db:"period"` // YYYY-MM
	Matricula       string         `json:"matricula" db:"matricula"`
	School          string         `json:"escola" db:"school"`
	Absences        int            `json:"faltas" db:"absences"`
	ExcusedAbsences int            `json:"faltas_com_atestado" db:"excused_absences"`
	OvertimeHours   float64        `json:"horas_extras" db:"overtime_hours"`
	Notes           string         `json:"observacoes" db:"notes"`
	Extra           types.JSONText `json:"extra,omitempty" db:"extra"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"` // UTC
}

// LooseInt decodes from any JSON value. Numbers and numeric strings parse as
// usual; null, malformed or negative input becomes 0. Submissions from
// loosely-typed clients must not fail on bad numbers.
type LooseInt int

func (n *LooseInt) UnmarshalJSON(b []byte) error {
	*n = LooseInt(looseFloat(b))
	return nil
}

// LooseFloat is LooseInt's fractional counterpart; non-finite input becomes 0.
type LooseFloat float64

func (n *LooseFloat) UnmarshalJSON(b []byte) error {
	*n = LooseFloat(looseFloat(b))
	return nil
}

func looseFloat(b []byte) float64 {
	s := strings.TrimSpace(string(b))
	s = strings.Trim(s, `"`)
	if s == "" || s == "null" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return f
}

// NewSubmission is the public write payload: a month's folha for one employee.
// Employee fields ride along and are merged with fill-don't-erase semantics;
// record fields replace any prior submission for the same key.
type NewSubmission struct {
	Period         string `json:"period" validate:"required,period"`
	Matricula      string `json:"matricula" validate:"required"`
	Name           string `json:"nome"`
	Role           string `json:"funcao"`
	EmploymentType string `json:"vinculo"`
	Workload       string `json:"carga"`
	School         string `json:"escola"`

	Absences        LooseInt        `json:"faltas"`
	ExcusedAbsences LooseInt        `json:"faltas_com_atestado"`
	OvertimeHours   LooseFloat      `json:"horas_extras"`
	Notes           string          `json:"observacoes"`
	Extra           json.RawMessage `json:"extra"`
}

func (ns *NewSubmission) Validate(validate *validator.Validate) error {
	ns.Period = core.CleanString(ns.Period)
	ns.Matricula = core.CleanString(ns.Matricula)
	ns.Name = core.CleanString(ns.Name)
	ns.Role = core.CleanString(ns.Role)
	ns.EmploymentType = core.CleanString(ns.EmploymentType)
	ns.Workload = core.CleanString(ns.Workload)
	ns.School = core.CleanString(ns.School)
	ns.Notes = core.CleanString(ns.Notes)
	return validate.Struct(ns)
}

// UpdateEmployee defines what an admin may change on an Employee.
// Empty values never blank a stored non-empty value.
type UpdateEmployee struct {
	Name           string `json:"nome"`
	Role           string `json:"funcao"`
	EmploymentType string `json:"vinculo"`
	Workload       string `json:"carga"`
	School         string `json:"escola"`
}

func (ue *UpdateEmployee) Validate(validate *validator.Validate) error {
	ue.Name = core.CleanString(ue.Name)
	ue.Role = core.CleanString(ue.Role)
	ue.EmploymentType = core.CleanString(ue.EmploymentType)
	ue.Workload = core.CleanString(ue.Workload)
	ue.School = core.CleanString(ue.School)
	return validate.Struct(ue)
}

// UpdateRecord defines a partial admin edit of a PeriodRecord: every supplied
// field is set as-is (including zero), omitted fields keep their stored value.
type UpdateRecord struct {
	School          *string         `json:"escola"`
	Absences        *LooseInt       `json:"faltas"`
	ExcusedAbsences *LooseInt       `json:"faltas_com_atestado"`
	OvertimeHours   *LooseFloat     `json:"horas_extras"`
	Notes           *string         `json:"observacoes"`
	Extra           json.RawMessage `json:"extra"`
}

func (ur *UpdateRecord) Validate(validate *validator.Validate) error {
	if ur.School != nil {
		school := core.CleanString(*ur.School)
		ur.School = &school
	}
	if ur.Notes != nil {
		notes := core.CleanString(*ur.Notes)
		ur.Notes = &notes
	}
	return validate.Struct(ur)
}

// RosterRow is one line of the monthly roster: every known employee appears,
// once per record they have for the period (so a substitute reporting at two
// schools gets two rows, each showing that record's school), or once
// unsubmitted when they have none.
type RosterRow struct {
	Employee
	RecordID        string  `json:"record_id,omitempty"`
	Period          string  `json:"period"`
	Absences        int     `json:"faltas"`
	ExcusedAbsences int     `json:"faltas_com_atestado"`
	OvertimeHours   float64 `json:"horas_extras"`
	Notes           string  `json:"observacoes"`
	Submitted       bool    `json:"submitted"`
}

// PeriodTotals aggregates the records that exist for a period; Count is the
// number of records, not of employees.
type PeriodTotals struct {
	Period             string  `json:"period"`
	School             string  `json:"escola,omitempty"`
	Count              int     `json:"count"`
	SumOvertime        float64 `json:"sum_overtime"`
	SumAbsences        int     `json:"sum_absences"`
	SumExcusedAbsences int     `json:"sum_excused_absences"`
}

// ConsolidatedRow sums one employee's records across schools (and across all
// periods when none is given); distinct schools and non-empty notes are
// concatenated for display.
type ConsolidatedRow struct {
	Matricula       string  `json:"matricula"`
	Name            string  `json:"nome"`
	Schools         string  `json:"escolas"`
	Records         int     `json:"records"`
	Absences        int     `json:"faltas"`
	ExcusedAbsences int     `json:"faltas_com_atestado"`
	OvertimeHours   float64 `json:"horas_extras"`
	Notes           string  `json:"observacoes"`
}

// EmployeeFilter narrows the public employee listing.
// Search does a case-insensitive match on matricula, name or school.
type EmployeeFilter struct {
	Search string `query:"search"`
}

func (f *EmployeeFilter) IsEmpty() bool { return f.Search == "" }

func (f *EmployeeFilter) Clean() {
	f.Search = core.CleanString(f.Search)
}
