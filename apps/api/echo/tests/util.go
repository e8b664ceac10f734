package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/assert"

	echoapi "github.com/trezcool/folha/apps/api/echo"
	"github.com/trezcool/folha/core"
	"github.com/trezcool/folha/core/folha"
	dummydb "github.com/trezcool/folha/storage/database/dummy"
)

var (
	conf      *core.Config
	folhaRepo folha.Repository

	errMissingToken = httpErr{Error: "missing or malformed jwt"}
	errInvalidToken = httpErr{Error: "invalid or expired jwt"}
	errForbidden    = httpErr{Error: "permission denied"}
)

// setup builds a Server backed by a fresh in-memory repository; folhaRepo is
// reassigned so tests can seed and inspect data directly.
func setup(t *testing.T) echoapi.Server {
	return setupWithConf(t, conf)
}

func setupWithConf(t *testing.T, c *core.Config) echoapi.Server {
	t.Helper()

	folhaRepo = dummydb.NewFolhaRepository(dummydb.Open())
	svc := folha.NewService(folhaRepo)

	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	validate := validator.New()
	core.InitValidators(validate, translator)

	return echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:       c,
			Logger:     nopLogger{},
			FolhaSvc:   svc,
			Validate:   validate,
			Translator: translator,
		},
	)
}

// nopLogger keeps expected-error paths (401, 500) quiet during tests.
type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

func createEmployee(t *testing.T, matricula, name, role, school string) folha.Employee {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	emp, err := folhaRepo.UpsertEmployee(context.Background(), folha.Employee{
		Matricula: matricula,
		Name:      name,
		Role:      role,
		School:    school,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("createEmployee(): %v", err)
	}
	return emp
}

func createRecord(t *testing.T, period, matricula, school string, absences, excused int, overtime float64, notes string) folha.PeriodRecord {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	rec, err := folhaRepo.SaveSubmission(
		context.Background(),
		folha.Employee{Matricula: matricula, CreatedAt: now, UpdatedAt: now},
		folha.PeriodRecord{
			Period:          period,
			Matricula:       matricula,
			School:          school,
			Absences:        absences,
			ExcusedAbsences: excused,
			OvertimeHours:   overtime,
			Notes:           notes,
			Extra:           types.JSONText("{}"),
			UpdatedAt:       now,
		},
	)
	if err != nil {
		t.Fatalf("createRecord(): %v", err)
	}
	return rec
}

func rosterRow(emp folha.Employee, rec *folha.PeriodRecord, period string) folha.RosterRow {
	row := folha.RosterRow{Employee: emp, Period: period}
	if rec != nil {
		row.RecordID = rec.ID
		row.Absences = rec.Absences
		row.ExcusedAbsences = rec.ExcusedAbsences
		row.OvertimeHours = rec.OvertimeHours
		row.Notes = rec.Notes
		row.Submitted = true
		if rec.School != "" {
			row.School = rec.School
		}
	}
	return row
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
	extra    interface{}
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T) string {
	t.Helper()
	return signToken(t, echoapi.GetAdminClaims(conf))
}

func signToken(t *testing.T, claims *echoapi.Claims) string {
	t.Helper()
	token, err := echoapi.GenerateToken(claims, conf)
	if err != nil {
		t.Fatalf("signToken(): %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj(): %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList(): %v", err)
	}
	return data
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	if j1 == nil || j2 == nil {
		return false, nil
	}
	return assert.ElementsMatch(t, j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
