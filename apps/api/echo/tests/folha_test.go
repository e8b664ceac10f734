package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"golang.org/x/crypto/bcrypt"

	echoapi "github.com/trezcool/folha/apps/api/echo"
	"github.com/trezcool/folha/core/folha"
)

func Test_folhaApi_login(t *testing.T) {
	app := setup(t)

	tests := []httpTest{
		{name: "required fields", wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"password": "this field is required"})},
		{
			name: "wrong password", body: marchallObj(t, echoapi.LoginRequest{Password: "lol"}),
			wantCode: http.StatusUnauthorized, wantData: marchallObj(t, httpErr{Error: "invalid password"}),
		},
		{name: "login ok", body: marchallObj(t, echoapi.LoginRequest{Password: conf.AdminPassword}), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/auth/login"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(tt.method, tt.path, tt.body)
			app.ServeHTTP(rec, req)

			// cannot guess the token.. just check that it's not empty
			if tt.wantCode == http.StatusOK {
				if rec.Code != tt.wantCode {
					t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
				}
				var respData echoapi.LoginResponse
				if err := json.Unmarshal(rec.Body.Bytes(), &respData); err != nil {
					t.Errorf("json.Unmarshal() failed! err %v", err)
				}
				if respData.Token == "" {
					t.Error("failed! empty token")
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_folhaApi_login_hashedPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cr3t"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt.GenerateFromPassword(): %v", err)
	}
	hashedConf := *conf
	hashedConf.AdminPassword = string(hash)
	app := setupWithConf(t, &hashedConf)

	tests := []httpTest{
		{
			name: "wrong password", body: marchallObj(t, echoapi.LoginRequest{Password: "lol"}),
			wantCode: http.StatusUnauthorized, wantData: marchallObj(t, httpErr{Error: "invalid password"}),
		},
		{name: "login ok", body: marchallObj(t, echoapi.LoginRequest{Password: "s3cr3t"}), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodPost, "/v1/auth/login", tt.body)
			app.ServeHTTP(rec, req)
			if rec.Code != tt.wantCode {
				t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
			}
		})
	}
}

// login must fail closed when the admin password or signing secret is unset.
func Test_folhaApi_login_unconfigured(t *testing.T) {
	bareConf := *conf
	bareConf.AdminPassword = ""
	app := setupWithConf(t, &bareConf)

	tt := httpTest{
		body:     marchallObj(t, echoapi.LoginRequest{Password: "anything"}),
		wantCode: http.StatusInternalServerError,
		wantData: marchallObj(t, httpErr{Error: http.StatusText(http.StatusInternalServerError)}),
	}
	req, rec := newRequest(http.MethodPost, "/v1/auth/login", tt.body)
	app.ServeHTTP(rec, req)
	checkCodeAndData(t, tt, rec)
}

func Test_folhaApi_submit(t *testing.T) {
	app := setup(t)
	ok := marchallObj(t, echoapi.OKResponse{OK: true})
	periodMsg := "must be a calendar month in YYYY-MM form"

	tests := []httpTest{
		{
			name: "required fields", body: marchallObj(t, map[string]string{}), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"period": "this field is required", "matricula": "this field is required"}),
		},
		{
			name: "period without zero padding", body: marchallObj(t, folha.NewSubmission{Period: "2026-2", Matricula: "101"}),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"period": periodMsg}),
		},
		{
			name: "month 13", body: marchallObj(t, folha.NewSubmission{Period: "2026-13", Matricula: "101"}),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"period": periodMsg}),
		},
		{
			name: "minimal submission", body: marchallObj(t, folha.NewSubmission{Period: "2026-02", Matricula: "101"}),
			wantCode: http.StatusOK, wantData: ok,
		},
		{
			name: "loose numerics never fail", wantCode: http.StatusOK, wantData: ok,
			body: []byte(`{"period": "2026-02", "matricula": "102", "nome": "Ana", "faltas": "2", "horas_extras": null, "faltas_com_atestado": -3}`),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/folha"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(tt.method, tt.path, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	// the loose payload must have been coerced, not rejected
	roster, err := folhaRepo.QueryRoster(context.Background(), "2026-02", "")
	if err != nil {
		t.Fatalf("QueryRoster(): %v", err)
	}
	if len(roster) != 2 {
		t.Fatalf("len(roster) = %d, want 2", len(roster))
	}
	for _, row := range roster {
		if row.Matricula != "102" {
			continue
		}
		if row.Name != "Ana" {
			t.Errorf("Name = %q, want Ana", row.Name)
		}
		if row.Absences != 2 || row.ExcusedAbsences != 0 || row.OvertimeHours != 0 {
			t.Errorf("row = %+v, want faltas 2, faltas_com_atestado 0, horas_extras 0", row)
		}
	}
}

func Test_folhaApi_submit_mergeSemantics(t *testing.T) {
	app := setup(t)
	ctx := context.Background()

	submit := func(body []byte) {
		t.Helper()
		req, rec := newRequest(http.MethodPost, "/v1/folha", body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("submit failed! code = %v; body %s", rec.Code, rec.Body.String())
		}
	}

	submit([]byte(`{"period": "2026-02", "matricula": "101", "nome": "Maria", "escola": "Escola A", "faltas": 1, "horas_extras": 3.5}`))
	// resubmission: the record is replaced in full, the employee is merged
	// with fill-don't-erase (the blank nome must not erase "Maria")
	submit([]byte(`{"period": "2026-02", "matricula": "101", "nome": "", "funcao": "Professora", "escola": "Escola A", "faltas": 2}`))

	emps, err := folhaRepo.QueryEmployees(ctx, nil, nil)
	if err != nil {
		t.Fatalf("QueryEmployees(): %v", err)
	}
	if len(emps) != 1 {
		t.Fatalf("len(emps) = %d, want 1", len(emps))
	}
	if emps[0].Name != "Maria" || emps[0].Role != "Professora" {
		t.Errorf("employee = %+v, want nome Maria kept and funcao Professora set", emps[0])
	}

	totals, err := folhaRepo.QueryPeriodTotals(ctx, "2026-02", "")
	if err != nil {
		t.Fatalf("QueryPeriodTotals(): %v", err)
	}
	if totals.Count != 1 {
		t.Errorf("Count = %d, want 1 (resubmit must not duplicate)", totals.Count)
	}
	if totals.SumAbsences != 2 || totals.SumOvertime != 0 {
		t.Errorf("totals = %+v, want faltas 2 and horas_extras 0 (full replace)", totals)
	}
}

func Test_folhaApi_employeeQuery(t *testing.T) {
	app := setup(t)

	path := func(search, ordering string) string {
		v := make(url.Values)
		if search != "" {
			v.Add("search", search)
		}
		if ordering != "" {
			v.Add("ordering", ordering)
		}
		return "/v1/employees?" + v.Encode()
	}

	bruno := createEmployee(t, "101", "Bruno", "Professor", "Escola A")
	ana := createEmployee(t, "102", "Ana", "", "Escola B")
	nameless := createEmployee(t, "103", "", "", "")
	empty := marchallList(t, []interface{}{}...)

	tests := []httpTest{
		{name: "get all (name asc, nameless last)", path: "/v1/employees", wantData: marchallList(t, ana, bruno, nameless)},
		{name: "search (unknown)", path: path("lol", ""), wantData: empty},
		{name: "search by name", path: path("ana", ""), wantData: marchallList(t, ana)},
		{name: "search by school", path: path("escola", ""), wantData: marchallList(t, ana, bruno)},
		{name: "order by -matricula", path: path("", "-matricula"), wantData: marchallList(t, nameless, ana, bruno)},
	}
	for _, tt := range tests {
		tt.method = http.MethodGet
		tt.wantCode = http.StatusOK

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(tt.method, tt.path, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_folhaApi_upsertEmployee(t *testing.T) {
	app := setup(t)
	adminToken := getToken(t)

	expiredClaims := echoapi.GetAdminClaims(conf)
	expiredClaims.ExpiresAt = time.Now().Add(-time.Hour).Unix()

	nonAdminClaims := &echoapi.Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    conf.AppName,
			Subject:   "clerk",
			ExpiresAt: time.Now().Add(time.Hour).Unix(),
			IssuedAt:  time.Now().Unix(),
		},
		Role: "clerk",
	}

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Expired token", token: signToken(t, expiredClaims), wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errInvalidToken)},
		{name: "Tampered token", token: adminToken + "lol", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errInvalidToken)},
		{name: "Admin required", token: signToken(t, nonAdminClaims), wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)},
		{
			name: "create", token: adminToken, wantCode: http.StatusOK,
			body:  marchallObj(t, folha.UpdateEmployee{Name: "Zé", School: "Escola A"}),
			extra: folha.Employee{Matricula: "201", Name: "Zé", School: "Escola A"},
		},
		{
			name: "merge keeps non-empty fields", token: adminToken, wantCode: http.StatusOK,
			body:  marchallObj(t, folha.UpdateEmployee{Role: "Diretor"}),
			extra: folha.Employee{Matricula: "201", Name: "Zé", Role: "Diretor", School: "Escola A"},
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPut
		tt.path = "/v1/employees/201"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)

			if want, ok := tt.extra.(folha.Employee); ok {
				if rec.Code != tt.wantCode {
					t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
				}
				var emp folha.Employee
				if err := json.Unmarshal(rec.Body.Bytes(), &emp); err != nil {
					t.Fatalf("json.Unmarshal() failed! err %v", err)
				}
				if emp.Matricula != want.Matricula || emp.Name != want.Name || emp.Role != want.Role || emp.School != want.School {
					t.Errorf("employee = %+v, want %+v", emp, want)
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_folhaApi_roster(t *testing.T) {
	app := setup(t)
	adminToken := getToken(t)

	path := func(period, school string) string {
		v := make(url.Values)
		if period != "" {
			v.Add("period", period)
		}
		if school != "" {
			v.Add("school", school)
		}
		return "/v1/folha/roster?" + v.Encode()
	}

	maria := createEmployee(t, "101", "Maria", "Professora", "")
	ana := createEmployee(t, "102", "Ana", "", "Escola A")
	recA := createRecord(t, "2026-02", "101", "Escola A", 1, 0, 3.5, "")
	recB := createRecord(t, "2026-02", "101", "Escola B", 2, 0, 0, "")

	tests := []httpTest{
		{name: "Auth required", path: path("2026-02", ""), wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "period required", path: "/v1/folha/roster", token: adminToken, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"period": "this field is required"}),
		},
		{
			name: "invalid period", path: path("02/2026", ""), token: adminToken, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"period": "must be a calendar month in YYYY-MM form"}),
		},
		{
			// every known employee appears, submitted or not; one row per
			// record for the multi-school substitute
			name: "all employees", path: path("2026-02", ""), token: adminToken, wantCode: http.StatusOK,
			wantData: marchallObj(t, echoapi.RosterResponse{Rows: []folha.RosterRow{
				rosterRow(ana, nil, "2026-02"),
				rosterRow(maria, &recA, "2026-02"),
				rosterRow(maria, &recB, "2026-02"),
			}}),
		},
		{
			// school filter: employees of the school plus anyone who submitted there
			name: "school filter", path: path("2026-02", "Escola A"), token: adminToken, wantCode: http.StatusOK,
			wantData: marchallObj(t, echoapi.RosterResponse{Rows: []folha.RosterRow{
				rosterRow(ana, nil, "2026-02"),
				rosterRow(maria, &recA, "2026-02"),
			}}),
		},
		{
			name: "empty period", path: path("2026-03", "Escola B"), token: adminToken, wantCode: http.StatusOK,
			wantData: marchallObj(t, echoapi.RosterResponse{Rows: []folha.RosterRow{}}),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodGet

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_folhaApi_totals(t *testing.T) {
	app := setup(t)
	adminToken := getToken(t)

	createRecord(t, "2026-02", "101", "Escola A", 1, 1, 3.5, "")
	createRecord(t, "2026-02", "102", "Escola A", 2, 0, 0.5, "")
	createRecord(t, "2026-02", "103", "Escola B", 4, 0, 0, "")
	createRecord(t, "2026-03", "101", "Escola A", 1, 0, 0, "")

	tests := []httpTest{
		{name: "Auth required", path: "/v1/folha/totals?period=2026-02", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "period required", path: "/v1/folha/totals", token: adminToken, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"period": "this field is required"}),
		},
		{
			name: "whole period", path: "/v1/folha/totals?period=2026-02", token: adminToken, wantCode: http.StatusOK,
			wantData: marchallObj(t, folha.PeriodTotals{Period: "2026-02", Count: 3, SumOvertime: 4, SumAbsences: 7, SumExcusedAbsences: 1}),
		},
		{
			name: "by school", path: "/v1/folha/totals?period=2026-02&school=Escola+B", token: adminToken, wantCode: http.StatusOK,
			wantData: marchallObj(t, folha.PeriodTotals{Period: "2026-02", School: "Escola B", Count: 1, SumAbsences: 4}),
		},
		{
			name: "empty period", path: "/v1/folha/totals?period=2027-01", token: adminToken, wantCode: http.StatusOK,
			wantData: marchallObj(t, folha.PeriodTotals{Period: "2027-01"}),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodGet

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_folhaApi_consolidated(t *testing.T) {
	app := setup(t)
	adminToken := getToken(t)

	createEmployee(t, "101", "Maria", "", "")
	createEmployee(t, "102", "Ana", "", "")
	createRecord(t, "2026-02", "101", "Escola A", 1, 0, 3.5, "manhã")
	createRecord(t, "2026-02", "101", "Escola B", 2, 1, 0.5, "tarde")
	createRecord(t, "2026-03", "101", "Escola A", 1, 0, 0, "")
	createRecord(t, "2026-02", "102", "", 0, 0, 1, "")

	tests := []httpTest{
		{name: "Auth required", path: "/v1/folha/consolidated", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "invalid period", path: "/v1/folha/consolidated?period=lol", token: adminToken, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"period": "must be a calendar month in YYYY-MM form"}),
		},
		{
			name: "one period", path: "/v1/folha/consolidated?period=2026-02", token: adminToken, wantCode: http.StatusOK,
			wantData: marchallList(t,
				folha.ConsolidatedRow{Matricula: "102", Name: "Ana", Records: 1, OvertimeHours: 1},
				folha.ConsolidatedRow{Matricula: "101", Name: "Maria", Schools: "Escola A, Escola B", Records: 2, Absences: 3, ExcusedAbsences: 1, OvertimeHours: 4, Notes: "manhã; tarde"},
			),
		},
		{
			name: "all periods", path: "/v1/folha/consolidated", token: adminToken, wantCode: http.StatusOK,
			wantData: marchallList(t,
				folha.ConsolidatedRow{Matricula: "102", Name: "Ana", Records: 1, OvertimeHours: 1},
				folha.ConsolidatedRow{Matricula: "101", Name: "Maria", Schools: "Escola A, Escola B", Records: 3, Absences: 4, ExcusedAbsences: 1, OvertimeHours: 4, Notes: "manhã; tarde"},
			),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodGet

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_folhaApi_records(t *testing.T) {
	app := setup(t)
	adminToken := getToken(t)

	createEmployee(t, "101", "Maria", "", "")
	recA := createRecord(t, "2026-02", "101", "Escola A", 1, 0, 3.5, "")
	recB := createRecord(t, "2026-02", "101", "Escola B", 2, 0, 0, "")
	notFound := marchallObj(t, httpErr{Error: "record not found"})

	tests := []httpTest{
		{name: "Auth required", method: http.MethodGet, path: "/v1/folha/records/" + recA.ID, wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "get", method: http.MethodGet, path: "/v1/folha/records/" + recA.ID, token: adminToken, wantCode: http.StatusOK, wantData: marchallObj(t, recA)},
		{name: "get unknown", method: http.MethodGet, path: "/v1/folha/records/lol", token: adminToken, wantCode: http.StatusNotFound, wantData: notFound},
		{
			name: "partial edit", method: http.MethodPut, path: "/v1/folha/records/" + recA.ID, token: adminToken,
			body: []byte(`{"faltas": 5}`), wantCode: http.StatusOK, extra: "edited",
		},
		{
			// moving recB onto recA's (period, matricula, school) key
			name: "key collision", method: http.MethodPut, path: "/v1/folha/records/" + recB.ID, token: adminToken,
			body: []byte(`{"escola": "Escola A"}`), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "a record already exists for this period, matricula and school"}),
		},
		{name: "edit unknown", method: http.MethodPut, path: "/v1/folha/records/lol", token: adminToken, body: []byte(`{"faltas": 1}`), wantCode: http.StatusNotFound, wantData: notFound},
		{name: "delete", method: http.MethodDelete, path: "/v1/folha/records/" + recB.ID, token: adminToken, wantCode: http.StatusOK, wantData: marchallObj(t, echoapi.OKResponse{OK: true})},
		{name: "repeat delete", method: http.MethodDelete, path: "/v1/folha/records/" + recB.ID, token: adminToken, wantCode: http.StatusNotFound, wantData: notFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)

			if tt.extra == "edited" {
				if rec.Code != tt.wantCode {
					t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
				}
				var got folha.PeriodRecord
				if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
					t.Fatalf("json.Unmarshal() failed! err %v", err)
				}
				// supplied field set, omitted fields kept
				if got.Absences != 5 || got.OvertimeHours != recA.OvertimeHours || got.School != recA.School {
					t.Errorf("record = %+v, want faltas 5 with other fields kept", got)
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}
