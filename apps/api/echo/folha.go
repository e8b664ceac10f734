package echoapi

import (
	"net/http"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/folha/core"
	"github.com/trezcool/folha/core/folha"
)

type folhaApi struct {
	conf       *core.Config
	svc        *folha.Service
	validate   *validator.Validate
	translator ut.Translator
}

func registerFolhaAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := folhaApi{
		conf:       deps.Conf,
		svc:        deps.FolhaSvc,
		validate:   deps.Validate,
		translator: deps.Translator,
	}

	// un-authed endpoints: login, the public employee listing and the public
	// submission path (front-line school staff have no admin credentials)
	g.POST("/auth/login", api.login)
	g.GET("/employees", api.queryEmployees)
	g.POST("/folha", api.submit)

	// authed admin endpoints
	ag := g.Group("", jwt, adminMiddleware())
	ag.PUT("/employees/:matricula", api.upsertEmployee)
	ag.GET("/folha/roster", api.roster)
	ag.GET("/folha/totals", api.totals)
	ag.GET("/folha/consolidated", api.consolidated)
	ag.GET("/folha/records/:id", api.retrieveRecord)
	ag.PUT("/folha/records/:id", api.updateRecord)
	ag.DELETE("/folha/records/:id", api.deleteRecord)
}

// Handlers

func (api *folhaApi) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	if err := authenticate(data.Password, api.conf); err != nil {
		return err
	}
	token, err := GenerateToken(GetAdminClaims(api.conf), api.conf)
	if err != nil {
		return errors.Wrap(err, "generating token")
	}

	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

func (api *folhaApi) submit(ctx echo.Context) error {
	var data folha.NewSubmission
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSubmission")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	if _, err := api.svc.Submit(ctx.Request().Context(), data); err != nil {
		return errors.Wrap(err, "saving submission")
	}
	return ctx.JSON(http.StatusOK, OKResponse{OK: true})
}

func (api *folhaApi) queryEmployees(ctx echo.Context) error {
	filter := new(folha.EmployeeFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []folha.Employee{})
	}
	filter.Clean()

	emps, err := api.svc.QueryEmployees(ctx.Request().Context(), filter, bindOrdering(ctx))
	if err != nil {
		return errors.Wrap(err, "querying employees")
	}
	if emps == nil {
		emps = []folha.Employee{}
	}
	return ctx.JSON(http.StatusOK, emps)
}

func (api *folhaApi) upsertEmployee(ctx echo.Context) error {
	matricula := core.CleanString(ctx.Param("matricula"))
	if matricula == "" {
		return core.NewValidationError(nil, core.FieldError{Field: "matricula", Error: "this field is required"})
	}

	var data folha.UpdateEmployee
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateEmployee")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	emp, err := api.svc.UpsertEmployee(ctx.Request().Context(), matricula, data)
	if err != nil {
		return errors.Wrap(err, "upserting employee")
	}
	return ctx.JSON(http.StatusOK, emp)
}

func (api *folhaApi) roster(ctx echo.Context) error {
	var query PeriodQuery
	if err := ctx.Bind(&query); err != nil {
		return errors.Wrap(err, "binding to PeriodQuery")
	}
	if err := query.Validate(api.validate); err != nil {
		return err
	}

	rows, err := api.svc.Roster(ctx.Request().Context(), query.Period, query.School)
	if err != nil {
		return errors.Wrap(err, "querying roster")
	}
	return ctx.JSON(http.StatusOK, RosterResponse{Rows: rows})
}

func (api *folhaApi) totals(ctx echo.Context) error {
	var query PeriodQuery
	if err := ctx.Bind(&query); err != nil {
		return errors.Wrap(err, "binding to PeriodQuery")
	}
	if err := query.Validate(api.validate); err != nil {
		return err
	}

	totals, err := api.svc.PeriodTotals(ctx.Request().Context(), query.Period, query.School)
	if err != nil {
		return errors.Wrap(err, "querying period totals")
	}
	return ctx.JSON(http.StatusOK, totals)
}

func (api *folhaApi) consolidated(ctx echo.Context) error {
	var query ConsolidatedQuery
	if err := ctx.Bind(&query); err != nil {
		return errors.Wrap(err, "binding to ConsolidatedQuery")
	}
	if err := query.Validate(api.validate); err != nil {
		return err
	}

	rows, err := api.svc.Consolidated(ctx.Request().Context(), query.Period)
	if err != nil {
		return errors.Wrap(err, "querying consolidated records")
	}
	return ctx.JSON(http.StatusOK, rows)
}

func (api *folhaApi) retrieveRecord(ctx echo.Context) error {
	rec, err := api.svc.GetRecord(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, rec)
}

func (api *folhaApi) updateRecord(ctx echo.Context) error {
	var data folha.UpdateRecord
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateRecord")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	rec, err := api.svc.UpdateRecord(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, rec)
}

func (api *folhaApi) deleteRecord(ctx echo.Context) error {
	if err := api.svc.DeleteRecord(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, OKResponse{OK: true})
}

// bindOrdering parses the `ordering` query param ("nome,-escola") into
// DBOrdering entries; a "-" prefix means descending.
func bindOrdering(ctx echo.Context) []core.DBOrdering {
	val := ctx.QueryParam("ordering")
	if val == "" {
		return nil
	}

	var orderings []core.DBOrdering
	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		orderings = append(orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
	return orderings
}

type (
	LoginRequest struct {
		Password string `json:"password" validate:"required"`
	}

	LoginResponse struct {
		Token string `json:"token"`
	}

	OKResponse struct {
		OK bool `json:"ok"`
	}

	PeriodQuery struct {
		Period string `query:"period" json:"period" validate:"required,period"`
		School string `query:"school" json:"school"`
	}

	ConsolidatedQuery struct {
		Period string `query:"period" json:"period" validate:"omitempty,period"`
	}

	RosterResponse struct {
		Rows []folha.RosterRow `json:"rows"`
	}
)

func (lr *LoginRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(lr)
}

func (pq *PeriodQuery) Validate(validate *validator.Validate) error {
	pq.Period = core.CleanString(pq.Period)
	pq.School = core.CleanString(pq.School)
	return validate.Struct(pq)
}

func (cq *ConsolidatedQuery) Validate(validate *validator.Validate) error {
	cq.Period = core.CleanString(cq.Period)
	return validate.Struct(cq)
}
