package echoapi

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/abmarghoub/EduPathInsight/core"
)

var orderingParam = "ordering"

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	data := ctx.QueryParams()
	if len(data) == 0 {
		return
	}
	val, ok := data[orderingParam]
	if !ok || len(val) == 0 || val[0] == "" {
		return
	}

	for _, field := range strings.Split(val[0], ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field == "" {
			continue
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

func fieldError(field, msg string) error {
	return core.NewValidationError(nil, core.FieldError{Field: field, Error: msg})
}

// pathInt64 parses a numeric path parameter; a malformed value is a 404 like an unknown id.
func pathInt64(ctx echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(ctx.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errHttpNotFound
	}
	return id, nil
}

// queryInt64 parses an optional numeric query parameter.
func queryInt64(ctx echo.Context, name string) (*int64, error) {
	raw := strings.TrimSpace(ctx.QueryParam(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fieldError(name, "must be an integer")
	}
	return &v, nil
}

func queryBool(ctx echo.Context, name string) (*bool, error) {
	raw := strings.TrimSpace(ctx.QueryParam(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fieldError(name, "must be a boolean")
	}
	return &v, nil
}

func queryDate(ctx echo.Context, name string) (core.Date, error) {
	raw := strings.TrimSpace(ctx.QueryParam(name))
	if raw == "" {
		return core.Date{}, nil
	}
	d, err := core.ParseDate(raw)
	if err != nil {
		return core.Date{}, fieldError(name, err.Error())
	}
	return d, nil
}

// dateRange binds the optional `from` and `to` query parameters.
func dateRange(ctx echo.Context) (from, to core.Date, err error) {
	if from, err = queryDate(ctx, "from"); err != nil {
		return
	}
	to, err = queryDate(ctx, "to")
	return
}

// SuccessResponse is the body of operations that return no record.
type SuccessResponse struct {
	Success string `json:"success"`
}
