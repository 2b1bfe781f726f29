package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

// staffMiddleware lets admins, teachers and services through.
func staffMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			actor, err := getContextActor(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context actor")
			}
			if actor.IsStaff() {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// studentParamMiddleware restricts students to the routes carrying their own :student_id.
func studentParamMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if err := canAccessStudent(ctx, ctx.Param("student_id")); err != nil {
				return err
			}
			return next(ctx)
		}
	}
}
