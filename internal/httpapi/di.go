package httpapi

import (
	"github.com/foxseedlab/kikitori/internal/session"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Server, error) {
		return NewServer(do.MustInvoke[*session.Manager](i)), nil
	})
}
